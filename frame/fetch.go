package frame

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"
)

// Fetcher pulls CSV frames from a camera export server over HTTP
type Fetcher struct {
	// URL is the address that returns the latest frame as CSV
	URL string

	// Client is the HTTP client used; http.DefaultClient if nil
	Client *http.Client

	// MaxElapsed bounds the retries of one Fetch
	MaxElapsed time.Duration
}

// Fetch retrieves one frame.  Connection failures and 5xx replies are retried
// with an exponential backoff; 4xx replies and unparseable frames are not
func (f Fetcher) Fetch(ctx context.Context) (*mat.Dense, Metadata, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxElapsed := f.MaxElapsed
	if maxElapsed == 0 {
		maxElapsed = 10 * time.Second
	}

	var (
		m     *mat.Dense
		taken time.Time
	)
	op := func() error {
		req, err := http.NewRequest(http.MethodGet, f.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s replied %s", f.URL, resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%s replied %s", f.URL, resp.Status))
		}
		taken = time.Now()
		m, err = ReadCSV(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2.,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Clock:               backoff.SystemClock}
	b.Reset()
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, Metadata{}, err
	}
	return m, Metadata{Source: f.URL, Taken: taken}, nil
}

// Sink receives frames produced by Watch.  Returning an error stops the watch
type Sink func(*mat.Dense, Metadata) error

// Watch fetches frames no faster than lim allows and hands each to sink until
// ctx is cancelled or sink fails.  Fetch failures are reported to onErr and
// the loop continues
func Watch(ctx context.Context, f Fetcher, lim *rate.Limiter, sink Sink, onErr func(error)) error {
	for {
		if err := lim.Wait(ctx); err != nil {
			// the context ends before the limiter allows another frame
			if _, ok := ctx.Deadline(); ok || ctx.Err() != nil {
				return nil
			}
			return err
		}
		m, meta, err := f.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if onErr != nil {
				onErr(err)
			}
			continue
		}
		if err = sink(m, meta); err != nil {
			return err
		}
	}
}
