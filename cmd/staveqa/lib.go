package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/theckman/yacspin"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/staveqa/frame"
	"github.com/nasa-jpl/staveqa/imgrec"
	"github.com/nasa-jpl/staveqa/server"
	"github.com/nasa-jpl/staveqa/server/middleware/locker"
	"github.com/nasa-jpl/staveqa/stave"
	"github.com/nasa-jpl/staveqa/temperature"
)

// SearchWindow is the part of the frame, in fractions, searched for the stave
type SearchWindow struct {
	Rows [2]float64 `koanf:"Rows" yaml:"Rows"`
	Cols [2]float64 `koanf:"Cols" yaml:"Cols"`
}

// FetchConfig points the watch command at a camera export server
type FetchConfig struct {
	// URL returns the latest frame as CSV
	URL string `koanf:"URL" yaml:"URL"`

	// Rate is the number of frames fetched per second
	Rate float64 `koanf:"Rate" yaml:"Rate"`

	// Timeout bounds the retries of one fetch
	Timeout time.Duration `koanf:"Timeout" yaml:"Timeout"`
}

// UploadConfig paces frame uploads to the server
type UploadConfig struct {
	// Rate is the sustained number of uploads per second, 0 for no limit
	Rate float64 `koanf:"Rate" yaml:"Rate"`

	// Burst is the number of uploads allowed at once
	Burst int `koanf:"Burst" yaml:"Burst"`
}

// Config holds everything the subcommands need.  It is populated from
// staveqa.yml on top of DefaultConfig
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Endpoint is the path the stave routes are served under
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Parameters is the path to the stave parameters file
	Parameters string `koanf:"Parameters" yaml:"Parameters"`

	// Output is the folder converted frames, profiles and recordings go to
	Output string `koanf:"Output" yaml:"Output"`

	// Prefix is the file name prefix of recorded frames
	Prefix string `koanf:"Prefix" yaml:"Prefix"`

	// Units is the scale of CSV frames, C, K or F
	Units string `koanf:"Units" yaml:"Units"`

	Window SearchWindow `koanf:"Window" yaml:"Window"`

	// Face is the pipe profiled, top or bottom
	Face string `koanf:"Face" yaml:"Face"`

	LoopCut bool `koanf:"LoopCut" yaml:"LoopCut"`

	Debug bool `koanf:"Debug" yaml:"Debug"`

	Fetch FetchConfig `koanf:"Fetch" yaml:"Fetch"`

	Upload UploadConfig `koanf:"Upload" yaml:"Upload"`
}

// DefaultConfig is the configuration used where staveqa.yml is silent
func DefaultConfig() Config {
	return Config{
		Addr:       ":8000",
		Endpoint:   "stave",
		Parameters: "parameters.yml",
		Output:     "output",
		Prefix:     "stave",
		Units:      "C",
		Window:     SearchWindow{Rows: [2]float64{0, 1}, Cols: [2]float64{0, 1}},
		Face:       "top",
		LoopCut:    true,
		Fetch:      FetchConfig{Rate: 0.2, Timeout: 10 * time.Second},
		Upload:     UploadConfig{Rate: 1, Burst: 2},
	}
}

// loadFrame reads a CSV or FITS frame and brings it to Celsius.  CSV frames
// are assumed to be in the configured units
func loadFrame(c Config, path string) (*mat.Dense, frame.Metadata, error) {
	m, meta, err := frame.Load(path)
	if err != nil {
		return nil, meta, err
	}
	if meta.Unit == "" {
		meta.Unit, err = temperature.ParseUnit(c.Units)
		if err != nil {
			return nil, meta, err
		}
	}
	frame.ToCelsius(m, meta.Unit)
	meta.Unit = temperature.UnitC
	return m, meta, nil
}

// locate builds a stave over img and finds it inside the configured window
func locate(c Config, img mat.Matrix) (*stave.Stave, error) {
	s, err := stave.New(img, c.Parameters)
	if err != nil {
		return nil, err
	}
	w := c.Window
	if err = s.FindStaveWithin(w.Rows[0], w.Rows[1], w.Cols[0], w.Cols[1]); err != nil {
		return nil, err
	}
	return s, nil
}

// newSpinner returns a started spinner showing msg
func newSpinner(msg string) (*yacspin.Spinner, error) {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "done",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "failed",
		StopFailColors:    []string{"fgRed"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		return nil, err
	}
	return spinner, spinner.Start()
}

// BuildMux constructs the router: the stave routes under the configured
// endpoint behind a lock, the frame recorder controls, and two listing
// routes, endpoints (per mount point) and route-list (flat)
func BuildMux(c Config) (chi.Router, error) {
	p, err := stave.LoadParams(c.Parameters)
	if err != nil {
		return nil, err
	}
	units, err := temperature.ParseUnit(c.Units)
	if err != nil {
		return nil, err
	}
	var lim *rate.Limiter
	if c.Upload.Rate > 0 {
		lim = rate.NewLimiter(rate.Limit(c.Upload.Rate), max(c.Upload.Burst, 1))
	}
	rec := &imgrec.Recorder{Root: filepath.Join(c.Output, "frames"), Prefix: c.Prefix}
	h, err := stave.NewHTTPStave(p, stave.HTTPOptions{
		Units:    units,
		Limiter:  lim,
		Recorder: rec,
		LoopCut:  c.LoopCut,
	})
	if err != nil {
		return nil, err
	}

	root := chi.NewRouter()
	root.Use(middleware.Logger)

	lock := locker.New()
	locker.Inject(h.RT(), lock)
	r := chi.NewRouter()
	r.Use(lock.Check)
	h.RT().Bind(r)
	hndlS := server.SubMuxSanitize(c.Endpoint)
	root.Mount(hndlS, r)
	supergraph := map[string][]string{hndlS: h.RT().Endpoints()}

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Get("/route-list", func(w http.ResponseWriter, r *http.Request) {
		routes := []string{}
		walk := func(method, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			route = strings.Replace(route, "/*/", "/", -1)
			routes = append(routes, fmt.Sprintf("%s %s", method, route))
			return nil
		}
		if err := chi.Walk(root, walk); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(routes)
	})
	return root, nil
}
