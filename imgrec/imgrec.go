// Package imgrec contains a frame recorder used to automatically save thermal frames to disk.
package imgrec

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/staveqa/frame"
	"github.com/nasa-jpl/staveqa/server"
)

// Recorder records frame sequences as FITS files with incrementing filenames
// in yyyy-mm-dd subfolders.  Once in use, its fields must only be changed
// through the Set methods
type Recorder struct {
	mu sync.Mutex

	// counter is the number of the next file
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool

	// now is replaced in tests
	now func() time.Time
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	t := now()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Incr updates the filename counter; it scans the folder to do so.  If there
// is an error, the counter is not changed
func (r *Recorder) Incr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.incr()
}

func (r *Recorder) incr() error {
	dn, err := r.mkDir()
	if err != nil {
		return err
	}
	files, err := os.ReadDir(dn)
	if err != nil {
		return err
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			// another sequence sharing the prefix
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
	return nil
}

// Record writes a frame with its metadata to the next file of the sequence
// and returns its path
func (r *Recorder) Record(m mat.Matrix, meta frame.Metadata) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	if err := r.incr(); err != nil {
		return "", err
	}
	fn := filepath.Join(r.Root, r.timeFldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter))
	fid, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	err = frame.WriteFITS(fid, m, meta)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	return fn, nil
}

// SetRoot changes the root folder and creates today's folder under it
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Root = root
	r.updateFolder()
	_, err := r.mkDir()
	return err
}

// GetRoot returns the root folder
func (r *Recorder) GetRoot() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Root, nil
}

// SetPrefix changes the filename prefix, starting a new sequence
func (r *Recorder) SetPrefix(prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Prefix = prefix
	r.counter = 0
	return nil
}

// GetPrefix returns the filename prefix
func (r *Recorder) GetPrefix() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Prefix, nil
}

// SetEnabled sets the Enabled flag
func (r *Recorder) SetEnabled(b bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Enabled = b
	return nil
}

// GetEnabled returns the Enabled flag
func (r *Recorder) GetEnabled() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled, nil
}

// HTTPWrapper is an HTTP wrapper around a recorder that allows the folder
// and prefix to be changed on the fly
//
// it does not implement server.HTTPer, offering an Inject method allowing it
// to be injected into another route table
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and
// /autowrite/enabled to the table which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(rt server.RouteTable) {
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = server.SetString(h.SetRoot)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = server.GetString(h.GetRoot)
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = server.SetString(h.SetPrefix)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = server.GetString(h.GetPrefix)
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = server.SetBool(h.SetEnabled)
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = server.GetBool(h.GetEnabled)
}
