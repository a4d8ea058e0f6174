package stave

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"go/types"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/staveqa/frame"
	"github.com/nasa-jpl/staveqa/imgrec"
	"github.com/nasa-jpl/staveqa/profile"
	"github.com/nasa-jpl/staveqa/server"
	"github.com/nasa-jpl/staveqa/temperature"
)

// ErrNoFrame is generated when an HTTP request needs a stave before any frame was uploaded
var ErrNoFrame = errors.New("no frame uploaded")

// maxFrameBytes bounds the body of a frame upload
const maxFrameBytes = 64 << 20

// HTTPOptions configure an HTTPStave
type HTTPOptions struct {
	// Units is the scale of uploaded CSV frames; FITS frames carry their own
	Units temperature.Unit

	// Limiter paces frame uploads; nil means no limit
	Limiter *rate.Limiter

	// Recorder, when enabled, stores every uploaded frame
	Recorder *imgrec.Recorder

	// LoopCut removes the pipe loop before the profile fit
	LoopCut bool
}

// HTTPStave serves one current stave over HTTP.  Uploading a frame replaces
// the stave; the other routes work on it
type HTTPStave struct {
	mu     sync.Mutex
	params Params
	opts   HTTPOptions
	stave  *Stave

	// RouteTable maps routes to handlers
	RouteTable server.RouteTable
}

// NewHTTPStave returns an HTTPStave whose staves are built with p
func NewHTTPStave(p Params, opts HTTPOptions) (*HTTPStave, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.Units == "" {
		opts.Units = temperature.UnitC
	}
	h := &HTTPStave{params: p, opts: opts}
	rt := server.RouteTable{
		{Method: http.MethodPost, Path: "/frame"}:       h.PostFrame,
		{Method: http.MethodPost, Path: "/find"}:        h.PostFind,
		{Method: http.MethodPost, Path: "/region"}:      h.PostRegion,
		{Method: http.MethodPost, Path: "/presets"}:     h.PostPresets,
		{Method: http.MethodGet, Path: "/boundary"}:     h.GetBoundary,
		{Method: http.MethodGet, Path: "/temperatures"}: h.GetTemperatures,
		{Method: http.MethodGet, Path: "/tags"}:         h.GetTags,
		{Method: http.MethodGet, Path: "/echo"}:         h.GetEcho,
		{Method: http.MethodGet, Path: "/profile"}:      h.GetProfile,
	}
	if opts.Recorder != nil {
		imgrec.NewHTTPWrapper(opts.Recorder).Inject(rt)
	}
	h.RouteTable = rt
	return h, nil
}

// RT satisfies server.HTTPer
func (h *HTTPStave) RT() server.RouteTable {
	return h.RouteTable
}

// Stave returns the current stave, nil before the first upload
func (h *HTTPStave) Stave() *Stave {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stave
}

// statusOf maps an error to the HTTP status reported to the client
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrEmptyRegion), errors.Is(err, ErrOutOfBounds),
		errors.Is(err, frame.ErrEmpty), errors.Is(err, frame.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, ErrBoundaryNotLocated), errors.Is(err, ErrNoFrame):
		return http.StatusConflict
	case errors.Is(err, ErrAspectRatio), errors.Is(err, ErrStaveNotFound):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func httpError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Println(err)
	}
	http.Error(w, err.Error(), code)
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding %T to json %q\n", v, err)
	}
}

// current runs fcn on the current stave with the lock held
func (h *HTTPStave) current(fcn func(*Stave) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stave == nil {
		return ErrNoFrame
	}
	return fcn(h.stave)
}

// FrameInfo is the reply to a frame upload
type FrameInfo struct {
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
	Face string `json:"face"`
	Path string `json:"path,omitempty"`
}

// PostFrame reads a frame from the body, CSV unless the content type names
// FITS, optionally keeps one face (?face=upper|lower) and makes it the
// current stave.  The boundary must be found again afterwards
func (h *HTTPStave) PostFrame(w http.ResponseWriter, r *http.Request) {
	if h.opts.Limiter != nil && !h.opts.Limiter.Allow() {
		http.Error(w, "frame uploads arriving too fast", http.StatusTooManyRequests)
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		m    *mat.Dense
		meta frame.Metadata
	)
	if strings.Contains(r.Header.Get("Content-Type"), "fits") {
		m, meta, err = frame.ReadFITS(bytes.NewReader(body))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		m, err = frame.ReadCSV(bytes.NewReader(body))
		if err != nil {
			httpError(w, err)
			return
		}
		meta.Unit = h.opts.Units
	}
	if meta.Unit != "" && meta.Unit != temperature.UnitC {
		frame.ToCelsius(m, meta.Unit)
		meta.Unit = temperature.UnitC
	}

	faceName := r.URL.Query().Get("face")
	img, err := frame.Face(m, faceName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	meta.Face = faceName
	if meta.Source == "" {
		meta.Source = r.RemoteAddr
	}
	s, err := NewWithParams(img, h.params)
	if err != nil {
		httpError(w, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.stave = s
	rows, cols := img.Dims()
	info := FrameInfo{Rows: rows, Cols: cols, Face: faceName}
	if rec := h.opts.Recorder; rec != nil {
		if on, _ := rec.GetEnabled(); on {
			info.Path, err = rec.Record(img, meta)
			if err != nil {
				http.Error(w, fmt.Sprintf("frame kept but not recorded: %v", err), http.StatusInternalServerError)
				return
			}
		}
	}
	respondJSON(w, info)
}

// Window is a rectangle in fractions, the body of /find and /region.
// An omitted axis spans [0, 1]
type Window struct {
	Y   *[2]float64 `json:"y"`
	X   *[2]float64 `json:"x"`
	Tag string      `json:"tag,omitempty"`
}

func (win Window) bounds() (yLow, yHigh, xLow, xHigh float64) {
	y, x := [2]float64{0, 1}, [2]float64{0, 1}
	if win.Y != nil {
		y = *win.Y
	}
	if win.X != nil {
		x = *win.X
	}
	return y[0], y[1], x[0], x[1]
}

func decodeWindow(r *http.Request) (Window, error) {
	win := Window{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&win); err != nil && err != io.EOF {
		return win, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return win, nil
}

// BoundaryInfo describes the located stave
type BoundaryInfo struct {
	X     [2]int  `json:"x"`
	Y     [2]int  `json:"y"`
	Ratio float64 `json:"ratio"`
}

func boundaryOf(s *Stave) (BoundaryInfo, error) {
	b, err := s.Boundary()
	if err != nil {
		return BoundaryInfo{}, err
	}
	return BoundaryInfo{X: [2]int{b.Min.X, b.Max.X}, Y: [2]int{b.Min.Y, b.Max.Y}, Ratio: s.ratio}, nil
}

// PostFind locates the stave inside the window in the body and replies with the boundary
func (h *HTTPStave) PostFind(w http.ResponseWriter, r *http.Request) {
	win, err := decodeWindow(r)
	if err != nil {
		httpError(w, err)
		return
	}
	var info BoundaryInfo
	err = h.current(func(s *Stave) error {
		if err := s.FindStaveWithin(win.bounds()); err != nil {
			return err
		}
		var err error
		info, err = boundaryOf(s)
		return err
	})
	if err != nil {
		httpError(w, err)
		return
	}
	respondJSON(w, info)
}

// PostRegion adds the region in the body under its tag
func (h *HTTPStave) PostRegion(w http.ResponseWriter, r *http.Request) {
	win, err := decodeWindow(r)
	if err != nil {
		httpError(w, err)
		return
	}
	err = h.current(func(s *Stave) error {
		yLow, yHigh, xLow, xHigh := win.bounds()
		return s.AddRegion(yLow, yHigh, xLow, xHigh, win.Tag)
	})
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// PostPresets adds the regions listed in the parameters
func (h *HTTPStave) PostPresets(w http.ResponseWriter, r *http.Request) {
	if err := h.current(func(s *Stave) error { return s.ApplyPresets() }); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetBoundary replies with the located boundary
func (h *HTTPStave) GetBoundary(w http.ResponseWriter, r *http.Request) {
	var info BoundaryInfo
	err := h.current(func(s *Stave) error {
		var err error
		info, err = boundaryOf(s)
		return err
	})
	if err != nil {
		httpError(w, err)
		return
	}
	respondJSON(w, info)
}

// GetTemperatures replies with the region averages under ?tag= as {"f64s": [...]}
func (h *HTTPStave) GetTemperatures(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	var temps []float64
	err := h.current(func(s *Stave) error {
		var err error
		temps, err = s.Temperatures(tag)
		return err
	})
	if err != nil {
		httpError(w, err)
		return
	}
	hp := server.HumanPayload{T: types.Invalid, Floats: temps}
	hp.EncodeAndRespond(w, r)
}

// GetTags replies with the region tags as a JSON array
func (h *HTTPStave) GetTags(w http.ResponseWriter, r *http.Request) {
	var tags []string
	err := h.current(func(s *Stave) error {
		tags = s.Tags()
		return nil
	})
	if err != nil {
		httpError(w, err)
		return
	}
	respondJSON(w, tags)
}

// GetEcho replies with the Echo report as text
func (h *HTTPStave) GetEcho(w http.ResponseWriter, r *http.Request) {
	buf := &bytes.Buffer{}
	if err := h.current(func(s *Stave) error { return s.Echo(buf) }); err != nil {
		httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// GetProfile fits the pipe profile of ?face=top|bottom over the located stave
// and replies with it as CSV
func (h *HTTPStave) GetProfile(w http.ResponseWriter, r *http.Request) {
	face, err := profile.ParseFace(r.URL.Query().Get("face"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var crop mat.Matrix
	if err = h.current(func(s *Stave) error {
		var err error
		crop, err = s.Crop()
		if err == nil {
			// the fit runs outside the lock, on a copy
			crop = mat.DenseCopyOf(crop)
		}
		return err
	}); err != nil {
		httpError(w, err)
		return
	}
	res := profile.Run(crop, profile.Options{Face: face, LoopCut: h.opts.LoopCut})
	buf := &bytes.Buffer{}
	if err = profile.WriteCSV(buf, res); err != nil {
		httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
