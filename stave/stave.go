/*Package stave locates a detector stave in a thermal image and averages the
temperature over named regions of it.

A Stave is built from an image and a parameters file.  Before regions can be
added, FindStaveWithin must locate the stave: the hottest (or coldest, the
cut is symmetric) rectangle in a search window whose width to height ratio
matches the expected one.  Regions are then given in fractions of that
rectangle and grouped under free-form tags:

 s, err := stave.New(img, "parameters.yml")
 ...
 err = s.FindStaveWithin(0, 1, 0, 1)
 err = s.AddRegion(0.2, 0.3, 0.1, 0.6, "type A")
 temps, err := s.Temperatures("type A")

A Stave is not safe for concurrent use.
*/
package stave

import (
	"fmt"
	"image"
	"io"
	"math"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"
)

// BoundaryState records whether the stave boundary has been located
type BoundaryState int

const (
	// Unlocated means no successful FindStaveWithin since construction or the last failure
	Unlocated BoundaryState = iota

	// Located means the boundary rectangle is valid
	Located
)

func (b BoundaryState) String() string {
	if b == Located {
		return "located"
	}
	return "unlocated"
}

// Stave owns a thermal image, the located stave boundary within it and the
// tagged regions registered against that boundary
type Stave struct {
	img    mat.Matrix
	params Params

	state    BoundaryState
	boundary image.Rectangle
	ratio    float64

	tags    []string
	regions map[string][]Region
}

// New returns a Stave over img with parameters loaded from cfgPath
func New(img mat.Matrix, cfgPath string) (*Stave, error) {
	p, err := LoadParams(cfgPath)
	if err != nil {
		return nil, err
	}
	return NewWithParams(img, p)
}

// NewWithParams returns a Stave over img using p
func NewWithParams(img mat.Matrix, p Params) (*Stave, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Stave{img: img, params: p, regions: map[string][]Region{}}, nil
}

// Image returns the global image
func (s *Stave) Image() mat.Matrix {
	return s.img
}

// Params returns the parameters the stave was built with
func (s *Stave) Params() Params {
	return s.params
}

// State reports whether the boundary has been located
func (s *Stave) State() BoundaryState {
	return s.state
}

// Boundary returns the located stave rectangle in absolute pixels.
// Min is inclusive and Max exclusive, X is the column and Y the row
func (s *Stave) Boundary() (image.Rectangle, error) {
	if s.state != Located {
		return image.Rectangle{}, ErrBoundaryNotLocated
	}
	return s.boundary, nil
}

// fracWindow converts fractions of an extent starting at origin to pixels
func fracWindow(origin, extent int, low, high float64) (int, int) {
	lo := origin + int(math.Round(low*float64(extent)))
	hi := origin + int(math.Round(high*float64(extent)))
	return lo, hi
}

// FindStaveWithin searches the window given in fractions of the whole image
// for the stave and checks its aspect ratio.  On failure the boundary is left
// unlocated, even if an earlier call had succeeded
func (s *Stave) FindStaveWithin(yLow, yHigh, xLow, xHigh float64) error {
	s.state = Unlocated
	if err := checkFractions("y", yLow, yHigh); err != nil {
		return err
	}
	if err := checkFractions("x", xLow, xHigh); err != nil {
		return err
	}
	rows, cols := s.img.Dims()
	y0, y1 := fracWindow(0, rows, yLow, yHigh)
	x0, x1 := fracWindow(0, cols, xLow, xHigh)
	win := image.Rect(x0, y0, x1, y1)
	if win.Empty() {
		return fmt.Errorf("%w: search window %v has no pixels", ErrInvalidArgument, win)
	}

	rect, err := detect(s.img, win, s.params.Threshold)
	if err != nil {
		return err
	}
	ratio := float64(rect.Dx()) / float64(rect.Dy())
	if math.Abs(ratio-s.params.StaveRatio) > s.params.RatioTolerance {
		return fmt.Errorf("%w: found %v with ratio %.3f, expected %.3f +/- %.3f",
			ErrAspectRatio, rect, ratio, s.params.StaveRatio, s.params.RatioTolerance)
	}
	s.boundary = rect
	s.ratio = ratio
	s.state = Located
	return nil
}

// detect thresholds win halfway (by frac) between its extrema and returns
// the rectangle spanned by rows and columns that are at least half as
// populated with hot pixels as the best row and column.  Isolated hot
// pixels outside the stave do not stretch the rectangle
func detect(img mat.Matrix, win image.Rectangle, frac float64) (image.Rectangle, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := win.Min.Y; i < win.Max.Y; i++ {
		for j := win.Min.X; j < win.Max.X; j++ {
			v := img.At(i, j)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if !(hi > lo) {
		return image.Rectangle{}, fmt.Errorf("%w: window %v spans [%g, %g]", ErrStaveNotFound, win, lo, hi)
	}
	cut := lo + frac*(hi-lo)

	rowHits := make([]int, win.Dy())
	colHits := make([]int, win.Dx())
	for i := win.Min.Y; i < win.Max.Y; i++ {
		for j := win.Min.X; j < win.Max.X; j++ {
			if img.At(i, j) > cut {
				rowHits[i-win.Min.Y]++
				colHits[j-win.Min.X]++
			}
		}
	}
	r0, r1 := span(rowHits)
	c0, c1 := span(colHits)
	return image.Rect(win.Min.X+c0, win.Min.Y+r0, win.Min.X+c1, win.Min.Y+r1), nil
}

// span returns the half open index range from the first to the last entry
// of hits that reaches half of its maximum
func span(hits []int) (int, int) {
	best := 0
	for _, h := range hits {
		best = max(best, h)
	}
	first, last := -1, -1
	for i, h := range hits {
		if 2*h >= best {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last + 1
}

// AddRegion registers a rectangle given in fractions of the located boundary
// under tag.  Tags need not be unique; regions accumulate in insertion order
func (s *Stave) AddRegion(yLow, yHigh, xLow, xHigh float64, tag string) error {
	if s.state != Located {
		return ErrBoundaryNotLocated
	}
	if err := checkFractions("y", yLow, yHigh); err != nil {
		return err
	}
	if err := checkFractions("x", xLow, xHigh); err != nil {
		return err
	}
	b := s.boundary
	y0, y1 := fracWindow(b.Min.Y, b.Dy(), yLow, yHigh)
	x0, x1 := fracWindow(b.Min.X, b.Dx(), xLow, xHigh)
	if y0 >= y1 || x0 >= x1 {
		return fmt.Errorf("%w: fractions y [%g, %g] x [%g, %g] round to no pixels on %v",
			ErrEmptyRegion, yLow, yHigh, xLow, xHigh, b)
	}
	if _, ok := s.regions[tag]; !ok {
		s.tags = append(s.tags, tag)
	}
	s.regions[tag] = append(s.regions[tag], NewRegion(s.img, x0, x1, y0, y1))
	return nil
}

// ApplyPresets adds every region listed in the parameters
func (s *Stave) ApplyPresets() error {
	for _, p := range s.params.Regions {
		if err := s.AddRegion(p.Rows[0], p.Rows[1], p.Cols[0], p.Cols[1], p.Tag); err != nil {
			return fmt.Errorf("preset %q: %w", p.Tag, err)
		}
	}
	return nil
}

// Tags returns the region tags in the order they were first used
func (s *Stave) Tags() []string {
	out := make([]string, len(s.tags))
	copy(out, s.tags)
	return out
}

// Regions returns the regions registered under tag, in insertion order
func (s *Stave) Regions(tag string) []Region {
	rs := s.regions[tag]
	out := make([]Region, len(rs))
	copy(out, rs)
	return out
}

// Temperatures returns the average temperature of each region under tag, in
// insertion order.  An unknown tag yields an empty slice
func (s *Stave) Temperatures(tag string) ([]float64, error) {
	rs := s.regions[tag]
	out := make([]float64, 0, len(rs))
	for _, r := range rs {
		t, err := r.AverageTemperature()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Crop returns the part of the image inside the boundary
func (s *Stave) Crop() (mat.Matrix, error) {
	if s.state != Located {
		return nil, ErrBoundaryNotLocated
	}
	b := s.boundary
	return NewRegion(s.img, b.Min.X, b.Max.X, b.Min.Y, b.Max.Y).view()
}

// Echo writes a report of the boundary and every region to w
func (s *Stave) Echo(w io.Writer) error {
	if s.state != Located {
		return ErrBoundaryNotLocated
	}
	b := s.boundary
	rows, cols := s.img.Dims()
	fmt.Fprintf(w, "image %dx%d, stave x [%d, %d) y [%d, %d), %dx%d px, ratio %.3f (expected %.3f +/- %.3f)\n",
		rows, cols, b.Min.X, b.Max.X, b.Min.Y, b.Max.Y, b.Dx(), b.Dy(), s.ratio,
		s.params.StaveRatio, s.params.RatioTolerance)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "tag\tx low\tx high\ty low\ty high\tmean\tstd")
	for _, tag := range s.tags {
		for _, r := range s.regions[tag] {
			mean, std, err := r.Stats()
			if err != nil {
				return err
			}
			p := r.Position()
			fmt.Fprintf(tw, "%q\t%d\t%d\t%d\t%d\t%.2f\t%.2f\n", tag, p[0], p[1], p[2], p[3], mean, std)
		}
	}
	return tw.Flush()
}
