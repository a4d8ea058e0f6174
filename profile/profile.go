/*Package profile extracts the thermal profile of the cooling pipes along a
stave.

Each pixel column across the stave cuts a cooling pipe of one half (face) of
the image.  The temperature along the column rises to a peak over the pipe;
a Gaussian on a constant baseline is fitted to the peak and its height above
zero, A+K, is the pipe temperature at that column.  Repeating the fit for
every column gives the profile along the stave.

The end of the stave where the pipe loops around is not a straight run and
is cut off first with LoopCut.
*/
package profile

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// ErrFitFailed is generated when neither the bounded nor the unbounded fit converge
var ErrFitFailed = errors.New("gaussian fit failed")

// Face selects the half of the stave image holding the pipe to fit
type Face int

const (
	// Top is the upper half of the rows; its baseline is at the middle of the stave
	Top Face = iota

	// Bottom is the lower half of the rows; its baseline is also at the middle
	Bottom
)

func (f Face) String() string {
	if f == Bottom {
		return "bottom"
	}
	return "top"
}

// ParseFace parses "top" or "bottom", case insensitive.  "" is Top
func ParseFace(s string) (Face, error) {
	switch strings.ToLower(s) {
	case "", "top":
		return Top, nil
	case "bottom":
		return Bottom, nil
	}
	return Top, fmt.Errorf("unknown face %q, expected top or bottom", s)
}

// Params are the parameters of Gauss
type Params struct {
	A, Mu, Sigma, K float64
}

// MaxT is the peak temperature of the fitted Gaussian
func (p Params) MaxT() float64 {
	return p.A + p.K
}

func (p Params) slice() []float64 {
	return []float64{p.A, p.Mu, p.Sigma, p.K}
}

func paramsOf(s []float64) Params {
	return Params{A: s[0], Mu: s[1], Sigma: math.Abs(s[2]), K: s[3]}
}

// Gauss is a*exp(-((x-mu)/sigma)^2) + k
func Gauss(x, a, mu, sigma, k float64) float64 {
	z := (x - mu) / sigma
	return a*math.Exp(-z*z) + k
}

// Seed holds the samples of one column and the first guesses derived from them
type Seed struct {
	// X are the bin centres, i+0.5
	X []float64

	// Y are the temperatures
	Y []float64

	// XMax is the bin centre of the first maximum
	XMax float64

	// HalfMax is half the height of the peak above Base
	HalfMax float64

	// Base is the baseline: the sample at the middle of the stave
	Base float64

	// XLow and XHigh bound the open window above half maximum around the peak
	XLow, XHigh float64
}

// NewSeed finds the half maximum window of the pipe peak in col, a full
// column of the stave of which only the half given by face is used
func NewSeed(col []float64, face Face) Seed {
	half := len(col) / 2
	if half == 0 {
		return Seed{}
	}
	var y []float64
	var base float64
	if face == Top {
		y = col[:half]
		base = y[len(y)-1]
	} else {
		y = col[half:]
		base = y[0]
	}
	n := len(y)
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i) + 0.5
	}

	iMax := floats.MaxIdx(y)
	iLast := iMax
	for i := n - 1; i > iMax; i-- {
		if y[i] == y[iMax] {
			iLast = i
			break
		}
	}
	hMax := (y[iMax] - base) / 2
	cut := base + hMax

	xHigh := x[n-1] + 1
	for i := iMax + 1; i < n; i++ {
		if !(y[i] > cut) {
			xHigh = x[i]
			break
		}
	}
	xLow := x[0] - 1
	for i := iLast - 1; i >= 0; i-- {
		if !(y[i] > cut) {
			xLow = x[i]
			break
		}
	}
	return Seed{X: x, Y: y, XMax: x[iMax], HalfMax: hMax, Base: base, XLow: xLow, XHigh: xHigh}
}

// bounds on a, mu, sigma, k
func (s Seed) bounds() (lo, hi []float64) {
	xmax := floats.Max(s.X)
	return []float64{-10, 0, 0, -60}, []float64{10, xmax, xmax, 50}
}

// penalty keeps the simplex inside the bounds while leaving the objective finite
const penalty = 1e6

func leastSquares(x, y, lo, hi []float64) func([]float64) float64 {
	return func(p []float64) float64 {
		q := make([]float64, len(p))
		copy(q, p)
		extra := 0.
		if lo != nil {
			for i := range q {
				if q[i] < lo[i] {
					extra += penalty * (lo[i] - q[i]) * (lo[i] - q[i])
					q[i] = lo[i]
				} else if q[i] > hi[i] {
					extra += penalty * (q[i] - hi[i]) * (q[i] - hi[i])
					q[i] = hi[i]
				}
			}
		}
		if q[2] == 0 {
			return math.MaxFloat64 / 4
		}
		ss := 0.
		for i := range x {
			r := y[i] - Gauss(x[i], q[0], q[1], q[2], q[3])
			ss += r * r
		}
		return ss + extra
	}
}

func minimize(x, y, p0, lo, hi []float64) (Params, error) {
	if len(x) < len(p0) {
		return Params{}, fmt.Errorf("%w: %d samples for %d parameters", ErrFitFailed, len(x), len(p0))
	}
	problem := optimize.Problem{Func: leastSquares(x, y, lo, hi)}
	settings := &optimize.Settings{MajorIterations: 5000}
	res, err := optimize.Minimize(problem, p0, settings, &optimize.NelderMead{})
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrFitFailed, err)
	}
	p := res.X
	if lo != nil {
		for i := range p {
			p[i] = math.Max(lo[i], math.Min(hi[i], p[i]))
		}
	}
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Params{}, fmt.Errorf("%w: non-finite parameters %v", ErrFitFailed, p)
		}
	}
	if p[2] == 0 {
		return Params{}, fmt.Errorf("%w: zero width", ErrFitFailed)
	}
	return paramsOf(p), nil
}

// Fit fits Gauss to the samples inside the seed window, with bounds on the
// parameters.  If that fails it fits, without bounds, every sample above the
// baseline
func Fit(s Seed) (Params, error) {
	if len(s.X) == 0 {
		return Params{}, fmt.Errorf("%w: no samples", ErrFitFailed)
	}
	lo, hi := s.bounds()
	p0 := Params{A: 2 * s.HalfMax, Mu: s.XMax, Sigma: (s.XHigh - s.XLow) / 2, K: s.Base}.slice()

	var xw, yw []float64
	for i, x := range s.X {
		if x > s.XLow && x < s.XHigh {
			xw = append(xw, x)
			yw = append(yw, s.Y[i])
		}
	}
	start := make([]float64, len(p0))
	for i := range p0 {
		start[i] = math.Max(lo[i], math.Min(hi[i], p0[i]))
	}
	p, err := minimize(xw, yw, start, lo, hi)
	if err == nil {
		return p, nil
	}

	xw, yw = xw[:0], yw[:0]
	for i, y := range s.Y {
		if y > s.Base {
			xw = append(xw, s.X[i])
			yw = append(yw, y)
		}
	}
	return minimize(xw, yw, p0, nil, nil)
}

type slicer interface {
	Slice(i, k, j, l int) mat.Matrix
}

// LoopCut drops the columns at the start of m where the pipe loops around.
// In the middle row the cut is the first column, at or after the hottest one,
// whose temperature is no longer above the row mean.  It returns the cut
// image and the number of columns removed
func LoopCut(m mat.Matrix) (mat.Matrix, int) {
	rows, cols := m.Dims()
	mid := make([]float64, cols)
	mat.Row(mid, rows/2, m)
	iMax := floats.MaxIdx(mid)
	mean := stat.Mean(mid, nil)
	cut := 0
	for j := iMax; j < cols; j++ {
		if !(mid[j] > mean) {
			cut = j
			break
		}
	}
	if cut == 0 {
		return m, 0
	}
	if s, ok := m.(slicer); ok {
		return s.Slice(0, rows, cut, cols), cut
	}
	return mat.DenseCopyOf(m).Slice(0, rows, cut, cols), cut
}

// Options control Run
type Options struct {
	// Face is the half of the stave to fit
	Face Face

	// LoopCut removes the pipe loop before fitting
	LoopCut bool

	// Progress, if not nil, is called after each column
	Progress func(done, total int)

	// Debug logs every failed column
	Debug bool
}

// Result is the thermal profile of one face
type Result struct {
	// Face is the half that was fitted
	Face Face

	// Offset is the number of columns removed by the loop cut
	Offset int

	// X is the column index in the cut image
	X []float64

	// MaxT is A+K per column, NaN where the fit failed
	MaxT []float64

	// Params are the fit parameters per column, NaN where the fit failed
	Params []Params

	// Failed counts the columns whose fit failed
	Failed int
}

// Run fits every column of m, a stave image cropped to the stave boundary
func Run(m mat.Matrix, opt Options) Result {
	res := Result{Face: opt.Face}
	if opt.LoopCut {
		m, res.Offset = LoopCut(m)
	}
	rows, cols := m.Dims()
	res.X = make([]float64, cols)
	res.MaxT = make([]float64, cols)
	res.Params = make([]Params, cols)
	col := make([]float64, rows)
	nan := math.NaN()
	for j := 0; j < cols; j++ {
		res.X[j] = float64(j)
		mat.Col(col, j, m)
		p, err := Fit(NewSeed(col, opt.Face))
		if err != nil {
			if opt.Debug {
				log.Printf("column %d: %v\n", j+res.Offset, err)
			}
			res.Failed++
			res.MaxT[j] = nan
			res.Params[j] = Params{nan, nan, nan, nan}
		} else {
			res.MaxT[j] = p.MaxT()
			res.Params[j] = p
		}
		if opt.Progress != nil {
			opt.Progress(j+1, cols)
		}
	}
	return res
}
