package stave

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Region is a rectangular window of a temperature image.  Bounds are half
// open, [low, high), in pixel indices; y indexes rows and x indexes columns
type Region struct {
	img                        mat.Matrix
	xLow, xHigh, yLow, yHigh int
}

// NewRegion returns a region over img.  The image is held by reference and
// the bounds are not checked until the region is queried
func NewRegion(img mat.Matrix, xLow, xHigh, yLow, yHigh int) Region {
	return Region{img: img, xLow: xLow, xHigh: xHigh, yLow: yLow, yHigh: yHigh}
}

// Position returns the bounds in the order they were given to NewRegion,
// {xLow, xHigh, yLow, yHigh}
func (r Region) Position() [4]int {
	return [4]int{r.xLow, r.xHigh, r.yLow, r.yHigh}
}

// slicer is satisfied by *mat.Dense and the other gonum types with views
type slicer interface {
	Slice(i, k, j, l int) mat.Matrix
}

func (r Region) view() (mat.Matrix, error) {
	if r.xLow >= r.xHigh || r.yLow >= r.yHigh {
		return nil, fmt.Errorf("%w: x [%d, %d) y [%d, %d)", ErrEmptyRegion, r.xLow, r.xHigh, r.yLow, r.yHigh)
	}
	rows, cols := r.img.Dims()
	if r.xLow < 0 || r.yLow < 0 || r.xHigh > cols || r.yHigh > rows {
		return nil, fmt.Errorf("%w: x [%d, %d) y [%d, %d) on a %dx%d image",
			ErrOutOfBounds, r.xLow, r.xHigh, r.yLow, r.yHigh, rows, cols)
	}
	if s, ok := r.img.(slicer); ok {
		return s.Slice(r.yLow, r.yHigh, r.xLow, r.xHigh), nil
	}
	// generic matrices have no views; copy the window
	d := mat.NewDense(r.yHigh-r.yLow, r.xHigh-r.xLow, nil)
	for i := r.yLow; i < r.yHigh; i++ {
		for j := r.xLow; j < r.xHigh; j++ {
			d.Set(i-r.yLow, j-r.xLow, r.img.At(i, j))
		}
	}
	return d, nil
}

// AverageTemperature is the mean of every sample inside the region
func (r Region) AverageTemperature() (float64, error) {
	v, err := r.view()
	if err != nil {
		return 0, err
	}
	rows, cols := v.Dims()
	return mat.Sum(v) / float64(rows*cols), nil
}

// Stats returns the mean and population standard deviation of the region
func (r Region) Stats() (mean, std float64, err error) {
	v, err := r.view()
	if err != nil {
		return 0, 0, err
	}
	mean, std = stat.PopMeanStdDev(flatten(v, nil), nil)
	return mean, std, nil
}

func flatten(m mat.Matrix, mask *Mask) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if mask != nil && !mask.At(i, j) {
				continue
			}
			out = append(out, m.At(i, j))
		}
	}
	return out
}

// Mask is a boolean grid selecting pixels of an image
type Mask struct {
	rows, cols int
	bits       []bool
}

// NewMask returns an all-false mask of the given shape
func NewMask(rows, cols int) *Mask {
	return &Mask{rows: rows, cols: cols, bits: make([]bool, rows*cols)}
}

// Dims returns the shape of the mask
func (m *Mask) Dims() (rows, cols int) {
	return m.rows, m.cols
}

// At reports whether pixel (i, j) is selected
func (m *Mask) At(i, j int) bool {
	return m.bits[i*m.cols+j]
}

// Set selects or deselects pixel (i, j)
func (m *Mask) Set(i, j int, v bool) {
	m.bits[i*m.cols+j] = v
}

// SetRect sets every pixel in rows [y0, y1) and columns [x0, x1), clipped to the mask
func (m *Mask) SetRect(y0, y1, x0, x1 int, v bool) {
	y0, x0 = max(y0, 0), max(x0, 0)
	y1, x1 = min(y1, m.rows), min(x1, m.cols)
	for i := y0; i < y1; i++ {
		for j := x0; j < x1; j++ {
			m.bits[i*m.cols+j] = v
		}
	}
}

// Count is the number of selected pixels
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// GeneralRegion is an arbitrarily shaped window of an image, defined by a mask
type GeneralRegion struct {
	img  mat.Matrix
	mask *Mask
}

// NewGeneralRegion returns a region over the pixels of img selected by mask.
// The mask must have the same shape as the image
func NewGeneralRegion(img mat.Matrix, mask *Mask) (GeneralRegion, error) {
	ir, ic := img.Dims()
	mr, mc := mask.Dims()
	if ir != mr || ic != mc {
		return GeneralRegion{}, fmt.Errorf("%w: mask is %dx%d, image is %dx%d", ErrShapeMismatch, mr, mc, ir, ic)
	}
	return GeneralRegion{img: img, mask: mask}, nil
}

// AverageTemperature is the mean of the selected samples
func (g GeneralRegion) AverageTemperature() (float64, error) {
	vals := flatten(g.img, g.mask)
	if len(vals) == 0 {
		return 0, fmt.Errorf("%w: mask selects no pixels", ErrEmptyRegion)
	}
	return stat.Mean(vals, nil), nil
}
