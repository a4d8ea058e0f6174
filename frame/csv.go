/*Package frame reads and writes thermal camera frames.

Cameras export one frame as a CSV of temperatures, one image row per line.
Frames are held as gonum dense matrices indexed (row, column) and can be
written to FITS, whose primary HDU holds the image and whose binary tables
hold the same samples in a columnar, one-pixel-per-row layout alongside the
camera information.
*/
package frame

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/staveqa/temperature"
)

var (
	// ErrEmpty is generated when a frame contains no samples
	ErrEmpty = errors.New("frame contains no samples")

	// ErrMalformed is generated when a CSV frame is ragged or non-numeric
	ErrMalformed = errors.New("malformed frame")

	// ErrUnsupported is generated for files that are neither .csv nor .fits
	ErrUnsupported = errors.New("unsupported frame file, expected .csv or .fits")
)

// ReadCSV parses a CSV frame.  A single trailing empty field on every line,
// left by exporters that end rows with a comma, is dropped
func ReadCSV(r io.Reader) (*mat.Dense, error) {
	rdr := csv.NewReader(r)
	rdr.TrimLeadingSpace = true
	rdr.FieldsPerRecord = -1
	rdr.Comment = '#'

	var (
		data  []float64
		width = -1
		line  = 0
	)
	for {
		rec, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		line++
		if n := len(rec); n > 1 && strings.TrimSpace(rec[n-1]) == "" {
			rec = rec[:n-1]
		}
		if width < 0 {
			width = len(rec)
		} else if len(rec) != width {
			return nil, fmt.Errorf("%w: line %d has %d fields, expected %d", ErrMalformed, line, len(rec), width)
		}
		for col, field := range rec {
			f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %d: %v", ErrMalformed, line, col+1, err)
			}
			data = append(data, f)
		}
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return mat.NewDense(line, width, data), nil
}

// WriteCSV writes m as a CSV frame readable by ReadCSV
func WriteCSV(w io.Writer, m mat.Matrix) error {
	cw := csv.NewWriter(w)
	rows, cols := m.Dims()
	rec := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			rec[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ToCelsius converts every sample of m from u to Celsius in place
func ToCelsius(m *mat.Dense, u temperature.Unit) {
	if u == temperature.UnitC || u == "" {
		return
	}
	m.Apply(func(_, _ int, v float64) float64 {
		return float64(temperature.ToCelsius(v, u))
	}, m)
}

// slicer is satisfied by *mat.Dense and the other gonum types with views
type slicer interface {
	Slice(i, k, j, l int) mat.Matrix
}

// SplitFaces cuts a frame showing both faces of a stave side by side.  The
// left half of the columns is the upper face, the right half the lower face;
// for an odd width the lower face gets the extra column
func SplitFaces(m mat.Matrix) (upper, lower mat.Matrix, err error) {
	rows, cols := m.Dims()
	if cols < 2 {
		return nil, nil, fmt.Errorf("%w: %d column frame cannot be split", ErrEmpty, cols)
	}
	half := cols / 2
	s, ok := m.(slicer)
	if !ok {
		s = mat.DenseCopyOf(m)
	}
	return s.Slice(0, rows, 0, half), s.Slice(0, rows, half, cols), nil
}

// Face picks one face of a two-face frame by name, "upper" or "lower".
// "" or "both" returns the frame unchanged
func Face(m mat.Matrix, name string) (mat.Matrix, error) {
	switch strings.ToLower(name) {
	case "", "both":
		return m, nil
	case "upper":
		up, _, err := SplitFaces(m)
		return up, err
	case "lower":
		_, low, err := SplitFaces(m)
		return low, err
	default:
		return nil, fmt.Errorf("unknown face %q, expected upper or lower", name)
	}
}
