package frame

import (
	"fmt"
	"io"
	"time"

	"github.com/astrogo/fitsio"
	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/staveqa/temperature"
)

const (
	// PixelTable is the name of the binary table holding one row per pixel
	PixelTable = "TEMPERATURE"

	// CameraTable is the name of the binary table holding the frame geometry and timestamp
	CameraTable = "CAMERA"
)

// Metadata describes where a frame came from
type Metadata struct {
	// Face is "upper", "lower" or empty for a full frame
	Face string

	// Source is the file or URL the frame was read from
	Source string

	// Taken is the acquisition time.  The zero time is written as the time of writing
	Taken time.Time

	// Unit is the scale of the samples
	Unit temperature.Unit
}

func (m Metadata) cards() []fitsio.Card {
	unit := m.Unit
	if unit == "" {
		unit = temperature.UnitC
	}
	return []fitsio.Card{
		{Name: "FACE", Value: m.Face, Comment: "stave face shown in the frame"},
		{Name: "SOURCE", Value: m.Source, Comment: "origin of the frame"},
		{Name: "DATE-OBS", Value: m.Taken.UTC().Format(time.RFC3339Nano), Comment: "acquisition time"},
		{Name: "BUNIT", Value: string(unit), Comment: "temperature scale"},
	}
}

// WriteFITS streams a FITS file holding m to w.  The primary HDU is the
// image (NAXIS1 = columns); it is followed by the PixelTable and CameraTable
// binary tables
func WriteFITS(w io.Writer, m mat.Matrix, meta Metadata) error {
	if meta.Taken.IsZero() {
		meta.Taken = time.Now()
	}
	rows, cols := m.Dims()
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	im := fitsio.NewImage(-64, []int{cols, rows})
	defer im.Close()
	err = im.Header().Append(meta.cards()...)
	if err != nil {
		return err
	}
	buf := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			buf[i*cols+j] = m.At(i, j)
		}
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	err = fits.Write(im)
	if err != nil {
		return err
	}

	pix, err := pixelTable(m)
	if err != nil {
		return err
	}
	defer pix.Close()
	err = fits.Write(pix)
	if err != nil {
		return err
	}

	cam, err := cameraTable(rows, cols, meta.Taken)
	if err != nil {
		return err
	}
	defer cam.Close()
	return fits.Write(cam)
}

// pixelTable lays the image out one pixel per row; xpos is the column and
// ypos the row of the sample
func pixelTable(m mat.Matrix) (*fitsio.Table, error) {
	cols := []fitsio.Column{
		{Name: "temperature", Format: "D"},
		{Name: "xpos", Format: "J"},
		{Name: "ypos", Format: "J"},
	}
	tbl, err := fitsio.NewTable(PixelTable, cols, fitsio.BINARY_TBL)
	if err != nil {
		return nil, err
	}
	r, c := m.Dims()
	var (
		t    float64
		x, y int32
	)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t, x, y = m.At(i, j), int32(j), int32(i)
			if err = tbl.Write(&t, &x, &y); err != nil {
				tbl.Close()
				return nil, err
			}
		}
	}
	return tbl, nil
}

func cameraTable(rows, cols int, taken time.Time) (*fitsio.Table, error) {
	columns := []fitsio.Column{
		{Name: "nxpixel", Format: "J"},
		{Name: "nypixel", Format: "J"},
		{Name: "year", Format: "J"},
		{Name: "month", Format: "J"},
		{Name: "date", Format: "J"},
		{Name: "hour", Format: "J"},
		{Name: "minute", Format: "J"},
		{Name: "second", Format: "D"},
	}
	tbl, err := fitsio.NewTable(CameraTable, columns, fitsio.BINARY_TBL)
	if err != nil {
		return nil, err
	}
	taken = taken.UTC()
	var (
		nx, ny            = int32(cols), int32(rows)
		year, month, date = int32(taken.Year()), int32(taken.Month()), int32(taken.Day())
		hour, minute      = int32(taken.Hour()), int32(taken.Minute())
		second            = float64(taken.Second()) + float64(taken.Nanosecond())/1e9
	)
	err = tbl.Write(&nx, &ny, &year, &month, &date, &hour, &minute, &second)
	if err != nil {
		tbl.Close()
		return nil, err
	}
	return tbl, nil
}

func cardString(hdr *fitsio.Header, name string) string {
	c := hdr.Get(name)
	if c == nil {
		return ""
	}
	s, _ := c.Value.(string)
	return s
}

// cardFloat returns the numeric value of a card, or def when it is absent
func cardFloat(hdr *fitsio.Header, name string, def float64) float64 {
	c := hdr.Get(name)
	if c == nil {
		return def
	}
	switch v := c.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// readPixels reads an image of any BITPIX as float64, applying BSCALE and BZERO
func readPixels(img fitsio.Image, n int) ([]float64, error) {
	hdr := img.Header()
	out := make([]float64, n)
	var err error
	switch hdr.Bitpix() {
	case 8:
		raw := make([]byte, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case 16:
		raw := make([]int16, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case 32:
		raw := make([]int32, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case 64:
		raw := make([]int64, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case -32:
		raw := make([]float32, n)
		if err = img.Read(&raw); err == nil {
			for i, v := range raw {
				out[i] = float64(v)
			}
		}
	case -64:
		err = img.Read(&out)
	default:
		return nil, fmt.Errorf("%w: unsupported BITPIX %d", ErrMalformed, hdr.Bitpix())
	}
	if err != nil {
		return nil, err
	}
	scale, zero := cardFloat(hdr, "BSCALE", 1), cardFloat(hdr, "BZERO", 0)
	if scale != 1 || zero != 0 {
		for i := range out {
			out[i] = out[i]*scale + zero
		}
	}
	return out, nil
}

// ReadFITS reads the primary image of a FITS file written by WriteFITS, or
// any 2D FITS image of integer or floating point pixels, along with the
// metadata cards that are present
func ReadFITS(r io.Reader) (*mat.Dense, Metadata, error) {
	meta := Metadata{}
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, meta, err
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, meta, fmt.Errorf("%w: primary HDU is not an image", ErrMalformed)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, meta, fmt.Errorf("%w: expected a 2D image, got %d axes", ErrMalformed, len(axes))
	}
	cols, rows := axes[0], axes[1]
	if rows*cols == 0 {
		return nil, meta, ErrEmpty
	}
	buf, err := readPixels(img, rows*cols)
	if err != nil {
		return nil, meta, err
	}

	meta.Face = cardString(hdr, "FACE")
	meta.Source = cardString(hdr, "SOURCE")
	if u, err := temperature.ParseUnit(cardString(hdr, "BUNIT")); err == nil {
		meta.Unit = u
	}
	if ts := cardString(hdr, "DATE-OBS"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			meta.Taken = t
		}
	}
	return mat.NewDense(rows, cols, buf), meta, nil
}

// ReadPixelTable rebuilds a frame from the columnar PixelTable and
// CameraTable of a file written by WriteFITS
func ReadPixelTable(r io.Reader) (*mat.Dense, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if !f.Has(CameraTable) || !f.Has(PixelTable) {
		return nil, fmt.Errorf("%w: missing %s or %s table", ErrMalformed, CameraTable, PixelTable)
	}

	cam, ok := f.Get(CameraTable).(*fitsio.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a table", ErrMalformed, CameraTable)
	}
	crows, err := cam.Read(0, cam.NumRows())
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	var (
		nx, ny                          int32
		year, month, date, hour, minute int32
		second                          float64
	)
	if !crows.Next() {
		return nil, fmt.Errorf("%w: empty %s table", ErrMalformed, CameraTable)
	}
	if err = crows.Scan(&nx, &ny, &year, &month, &date, &hour, &minute, &second); err != nil {
		return nil, err
	}
	if nx <= 0 || ny <= 0 {
		return nil, ErrEmpty
	}

	out := mat.NewDense(int(ny), int(nx), nil)
	pix, ok := f.Get(PixelTable).(*fitsio.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a table", ErrMalformed, PixelTable)
	}
	prows, err := pix.Read(0, pix.NumRows())
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	var (
		t    float64
		x, y int32
	)
	for prows.Next() {
		if err = prows.Scan(&t, &x, &y); err != nil {
			return nil, err
		}
		if x < 0 || x >= nx || y < 0 || y >= ny {
			return nil, fmt.Errorf("%w: pixel (%d, %d) outside %dx%d frame", ErrMalformed, x, y, nx, ny)
		}
		out.Set(int(y), int(x), t)
	}
	return out, prows.Err()
}
