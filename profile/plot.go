package profile

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// series plots y against x, skipping NaN (failed) columns
func series(title, ylabel string, x, y []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = ylabel
	pts := make(plotter.XYs, 0, len(x))
	for i := range x {
		if math.IsNaN(y[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: x[i], Y: y[i]})
	}
	if len(pts) == 0 {
		return p, nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	p.Add(line)
	return p, nil
}

// SavePlots writes the thermal profile and the profile of every fit
// parameter as PNGs to dir, which is created if needed
func SavePlots(res Result, dir string) error {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}
	pick := func(f func(Params) float64) []float64 {
		out := make([]float64, len(res.Params))
		for i, p := range res.Params {
			out[i] = f(p)
		}
		return out
	}
	plots := []struct {
		file, title, ylabel string
		y                   []float64
	}{
		{"thermal_profile.png", "thermal profile, " + res.Face.String() + " pipe", "max T (C)", res.MaxT},
		{"amplitude_profile.png", "amplitude", "A (C)", pick(func(p Params) float64 { return p.A })},
		{"mu_profile.png", "peak position", "mu (px)", pick(func(p Params) float64 { return p.Mu })},
		{"sigma_profile.png", "peak width", "sigma (px)", pick(func(p Params) float64 { return p.Sigma })},
		{"k_profile.png", "baseline", "K (C)", pick(func(p Params) float64 { return p.K })},
	}
	for _, pl := range plots {
		p, err := series(pl.title, pl.ylabel, res.X, pl.y)
		if err != nil {
			return err
		}
		if err = p.Save(8*vg.Inch, 4*vg.Inch, filepath.Join(dir, pl.file)); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes one line per column: column in the uncut image, max T, A, mu, sigma, K
func WriteCSV(w io.Writer, res Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"column", "max_t", "a", "mu", "sigma", "k"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 5, 64) }
	for i, x := range res.X {
		p := res.Params[i]
		rec := []string{strconv.Itoa(int(x) + res.Offset), f(res.MaxT[i]), f(p.A), f(p.Mu), f(p.Sigma), f(p.K)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
