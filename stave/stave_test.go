package stave

import (
	"bytes"
	"errors"
	"image"
	"strings"
	"testing"
)

const paramsFile = "testdata/parameters.yml"

// correctRatioStave is 3000x251 px, ratio 11.95
func correctRatioStave(t *testing.T) *Stave {
	t.Helper()
	s, err := New(blockImage(1240, 3160, 400, 651, 80, 3080, 18, 30), paramsFile)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// wrongRatioStave is 3000x270 px, ratio 11.11
func wrongRatioStave(t *testing.T) *Stave {
	t.Helper()
	s, err := New(blockImage(1240, 3160, 400, 670, 80, 3080, 18, 30), paramsFile)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEchoBeforeFindFails(t *testing.T) {
	for name, s := range map[string]*Stave{"correct": correctRatioStave(t), "wrong": wrongRatioStave(t)} {
		if err := s.Echo(&bytes.Buffer{}); !errors.Is(err, ErrBoundaryNotLocated) {
			t.Errorf("%s ratio stave: expected ErrBoundaryNotLocated from Echo, got %v", name, err)
		}
	}
}

func TestRatio(t *testing.T) {
	wrong := wrongRatioStave(t)
	if err := wrong.FindStaveWithin(0, 1, 0, 1); !errors.Is(err, ErrAspectRatio) {
		t.Errorf("expected ErrAspectRatio for a 3000x270 stave, got %v", err)
	}
	if wrong.State() != Unlocated {
		t.Error("expected the boundary to stay unlocated after a ratio failure")
	}
	if err := wrong.Echo(&bytes.Buffer{}); !errors.Is(err, ErrBoundaryNotLocated) {
		t.Errorf("expected ErrBoundaryNotLocated from Echo, got %v", err)
	}
	if err := wrong.AddRegion(0.1, 0.2, 0.1, 0.2, "x"); !errors.Is(err, ErrBoundaryNotLocated) {
		t.Errorf("expected ErrBoundaryNotLocated from AddRegion, got %v", err)
	}

	correct := correctRatioStave(t)
	if err := correct.FindStaveWithin(0, 1, 0, 1); err != nil {
		t.Fatalf("expected the 3000x251 stave to be found, got %v", err)
	}
	buf := &bytes.Buffer{}
	if err := correct.Echo(buf); err != nil {
		t.Errorf("expected Echo to succeed once located, got %v", err)
	}
	if !strings.Contains(buf.String(), "3000x251") {
		t.Errorf("expected the report to give the stave size, got\n%s", buf.String())
	}
}

func TestBoundaryRectangle(t *testing.T) {
	s := correctRatioStave(t)
	if _, err := s.Boundary(); !errors.Is(err, ErrBoundaryNotLocated) {
		t.Errorf("expected ErrBoundaryNotLocated before the search, got %v", err)
	}
	if err := s.FindStaveWithin(0, 1, 0, 1); err != nil {
		t.Fatal(err)
	}
	b, err := s.Boundary()
	if err != nil {
		t.Fatal(err)
	}
	if truth := image.Rect(80, 400, 3080, 651); b != truth {
		t.Errorf("expected boundary %v, got %v", truth, b)
	}
}

func TestFindWithinSubWindow(t *testing.T) {
	s := correctRatioStave(t)
	// the lower half of the image does not contain the stave's top edge
	if err := s.FindStaveWithin(0.25, 0.75, 0, 1); err != nil {
		t.Fatalf("expected the stave to be found in the middle band, got %v", err)
	}
	// a window around a corner sees a clipped, squat rectangle
	if err := s.FindStaveWithin(0.3, 0.6, 0, 0.1); !errors.Is(err, ErrAspectRatio) {
		t.Errorf("expected ErrAspectRatio on a clipped corner, got %v", err)
	}
	if s.State() != Unlocated {
		t.Error("expected a failed search to clear an earlier boundary")
	}
}

func TestFindInvalidFractions(t *testing.T) {
	s := correctRatioStave(t)
	for _, f := range [][4]float64{
		{0.5, 0.5, 0, 1},
		{0, 1, 0.7, 0.2},
		{-0.1, 1, 0, 1},
		{0, 1.2, 0, 1},
	} {
		if err := s.FindStaveWithin(f[0], f[1], f[2], f[3]); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for %v, got %v", f, err)
		}
	}
}

func TestFindFlatImage(t *testing.T) {
	s, err := NewWithParams(blockImage(50, 50, 0, 0, 0, 0, 21, 21), DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindStaveWithin(0, 1, 0, 1); !errors.Is(err, ErrStaveNotFound) {
		t.Errorf("expected ErrStaveNotFound on a flat image, got %v", err)
	}
}

func TestFindIgnoresStrayHotPixels(t *testing.T) {
	img := blockImage(1240, 3160, 400, 651, 80, 3080, 18, 30)
	img.Set(5, 5, 31)
	img.Set(1200, 3150, 31)
	s, err := New(img, paramsFile)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FindStaveWithin(0, 1, 0, 1); err != nil {
		t.Fatalf("expected isolated hot pixels to be ignored, got %v", err)
	}
}

func TestAddingRegions(t *testing.T) {
	s := correctRatioStave(t)
	if err := s.FindStaveWithin(0, 1, 0, 1); err != nil {
		t.Fatal(err)
	}
	for _, f := range [][4]float64{
		{0.2, 0.3, 0.1, 0.6},
		{0.5, 0.64, 0.14, 0.23},
		{0.1, 0.9, 0.1, 0.6},
		{0.2, 0.3, 0.3, 0.6},
	} {
		if err := s.AddRegion(f[0], f[1], f[2], f[3], "type A"); err != nil {
			t.Errorf("unexpected error adding %v: %v", f, err)
		}
	}
	for _, f := range [][4]float64{
		{0.1, 0.0, 0.1, 0.3},
		{0.1, -0.6, 0.1, 0.3},
		{-0.1, 0.6, 0.1, 0.3},
		{0.1, 0.6, 0.1, 1.3},
	} {
		if err := s.AddRegion(f[0], f[1], f[2], f[3], "type A"); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for %v, got %v", f, err)
		}
	}
	if err := s.AddRegion(0.2, 0.3, 0.1, 0.6, ""); err != nil {
		t.Error(err)
	}
	if err := s.AddRegion(0.5, 0.64, 0.14, 0.23, ""); err != nil {
		t.Error(err)
	}

	temps, err := s.Temperatures("type A")
	if err != nil {
		t.Fatal(err)
	}
	if len(temps) != 4 {
		t.Fatalf("expected 4 temperatures under type A, got %d", len(temps))
	}
	for i, v := range temps {
		if v != 30 {
			t.Errorf("region %d: expected 30, got %f", i, v)
		}
	}
	if tags := s.Tags(); len(tags) != 2 || tags[0] != "type A" || tags[1] != "" {
		t.Errorf("expected tags [type A, \"\"], got %q", tags)
	}
}

func TestRegionPixelsRelativeToBoundary(t *testing.T) {
	s := correctRatioStave(t)
	if err := s.FindStaveWithin(0, 1, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRegion(0, 1, 0, 1, "all"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRegion(0.2, 0.3, 0.1, 0.6, "part"); err != nil {
		t.Fatal(err)
	}
	if p := s.Regions("all")[0].Position(); p != [4]int{80, 3080, 400, 651} {
		t.Errorf("expected the whole stave, got %v", p)
	}
	// 0.2*251 = 50.2, 0.3*251 = 75.3, 0.1*3000 = 300, 0.6*3000 = 1800
	if p := s.Regions("part")[0].Position(); p != [4]int{380, 1880, 450, 475} {
		t.Errorf("expected [380 1880 450 475], got %v", p)
	}
}

func TestAddRegionTooThin(t *testing.T) {
	s := correctRatioStave(t)
	if err := s.FindStaveWithin(0, 1, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRegion(0.5, 0.501, 0.1, 0.2, "sliver"); !errors.Is(err, ErrEmptyRegion) {
		t.Errorf("expected ErrEmptyRegion for a sub-pixel region, got %v", err)
	}
	if len(s.Tags()) != 0 {
		t.Error("expected a rejected region to leave no tag behind")
	}
}

func TestTemperaturesUnknownTag(t *testing.T) {
	s := correctRatioStave(t)
	temps, err := s.Temperatures("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if temps == nil || len(temps) != 0 {
		t.Errorf("expected an empty, non-nil slice, got %#v", temps)
	}
}

func TestApplyPresets(t *testing.T) {
	s := correctRatioStave(t)
	if err := s.ApplyPresets(); !errors.Is(err, ErrBoundaryNotLocated) {
		t.Errorf("expected presets to need a boundary, got %v", err)
	}
	if err := s.FindStaveWithin(0, 1, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyPresets(); err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{"inlet", "outlet"} {
		temps, err := s.Temperatures(tag)
		if err != nil {
			t.Fatal(err)
		}
		if len(temps) != 1 || temps[0] != 30 {
			t.Errorf("expected one region at 30 under %s, got %v", tag, temps)
		}
	}
}

func TestCrop(t *testing.T) {
	s := correctRatioStave(t)
	if _, err := s.Crop(); !errors.Is(err, ErrBoundaryNotLocated) {
		t.Errorf("expected ErrBoundaryNotLocated, got %v", err)
	}
	if err := s.FindStaveWithin(0, 1, 0, 1); err != nil {
		t.Fatal(err)
	}
	c, err := s.Crop()
	if err != nil {
		t.Fatal(err)
	}
	if r, col := c.Dims(); r != 251 || col != 3000 {
		t.Errorf("expected a 251x3000 crop, got %dx%d", r, col)
	}
}

func TestNewMissingConfig(t *testing.T) {
	_, err := New(blockImage(2, 2, 0, 0, 0, 0, 0, 0), "testdata/does-not-exist.yml")
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for a missing file, got %v", err)
	}
}
