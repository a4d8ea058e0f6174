package stave

import (
	"fmt"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// Preset is a named region, in fractions of the stave boundary, that is
// applied to every stave analysed with a parameter set
type Preset struct {
	// Tag groups the region with others for aggregate queries
	Tag string `koanf:"Tag" yaml:"Tag"`

	// Rows is the [low, high] fraction of the boundary height
	Rows [2]float64 `koanf:"Rows" yaml:"Rows"`

	// Cols is the [low, high] fraction of the boundary width
	Cols [2]float64 `koanf:"Cols" yaml:"Cols"`
}

// Params holds the geometry used to recognise a stave in an image
type Params struct {
	// StaveRatio is the expected width / height of the stave
	StaveRatio float64 `koanf:"StaveRatio" yaml:"StaveRatio"`

	// RatioTolerance is the largest accepted |measured - StaveRatio|
	RatioTolerance float64 `koanf:"RatioTolerance" yaml:"RatioTolerance"`

	// Threshold places the hot/cold cut between the window's min (0) and max (1)
	Threshold float64 `koanf:"Threshold" yaml:"Threshold"`

	// Regions are presets added by ApplyPresets
	Regions []Preset `koanf:"Regions" yaml:"Regions"`
}

// DefaultParams returns the parameters used when a file leaves a key out
func DefaultParams() Params {
	return Params{
		StaveRatio:     12.0,
		RatioTolerance: 0.2,
		Threshold:      0.5,
	}
}

// Validate checks the parameters are usable
func (p Params) Validate() error {
	if !(p.StaveRatio > 0) {
		return fmt.Errorf("%w: StaveRatio must be positive, got %g", ErrConfiguration, p.StaveRatio)
	}
	if !(p.RatioTolerance >= 0) {
		return fmt.Errorf("%w: RatioTolerance must be non-negative, got %g", ErrConfiguration, p.RatioTolerance)
	}
	if !(p.Threshold > 0 && p.Threshold < 1) {
		return fmt.Errorf("%w: Threshold must lie in (0,1), got %g", ErrConfiguration, p.Threshold)
	}
	for i, r := range p.Regions {
		if err := checkFractions("y", r.Rows[0], r.Rows[1]); err != nil {
			return fmt.Errorf("%w: preset %d (%q): %v", ErrConfiguration, i, r.Tag, err)
		}
		if err := checkFractions("x", r.Cols[0], r.Cols[1]); err != nil {
			return fmt.Errorf("%w: preset %d (%q): %v", ErrConfiguration, i, r.Tag, err)
		}
	}
	return nil
}

// LoadParams reads a YAML parameters file on top of DefaultParams.
// Unlike the tool config, a missing file is an error
func LoadParams(path string) (Params, error) {
	k := koanf.New(".")
	p := Params{}
	if err := k.Load(structs.Provider(DefaultParams(), "koanf"), nil); err != nil {
		return p, fmt.Errorf("%w: loading defaults: %v", ErrConfiguration, err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return p, fmt.Errorf("%w: %s: %v", ErrConfiguration, path, err)
	}
	if err := k.Unmarshal("", &p); err != nil {
		return p, fmt.Errorf("%w: %s: %v", ErrConfiguration, path, err)
	}
	return p, p.Validate()
}
