package temperature

import (
	"fmt"
	"math"
	"testing"
)

func ExampleToCelsius() {
	fmt.Printf("%.2f\n", ToCelsius(300, UnitK))
	// Output: 26.85
}

func TestParseUnitAliases(t *testing.T) {
	cases := map[string]Unit{
		"":        UnitC,
		"C":       UnitC,
		"kelvin":  UnitK,
		" K ":     UnitK,
		"degF":    UnitF,
		"Celsius": UnitC,
	}
	for in, expected := range cases {
		u, err := ParseUnit(in)
		if err != nil {
			t.Errorf("unexpected error parsing %q: %v", in, err)
			continue
		}
		if u != expected {
			t.Errorf("expected %q to parse as %s, got %s", in, expected, u)
		}
	}
}

func TestParseUnitRejectsGarbage(t *testing.T) {
	if _, err := ParseUnit("rankine"); err == nil {
		t.Error("expected an error for an unsupported unit")
	}
}

func TestFahrenheitRoundTrip(t *testing.T) {
	c := Celsius(-40)
	if got := F2C(C2F(c)); math.Abs(float64(got-c)) > 1e-12 {
		t.Errorf("expected %f after round trip, got %f", c, got)
	}
	if got := ToCelsius(212, UnitF); math.Abs(float64(got)-100) > 1e-12 {
		t.Errorf("expected boiling water at 100 C, got %f", got)
	}
}
