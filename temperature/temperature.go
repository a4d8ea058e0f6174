// Package temperature holds temperature unit types and the conversions
// needed to bring camera exports onto a common Celsius scale.
package temperature

import (
	"fmt"
	"strings"
)

type (
	// Celsius is a temperature in C
	Celsius float64

	// Kelvin is a temperature in K
	Kelvin float64

	// Fahrenheit is a temperature in deg F
	Fahrenheit float64
)

// Unit names the scale a thermal camera exported its samples in
type Unit string

const (
	// UnitC is degrees Celsius, the working scale of every analysis
	UnitC Unit = "C"

	// UnitK is Kelvin
	UnitK Unit = "K"

	// UnitF is degrees Fahrenheit
	UnitF Unit = "F"
)

// ParseUnit accepts C, K, F and their long names, case insensitive.
// The empty string is Celsius.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "c", "celsius", "degc":
		return UnitC, nil
	case "k", "kelvin":
		return UnitK, nil
	case "f", "fahrenheit", "degf":
		return UnitF, nil
	default:
		return "", fmt.Errorf("unknown temperature unit %q", s)
	}
}

// C2F converts a temp in Celsius to Fahrenheit
func C2F(c Celsius) Fahrenheit {
	return Fahrenheit(c*9/5 + 32)
}

// C2K converts a temp in Celsius to Kelvin
func C2K(c Celsius) Kelvin {
	return Kelvin(c + 273.15)
}

// K2C converts a temp in Kelvin to Celsius
func K2C(k Kelvin) Celsius {
	return Celsius(k - 273.15)
}

// F2C converts a temp in Fahrenheit to Celcius
func F2C(f Fahrenheit) Celsius {
	return Celsius((f - 32) * 5 / 9)
}

// ToCelsius returns v, expressed in u, on the Celsius scale
func ToCelsius(v float64, u Unit) Celsius {
	switch u {
	case UnitK:
		return K2C(Kelvin(v))
	case UnitF:
		return F2C(Fahrenheit(v))
	default:
		return Celsius(v)
	}
}
