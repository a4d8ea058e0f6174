package stave

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is generated when the parameters resource is missing or malformed
	ErrConfiguration = errors.New("stave configuration unusable")

	// ErrInvalidArgument is generated when fractional bounds are inverted or outside [0,1]
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrShapeMismatch is generated when a mask does not have the shape of its image
	ErrShapeMismatch = fmt.Errorf("%w: mask and image shapes differ", ErrInvalidArgument)

	// ErrBoundaryNotLocated is generated when an operation needs the stave boundary
	// before FindStaveWithin has succeeded
	ErrBoundaryNotLocated = errors.New("stave boundary not located")

	// ErrAspectRatio is generated when the detected stave has the wrong aspect ratio
	ErrAspectRatio = errors.New("stave not found, wrong aspect ratio")

	// ErrStaveNotFound is generated when the search window holds no contrast to threshold
	ErrStaveNotFound = errors.New("stave not found, no contrast in window")

	// ErrEmptyRegion is generated when a region contains no pixels
	ErrEmptyRegion = errors.New("region contains no pixels")

	// ErrOutOfBounds is generated when a region extends beyond its image
	ErrOutOfBounds = errors.New("region outside image")
)

// checkFractions verifies 0 <= low < high <= 1
func checkFractions(axis string, low, high float64) error {
	if !(low >= 0 && high <= 1 && low < high) {
		return fmt.Errorf("%w: %s fractions [%g, %g] must satisfy 0 <= low < high <= 1",
			ErrInvalidArgument, axis, low, high)
	}
	return nil
}
