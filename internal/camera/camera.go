// Package camera holds the pinhole intrinsics the eye model needs.
package camera

import (
	"errors"
	"fmt"
)

// ErrInvalidCamera is returned by Validate for unusable intrinsics.
var ErrInvalidCamera = errors.New("camera: invalid model")

// Model is a pinhole camera with square pixels and a centered principal
// point.
type Model struct {
	FocalLength float64 `json:"focal_length"`
	Resolution  [2]int  `json:"resolution"`
}

// Width returns the horizontal resolution in pixels.
func (m Model) Width() float64 { return float64(m.Resolution[0]) }

// Height returns the vertical resolution in pixels.
func (m Model) Height() float64 { return float64(m.Resolution[1]) }

// Validate checks that the focal length and resolution are positive.
func (m Model) Validate() error {
	if !(m.FocalLength > 0) {
		return fmt.Errorf("%w: focal length %v", ErrInvalidCamera, m.FocalLength)
	}
	if m.Resolution[0] <= 0 || m.Resolution[1] <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidCamera, m.Resolution[0], m.Resolution[1])
	}
	return nil
}
