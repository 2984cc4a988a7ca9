// Package testutil generates synthetic eyes, pupil ellipses and frames for
// tests, demos and sample recordings.
package testutil

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/banshee-data/eye3d/internal/geometry"
	"github.com/banshee-data/eye3d/internal/observation"
)

// Eye is a synthetic eyeball in front of a pinhole camera. It produces
// exact pupil ellipses and rendered frames for tests and demos.
type Eye struct {
	Sphere      r3.Vector
	PupilRadius float64
	Focal       float64
	Width       int
	Height      int
}

// DefaultEye is slightly off-axis so that fits cannot succeed by symmetry.
func DefaultEye() Eye {
	return Eye{
		Sphere:      r3.Vector{X: 1.5, Y: -1, Z: 40},
		PupilRadius: 2,
		Focal:       620,
		Width:       400,
		Height:      400,
	}
}

// PupilCircle returns the pupil for a gaze direction. gaze is normalized and
// should point towards the camera (negative Z).
func (e Eye) PupilCircle(gaze r3.Vector) geometry.Circle {
	g := gaze.Normalize()
	return geometry.Circle{
		Center: e.Sphere.Add(g.Mul(geometry.EyeRadiusDefault)),
		Normal: g,
		Radius: e.PupilRadius,
	}
}

// Ellipse is the optical-axis-centered image of the pupil.
func (e Eye) Ellipse(gaze r3.Vector) geometry.Ellipse {
	el, _ := geometry.ProjectCircle(e.PupilCircle(gaze), e.Focal)
	return el
}

// PixelEllipse is the pupil image as a 2D detector would report it.
func (e Eye) PixelEllipse(gaze r3.Vector) geometry.PixelEllipse {
	return e.Ellipse(gaze).ToPixels(float64(e.Width), float64(e.Height))
}

// Observation builds the observation for gaze at timestamp ts.
func (e Eye) Observation(gaze r3.Vector, confidence, ts float64) (*observation.Observation, error) {
	return observation.New(e.Ellipse(gaze), confidence, ts, e.Focal)
}

// Render draws a dark pupil on a bright background as an 8-bit grayscale
// frame. A nil gaze renders a blank frame with no edges at all.
func (e Eye) Render(gaze *r3.Vector) []uint8 {
	pix := make([]uint8, e.Width*e.Height)
	for i := range pix {
		pix[i] = 180
	}
	if gaze == nil {
		return pix
	}
	el := e.Ellipse(*gaze)
	cx, cy := float64(e.Width)/2, float64(e.Height)/2
	for y := range e.Height {
		for x := range e.Width {
			p := r2.Point{X: float64(x) - cx, Y: float64(y) - cy}
			if el.Contains(p) {
				pix[y*e.Width+x] = 20
			}
		}
	}
	return pix
}

// GazeCone returns n gaze directions evenly spaced on a cone of the given
// half angle (radians) around the camera-facing axis.
func GazeCone(n int, halfAngle float64) []r3.Vector {
	out := make([]r3.Vector, n)
	s, c := math.Sin(halfAngle), math.Cos(halfAngle)
	for i := range n {
		k := 2 * math.Pi * float64(i) / float64(n)
		out[i] = r3.Vector{X: s * math.Cos(k), Y: s * math.Sin(k), Z: -c}
	}
	return out
}
