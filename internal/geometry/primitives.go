package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// EyeRadiusDefault is the physiological eyeball radius (mm) shared by every
// model tier.
const EyeRadiusDefault = 10.392304845413264

// Ellipse is an image-plane ellipse in optical-axis-centered coordinates.
// Angle is the direction of the major axis in radians, measured from +x
// towards +y.
type Ellipse struct {
	Center      r2.Point
	MinorRadius float64
	MajorRadius float64
	Angle       float64
}

// IsDegenerate reports whether either half-axis is non-positive or NaN.
func (e Ellipse) IsDegenerate() bool {
	return !(e.MinorRadius > 0 && e.MajorRadius > 0)
}

// Circularity is the minor/major axis ratio, 0 for degenerate ellipses.
func (e Ellipse) Circularity() float64 {
	if e.IsDegenerate() {
		return 0
	}
	return e.MinorRadius / e.MajorRadius
}

// Circumference uses Ramanujan's second approximation.
func (e Ellipse) Circumference() float64 {
	a, b := e.MajorRadius, e.MinorRadius
	if a <= 0 && b <= 0 {
		return 0
	}
	h := (a - b) * (a - b) / ((a + b) * (a + b))
	return math.Pi * (a + b) * (1 + 3*h/(10+math.Sqrt(4-3*h)))
}

// Contains reports whether p lies inside the ellipse (boundary included).
func (e Ellipse) Contains(p r2.Point) bool {
	if e.IsDegenerate() {
		return false
	}
	d := p.Sub(e.Center)
	c, s := math.Cos(e.Angle), math.Sin(e.Angle)
	u := d.X*c + d.Y*s
	v := -d.X*s + d.Y*c
	return (u*u)/(e.MajorRadius*e.MajorRadius)+(v*v)/(e.MinorRadius*e.MinorRadius) <= 1
}

// Scaled returns the ellipse with both half-axes multiplied by factor.
func (e Ellipse) Scaled(factor float64) Ellipse {
	e.MinorRadius *= factor
	e.MajorRadius *= factor
	return e
}

// ToPixels converts to the detector's pixel convention: top-left origin,
// full axis lengths and degrees, with the -90° offset of the 2D detector
// undone.
func (e Ellipse) ToPixels(width, height float64) PixelEllipse {
	return PixelEllipse{
		Center: [2]float64{e.Center.X + width/2, e.Center.Y + height/2},
		Axes:   [2]float64{2 * e.MinorRadius, 2 * e.MajorRadius},
		Angle:  e.Angle*180/math.Pi + 90,
	}
}

// PixelEllipse is an ellipse in the 2D detector's convention: pixel center,
// full (minor, major) axis lengths and an angle in degrees.
type PixelEllipse struct {
	Center [2]float64 `json:"center"`
	Axes   [2]float64 `json:"axes"`
	Angle  float64    `json:"angle"`
}

// FromPixels is the exact inverse of Ellipse.ToPixels.
func FromPixels(p PixelEllipse, width, height float64) Ellipse {
	return Ellipse{
		Center:      r2.Point{X: p.Center[0] - width/2, Y: p.Center[1] - height/2},
		MinorRadius: p.Axes[0] / 2,
		MajorRadius: p.Axes[1] / 2,
		Angle:       (p.Angle - 90) * math.Pi / 180,
	}
}

// Circle is a 3D circle. The zero-radius circle is the null sentinel.
type Circle struct {
	Center r3.Vector
	Normal r3.Vector
	Radius float64
}

// NullCircle returns the "no valid circle" sentinel.
func NullCircle() Circle {
	return Circle{Normal: r3.Vector{Z: -1}}
}

// IsNull reports whether the circle carries no usable geometry.
func (c Circle) IsNull() bool {
	return !(c.Radius > 0)
}

// Spherical returns the normal's spherical angles and the radius.
func (c Circle) Spherical() (phi, theta, radius float64) {
	phi, theta = CartToSph(c.Normal)
	return phi, theta, c.Radius
}

// CirclePair holds the two geometrically ambiguous unprojection solutions.
type CirclePair [2]Circle

// Sphere is a 3D sphere; the eyeball uses EyeRadiusDefault.
type Sphere struct {
	Center r3.Vector
	Radius float64
}

// Line is a 3D line (or ray) with a direction that need not be unit length.
type Line struct {
	Origin    r3.Vector
	Direction r3.Vector
}

// Line2D is an image-plane line with a unit direction.
type Line2D struct {
	Origin    r2.Point
	Direction r2.Point
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
