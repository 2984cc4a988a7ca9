package geometry

import (
	"math"

	"github.com/golang/geo/r3"
)

// CartToSph converts a direction to (phi, theta). phi is measured in the x-z
// plane from +x toward +z; theta is the angle from +y. The zero vector
// yields NaN.
func CartToSph(v r3.Vector) (phi, theta float64) {
	r := v.Norm()
	phi = math.Atan2(v.Z, v.X)
	theta = math.Acos(v.Y / r)
	return phi, theta
}

// SphToCart is the inverse of CartToSph for unit length.
func SphToCart(phi, theta float64) r3.Vector {
	st := math.Sin(theta)
	return r3.Vector{
		X: st * math.Cos(phi),
		Y: math.Cos(theta),
		Z: st * math.Sin(phi),
	}
}
