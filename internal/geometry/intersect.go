package geometry

import (
	"math"

	"github.com/golang/geo/r3"
)

// NearestPointOnSphere returns the first point where the line through the
// camera origin and direction dir enters the sphere. When the line misses,
// the sphere point closest to the line is returned instead.
func NearestPointOnSphere(dir r3.Vector, s Sphere) r3.Vector {
	d := dir.Normalize()
	b := -2 * d.Dot(s.Center)
	c := s.Center.Norm2() - s.Radius*s.Radius
	disc := b*b - 4*c
	if disc >= 0 {
		t := (-b - math.Sqrt(disc)) / 2
		return d.Mul(t)
	}
	closest := d.Mul(d.Dot(s.Center))
	return s.Center.Add(closest.Sub(s.Center).Normalize().Mul(s.Radius))
}

// IntersectSphere returns the entry distance along the unit ray from the
// camera origin, or false when the ray misses or the sphere is behind it.
func IntersectSphere(dir r3.Vector, s Sphere) (float64, bool) {
	d := dir.Normalize()
	b := d.Dot(s.Center)
	disc := b*b - (s.Center.Norm2() - s.Radius*s.Radius)
	if disc < 0 {
		return 0, false
	}
	t := b - math.Sqrt(disc)
	if t <= 0 {
		return 0, false
	}
	return t, true
}

// IntersectPlane returns the point where the ray from the camera origin
// along dir meets the plane through p with normal n.
func IntersectPlane(dir, p, n r3.Vector) (r3.Vector, bool) {
	den := dir.Dot(n)
	if math.Abs(den) < 1e-12 {
		return r3.Vector{}, false
	}
	t := p.Dot(n) / den
	if !(t > 0) {
		return r3.Vector{}, false
	}
	return dir.Mul(t), true
}
