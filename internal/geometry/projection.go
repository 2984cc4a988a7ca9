package geometry

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// ProjectPoint maps a camera-frame point onto the image plane. Points with
// Z == 0 project to infinity.
func ProjectPoint(p r3.Vector, focal float64) r2.Point {
	return r2.Point{X: focal * p.X / p.Z, Y: focal * p.Y / p.Z}
}

// ProjectLine projects a 3D line to the image line through the projection of
// its origin, oriented along the image of the direction at that origin.
func ProjectLine(l Line, focal float64) Line2D {
	o, d := l.Origin, l.Direction
	z2 := o.Z * o.Z
	dir := r2.Point{
		X: focal * (d.X*o.Z - o.X*d.Z) / z2,
		Y: focal * (d.Y*o.Z - o.Y*d.Z) / z2,
	}
	return Line2D{
		Origin:    ProjectPoint(o, focal),
		Direction: dir.Normalize(),
	}
}

// ProjectCircle returns the image of a 3D circle. ok is false for the null
// circle, circles behind the camera, and circles seen edge-on.
func ProjectCircle(c Circle, focal float64) (Ellipse, bool) {
	if c.IsNull() || !(c.Center.Z > 0) || !(focal > 0) {
		return Ellipse{}, false
	}
	n := c.Normal.Normalize()
	p := c.Center
	d := n.Dot(p)
	k := p.Norm2() - c.Radius*c.Radius

	// Cone through the circle: Xᵀ M X = 0 with
	// M = d²·I − d·(p nᵀ + n pᵀ) + (|p|² − r²)·n nᵀ.
	pv := [3]float64{p.X, p.Y, p.Z}
	nv := [3]float64{n.X, n.Y, n.Z}
	var m [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = -d*(pv[i]*nv[j]+nv[i]*pv[j]) + k*nv[i]*nv[j]
			if i == j {
				m[i][j] += d * d
			}
		}
	}

	// Restrict to the image plane X = (x, y, f).
	q := Conic{
		A: m[0][0],
		B: 2 * m[0][1],
		C: m[1][1],
		D: 2 * focal * m[0][2],
		E: 2 * focal * m[1][2],
		F: focal * focal * m[2][2],
	}
	return q.Ellipse()
}

// ProjectSphere returns the weak-perspective image of a sphere: a circle of
// radius f·R/Z around the projected center.
func ProjectSphere(s Sphere, focal float64) (Ellipse, bool) {
	if !(s.Center.Z > 0) {
		return Ellipse{}, false
	}
	scale := focal / s.Center.Z
	return Ellipse{
		Center:      r2.Point{X: scale * s.Center.X, Y: scale * s.Center.Y},
		MinorRadius: scale * s.Radius,
		MajorRadius: scale * s.Radius,
	}, true
}
