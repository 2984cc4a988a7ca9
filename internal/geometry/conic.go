package geometry

import (
	"math"

	"github.com/golang/geo/r2"
)

// Conic holds the implicit form A·x² + B·xy + C·y² + D·x + E·y + F = 0.
type Conic struct {
	A, B, C, D, E, F float64
}

// ConicFromEllipse returns the implicit form of e, scaled so that the
// interior is negative.
func ConicFromEllipse(e Ellipse) Conic {
	c, s := math.Cos(e.Angle), math.Sin(e.Angle)
	a2 := e.MajorRadius * e.MajorRadius
	b2 := e.MinorRadius * e.MinorRadius
	h, k := e.Center.X, e.Center.Y

	A := c*c/a2 + s*s/b2
	B := 2 * c * s * (1/a2 - 1/b2)
	C := s*s/a2 + c*c/b2
	return Conic{
		A: A,
		B: B,
		C: C,
		D: -2*A*h - B*k,
		E: -B*h - 2*C*k,
		F: A*h*h + B*h*k + C*k*k - 1,
	}
}

// Ellipse recovers center, half-axes and major-axis angle. ok is false when
// the conic is not a real, non-degenerate ellipse.
func (q Conic) Ellipse() (Ellipse, bool) {
	det := 4*q.A*q.C - q.B*q.B
	if !(det > 0) {
		return Ellipse{}, false
	}
	h := (q.B*q.E - 2*q.C*q.D) / det
	k := (q.B*q.D - 2*q.A*q.E) / det
	fc := q.F + (q.D*h+q.E*k)/2

	A, B, C := q.A, q.B, q.C
	if fc > 0 {
		A, B, C, fc = -A, -B, -C, -fc
	}
	if !(fc < 0) || A <= 0 {
		return Ellipse{}, false
	}

	mean := (A + C) / 2
	r := math.Hypot((A-C)/2, B/2)
	lmin, lmax := mean-r, mean+r
	if !(lmin > 0) {
		return Ellipse{}, false
	}

	// Eigenvector of the smaller eigenvalue is the major axis.
	v1 := r2.Point{X: B / 2, Y: lmin - A}
	v2 := r2.Point{X: lmin - C, Y: B / 2}
	v := v1
	if v2.Norm() > v1.Norm() {
		v = v2
	}
	angle := 0.0
	if v.Norm() > 1e-12*math.Max(1, math.Abs(mean)) {
		angle = normalizeAxisAngle(math.Atan2(v.Y, v.X))
	}

	return Ellipse{
		Center:      r2.Point{X: h, Y: k},
		MinorRadius: math.Sqrt(-fc / lmax),
		MajorRadius: math.Sqrt(-fc / lmin),
		Angle:       angle,
	}, true
}

// normalizeAxisAngle folds an axis direction into (-π/2, π/2].
func normalizeAxisAngle(a float64) float64 {
	for a > math.Pi/2 {
		a -= math.Pi
	}
	for a <= -math.Pi/2 {
		a += math.Pi
	}
	return a
}
