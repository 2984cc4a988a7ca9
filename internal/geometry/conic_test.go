package geometry

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConic_EllipseRoundTrip(t *testing.T) {
	t.Parallel()
	for _, angle := range []float64{0, 0.3, -1.1, math.Pi / 2} {
		e := Ellipse{Center: r2.Point{X: 12, Y: -7}, MinorRadius: 4, MajorRadius: 9, Angle: angle}
		back, ok := ConicFromEllipse(e).Ellipse()
		require.True(t, ok)
		assert.InDelta(t, e.Center.X, back.Center.X, 1e-9)
		assert.InDelta(t, e.Center.Y, back.Center.Y, 1e-9)
		assert.InDelta(t, e.MinorRadius, back.MinorRadius, 1e-9)
		assert.InDelta(t, e.MajorRadius, back.MajorRadius, 1e-9)
		assert.InDelta(t, angleModPi(e.Angle), angleModPi(back.Angle), 1e-9)
	}
}

func TestConic_ScaleInvariant(t *testing.T) {
	t.Parallel()
	q := ConicFromEllipse(Ellipse{MinorRadius: 2, MajorRadius: 5, Angle: 0.4})
	neg := Conic{A: -3 * q.A, B: -3 * q.B, C: -3 * q.C, D: -3 * q.D, E: -3 * q.E, F: -3 * q.F}
	e, ok := neg.Ellipse()
	require.True(t, ok)
	assert.InDelta(t, 5.0, e.MajorRadius, 1e-9)
	assert.InDelta(t, 2.0, e.MinorRadius, 1e-9)
}

func TestConic_NotEllipse(t *testing.T) {
	t.Parallel()
	// Hyperbola x² - y² = 1.
	_, ok := Conic{A: 1, C: -1, F: -1}.Ellipse()
	assert.False(t, ok)
	// Imaginary ellipse x² + y² = -1.
	_, ok = Conic{A: 1, C: 1, F: 1}.Ellipse()
	assert.False(t, ok)
}

func TestEllipse_Helpers(t *testing.T) {
	t.Parallel()
	circle := Ellipse{MinorRadius: 3, MajorRadius: 3}
	assert.InDelta(t, 2*math.Pi*3, circle.Circumference(), 1e-9)
	assert.InDelta(t, 1.0, circle.Circularity(), 1e-12)
	assert.True(t, circle.Contains(r2.Point{X: 2.9}))
	assert.False(t, circle.Contains(r2.Point{X: 3.1}))
	assert.Zero(t, Ellipse{}.Circularity())

	e := Ellipse{Center: r2.Point{X: 1}, MinorRadius: 1, MajorRadius: 4, Angle: math.Pi / 2}
	assert.True(t, e.Contains(r2.Point{X: 1, Y: 3.5}))
	assert.False(t, e.Contains(r2.Point{X: 3, Y: 0}))
	assert.InDelta(t, 8.0, e.Scaled(2).MajorRadius, 1e-12)
}

func TestPixelEllipse_RoundTrip(t *testing.T) {
	t.Parallel()
	p := PixelEllipse{Center: [2]float64{200, 150}, Axes: [2]float64{40, 60}, Angle: 30}
	e := FromPixels(p, 400, 300)
	assert.InDelta(t, 0, e.Center.X, 1e-12)
	assert.InDelta(t, 0, e.Center.Y, 1e-12)
	assert.InDelta(t, 20.0, e.MinorRadius, 1e-12)
	assert.InDelta(t, -60*math.Pi/180, e.Angle, 1e-12)

	back := e.ToPixels(400, 300)
	assert.InDelta(t, p.Angle, back.Angle, 1e-9)
	assert.Equal(t, p.Axes, back.Axes)
	assert.Equal(t, p.Center, back.Center)
}
