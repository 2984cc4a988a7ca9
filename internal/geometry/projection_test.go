package geometry

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFocal = 620.0

func angleModPi(a float64) float64 {
	a = math.Mod(a, math.Pi)
	if a < 0 {
		a += math.Pi
	}
	return a
}

func TestProjectPoint(t *testing.T) {
	t.Parallel()
	p := ProjectPoint(r3.Vector{X: 2, Y: -1, Z: 40}, 400)
	assert.InDelta(t, 20.0, p.X, 1e-12)
	assert.InDelta(t, -10.0, p.Y, 1e-12)
}

func TestProjectSphere(t *testing.T) {
	t.Parallel()
	e, ok := ProjectSphere(Sphere{Center: r3.Vector{X: 3.5, Y: 0, Z: 35}, Radius: 10}, 700)
	require.True(t, ok)
	assert.InDelta(t, 70.0, e.Center.X, 1e-9)
	assert.InDelta(t, 200.0, e.MajorRadius, 1e-9)
	assert.InDelta(t, 200.0, e.MinorRadius, 1e-9)
	assert.Zero(t, e.Angle)

	_, ok = ProjectSphere(Sphere{Center: r3.Vector{Z: -1}, Radius: 1}, 700)
	assert.False(t, ok)
}

func TestProjectCircle_FrontalIsCircle(t *testing.T) {
	t.Parallel()
	c := Circle{Center: r3.Vector{Z: 50}, Normal: r3.Vector{Z: -1}, Radius: 2}
	e, ok := ProjectCircle(c, testFocal)
	require.True(t, ok)
	assert.InDelta(t, 0, e.Center.X, 1e-9)
	assert.InDelta(t, 0, e.Center.Y, 1e-9)
	assert.InDelta(t, testFocal*2/50, e.MajorRadius, 1e-9)
	assert.InDelta(t, testFocal*2/50, e.MinorRadius, 1e-9)
}

func TestProjectCircle_Rejects(t *testing.T) {
	t.Parallel()
	_, ok := ProjectCircle(NullCircle(), testFocal)
	assert.False(t, ok)

	_, ok = ProjectCircle(Circle{Center: r3.Vector{Z: -5}, Normal: r3.Vector{Z: -1}, Radius: 1}, testFocal)
	assert.False(t, ok)
}

func TestProjectCircle_TiltedForeshortens(t *testing.T) {
	t.Parallel()
	// Tilting about the y axis shortens the x extent.
	n := r3.Vector{X: 0.5, Z: -1}.Normalize()
	e, ok := ProjectCircle(Circle{Center: r3.Vector{Z: 50}, Normal: n, Radius: 2}, testFocal)
	require.True(t, ok)
	assert.Less(t, e.MinorRadius, e.MajorRadius)
	assert.InDelta(t, math.Pi/2, angleModPi(e.Angle), 1e-6)
}

func TestUnproject_RoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		center r3.Vector
		normal r3.Vector
	}{
		{"offset", r3.Vector{X: 3, Y: -2, Z: 40}, r3.Vector{X: 0.3, Y: 0.2, Z: -1}},
		{"on axis", r3.Vector{Z: 50}, r3.Vector{X: 0.5, Z: -1}},
		{"lower left", r3.Vector{X: -5, Y: 4, Z: 30}, r3.Vector{X: -0.2, Y: -0.6, Z: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			truth := Circle{Center: tc.center, Normal: tc.normal.Normalize(), Radius: 2}
			e, ok := ProjectCircle(truth, testFocal)
			require.True(t, ok)

			pair, err := Unproject(e, testFocal, 2)
			require.NoError(t, err)

			best := math.Inf(1)
			var match Circle
			for _, c := range pair {
				assert.Greater(t, c.Center.Z, 0.0)
				assert.Less(t, c.Normal.Dot(c.Center), 0.0, "normal faces the camera")
				assert.InDelta(t, 1.0, c.Normal.Norm(), 1e-9)
				if d := c.Center.Sub(truth.Center).Norm(); d < best {
					best, match = d, c
				}
			}
			assert.Less(t, best, 1e-6)
			assert.InDelta(t, 1.0, match.Normal.Dot(truth.Normal), 1e-6)

			// Both solutions reproject onto the same ellipse.
			for _, c := range pair {
				back, ok := ProjectCircle(c, testFocal)
				require.True(t, ok)
				assert.InDelta(t, e.Center.X, back.Center.X, 1e-6)
				assert.InDelta(t, e.Center.Y, back.Center.Y, 1e-6)
				assert.InDelta(t, e.MajorRadius, back.MajorRadius, 1e-6)
				assert.InDelta(t, e.MinorRadius, back.MinorRadius, 1e-6)
			}
		})
	}
}

func TestUnproject_Degenerate(t *testing.T) {
	t.Parallel()
	_, err := Unproject(Ellipse{MajorRadius: 10}, testFocal, 2)
	assert.ErrorIs(t, err, ErrDegenerateEllipse)

	_, err = Unproject(Ellipse{MajorRadius: math.NaN(), MinorRadius: 3}, testFocal, 2)
	assert.ErrorIs(t, err, ErrDegenerateEllipse)

	_, err = Unproject(Ellipse{MajorRadius: 3, MinorRadius: 3}, 0, 2)
	assert.ErrorIs(t, err, ErrDegenerateEllipse)
}

func TestProjectLine_PointsAlongImageOfDirection(t *testing.T) {
	t.Parallel()
	l := Line{Origin: r3.Vector{X: 1, Y: 1, Z: 40}, Direction: r3.Vector{X: 1}}
	p := ProjectLine(l, testFocal)
	assert.InDelta(t, testFocal/40, p.Origin.X, 1e-9)
	assert.InDelta(t, 1.0, p.Direction.Norm(), 1e-12)
	assert.Greater(t, p.Direction.X, 0.99)

	// A second point along the line projects onto the projected line.
	q := ProjectPoint(l.Origin.Add(l.Direction.Mul(0.5)), testFocal)
	d := q.Sub(p.Origin)
	assert.InDelta(t, 0, d.Cross(p.Direction), 1e-9)
}

func TestDisambiguate(t *testing.T) {
	t.Parallel()
	sphere := r3.Vector{Z: 40}
	gaze := r3.Vector{X: 0.4, Z: -1}.Normalize()
	truth := Circle{Center: sphere.Add(gaze.Mul(EyeRadiusDefault)), Normal: gaze, Radius: 2}
	e, ok := ProjectCircle(truth, testFocal)
	require.True(t, ok)
	pair, err := Unproject(e, testFocal, 2)
	require.NoError(t, err)

	got := pair[Disambiguate(pair, ProjectPoint(sphere, testFocal), testFocal)]
	assert.InDelta(t, 1.0, got.Normal.Dot(gaze), 1e-6)

	assert.Equal(t, 0, DisambiguateLine(Line2D{Origin: r2.Point{X: 5}, Direction: r2.Point{X: 1}}, r2.Point{}))
	assert.Equal(t, 1, DisambiguateLine(Line2D{Origin: r2.Point{X: 5}, Direction: r2.Point{X: -1}}, r2.Point{}))
}
