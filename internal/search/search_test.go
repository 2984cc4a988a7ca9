package search

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/geometry"
	"github.com/banshee-data/eye3d/internal/testutil"
)

func eyeCamera(e testutil.Eye) camera.Model {
	return camera.Model{FocalLength: e.Focal, Resolution: [2]int{e.Width, e.Height}}
}

func eyeFrame(e testutil.Eye, gaze *r3.Vector) Frame {
	return Frame{Width: e.Width, Height: e.Height, Pix: e.Render(gaze)}
}

func TestSearch_RecoversPupilFromOffsetGuess(t *testing.T) {
	t.Parallel()
	eye := testutil.DefaultEye()
	truth := r3.Vector{X: 0.15, Y: -0.1, Z: -1}.Normalize()
	frame := eyeFrame(eye, &truth)
	s := New(DefaultConfig(), eyeCamera(eye))

	offsets := []r3.Vector{{}, {X: 0.04}, {Y: -0.05}}
	for _, off := range offsets {
		g := truth.Add(off).Normalize()
		guess := geometry.Circle{
			Center: eye.Sphere.Add(g.Mul(geometry.EyeRadiusDefault)),
			Normal: g,
			Radius: 1.7,
		}
		res := s.Search(frame, guess, eye.Sphere)
		require.False(t, res.Circle.IsNull())
		angle := math.Acos(math.Min(1, res.Circle.Normal.Dot(truth)))
		assert.Less(t, angle, 1*math.Pi/180, "offset %v", off)
		assert.InDelta(t, eye.PupilRadius, res.Circle.Radius, 0.1)
		assert.Greater(t, res.Confidence, 0.5)
		assert.LessOrEqual(t, res.Confidence, 1.0)
		assert.Greater(t, res.Inliers, res.Edges/2)
	}
}

func TestSearch_NullGuess(t *testing.T) {
	t.Parallel()
	eye := testutil.DefaultEye()
	g := r3.Vector{Z: -1}
	s := New(DefaultConfig(), eyeCamera(eye))
	res := s.Search(eyeFrame(eye, &g), geometry.NullCircle(), eye.Sphere)
	assert.True(t, res.Circle.IsNull())
	assert.Zero(t, res.Confidence)
}

func TestSearch_NoEdges(t *testing.T) {
	t.Parallel()
	eye := testutil.DefaultEye()
	s := New(DefaultConfig(), eyeCamera(eye))
	guess := eye.PupilCircle(r3.Vector{Z: -1})
	res := s.Search(eyeFrame(eye, nil), guess, eye.Sphere)
	assert.True(t, res.Circle.IsNull())
	assert.Zero(t, res.Confidence)
	assert.Zero(t, res.Edges)
}

func TestSearch_BadFrame(t *testing.T) {
	t.Parallel()
	eye := testutil.DefaultEye()
	s := New(DefaultConfig(), eyeCamera(eye))
	res := s.Search(Frame{Width: 10, Height: 10}, eye.PupilCircle(r3.Vector{Z: -1}), eye.Sphere)
	assert.True(t, res.Circle.IsNull())
}

func TestSearcher_ROIClipped(t *testing.T) {
	t.Parallel()
	cam := camera.Model{FocalLength: 620, Resolution: [2]int{400, 300}}
	s := New(DefaultConfig(), cam)
	roi := s.ROI(geometry.Ellipse{MinorRadius: 10, MajorRadius: 20})
	assert.Equal(t, image.Rect(180, 140, 221, 161), roi)

	roi = s.ROI(geometry.Ellipse{MinorRadius: 500, MajorRadius: 500})
	assert.Equal(t, image.Rect(0, 0, 400, 300), roi)
}

func TestSobelExtractor_StepEdgeIsThin(t *testing.T) {
	t.Parallel()
	f := Frame{Width: 20, Height: 10, Pix: make([]uint8, 200)}
	for y := range 10 {
		for x := 10; x < 20; x++ {
			f.Pix[y*20+x] = 200
		}
	}
	edges := SobelExtractor{Threshold: 100}.Edges(f, f.Bounds())
	require.NotEmpty(t, edges)
	for _, p := range edges {
		assert.Equal(t, 9, p.X)
	}
	// Border rows have no full neighbourhood.
	assert.Len(t, edges, 8)
}

func TestFrame_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Frame{Width: 2, Height: 2, Pix: make([]uint8, 4)}.Validate())
	assert.ErrorIs(t, Frame{Width: 2, Height: 2, Pix: make([]uint8, 3)}.Validate(), ErrBadFrame)
	g := Frame{Width: 2, Height: 1, Pix: []uint8{1, 2}}.Gray()
	assert.Equal(t, uint8(2), g.GrayAt(1, 0).Y)
}

type fixedEdges []image.Point

func (e fixedEdges) Edges(Frame, image.Rectangle) []image.Point { return e }

func TestSearcher_EdgeRaysUsePixelConvention(t *testing.T) {
	t.Parallel()
	eye := testutil.DefaultEye()
	cfg := DefaultConfig()
	// (223, 185) is centered (23, -15), next to the projected sphere center.
	cfg.Extractor = fixedEdges{{X: 223, Y: 185}}
	s := New(cfg, eyeCamera(eye))

	window := geometry.Ellipse{MinorRadius: 100, MajorRadius: 100}
	sphere := geometry.Sphere{Center: eye.Sphere, Radius: geometry.EyeRadiusDefault}
	rays := s.edgeRays(Frame{}, image.Rect(0, 0, eye.Width, eye.Height), window, sphere)
	require.Len(t, rays, 1)

	want := r3.Vector{X: 23, Y: -15, Z: eye.Focal}.Normalize()
	assert.InDelta(t, 0, rays[0].Sub(want).Norm(), 1e-12)

	// The ray reprojects onto the same pixel under geometry.ToPixels.
	e := geometry.Ellipse{Center: geometry.ProjectPoint(rays[0], eye.Focal), MinorRadius: 1, MajorRadius: 1}
	p := e.ToPixels(float64(eye.Width), float64(eye.Height))
	assert.InDelta(t, 223, p.Center[0], 1e-9)
	assert.InDelta(t, 185, p.Center[1], 1e-9)
}
