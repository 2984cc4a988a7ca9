package detector

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/eyemodel"
	"github.com/banshee-data/eye3d/internal/geometry"
	"github.com/banshee-data/eye3d/internal/observation"
)

// Datum is one 2D pupil detection in the 2D detector's pixel convention.
type Datum struct {
	Ellipse    geometry.PixelEllipse `json:"ellipse"`
	Confidence float64               `json:"confidence"`
	Timestamp  float64               `json:"timestamp"`
}

// ObservationFromDatum moves d into optical-axis-centered coordinates and
// unprojects it.
func ObservationFromDatum(d Datum, cam camera.Model) (*observation.Observation, error) {
	e := geometry.FromPixels(d.Ellipse, cam.Width(), cam.Height())
	o, err := observation.New(e, d.Confidence, d.Timestamp, cam.FocalLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidObservation, err)
	}
	return o, nil
}

// SphereResult is the eyeball in camera coordinates (mm).
type SphereResult struct {
	Center [3]float64 `json:"center"`
	Radius float64    `json:"radius"`
}

// CircleResult is the 3D pupil.
type CircleResult struct {
	Center [3]float64 `json:"center"`
	Normal [3]float64 `json:"normal"`
	Radius float64    `json:"radius"`
}

func circleResult(c geometry.Circle) CircleResult {
	return CircleResult{Center: vec(c.Center), Normal: vec(c.Normal), Radius: c.Radius}
}

func vec(v r3.Vector) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// Result is the per-frame output. Every field is a copy; nothing aliases
// detector state.
type Result struct {
	Timestamp       float64               `json:"timestamp"`
	Sphere          SphereResult          `json:"sphere"`
	ProjectedSphere geometry.PixelEllipse `json:"projected_sphere"`
	Circle3D        CircleResult          `json:"circle_3d"`
	Diameter3D      float64               `json:"diameter_3d"`
	Ellipse         geometry.PixelEllipse `json:"ellipse"`
	Diameter        float64               `json:"diameter"`
	Location        [2]float64            `json:"location"`
	Confidence      float64               `json:"confidence"`
	Confidence2D    float64               `json:"confidence_2d"`
	ModelConfidence float64               `json:"model_confidence"`
	Theta           float64               `json:"theta"`
	Phi             float64               `json:"phi"`
	Debug           *Debug                `json:"debug_info,omitempty"`
}

// Gaze returns the pupil normal.
func (r Result) Gaze() r3.Vector {
	n := r.Circle3D.Normal
	return r3.Vector{X: n[0], Y: n[1], Z: n[2]}
}

// Debug is the optional per-frame model snapshot.
type Debug struct {
	ProjectedShortTerm     geometry.PixelEllipse `json:"projected_short_term"`
	ProjectedLongTerm      geometry.PixelEllipse `json:"projected_long_term"`
	ProjectedUltraLongTerm geometry.PixelEllipse `json:"projected_ultra_long_term"`
	// BinData is the long-term bin occupancy normalized to the fullest bin,
	// one row of horizontal bins.
	BinData      [][]float64     `json:"bin_data"`
	DierkesLines []geometry.Line `json:"Dierkes_lines"`

	ShortTerm     eyemodel.DebugInfo `json:"short_term"`
	LongTerm      eyemodel.DebugInfo `json:"long_term"`
	UltraLongTerm eyemodel.DebugInfo `json:"ultra_long_term"`
}

// normalizeBins turns a row of counts into the debug grid. Bins are only
// horizontal, so the grid is a single row scaled by its peak.
func normalizeBins(counts []int) [][]float64 {
	if len(counts) == 0 {
		return [][]float64{}
	}
	peak := 0
	for _, c := range counts {
		peak = max(peak, c)
	}
	row := make([]float64, len(counts))
	for i, c := range counts {
		row[i] = float64(c)
		if peak > 0 {
			row[i] /= float64(peak)
		}
	}
	return [][]float64{row}
}

// projectSpherePixels returns the image of an eyeball at center, or the
// zero ellipse when it cannot be projected.
func projectSpherePixels(center r3.Vector, cam camera.Model) geometry.PixelEllipse {
	e, ok := geometry.ProjectSphere(geometry.Sphere{Center: center, Radius: geometry.EyeRadiusDefault}, cam.FocalLength)
	if !ok {
		return geometry.PixelEllipse{}
	}
	return e.ToPixels(cam.Width(), cam.Height())
}

func projectCirclePixels(c geometry.Circle, cam camera.Model) geometry.PixelEllipse {
	e, ok := geometry.ProjectCircle(c, cam.FocalLength)
	if !ok {
		return geometry.PixelEllipse{}
	}
	return e.ToPixels(cam.Width(), cam.Height())
}
