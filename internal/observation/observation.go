// Package observation turns single pupil-ellipse detections into the
// least-squares terms used for eyeball fitting, and stores them under
// bounded retention policies.
package observation

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/banshee-data/eye3d/internal/geometry"
)

// Observation is one unprojected pupil detection. Everything except
// Confidence is fixed at construction.
type Observation struct {
	Ellipse    geometry.Ellipse
	CirclePair geometry.CirclePair
	// Gaze2D is the image projection of the first solution's gaze line.
	Gaze2D geometry.Line2D
	// Dierkes holds, per solution, the line on which the eyeball center must
	// lie if that solution is the true pupil.
	Dierkes [2]geometry.Line

	// Aux2D is [I-vvᵀ | (I-vvᵀ)o] for the 2D gaze line.
	Aux2D [2][3]float64
	// Aux3D is [I-vvᵀ | (I-vvᵀ)o] for each Dierkes line.
	Aux3D [2][3][4]float64

	Confidence   float64
	Confidence2D float64
	Timestamp    float64
}

// New unprojects e with unit pupil radius and precomputes the fitting terms.
func New(e geometry.Ellipse, confidence, timestamp, focal float64) (*Observation, error) {
	pair, err := geometry.Unproject(e, focal, 1)
	if err != nil {
		return nil, fmt.Errorf("unproject observation at %.3fs: %w", timestamp, err)
	}

	o := &Observation{
		Ellipse:      e,
		CirclePair:   pair,
		Confidence:   confidence,
		Confidence2D: confidence,
		Timestamp:    timestamp,
	}
	o.Gaze2D = geometry.ProjectLine(geometry.Line{
		Origin:    pair[0].Center,
		Direction: pair[0].Normal,
	}, focal)
	o.Aux2D = aux2D(o.Gaze2D.Origin, o.Gaze2D.Direction)

	for i, c := range pair {
		o.Dierkes[i] = geometry.Line{
			Origin:    c.Center.Sub(c.Normal.Mul(geometry.EyeRadiusDefault)),
			Direction: c.Center.Normalize(),
		}
		o.Aux3D[i] = aux3D(o.Dierkes[i].Origin, o.Dierkes[i].Direction)
	}
	return o, nil
}

// Circularity is the minor/major ratio of the detected ellipse.
func (o *Observation) Circularity() float64 {
	return o.Ellipse.Circularity()
}

// Clone returns a copy that shares nothing mutable with o.
func (o *Observation) Clone() *Observation {
	c := *o
	return &c
}

func aux2D(origin, dir r2.Point) [2][3]float64 {
	v := dir.Normalize()
	p := [2][2]float64{
		{1 - v.X*v.X, -v.X * v.Y},
		{-v.Y * v.X, 1 - v.Y*v.Y},
	}
	o := [2]float64{origin.X, origin.Y}
	var out [2][3]float64
	for i := range 2 {
		out[i][0], out[i][1] = p[i][0], p[i][1]
		out[i][2] = p[i][0]*o[0] + p[i][1]*o[1]
	}
	return out
}

func aux3D(origin, dir r3.Vector) [3][4]float64 {
	v := dir.Normalize()
	vv := [3]float64{v.X, v.Y, v.Z}
	o := [3]float64{origin.X, origin.Y, origin.Z}
	var out [3][4]float64
	for i := range 3 {
		for j := range 3 {
			out[i][j] = -vv[i] * vv[j]
			if i == j {
				out[i][j]++
			}
			out[i][3] += out[i][j] * o[j]
		}
	}
	return out
}
