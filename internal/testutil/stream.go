package testutil

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/eye3d/internal/geometry"
)

// Frame is one synthetic camera frame with its 2D pupil detection.
type Frame struct {
	Ellipse    geometry.PixelEllipse
	Confidence float64
	Timestamp  float64
	Gaze       r3.Vector
	// Pix is the rendered grayscale image, nil unless Stream.Render is set.
	Pix []uint8
}

// Stream walks an eye around a gaze cone at a fixed frame rate.
type Stream struct {
	Eye Eye
	FPS float64
	// HalfAngle is the cone half angle in radians; Period is the number
	// of frames per revolution.
	HalfAngle float64
	Period    int
	// Every LowConfidenceEvery-th frame (after the first revolution) reports
	// confidence 0.3, forcing the detector onto its fallback path. Zero
	// disables it.
	LowConfidenceEvery int
	Render             bool

	n int
}

// DefaultStream renders DefaultEye at 30 fps on a 20° cone.
func DefaultStream() *Stream {
	return &Stream{
		Eye:                DefaultEye(),
		FPS:                30,
		HalfAngle:          20 * math.Pi / 180,
		Period:             50,
		LowConfidenceEvery: 7,
		Render:             true,
	}
}

// Next returns the next frame.
func (s *Stream) Next() Frame {
	period := max(s.Period, 1)
	k := 2 * math.Pi * float64(s.n%period) / float64(period)
	sa, ca := math.Sin(s.HalfAngle), math.Cos(s.HalfAngle)
	gaze := r3.Vector{X: sa * math.Cos(k), Y: sa * math.Sin(k), Z: -ca}

	f := Frame{
		Ellipse:    s.Eye.PixelEllipse(gaze),
		Confidence: 1,
		Timestamp:  float64(s.n) / s.FPS,
		Gaze:       gaze,
	}
	if s.LowConfidenceEvery > 0 && s.n >= period && s.n%s.LowConfidenceEvery == 0 {
		f.Confidence = 0.3
	}
	if s.Render {
		f.Pix = s.Eye.Render(&gaze)
	}
	s.n++
	return f
}

// Count is the number of frames produced so far.
func (s *Stream) Count() int { return s.n }
