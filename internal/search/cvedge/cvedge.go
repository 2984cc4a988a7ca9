//go:build gocv

package cvedge

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/eye3d/internal/monitoring"
	"github.com/banshee-data/eye3d/internal/search"
)

// Canny wraps gocv.Canny with an optional Gaussian pre-blur.
type Canny struct {
	Low, High float32
	// BlurSigma is the Gaussian sigma in pixels; zero disables blurring.
	BlurSigma float64
}

// Default mirrors the hysteresis thresholds used for pupil boundaries.
func Default() Canny {
	return Canny{Low: 50, High: 150, BlurSigma: 1}
}

var _ search.EdgeExtractor = Canny{}

func (c Canny) Edges(f search.Frame, roi image.Rectangle) []image.Point {
	roi = roi.Intersect(f.Bounds())
	if roi.Empty() || f.Validate() != nil {
		return nil
	}
	src, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8U, f.Pix)
	if err != nil {
		monitoring.Debugf("cvedge: %v", err)
		return nil
	}
	defer src.Close()

	region := src.Region(roi)
	defer region.Close()

	input := region
	if c.BlurSigma > 0 {
		blurred := gocv.NewMat()
		defer blurred.Close()
		gocv.GaussianBlur(region, &blurred, image.Point{}, c.BlurSigma, c.BlurSigma, gocv.BorderDefault)
		input = blurred
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(input, &edges, c.Low, c.High)

	var out []image.Point
	for y := 0; y < edges.Rows(); y++ {
		for x := 0; x < edges.Cols(); x++ {
			if edges.GetUCharAt(y, x) != 0 {
				out = append(out, image.Point{X: x + roi.Min.X, Y: y + roi.Min.Y})
			}
		}
	}
	return out
}
