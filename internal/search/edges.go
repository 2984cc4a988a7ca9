package search

import (
	"image"
	"math"
)

// EdgeExtractor finds edge pixels of f inside roi.
type EdgeExtractor interface {
	Edges(f Frame, roi image.Rectangle) []image.Point
}

// SobelExtractor is a thin-edge detector: 3x3 Sobel gradients, a magnitude
// threshold and non-maximum suppression along the gradient direction.
type SobelExtractor struct {
	// Threshold is the minimum Sobel magnitude (8-bit input, unnormalized).
	Threshold float64
}

// DefaultEdgeThreshold suits dark pupils on a bright iris.
const DefaultEdgeThreshold = 120

func (s SobelExtractor) Edges(f Frame, roi image.Rectangle) []image.Point {
	inner := image.Rect(1, 1, f.Width-1, f.Height-1)
	roi = roi.Intersect(inner)
	if roi.Empty() {
		return nil
	}
	// Magnitudes one pixel beyond roi feed the suppression step.
	pad := roi.Inset(-1).Intersect(inner)
	w := pad.Dx()
	mag := make([]float64, w*pad.Dy())
	gx := make([]float64, len(mag))
	gy := make([]float64, len(mag))
	for y := pad.Min.Y; y < pad.Max.Y; y++ {
		for x := pad.Min.X; x < pad.Max.X; x++ {
			p := func(dx, dy int) float64 { return float64(f.At(x+dx, y+dy)) }
			sx := p(1, -1) + 2*p(1, 0) + p(1, 1) - p(-1, -1) - 2*p(-1, 0) - p(-1, 1)
			sy := p(-1, 1) + 2*p(0, 1) + p(1, 1) - p(-1, -1) - 2*p(0, -1) - p(1, -1)
			i := (y-pad.Min.Y)*w + (x - pad.Min.X)
			gx[i], gy[i] = sx, sy
			mag[i] = math.Hypot(sx, sy)
		}
	}
	at := func(x, y int) float64 {
		if !(image.Point{X: x, Y: y}).In(pad) {
			return 0
		}
		return mag[(y-pad.Min.Y)*w+(x-pad.Min.X)]
	}

	var out []image.Point
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			i := (y-pad.Min.Y)*w + (x - pad.Min.X)
			m := mag[i]
			if m < s.Threshold {
				continue
			}
			dx, dy := gradientStep(gx[i], gy[i])
			// Ties go to the pixel on the negative side so a step edge
			// yields a single-pixel line.
			if m > at(x-dx, y-dy) && m >= at(x+dx, y+dy) {
				out = append(out, image.Point{X: x, Y: y})
			}
		}
	}
	return out
}

// gradientStep quantizes a gradient direction to one of the eight
// neighbours (up to sign).
func gradientStep(gx, gy float64) (int, int) {
	a := math.Atan2(gy, gx)
	if a < 0 {
		a += math.Pi
	}
	switch {
	case a < math.Pi/8 || a >= 7*math.Pi/8:
		return 1, 0
	case a < 3*math.Pi/8:
		return 1, 1
	case a < 5*math.Pi/8:
		return 0, 1
	default:
		return -1, 1
	}
}
