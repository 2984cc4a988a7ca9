// Package search recovers a pupil circle directly from image edges when the
// 2D detector is unsure. Candidate pupils are constrained to lie on the
// eyeball sphere and scored by how many edge rays meet their rim.
package search

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/geometry"
	"github.com/banshee-data/eye3d/internal/monitoring"
)

// Config tunes a Searcher.
type Config struct {
	// MajorAxisFactor scales the projected best guess into the search window.
	MajorAxisFactor float64
	// InlierTolerancePx is the rim distance, in pixels, within which an edge
	// counts as explained.
	InlierTolerancePx float64
	// MaxEvaluations bounds cost evaluations per optimization stage.
	MaxEvaluations int
	Extractor      EdgeExtractor
}

// DefaultConfig uses the pure-Go Sobel extractor.
func DefaultConfig() Config {
	return Config{
		MajorAxisFactor:   2.5,
		InlierTolerancePx: 1.5,
		MaxEvaluations:    600,
		Extractor:         SobelExtractor{Threshold: DefaultEdgeThreshold},
	}
}

// Result is the outcome of one search. A failed search has a null circle
// and zero confidence.
type Result struct {
	Circle     geometry.Circle
	Confidence float64
	// Edges counts edge pixels whose rays hit the eyeball.
	Edges int
	// Inliers counts edges explained by Circle.
	Inliers int
}

func noResult() Result { return Result{Circle: geometry.NullCircle()} }

// Searcher runs surface searches for one camera.
type Searcher struct {
	cfg Config
	cam camera.Model
}

func New(cfg Config, cam camera.Model) *Searcher {
	if cfg.Extractor == nil {
		cfg.Extractor = SobelExtractor{Threshold: DefaultEdgeThreshold}
	}
	if cfg.MaxEvaluations <= 0 {
		cfg.MaxEvaluations = 600
	}
	return &Searcher{cfg: cfg, cam: cam}
}

// Window returns the elliptical search window around guess in centered
// image coordinates.
func (s *Searcher) Window(guess geometry.Circle) (geometry.Ellipse, bool) {
	if guess.IsNull() {
		return geometry.Ellipse{}, false
	}
	e, ok := geometry.ProjectCircle(guess, s.cam.FocalLength)
	if !ok {
		return geometry.Ellipse{}, false
	}
	return e.Scaled(s.cfg.MajorAxisFactor), true
}

// ROI is the pixel bounding box of window, clipped to the frame.
func (s *Searcher) ROI(window geometry.Ellipse) image.Rectangle {
	a, b := window.MajorRadius, window.MinorRadius
	c, sn := math.Cos(window.Angle), math.Sin(window.Angle)
	hx := math.Sqrt(a*a*c*c + b*b*sn*sn)
	hy := math.Sqrt(a*a*sn*sn + b*b*c*c)
	cx := window.Center.X + s.cam.Width()/2
	cy := window.Center.Y + s.cam.Height()/2
	r := image.Rect(
		int(math.Floor(cx-hx)), int(math.Floor(cy-hy)),
		int(math.Ceil(cx+hx))+1, int(math.Ceil(cy+hy))+1,
	)
	return r.Intersect(image.Rect(0, 0, s.cam.Resolution[0], s.cam.Resolution[1]))
}

// Search looks for the pupil on the sphere around sphereCenter, starting
// from guess.
func (s *Searcher) Search(frame Frame, guess geometry.Circle, sphereCenter r3.Vector) Result {
	window, ok := s.Window(guess)
	if !ok {
		return noResult()
	}
	if err := frame.Validate(); err != nil {
		monitoring.Debugf("search: %v", err)
		return noResult()
	}
	roi := s.ROI(window).Intersect(frame.Bounds())
	if roi.Empty() {
		return noResult()
	}

	sphere := geometry.Sphere{Center: sphereCenter, Radius: geometry.EyeRadiusDefault}
	rays := s.edgeRays(frame, roi, window, sphere)
	if len(rays) == 0 {
		return noResult()
	}

	phi, theta := geometry.CartToSph(guess.Normal)
	x := []float64{phi, theta, guess.Radius}

	// Coarse pass: a generous truncation lets distant edges pull the
	// candidate in; the fine pass then locks onto the rim.
	tol := s.cfg.InlierTolerancePx
	for _, truncPx := range []float64{window.MajorRadius, 3 * tol} {
		x = s.minimize(x, rays, sphereCenter, truncPx)
	}

	gaze := geometry.SphToCart(x[0], x[1])
	radius := x[2]
	if !(radius > 0) || !geometry.IsFinite(gaze) {
		return Result{Circle: geometry.NullCircle(), Edges: len(rays)}
	}
	circle := geometry.Circle{
		Center: sphereCenter.Add(gaze.Mul(geometry.EyeRadiusDefault)),
		Normal: gaze,
		Radius: radius,
	}
	inliers := countInliers(rays, circle, s.pxTo3D(tol, circle.Center))

	res := Result{Circle: circle, Edges: len(rays), Inliers: inliers}
	if e, ok := geometry.ProjectCircle(circle, s.cam.FocalLength); ok {
		if circ := e.Circumference(); circ > 0 {
			res.Confidence = math.Min(math.Max(float64(inliers)/circ, 0), 1)
		}
	}
	return res
}

// edgeRays returns unit camera rays through edge pixels that lie inside
// window and hit the eyeball. Pixel (x, y) sits at (x - w/2, y - h/2) in
// centered coordinates, as in geometry.FromPixels.
func (s *Searcher) edgeRays(frame Frame, roi image.Rectangle, window geometry.Ellipse, sphere geometry.Sphere) []r3.Vector {
	hw, hh := s.cam.Width()/2, s.cam.Height()/2
	var rays []r3.Vector
	for _, p := range s.cfg.Extractor.Edges(frame, roi) {
		c := r2.Point{X: float64(p.X) - hw, Y: float64(p.Y) - hh}
		if !window.Contains(c) {
			continue
		}
		ray := r3.Vector{X: c.X, Y: c.Y, Z: s.cam.FocalLength}.Normalize()
		if _, hit := geometry.IntersectSphere(ray, sphere); hit {
			rays = append(rays, ray)
		}
	}
	return rays
}

func (s *Searcher) pxTo3D(px float64, at r3.Vector) float64 {
	return px * at.Z / s.cam.FocalLength
}

// rimDistance is how far the ray's hit on the pupil plane lies from the rim.
func rimDistance(ray r3.Vector, c geometry.Circle) (float64, bool) {
	q, ok := geometry.IntersectPlane(ray, c.Center, c.Normal)
	if !ok {
		return 0, false
	}
	return math.Abs(q.Sub(c.Center).Norm() - c.Radius), true
}

func countInliers(rays []r3.Vector, c geometry.Circle, tol float64) int {
	n := 0
	for _, ray := range rays {
		if d, ok := rimDistance(ray, c); ok && d <= tol {
			n++
		}
	}
	return n
}

// minimize runs one Nelder-Mead stage over (phi, theta, radius) with a cost
// truncated at truncPx pixels.
func (s *Searcher) minimize(x0 []float64, rays []r3.Vector, sphereCenter r3.Vector, truncPx float64) []float64 {
	cost := func(x []float64) float64 {
		gaze := geometry.SphToCart(x[0], x[1])
		c := geometry.Circle{
			Center: sphereCenter.Add(gaze.Mul(geometry.EyeRadiusDefault)),
			Normal: gaze,
			Radius: x[2],
		}
		if !(c.Radius > 0) || !(c.Center.Z > 0) {
			return math.Inf(1)
		}
		trunc := s.pxTo3D(truncPx, c.Center)
		cap2 := trunc * trunc
		var sum float64
		for _, ray := range rays {
			d, ok := rimDistance(ray, c)
			if !ok || d*d > cap2 {
				sum += cap2
				continue
			}
			sum += d * d
		}
		return sum / cap2
	}

	problem := optimize.Problem{Func: cost}
	settings := &optimize.Settings{
		FuncEvaluations: s.cfg.MaxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 60,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{SimplexSize: 0.05})
	if result == nil {
		monitoring.Debugf("search: optimize: %v", err)
		return x0
	}
	if math.IsInf(result.F, 1) || math.IsNaN(result.F) {
		return x0
	}
	return result.X
}
