package eyemodel

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/eye3d/internal/geometry"
	"github.com/banshee-data/eye3d/internal/observation"
	"github.com/banshee-data/eye3d/internal/refraction"
)

var (
	// ErrFitFailed reports a singular or non-finite least-squares solve.
	ErrFitFailed = errors.New("eyemodel: sphere fit failed")
	// ErrNoObservations is returned when a fit is requested on an empty
	// storage.
	ErrNoObservations = errors.New("eyemodel: no observations")
)

// InitialSphereCenter is where every model starts: on the optical axis,
// 35 mm from the camera.
var InitialSphereCenter = r3.Vector{Z: 35}

// Estimate is one fitted sphere center together with the 2D center used to
// disambiguate the observations that produced it.
type Estimate struct {
	Projected    r2.Point
	SphereCenter r3.Vector
	// CorrectedSphereCenter is SphereCenter after refraction correction.
	CorrectedSphereCenter r3.Vector
}

// FitOptions steer EstimateSphereCenter.
type FitOptions struct {
	// From2D, when set, replaces the 2D center estimated from the
	// observations' projected gaze lines.
	From2D *r2.Point
	// Prior pulls the solution towards a 3D point with weight PriorStrength.
	Prior         *r3.Vector
	PriorStrength float64
	// ResidualCutoff drops observations older than the largest jump in the
	// previous fit's residuals when that fit's mean residual exceeds
	// ResidualCutoffCost.
	ResidualCutoff bool
}

// ResidualCutoffCost is the mean squared residual above which
// FitOptions.ResidualCutoff takes effect.
const ResidualCutoffCost = 2.0

const residualMedianWindow = 50

// DebugInfo describes the residuals of the previous fit, evaluated just
// before the current one.
type DebugInfo struct {
	Cost      float64   `json:"cost"`
	Residuals []float64 `json:"residuals,omitempty"`
	// Cutoff is the timestamp before which observations were ignored, or 0.
	Cutoff float64 `json:"cutoff,omitempty"`
}

// Config holds what a Model needs besides its storage.
type Config struct {
	FocalLength float64
	Corrector   refraction.Corrector
}

// Model is one tier of the eye model.
type Model struct {
	focal     float64
	corrector refraction.Corrector
	storage   observation.Storage

	est   Estimate
	debug DebugInfo

	prevCenter         *r3.Vector
	prevDisambiguation map[*observation.Observation]int
}

// New returns a model that owns storage.
func New(cfg Config, storage observation.Storage) *Model {
	if cfg.Corrector == nil {
		cfg.Corrector = refraction.Identity{}
	}
	m := &Model{focal: cfg.FocalLength, corrector: cfg.Corrector, storage: storage}
	m.Reset()
	return m
}

// Add forwards o to the storage, which may reject it. Disambiguation
// choices of observations the storage has since evicted are dropped.
func (m *Model) Add(o *observation.Observation) bool {
	if !m.storage.Add(o) {
		return false
	}
	m.pruneDisambiguation()
	return true
}

func (m *Model) pruneDisambiguation() {
	if len(m.prevDisambiguation) == 0 {
		return
	}
	retained := make(map[*observation.Observation]struct{}, m.storage.Count())
	for o := range m.storage.All() {
		retained[o] = struct{}{}
	}
	maps.DeleteFunc(m.prevDisambiguation, func(o *observation.Observation, _ int) bool {
		_, ok := retained[o]
		return !ok
	})
}

// Count returns the number of retained observations.
func (m *Model) Count() int { return m.storage.Count() }

// Storage exposes the owned storage for diagnostics.
func (m *Model) Storage() observation.Storage { return m.storage }

func (m *Model) SphereCenter() r3.Vector          { return m.est.SphereCenter }
func (m *Model) CorrectedSphereCenter() r3.Vector { return m.est.CorrectedSphereCenter }
func (m *Model) ProjectedSphereCenter() r2.Point  { return m.est.Projected }
func (m *Model) Estimate() Estimate               { return m.est }

// DebugInfo returns a copy of the latest residual diagnostics.
func (m *Model) DebugInfo() DebugInfo {
	d := m.debug
	d.Residuals = slices.Clone(d.Residuals)
	return d
}

// Reset empties the storage and returns to the initial sphere center.
func (m *Model) Reset() {
	m.storage.Reset()
	m.est = Estimate{
		SphereCenter:          InitialSphereCenter,
		CorrectedSphereCenter: m.corrector.CorrectSphereCenter(InitialSphereCenter),
		Projected:             geometry.ProjectPoint(InitialSphereCenter, m.focal),
	}
	m.debug = DebugInfo{Cost: -1}
	m.prevCenter = nil
	m.prevDisambiguation = nil
}

// MeanObservationCircularity averages minor/major over retained
// observations; 0 when empty.
func (m *Model) MeanObservationCircularity() float64 {
	var c []float64
	for o := range m.storage.All() {
		c = append(c, o.Circularity())
	}
	if len(c) == 0 {
		return 0
	}
	return stat.Mean(c, nil)
}

// EstimateSphereCenter refits the sphere center. On error the model is left
// exactly as it was.
func (m *Model) EstimateSphereCenter(opts FitOptions) (Estimate, error) {
	obs := slices.Collect(m.storage.All())
	if len(obs) == 0 {
		return m.est, ErrNoObservations
	}

	debug := DebugInfo{Cost: -1}
	if m.prevCenter != nil {
		debug = m.residuals(obs)
		if opts.ResidualCutoff && debug.Cost > ResidualCutoffCost {
			if cutoff, ok := residualCutoff(obs, m.prevDisambiguation, debug.Residuals); ok {
				debug.Cutoff = cutoff
				obs = slices.DeleteFunc(obs, func(o *observation.Observation) bool {
					return o.Timestamp < cutoff
				})
			}
		}
	}

	projected, err := m.projectedCenter(obs, opts.From2D)
	if err != nil {
		return m.est, err
	}

	choice := make(map[*observation.Observation]int, len(obs))
	a := mat.NewDense(3, 3, nil)
	b := mat.NewVecDense(3, nil)
	for _, o := range obs {
		idx := geometry.DisambiguateLine(o.Gaze2D, projected)
		choice[o] = idx
		aux := &o.Aux3D[idx]
		for i := range 3 {
			for j := range 3 {
				a.Set(i, j, a.At(i, j)+aux[i][j])
			}
			b.SetVec(i, b.AtVec(i)+aux[i][3])
		}
	}
	if opts.Prior != nil && opts.PriorStrength != 0 {
		p := [3]float64{opts.Prior.X, opts.Prior.Y, opts.Prior.Z}
		for i := range 3 {
			a.Set(i, i, a.At(i, i)+opts.PriorStrength)
			b.SetVec(i, b.AtVec(i)+opts.PriorStrength*p[i])
		}
	}

	x, err := solvePinv(a, b)
	if err != nil {
		return m.est, fmt.Errorf("solve sphere center from %d observations: %w", len(obs), err)
	}
	center := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}

	m.est = Estimate{
		Projected:             projected,
		SphereCenter:          center,
		CorrectedSphereCenter: m.corrector.CorrectSphereCenter(center),
	}
	m.debug = debug
	m.prevCenter = &center
	m.prevDisambiguation = choice
	return m.est, nil
}

// projectedCenter intersects the observations' 2D gaze lines in the least
// squares sense unless a prior is given.
func (m *Model) projectedCenter(obs []*observation.Observation, prior *r2.Point) (r2.Point, error) {
	if prior != nil {
		return *prior, nil
	}
	a := mat.NewDense(2, 2, nil)
	b := mat.NewVecDense(2, nil)
	for _, o := range obs {
		for i := range 2 {
			a.Set(i, 0, a.At(i, 0)+o.Aux2D[i][0])
			a.Set(i, 1, a.At(i, 1)+o.Aux2D[i][1])
			b.SetVec(i, b.AtVec(i)+o.Aux2D[i][2])
		}
	}
	x, err := solvePinv(a, b)
	if err != nil {
		return r2.Point{}, fmt.Errorf("solve projected sphere center: %w", err)
	}
	return r2.Point{X: x.AtVec(0), Y: x.AtVec(1)}, nil
}

// residuals evaluates the previous fit's Dierkes lines against the previous
// center for every observation that took part in it.
func (m *Model) residuals(obs []*observation.Observation) DebugInfo {
	var res []float64
	for _, o := range obs {
		idx, ok := m.prevDisambiguation[o]
		if !ok {
			continue
		}
		line := o.Dierkes[idx]
		d := line.Origin.Sub(*m.prevCenter)
		v := line.Direction.Normalize()
		perp := d.Sub(v.Mul(d.Dot(v)))
		res = append(res, perp.Norm2())
	}
	if len(res) == 0 {
		return DebugInfo{Cost: -1}
	}
	return DebugInfo{Cost: stat.Mean(res, nil), Residuals: res}
}

// PredictPupilCircle places the disambiguated pupil of o on the model's
// sphere.
func (m *Model) PredictPupilCircle(o *observation.Observation, useUnprojection bool) geometry.Circle {
	return PredictPupilCircle(m.est.SphereCenter, m.focal, o, useUnprojection)
}

// ApplyRefractionCorrection corrects a predicted pupil circle.
func (m *Model) ApplyRefractionCorrection(c geometry.Circle) geometry.Circle {
	return CorrectPupilCircle(m.corrector, m.est, c)
}

// PredictPupilCircle is the stateless form of Model.PredictPupilCircle for
// callers that only hold a published sphere center.
func PredictPupilCircle(sphere r3.Vector, focal float64, o *observation.Observation, useUnprojection bool) geometry.Circle {
	if o == nil {
		return geometry.NullCircle()
	}
	idx := geometry.Disambiguate(o.CirclePair, geometry.ProjectPoint(sphere, focal), focal)
	c := o.CirclePair[idx]
	if c.IsNull() || !(c.Center.Norm() > 0) {
		return geometry.NullCircle()
	}

	p := geometry.NearestPointOnSphere(c.Center, geometry.Sphere{Center: sphere, Radius: geometry.EyeRadiusDefault})
	gaze := p.Sub(sphere).Normalize()
	if useUnprojection {
		gaze = c.Normal
	}
	radius := c.Radius * p.Norm() / c.Center.Norm()
	if !geometry.IsFinite(p) || !geometry.IsFinite(gaze) || !(radius > 0) {
		return geometry.NullCircle()
	}
	return geometry.Circle{Center: p, Normal: gaze, Radius: radius}
}

// CorrectPupilCircle applies refraction correction to c seen from the eye
// described by est. The null circle passes through unchanged.
func CorrectPupilCircle(corr refraction.Corrector, est Estimate, c geometry.Circle) geometry.Circle {
	if c.IsNull() {
		return geometry.NullCircle()
	}
	gaze, radius := corr.CorrectPupil(est.SphereCenter, c.Normal, c.Radius)
	gaze = gaze.Normalize()
	return geometry.Circle{
		Center: est.CorrectedSphereCenter.Add(gaze.Mul(geometry.EyeRadiusDefault)),
		Normal: gaze,
		Radius: radius,
	}
}
