// Package detector turns a stream of 2D pupil ellipses into a 3D eye pose.
//
// Three eye models run side by side: a short-term model over the last few
// confident frames tracks fast changes in gaze, a long-term model over
// gaze-binned observations stabilizes the eyeball position, and an
// ultra-long-term model anchors the long-term one. When the 2D detection is
// not confident, the pupil is searched for directly on the eyeball surface,
// starting from a Kalman-filtered prediction.
package detector

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/eyemodel"
	"github.com/banshee-data/eye3d/internal/geometry"
	"github.com/banshee-data/eye3d/internal/kalman"
	"github.com/banshee-data/eye3d/internal/monitoring"
	"github.com/banshee-data/eye3d/internal/observation"
	"github.com/banshee-data/eye3d/internal/refraction"
	"github.com/banshee-data/eye3d/internal/search"
)

var (
	// ErrInvalidObservation is returned when a datum cannot be unprojected.
	// The detector state is unchanged.
	ErrInvalidObservation = errors.New("detector: invalid observation")
	// ErrClosed is returned by a detector after Close.
	ErrClosed = errors.New("detector: closed")
)

type options struct {
	mode      Mode
	corrector refraction.Corrector
}

// Option customizes New.
type Option func(*options)

// WithMode selects blocking or asynchronous long-term refits.
func WithMode(m Mode) Option { return func(o *options) { o.mode = m } }

// WithCorrector installs a refraction corrector. The default is
// refraction.Identity.
func WithCorrector(c refraction.Corrector) Option {
	return func(o *options) {
		if c != nil {
			o.corrector = c
		}
	}
}

// DetectOptions are per-frame switches.
type DetectOptions struct {
	ApplyRefractionCorrection bool
	// Debug attaches a model snapshot to the result.
	Debug bool
	// UseUnprojection takes the pupil normal straight from the unprojected
	// circle instead of the sphere intersection.
	UseUnprojection bool
}

// Detector is safe for use from multiple goroutines, but frames are
// processed one at a time.
type Detector struct {
	mu        sync.Mutex
	cam       camera.Model
	cfg       Config
	mode      Mode
	corrector refraction.Corrector
	closed    bool

	short      *eyemodel.Model
	tiers      longTerm
	longSched  *UpdateSchedule
	ultraSched *UpdateSchedule
	filter     *kalman.Filter
	searcher   *search.Searcher
}

// New validates cam and cfg and returns a detector with empty models.
func New(cam camera.Model, cfg Config, opts ...Option) (*Detector, error) {
	if err := cam.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{mode: ModeBlocking, corrector: refraction.Identity{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mode != ModeBlocking && o.mode != ModeAsync {
		return nil, fmt.Errorf("%w: unknown mode %v", ErrInvalidConfig, o.mode)
	}
	d := &Detector{cam: cam, cfg: cfg, mode: o.mode, corrector: o.corrector}
	d.reset()
	return d, nil
}

// reset rebuilds every model from the current config and camera.
func (d *Detector) reset() {
	if d.tiers != nil {
		d.tiers.close()
	}
	cfg := d.cfg
	mcfg := eyemodel.Config{FocalLength: d.cam.FocalLength, Corrector: d.corrector}

	d.short = eyemodel.New(mcfg, observation.NewBufferedStorage(cfg.ThresholdShortTerm, cfg.ShortTermBufferLength))
	lt := eyemodel.New(mcfg, observation.NewBinnedStorage(observation.BinnedConfig{
		Threshold:             cfg.ThresholdLongTerm,
		Bins:                  cfg.BinsHorizontal,
		BinBufferLength:       cfg.LongTermBufferSize,
		ForgetMinTime:         cfg.LongTermForgetTime.Seconds(),
		ForgetMinObservations: cfg.LongTermForgetObservations,
	}))
	ult := eyemodel.New(mcfg, observation.NewBinnedStorage(observation.BinnedConfig{
		Threshold:             cfg.ThresholdLongTerm,
		Bins:                  cfg.BinsHorizontal,
		BinBufferLength:       cfg.LongTermBufferSize,
		ForgetMinTime:         cfg.UltLongTermForgetTime.Seconds(),
		ForgetMinObservations: cfg.UltLongTermForgetObservations,
	}))
	if d.mode == ModeAsync {
		d.tiers = newAsyncTiers(cfg, lt, ult)
	} else {
		d.tiers = &blockingTiers{cfg: cfg, lt: lt, ult: ult}
	}

	d.longSched = NewUpdateSchedule(cfg.ModelUpdateIntervalLongTerm, cfg.ModelWarmupDuration)
	d.ultraSched = NewUpdateSchedule(cfg.ModelUpdateIntervalUltLongTerm, cfg.ModelWarmupDuration)
	d.filter = kalman.New(cfg.Kalman)
	d.searcher = search.New(cfg.Search, d.cam)
}

// Reset discards every model and the filter.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.reset()
}

// Reconfigure validates cfg, adopts it and resets.
func (d *Detector) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.cfg = cfg
	d.reset()
	return nil
}

// ResetCamera switches to a new camera and resets.
func (d *Detector) ResetCamera(cam camera.Model) error {
	if err := cam.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.cam = cam
	d.reset()
	return nil
}

// SetMode changes the refit mode. Changing it resets the detector.
func (d *Detector) SetMode(m Mode) error {
	if m != ModeBlocking && m != ModeAsync {
		return fmt.Errorf("%w: unknown mode %v", ErrInvalidConfig, m)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if m == d.mode {
		return nil
	}
	d.mode = m
	d.reset()
	return nil
}

// Close stops the background worker, if any. Model state stays readable.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.tiers.close()
}

func (d *Detector) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Config returns a copy of the active configuration.
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Detector) Camera() camera.Model {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cam
}

// State is a copy of the three model tiers.
type State struct {
	ShortTerm     eyemodel.Estimate
	LongTerm      eyemodel.Estimate
	UltraLongTerm eyemodel.Estimate
	// Counts holds the observation counts of the short-term, long-term and
	// ultra-long-term storages.
	Counts [3]int
	// Bins is the long-term bin occupancy.
	Bins []int
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	long, ultra := d.tiers.long(), d.tiers.ultra()
	bins := make([]int, len(long.bins))
	copy(bins, long.bins)
	return State{
		ShortTerm:     d.short.Estimate(),
		LongTerm:      long.est,
		UltraLongTerm: ultra.est,
		Counts:        [3]int{d.short.Count(), long.count, ultra.count},
		Bins:          bins,
	}
}

// UpdateAndDetect folds datum into the models and predicts the 3D pupil.
// frame is only read when the 2D confidence is too low to trust and may be
// empty otherwise.
func (d *Detector) UpdateAndDetect(datum Datum, frame search.Frame, opts DetectOptions) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Result{}, ErrClosed
	}

	obs, err := ObservationFromDatum(datum, d.cam)
	if err != nil {
		return Result{}, err
	}
	d.updateModels(obs)

	long := d.tiers.long()
	sphereCenter := long.est.SphereCenter
	pupil := d.predictPupilCircle(obs, frame, long, opts.UseUnprojection)

	correctedSphere, correctedPupil := sphereCenter, pupil
	if opts.ApplyRefractionCorrection {
		correctedPupil = eyemodel.CorrectPupilCircle(d.corrector, long.est, pupil)
		correctedSphere = long.est.CorrectedSphereCenter
	}

	res := Result{
		Timestamp:       obs.Timestamp,
		Sphere:          SphereResult{Center: vec(correctedSphere), Radius: geometry.EyeRadiusDefault},
		ProjectedSphere: projectSpherePixels(sphereCenter, d.cam),
		Circle3D:        circleResult(correctedPupil),
		Confidence:      obs.Confidence,
		Confidence2D:    obs.Confidence2D,
		ModelConfidence: 1,
	}
	// A null pupil reports no diameter either.
	if !pupil.IsNull() {
		longPupil := eyemodel.PredictPupilCircle(sphereCenter, d.cam.FocalLength, obs, opts.UseUnprojection)
		res.Diameter3D = 2 * longPupil.Radius
	}

	res.Ellipse = projectCirclePixels(pupil, d.cam)
	res.Diameter = res.Ellipse.Axes[1]
	res.Location = res.Ellipse.Center

	phi, theta := geometry.CartToSph(correctedPupil.Normal)
	if math.IsNaN(phi) || math.IsNaN(theta) {
		phi, theta = 0, 0
	}
	res.Phi, res.Theta = phi, theta

	if opts.Debug {
		res.Debug = d.debugInfo(long)
	}
	return res, nil
}

// updateModels stores o in every tier and refits what is due. Nothing is
// refit until all three storages hold an observation.
func (d *Detector) updateModels(o *observation.Observation) {
	d.short.Add(o)
	ts := o.Timestamp
	shortReady := d.short.Count() > 0
	d.tiers.add(o, func() refitRequest {
		if !shortReady {
			return refitRequest{}
		}
		return refitRequest{
			ultra: d.ultraSched.IsUpdateDue(ts),
			long:  d.longSched.IsUpdateDue(ts),
		}
	})

	long, ultra := d.tiers.long(), d.tiers.ultra()
	if !shortReady || long.count == 0 || ultra.count == 0 {
		return
	}

	// The short-term fit disambiguates with the long-term 2D center and is
	// pulled towards the long-term 3D center, more strongly the rounder the
	// recent pupils are.
	est := long.est
	opts := eyemodel.FitOptions{
		From2D:         &est.Projected,
		Prior:          &est.SphereCenter,
		PriorStrength:  d.cfg.Sigmoid.Eval(d.short.MeanObservationCircularity()),
		ResidualCutoff: d.cfg.ResidualCutoff,
	}
	if _, err := d.short.EstimateSphereCenter(opts); err != nil {
		monitoring.Logf("detector: short-term fit: %v", err)
	}
}

func (d *Detector) predictPupilCircle(o *observation.Observation, frame search.Frame, long *tierSnapshot, useUnprojection bool) geometry.Circle {
	// The filter is advanced every frame to keep its time base current.
	guess := d.kalmanCircle(o.Timestamp)

	var pupil geometry.Circle
	if o.Confidence > d.cfg.ThresholdSwirski {
		// Gaze from the short-term model, position and size from the more
		// stable long-term model.
		st := d.short.PredictPupilCircle(o, useUnprojection)
		lt := eyemodel.PredictPupilCircle(long.est.SphereCenter, d.cam.FocalLength, o, useUnprojection)
		pupil = geometry.Circle{Center: lt.Center, Normal: st.Normal, Radius: lt.Radius}
	} else {
		res := d.searcher.Search(frame, guess, long.est.SphereCenter)
		monitoring.Debugf("detector: surface search at %.3f: %d edges, %d inliers, confidence %.3f",
			o.Timestamp, res.Edges, res.Inliers, res.Confidence)
		pupil = res.Circle
		o.Confidence = res.Confidence
	}

	if o.Confidence > d.cfg.ThresholdKalman && !pupil.IsNull() {
		d.filter.Correct(pupil.Spherical())
	}
	return pupil
}

// kalmanCircle places the filtered pupil on the short-term eyeball.
func (d *Detector) kalmanCircle(ts float64) geometry.Circle {
	phi, theta, radius := d.filter.Predict(ts)
	gaze := geometry.SphToCart(phi, theta)
	return geometry.Circle{
		Center: d.short.SphereCenter().Add(gaze.Mul(geometry.EyeRadiusDefault)),
		Normal: gaze,
		Radius: radius,
	}
}

func (d *Detector) debugInfo(long *tierSnapshot) *Debug {
	ultra := d.tiers.ultra()
	return &Debug{
		ProjectedShortTerm:     projectSpherePixels(d.short.SphereCenter(), d.cam),
		ProjectedLongTerm:      projectSpherePixels(long.est.SphereCenter, d.cam),
		ProjectedUltraLongTerm: projectSpherePixels(ultra.est.SphereCenter, d.cam),
		BinData:                normalizeBins(long.bins),
		DierkesLines:           []geometry.Line{},
		ShortTerm:              d.short.DebugInfo(),
		LongTerm:               cloneDebug(long.debug),
		UltraLongTerm:          cloneDebug(ultra.debug),
	}
}

func cloneDebug(d eyemodel.DebugInfo) eyemodel.DebugInfo {
	d.Residuals = slices.Clone(d.Residuals)
	return d
}

// SphereCenter returns the long-term eyeball center.
func (d *Detector) SphereCenter() r3.Vector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tiers.long().est.SphereCenter
}
