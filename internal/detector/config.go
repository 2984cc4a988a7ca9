package detector

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/eye3d/internal/config"
	"github.com/banshee-data/eye3d/internal/kalman"
	"github.com/banshee-data/eye3d/internal/search"
)

// ErrInvalidConfig wraps every Config.Validate failure.
var ErrInvalidConfig = errors.New("detector: invalid config")

// Mode selects where the long-term and ultra-long-term refits run.
type Mode int

const (
	// ModeBlocking refits every tier inline in UpdateAndDetect.
	ModeBlocking Mode = iota
	// ModeAsync refits the long-term and ultra-long-term tiers on a
	// background worker.
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModeBlocking:
		return "blocking"
	case ModeAsync:
		return "async"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "blocking" and "async".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "blocking", "":
		return ModeBlocking, nil
	case "async", "asynchronous":
		return ModeAsync, nil
	}
	return 0, fmt.Errorf("unknown detector mode %q", s)
}

// CircularitySigmoid maps the mean circularity of the short-term
// observations to the strength of the long-term prior: nearly circular
// pupils carry little depth information, so the prior dominates.
type CircularitySigmoid struct {
	Baseline  float64
	Amplitude float64
	Center    float64
	Width     float64
}

func DefaultCircularitySigmoid() CircularitySigmoid {
	return CircularitySigmoid{Baseline: 0.1, Amplitude: 500, Center: 0.99, Width: 0.02}
}

// Eval returns Baseline + Amplitude / (1 + exp(-(x-Center)/Width)).
func (s CircularitySigmoid) Eval(x float64) float64 {
	return s.Baseline + s.Amplitude/(1+math.Exp(-(x-s.Center)/s.Width))
}

// Config is fixed for the lifetime of a Detector. Use Reconfigure to apply
// a new one.
type Config struct {
	ThresholdSwirski   float64
	ThresholdKalman    float64
	ThresholdShortTerm float64
	ThresholdLongTerm  float64

	ShortTermBufferLength int
	BinsHorizontal        int
	LongTermBufferSize    int

	LongTermForgetTime            time.Duration
	LongTermForgetObservations    int
	UltLongTermForgetTime         time.Duration
	UltLongTermForgetObservations int

	ModelUpdateIntervalLongTerm    time.Duration
	ModelUpdateIntervalUltLongTerm time.Duration
	ModelWarmupDuration            time.Duration

	// LongTermPriorStrength weighs the ultra-long-term center in long-term
	// fits.
	LongTermPriorStrength float64
	Sigmoid               CircularitySigmoid
	ResidualCutoff        bool

	Search search.Config
	Kalman kalman.Config
}

// DefaultConfig returns the stock detector settings.
func DefaultConfig() Config {
	return Config{
		ThresholdSwirski:   0.7,
		ThresholdKalman:    0.98,
		ThresholdShortTerm: 0.8,
		ThresholdLongTerm:  0.98,

		ShortTermBufferLength: 10,
		BinsHorizontal:        10,
		LongTermBufferSize:    30,

		LongTermForgetTime:            5 * time.Second,
		LongTermForgetObservations:    300,
		UltLongTermForgetTime:         60 * time.Second,
		UltLongTermForgetObservations: 600,

		ModelUpdateIntervalLongTerm:    time.Second,
		ModelUpdateIntervalUltLongTerm: 10 * time.Second,
		ModelWarmupDuration:            5 * time.Second,

		LongTermPriorStrength: 0.1,
		Sigmoid:               DefaultCircularitySigmoid(),

		Search: search.DefaultConfig(),
		Kalman: kalman.DefaultConfig(),
	}
}

// ConfigFromTuning maps a tuning file onto a detector Config. Fields the
// file omits take their defaults.
func ConfigFromTuning(t *config.TuningConfig) Config {
	cfg := DefaultConfig()
	if t == nil {
		return cfg
	}
	cfg.ThresholdSwirski = t.GetThresholdSwirski()
	cfg.ThresholdKalman = t.GetThresholdKalman()
	cfg.ThresholdShortTerm = t.GetThresholdShortTerm()
	cfg.ThresholdLongTerm = t.GetThresholdLongTerm()

	cfg.ShortTermBufferLength = t.GetShortTermBufferLength()
	cfg.BinsHorizontal = t.GetBinsHorizontal()
	cfg.LongTermBufferSize = t.GetLongTermBufferSize()

	cfg.LongTermForgetTime = t.GetLongTermForgetTime()
	cfg.LongTermForgetObservations = t.GetLongTermForgetObservations()
	cfg.UltLongTermForgetTime = t.GetUltLongTermForgetTime()
	cfg.UltLongTermForgetObservations = t.GetUltLongTermForgetObservations()

	cfg.ModelUpdateIntervalLongTerm = t.GetModelUpdateIntervalLongTerm()
	cfg.ModelUpdateIntervalUltLongTerm = t.GetModelUpdateIntervalUltLongTerm()
	cfg.ModelWarmupDuration = t.GetModelWarmupDuration()

	cfg.LongTermPriorStrength = t.GetLongTermPriorStrength()
	cfg.Sigmoid = CircularitySigmoid{
		Baseline:  t.GetSigmoidBaseline(),
		Amplitude: t.GetSigmoidAmplitude(),
		Center:    t.GetSigmoidCenter(),
		Width:     t.GetSigmoidWidth(),
	}
	cfg.ResidualCutoff = t.GetResidualCutoff()

	cfg.Search.MajorAxisFactor = t.GetSearchMajorAxisFactor()
	cfg.Search.InlierTolerancePx = t.GetSearchInlierTolerancePx()
	cfg.Search.Extractor = search.SobelExtractor{Threshold: t.GetSearchEdgeThreshold()}

	cfg.Kalman.ProcessNoise = t.GetKalmanProcessNoise()
	cfg.Kalman.MeasurementNoise = t.GetKalmanMeasurementNoise()
	cfg.Kalman.MaxPredictDt = t.GetKalmanMaxPredictDt().Seconds()
	return cfg
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	for _, th := range []struct {
		name string
		v    float64
	}{
		{"threshold_swirski", c.ThresholdSwirski},
		{"threshold_kalman", c.ThresholdKalman},
		{"threshold_short_term", c.ThresholdShortTerm},
		{"threshold_long_term", c.ThresholdLongTerm},
	} {
		if !(th.v >= 0 && th.v <= 1) {
			return fmt.Errorf("%w: %s must be in [0, 1], got %v", ErrInvalidConfig, th.name, th.v)
		}
	}
	if c.ShortTermBufferLength < 1 || c.BinsHorizontal < 1 || c.LongTermBufferSize < 1 {
		return fmt.Errorf("%w: buffer lengths and bin count must be positive", ErrInvalidConfig)
	}
	if c.LongTermForgetObservations < 0 || c.UltLongTermForgetObservations < 0 {
		return fmt.Errorf("%w: forget observation counts must be non-negative", ErrInvalidConfig)
	}
	if c.LongTermForgetTime < 0 || c.UltLongTermForgetTime < 0 ||
		c.ModelUpdateIntervalLongTerm < 0 || c.ModelUpdateIntervalUltLongTerm < 0 ||
		c.ModelWarmupDuration < 0 {
		return fmt.Errorf("%w: durations must be non-negative", ErrInvalidConfig)
	}
	if c.LongTermPriorStrength < 0 {
		return fmt.Errorf("%w: long-term prior strength must be non-negative", ErrInvalidConfig)
	}
	if !(c.Sigmoid.Width > 0) {
		return fmt.Errorf("%w: sigmoid width must be positive, got %v", ErrInvalidConfig, c.Sigmoid.Width)
	}
	if !(c.Search.MajorAxisFactor > 0) || !(c.Search.InlierTolerancePx > 0) {
		return fmt.Errorf("%w: search window factor and inlier tolerance must be positive", ErrInvalidConfig)
	}
	if c.Kalman.ProcessNoise < 0 || !(c.Kalman.MeasurementNoise > 0) {
		return fmt.Errorf("%w: kalman noise must be positive", ErrInvalidConfig)
	}
	return nil
}
