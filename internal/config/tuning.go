package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the eye model.
// Every field is optional; the Get* methods supply defaults for omitted
// fields, so partial files are safe.
type TuningConfig struct {
	// Confidence thresholds
	ThresholdSwirski   *float64 `json:"threshold_swirski,omitempty"`
	ThresholdKalman    *float64 `json:"threshold_kalman,omitempty"`
	ThresholdShortTerm *float64 `json:"threshold_short_term,omitempty"`
	ThresholdLongTerm  *float64 `json:"threshold_long_term,omitempty"`

	// Storage params
	ShortTermBufferLength         *int    `json:"short_term_buffer_length,omitempty"`
	BinsHorizontal                *int    `json:"bins_horizontal,omitempty"`
	LongTermBufferSize            *int    `json:"long_term_buffer_size,omitempty"`
	LongTermForgetTime            *string `json:"long_term_forget_time,omitempty"` // duration string like "5s"
	LongTermForgetObservations    *int    `json:"long_term_forget_observations,omitempty"`
	UltLongTermForgetTime         *string `json:"ult_long_term_forget_time,omitempty"`
	UltLongTermForgetObservations *int    `json:"ult_long_term_forget_observations,omitempty"`

	// Schedule params
	ModelUpdateIntervalLongTerm    *string `json:"model_update_interval_long_term,omitempty"`
	ModelUpdateIntervalUltLongTerm *string `json:"model_update_interval_ult_long_term,omitempty"`
	ModelWarmupDuration            *string `json:"model_warmup_duration,omitempty"`

	// Fitting params
	LongTermPriorStrength *float64 `json:"long_term_prior_strength,omitempty"`
	SigmoidBaseline       *float64 `json:"sigmoid_baseline,omitempty"`
	SigmoidAmplitude      *float64 `json:"sigmoid_amplitude,omitempty"`
	SigmoidCenter         *float64 `json:"sigmoid_center,omitempty"`
	SigmoidWidth          *float64 `json:"sigmoid_width,omitempty"`
	ResidualCutoff        *bool    `json:"residual_cutoff,omitempty"`

	// Surface search params
	SearchMajorAxisFactor   *float64 `json:"search_major_axis_factor,omitempty"`
	SearchInlierTolerancePx *float64 `json:"search_inlier_tolerance_px,omitempty"`
	SearchEdgeThreshold     *float64 `json:"search_edge_threshold,omitempty"`

	// Temporal filter params
	KalmanProcessNoise     *float64 `json:"kalman_process_noise,omitempty"`
	KalmanMeasurementNoise *float64 `json:"kalman_measurement_noise,omitempty"`
	KalmanMaxPredictDt     *string  `json:"kalman_max_predict_dt,omitempty"`

	// Detector params
	Mode                      *string `json:"mode,omitempty"` // "blocking" or "async"
	ApplyRefractionCorrection *bool   `json:"apply_refraction_correction,omitempty"`
	RefractionModel           *string `json:"refraction_model,omitempty"` // path to coefficient JSON
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,          // from cmd/eye3d/
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/search/cvedge/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{
		"threshold_swirski":    c.ThresholdSwirski,
		"threshold_kalman":     c.ThresholdKalman,
		"threshold_short_term": c.ThresholdShortTerm,
		"threshold_long_term":  c.ThresholdLongTerm,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	for name, v := range map[string]*int{
		"short_term_buffer_length": c.ShortTermBufferLength,
		"bins_horizontal":          c.BinsHorizontal,
		"long_term_buffer_size":    c.LongTermBufferSize,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}

	for name, v := range map[string]*string{
		"long_term_forget_time":              c.LongTermForgetTime,
		"ult_long_term_forget_time":          c.UltLongTermForgetTime,
		"model_update_interval_long_term":    c.ModelUpdateIntervalLongTerm,
		"model_update_interval_ult_long_term": c.ModelUpdateIntervalUltLongTerm,
		"model_warmup_duration":              c.ModelWarmupDuration,
		"kalman_max_predict_dt":              c.KalmanMaxPredictDt,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}

	if c.SigmoidWidth != nil && *c.SigmoidWidth <= 0 {
		return fmt.Errorf("sigmoid_width must be positive, got %f", *c.SigmoidWidth)
	}
	if c.SearchMajorAxisFactor != nil && *c.SearchMajorAxisFactor <= 0 {
		return fmt.Errorf("search_major_axis_factor must be positive, got %f", *c.SearchMajorAxisFactor)
	}
	if c.Mode != nil && *c.Mode != "blocking" && *c.Mode != "async" {
		return fmt.Errorf("mode must be \"blocking\" or \"async\", got %q", *c.Mode)
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetThresholdSwirski returns the confidence above which the 2D ellipse is
// trusted directly.
func (c *TuningConfig) GetThresholdSwirski() float64 { return floatOr(c.ThresholdSwirski, 0.7) }

// GetThresholdKalman returns the confidence above which results correct the
// temporal filter.
func (c *TuningConfig) GetThresholdKalman() float64 { return floatOr(c.ThresholdKalman, 0.98) }

func (c *TuningConfig) GetThresholdShortTerm() float64 { return floatOr(c.ThresholdShortTerm, 0.8) }
func (c *TuningConfig) GetThresholdLongTerm() float64  { return floatOr(c.ThresholdLongTerm, 0.98) }

func (c *TuningConfig) GetShortTermBufferLength() int { return intOr(c.ShortTermBufferLength, 10) }
func (c *TuningConfig) GetBinsHorizontal() int        { return intOr(c.BinsHorizontal, 10) }
func (c *TuningConfig) GetLongTermBufferSize() int    { return intOr(c.LongTermBufferSize, 30) }

func (c *TuningConfig) GetLongTermForgetTime() time.Duration {
	return durationOr(c.LongTermForgetTime, 5*time.Second)
}

func (c *TuningConfig) GetLongTermForgetObservations() int {
	return intOr(c.LongTermForgetObservations, 300)
}

func (c *TuningConfig) GetUltLongTermForgetTime() time.Duration {
	return durationOr(c.UltLongTermForgetTime, 60*time.Second)
}

// GetUltLongTermForgetObservations defaults to twice the long-term value.
func (c *TuningConfig) GetUltLongTermForgetObservations() int {
	return intOr(c.UltLongTermForgetObservations, 2*c.GetLongTermForgetObservations())
}

func (c *TuningConfig) GetModelUpdateIntervalLongTerm() time.Duration {
	return durationOr(c.ModelUpdateIntervalLongTerm, time.Second)
}

func (c *TuningConfig) GetModelUpdateIntervalUltLongTerm() time.Duration {
	return durationOr(c.ModelUpdateIntervalUltLongTerm, 10*time.Second)
}

func (c *TuningConfig) GetModelWarmupDuration() time.Duration {
	return durationOr(c.ModelWarmupDuration, 5*time.Second)
}

func (c *TuningConfig) GetLongTermPriorStrength() float64 {
	return floatOr(c.LongTermPriorStrength, 0.1)
}

func (c *TuningConfig) GetSigmoidBaseline() float64  { return floatOr(c.SigmoidBaseline, 0.1) }
func (c *TuningConfig) GetSigmoidAmplitude() float64 { return floatOr(c.SigmoidAmplitude, 500) }
func (c *TuningConfig) GetSigmoidCenter() float64    { return floatOr(c.SigmoidCenter, 0.99) }
func (c *TuningConfig) GetSigmoidWidth() float64     { return floatOr(c.SigmoidWidth, 0.02) }

// GetResidualCutoff reports whether fits drop observations that predate a
// jump in residuals. Off by default.
func (c *TuningConfig) GetResidualCutoff() bool {
	if c.ResidualCutoff == nil {
		return false
	}
	return *c.ResidualCutoff
}

func (c *TuningConfig) GetSearchMajorAxisFactor() float64 {
	return floatOr(c.SearchMajorAxisFactor, 2.5)
}

func (c *TuningConfig) GetSearchInlierTolerancePx() float64 {
	return floatOr(c.SearchInlierTolerancePx, 1.5)
}

func (c *TuningConfig) GetSearchEdgeThreshold() float64 {
	return floatOr(c.SearchEdgeThreshold, 120)
}

func (c *TuningConfig) GetKalmanProcessNoise() float64 { return floatOr(c.KalmanProcessNoise, 1e-2) }

func (c *TuningConfig) GetKalmanMeasurementNoise() float64 {
	return floatOr(c.KalmanMeasurementNoise, 1e-4)
}

func (c *TuningConfig) GetKalmanMaxPredictDt() time.Duration {
	return durationOr(c.KalmanMaxPredictDt, time.Second)
}

// GetMode returns "blocking" or "async".
func (c *TuningConfig) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return "blocking"
	}
	return *c.Mode
}

func (c *TuningConfig) GetApplyRefractionCorrection() bool {
	if c.ApplyRefractionCorrection == nil {
		return true
	}
	return *c.ApplyRefractionCorrection
}

// GetRefractionModel returns the coefficient file path, or "" for the
// identity corrector.
func (c *TuningConfig) GetRefractionModel() string {
	if c.RefractionModel == nil {
		return ""
	}
	return *c.RefractionModel
}
