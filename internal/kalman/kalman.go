// Package kalman smooths pupil orientation and size over time with three
// decoupled constant-velocity Kalman filters driven by frame timestamps.
package kalman

import "math"

// Config holds the noise model. Process noise is expressed per second and
// scaled by the elapsed time of each predict step.
type Config struct {
	ProcessNoise      float64 // σ² per second on value and rate
	MeasurementNoise  float64 // σ² of a corrected measurement
	InitialCovariance float64 // diagonal of P at reset
	MaxPredictDt      float64 // maximum seconds advanced per predict
}

// DefaultConfig returns the noise model used by the detector.
func DefaultConfig() Config {
	return Config{
		ProcessNoise:      1e-2,
		MeasurementNoise:  1e-4,
		InitialCovariance: 1,
		MaxPredictDt:      1,
	}
}

// channel is a [value, rate] filter with a 2x2 row-major covariance. An
// angular channel keeps its value in (-π, π] and measures innovations the
// short way round.
type channel struct {
	x, v    float64
	P       [4]float64
	angular bool
}

// wrapAngle maps a into (-π, π].
func wrapAngle(a float64) float64 {
	a = math.Remainder(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func (c *channel) reset(p0 float64) {
	c.x, c.v = 0, 0
	c.P = [4]float64{p0, 0, 0, p0}
}

func (c *channel) predict(dt, q float64) {
	// F = [1 dt]
	//     [0  1]
	c.x += c.v * dt
	if c.angular {
		c.x = wrapAngle(c.x)
	}

	P := c.P
	FP := [4]float64{
		P[0] + dt*P[2], P[1] + dt*P[3],
		P[2], P[3],
	}
	c.P = [4]float64{
		FP[0] + dt*FP[1], FP[1],
		FP[2] + dt*FP[3], FP[3],
	}
	c.P[0] += q * dt
	c.P[3] += q * dt
}

func (c *channel) correct(z, r float64) {
	P := c.P
	S := P[0] + r
	if !(S > 0) {
		return
	}
	k0, k1 := P[0]/S, P[2]/S
	y := z - c.x
	if c.angular {
		y = wrapAngle(y)
	}
	c.x += k0 * y
	c.v += k1 * y
	if c.angular {
		c.x = wrapAngle(c.x)
	}
	c.P = [4]float64{
		(1 - k0) * P[0], (1 - k0) * P[1],
		P[2] - k1*P[0], P[3] - k1*P[1],
	}
}

func (c *channel) finite() bool {
	if math.IsNaN(c.x) || math.IsInf(c.x, 0) || math.IsNaN(c.v) || math.IsInf(c.v, 0) {
		return false
	}
	for _, p := range c.P {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return false
		}
	}
	return true
}

// Filter tracks (phi, theta, radius). The zero state means "no estimate":
// a prediction before any correction has radius 0. Phi is azimuthal and
// wraps at ±π.
type Filter struct {
	cfg      Config
	ch       [3]channel
	last     float64
	haveLast bool
}

func New(cfg Config) *Filter {
	f := &Filter{cfg: cfg}
	f.ch[0].angular = true
	f.Reset()
	return f
}

// Reset returns to the zero state and forgets the time base.
func (f *Filter) Reset() {
	for i := range f.ch {
		f.ch[i].reset(f.cfg.InitialCovariance)
	}
	f.haveLast = false
	f.last = 0
}

// Predict advances to timestamp ts (seconds) and returns the smoothed
// estimate. It must be called every frame to keep the time base current.
// Time going backwards advances by zero.
func (f *Filter) Predict(ts float64) (phi, theta, radius float64) {
	dt := 0.0
	if f.haveLast {
		dt = ts - f.last
	}
	if !(dt > 0) {
		dt = 0
	}
	if f.cfg.MaxPredictDt > 0 && dt > f.cfg.MaxPredictDt {
		dt = f.cfg.MaxPredictDt
	}
	f.last, f.haveLast = ts, true

	for i := range f.ch {
		f.ch[i].predict(dt, f.cfg.ProcessNoise)
		if !f.ch[i].finite() {
			f.ch[i].reset(f.cfg.InitialCovariance)
		}
	}
	return f.ch[0].x, f.ch[1].x, f.ch[2].x
}

// Correct folds in a measurement taken at the last predicted timestamp.
func (f *Filter) Correct(phi, theta, radius float64) {
	for i, z := range [3]float64{phi, theta, radius} {
		if math.IsNaN(z) || math.IsInf(z, 0) {
			continue
		}
		f.ch[i].correct(z, f.cfg.MeasurementNoise)
	}
}
