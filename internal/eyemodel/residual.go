package eyemodel

import (
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/eye3d/internal/observation"
)

// residualCutoff finds the timestamp at which the median-filtered residual
// series jumps the most. Observations before it are presumed to belong to a
// stale eye position (for example before a headset slipped).
func residualCutoff(obs []*observation.Observation, prev map[*observation.Observation]int, residuals []float64) (float64, bool) {
	if len(residuals) < 2 {
		return 0, false
	}
	var scored []*observation.Observation
	for _, o := range obs {
		if _, ok := prev[o]; ok {
			scored = append(scored, o)
		}
	}
	if len(scored) != len(residuals) {
		return 0, false
	}
	changes := gradient(medianFilter(residuals, residualMedianWindow))
	return scored[floats.MaxIdx(changes)].Timestamp, true
}

// medianFilter slides a window of size over x with mirrored edges. For even
// sizes the window starts size/2 before the sample and the upper median is
// taken.
func medianFilter(x []float64, size int) []float64 {
	n := len(x)
	out := make([]float64, n)
	win := make([]float64, size)
	for i := range n {
		for k := range size {
			win[k] = x[reflect(i-size/2+k, n)]
		}
		slices.Sort(win)
		out[i] = win[size/2]
	}
	return out
}

// reflect maps an out-of-range index into [0, n) by mirroring about the
// edges, repeating the edge sample (d c b a | a b c d | d c b a).
func reflect(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// gradient is the second-order central difference with one-sided
// differences at the ends.
func gradient(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = x[1] - x[0]
	out[n-1] = x[n-1] - x[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (x[i+1] - x[i-1]) / 2
	}
	return out
}
