package refraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrBadCoefficients is returned when a regressor file does not match its
// declared shape.
var ErrBadCoefficients = errors.New("refraction: bad coefficients")

// Regressor is a standardized polynomial regression
// y = W·((φ(x) - mean) / scale) + intercept, where φ expands x into every
// monomial of degree 1..Degree in lexicographic combination order.
type Regressor struct {
	Degree    int         `json:"degree"`
	Inputs    int         `json:"inputs"`
	Mean      []float64   `json:"mean,omitempty"`
	Scale     []float64   `json:"scale,omitempty"`
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`

	w *mat.Dense
}

func (r *Regressor) prepare() error {
	nf := len(polyFeatures(make([]float64, r.Inputs), r.Degree))
	if r.Degree < 1 || r.Inputs < 1 || len(r.Coef) == 0 || len(r.Intercept) != len(r.Coef) {
		return fmt.Errorf("%w: degree %d, %d inputs, %d outputs", ErrBadCoefficients, r.Degree, r.Inputs, len(r.Coef))
	}
	if (r.Mean != nil && len(r.Mean) != nf) || (r.Scale != nil && len(r.Scale) != nf) {
		return fmt.Errorf("%w: standardization needs %d features", ErrBadCoefficients, nf)
	}
	r.w = mat.NewDense(len(r.Coef), nf, nil)
	for i, row := range r.Coef {
		if len(row) != nf {
			return fmt.Errorf("%w: output %d has %d coefficients, want %d", ErrBadCoefficients, i, len(row), nf)
		}
		r.w.SetRow(i, row)
	}
	return nil
}

// Predict evaluates the regressor for one input row.
func (r *Regressor) Predict(x []float64) []float64 {
	f := polyFeatures(x, r.Degree)
	for i := range f {
		if r.Mean != nil {
			f[i] -= r.Mean[i]
		}
		if r.Scale != nil && r.Scale[i] != 0 {
			f[i] /= r.Scale[i]
		}
	}
	var y mat.VecDense
	y.MulVec(r.w, mat.NewVecDense(len(f), f))
	out := make([]float64, y.Len())
	for i := range out {
		out[i] = y.AtVec(i) + r.Intercept[i]
	}
	return out
}

// polyFeatures lists monomials of x with degree 1..degree. Within a degree,
// terms follow combinations with replacement of the input indices.
func polyFeatures(x []float64, degree int) []float64 {
	var out []float64
	var rec func(start, depth int, acc float64)
	rec = func(start, depth int, acc float64) {
		if depth == 0 {
			out = append(out, acc)
			return
		}
		for i := start; i < len(x); i++ {
			rec(i, depth-1, acc*x[i])
		}
	}
	for d := 1; d <= degree; d++ {
		rec(0, d, 1)
	}
	return out
}

// Polynomial corrects with two regressors: sphere center (3 → 3) and pupil
// (sphere, normal, radius: 7 → 4, gaze then radius).
type Polynomial struct {
	Sphere *Regressor `json:"sphere"`
	Pupil  *Regressor `json:"pupil"`
}

// LoadPolynomial reads a coefficient file written by the training pipeline.
func LoadPolynomial(path string) (*Polynomial, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return nil, fmt.Errorf("refraction model must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read refraction model: %w", err)
	}
	var p Polynomial
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse refraction model: %w", err)
	}
	if err := p.init(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Polynomial) init() error {
	if p.Sphere == nil || p.Pupil == nil {
		return fmt.Errorf("%w: sphere and pupil regressors are required", ErrBadCoefficients)
	}
	if p.Sphere.Inputs != 3 || len(p.Sphere.Coef) != 3 {
		return fmt.Errorf("%w: sphere regressor must map 3 inputs to 3 outputs", ErrBadCoefficients)
	}
	if p.Pupil.Inputs != 7 || len(p.Pupil.Coef) != 4 {
		return fmt.Errorf("%w: pupil regressor must map 7 inputs to 4 outputs", ErrBadCoefficients)
	}
	if err := p.Sphere.prepare(); err != nil {
		return fmt.Errorf("sphere: %w", err)
	}
	if err := p.Pupil.prepare(); err != nil {
		return fmt.Errorf("pupil: %w", err)
	}
	return nil
}

func (p *Polynomial) CorrectSphereCenter(c r3.Vector) r3.Vector {
	y := p.Sphere.Predict([]float64{c.X, c.Y, c.Z})
	return r3.Vector{X: y[0], Y: y[1], Z: y[2]}
}

func (p *Polynomial) CorrectPupil(sphere, normal r3.Vector, radius float64) (r3.Vector, float64) {
	y := p.Pupil.Predict([]float64{sphere.X, sphere.Y, sphere.Z, normal.X, normal.Y, normal.Z, radius})
	return r3.Vector{X: y[0], Y: y[1], Z: y[2]}, y[3]
}
