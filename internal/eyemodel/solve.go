package eyemodel

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// rcond matches the default cutoff of a NumPy-style pseudo-inverse.
const rcond = 1e-15

// solvePinv returns pinv(a)·b using a full SVD.
func solvePinv(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, ErrFitFailed
	}
	rank := svd.Rank(rcond)
	if rank < 1 {
		return nil, ErrFitFailed
	}
	var x mat.VecDense
	svd.SolveVecTo(&x, b, rank)
	for i := range x.Len() {
		if v := x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrFitFailed
		}
	}
	return &x, nil
}
