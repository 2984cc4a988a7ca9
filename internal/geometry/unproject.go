package geometry

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateEllipse is returned when an ellipse has no 3D circle
// preimage: non-positive axes, a non-elliptic cone, or a failed eigen
// decomposition.
var ErrDegenerateEllipse = errors.New("geometry: degenerate ellipse")

// Unproject returns the two circles of the given radius whose images are e.
// The cone through e is diagonalized; its two circular sections are the
// planes √(λ1−λ2)·x ± √(λ2−λ3)·z = k in the eigenbasis, with k fixed by the
// requested radius and its sign chosen so the circle lies in front of the
// camera.
func Unproject(e Ellipse, focal, radius float64) (CirclePair, error) {
	if e.IsDegenerate() || !(focal > 0) || !(radius > 0) {
		return CirclePair{}, ErrDegenerateEllipse
	}

	q := ConicFromEllipse(e)
	f := focal
	cone := mat.NewSymDense(3, []float64{
		q.A, q.B / 2, q.D / (2 * f),
		q.B / 2, q.C, q.E / (2 * f),
		q.D / (2 * f), q.E / (2 * f), q.F / (f * f),
	})

	var eig mat.EigenSym
	if !eig.Factorize(cone, true) {
		return CirclePair{}, ErrDegenerateEllipse
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	positive := 0
	for _, v := range vals {
		if v > 0 {
			positive++
		}
	}
	if positive == 1 {
		for i := range vals {
			vals[i] = -vals[i]
		}
		positive = 2
	}
	if positive != 2 {
		return CirclePair{}, ErrDegenerateEllipse
	}

	// i1, i2: positive eigenvalues with λ1 ≥ λ2; i3: the negative one.
	i1, i2, i3 := -1, -1, -1
	for i, v := range vals {
		switch {
		case v < 0:
			i3 = i
		case i1 < 0:
			i1 = i
		default:
			i2 = i
		}
	}
	if i3 < 0 || i2 < 0 {
		return CirclePair{}, ErrDegenerateEllipse
	}
	if vals[i2] > vals[i1] {
		i1, i2 = i2, i1
	}
	l1, l2, l3 := vals[i1], vals[i2], vals[i3]
	if !(l2 > 0) || !(l3 < 0) {
		return CirclePair{}, ErrDegenerateEllipse
	}

	basis := [3]r3.Vector{column(&vecs, i1), column(&vecs, i2), column(&vecs, i3)}
	toCamera := func(x, y, z float64) r3.Vector {
		return basis[0].Mul(x).Add(basis[1].Mul(y)).Add(basis[2].Mul(z))
	}

	L := l1 - l3
	alpha := math.Sqrt(math.Max(0, l1-l2))
	beta := math.Sqrt(math.Max(0, l2-l3))
	k := radius * l2 * math.Sqrt(L) / math.Sqrt(-l1*l3)

	var pair CirclePair
	for i, s := range [2]float64{1, -1} {
		// Plane normal m and the complementary factor l of the cone.
		mx, mz := s*alpha, beta
		lx, lz := s*alpha, -beta
		w := (l1 + l3) / (2 * l2 * L)
		cx := k * (-lx/(2*l2) + w*mx)
		cz := k * (-lz/(2*l2) + w*mz)

		center := toCamera(cx, 0, cz)
		if center.Z < 0 {
			center = center.Mul(-1)
		}
		normal := toCamera(mx, 0, mz).Mul(1 / math.Sqrt(L))
		if normal.Dot(center) > 0 {
			normal = normal.Mul(-1)
		}
		if !IsFinite(center) || !IsFinite(normal) {
			return CirclePair{}, ErrDegenerateEllipse
		}
		pair[i] = Circle{Center: center, Normal: normal.Normalize(), Radius: radius}
	}
	return pair, nil
}

func column(m *mat.Dense, j int) r3.Vector {
	return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: m.At(2, j)}
}
