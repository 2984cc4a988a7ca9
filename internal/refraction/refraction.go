// Package refraction corrects naive eye-model geometry for corneal
// refraction. The regressors are trained elsewhere; this package only
// evaluates them.
package refraction

import "github.com/golang/geo/r3"

// Corrector maps raw model parameters to refraction-corrected ones.
type Corrector interface {
	// CorrectSphereCenter returns the corrected eyeball center.
	CorrectSphereCenter(center r3.Vector) r3.Vector
	// CorrectPupil returns the corrected gaze direction (not necessarily
	// unit length) and pupil radius for a pupil seen from sphere.
	CorrectPupil(sphere, normal r3.Vector, radius float64) (r3.Vector, float64)
}

// Identity leaves every parameter unchanged.
type Identity struct{}

func (Identity) CorrectSphereCenter(c r3.Vector) r3.Vector { return c }

func (Identity) CorrectPupil(_, normal r3.Vector, radius float64) (r3.Vector, float64) {
	return normal, radius
}
