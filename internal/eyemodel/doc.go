// Package eyemodel fits an eyeball sphere center to a set of pupil
// observations and predicts pupil circles on that sphere.
//
// Each observation contributes two candidate Dierkes lines, one per
// unprojection solution. A fit projects the sphere center into the image
// from the 2D gaze lines (or takes it as a prior), uses it to pick one line
// per observation, and solves the least-squares intersection of the chosen
// lines with an optional Tikhonov pull towards a 3D prior.
//
// A Model is not safe for concurrent use; callers that refit in the
// background hand the whole Model to one goroutine and share only the
// Estimate it returns.
package eyemodel
