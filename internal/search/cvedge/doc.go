// Package cvedge extracts edges with OpenCV's Canny detector. It needs cgo,
// an OpenCV installation and the gocv build tag; the search package itself
// stays pure Go.
package cvedge
