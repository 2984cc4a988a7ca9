//go:build !gocv

package main

import (
	"errors"

	"github.com/banshee-data/eye3d/internal/search"
)

func cannyExtractor() (search.EdgeExtractor, error) {
	return nil, errors.New("-canny needs a build with -tags gocv and OpenCV installed")
}
