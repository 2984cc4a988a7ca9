//go:build gocv

package main

import (
	"github.com/banshee-data/eye3d/internal/search"
	"github.com/banshee-data/eye3d/internal/search/cvedge"
)

func cannyExtractor() (search.EdgeExtractor, error) {
	return cvedge.Default(), nil
}
