package search

import (
	"errors"
	"fmt"
	"image"
)

// ErrBadFrame is returned when a frame's buffer does not match its size.
var ErrBadFrame = errors.New("search: bad frame")

// Frame is an 8-bit grayscale image stored row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

// Validate checks the buffer length against the dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("%w: %dx%d with %d bytes", ErrBadFrame, f.Width, f.Height, len(f.Pix))
	}
	return nil
}

// Bounds returns the frame rectangle.
func (f Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }

// At returns the pixel at (x, y); callers keep coordinates in bounds.
func (f Frame) At(x, y int) uint8 { return f.Pix[y*f.Width+x] }

// Gray wraps the frame as an image.Gray without copying.
func (f Frame) Gray() *image.Gray {
	return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: f.Bounds()}
}
