package testutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream(t *testing.T) {
	t.Parallel()
	s := DefaultStream()
	s.Render = false

	var low int
	for i := range 100 {
		f := s.Next()
		assert.InDelta(t, float64(i)/30, f.Timestamp, 1e-12)
		assert.InDelta(t, 1, f.Gaze.Norm(), 1e-12)
		assert.InDelta(t, 20*math.Pi/180, math.Acos(-f.Gaze.Z), 1e-9)
		assert.Nil(t, f.Pix)
		if f.Confidence < 1 {
			require.GreaterOrEqual(t, i, 50, "no low-confidence frames during the first revolution")
			assert.Zero(t, i%7)
			low++
		}
	}
	assert.Equal(t, 100, s.Count())
	assert.Equal(t, 7, low) // 56, 63, 70, 77, 84, 91, 98
}

func TestStream_Render(t *testing.T) {
	t.Parallel()
	s := DefaultStream()
	f := s.Next()
	require.Len(t, f.Pix, 400*400)
	cx, cy := int(f.Ellipse.Center[0]), int(f.Ellipse.Center[1])
	assert.Equal(t, uint8(20), f.Pix[cy*400+cx])
	assert.Equal(t, uint8(180), f.Pix[0])
}
