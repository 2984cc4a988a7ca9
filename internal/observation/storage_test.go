package observation

import (
	"math"
	"slices"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eye3d/internal/geometry"
)

func stub(ts, conf float64, dir r2.Point) *Observation {
	return &Observation{
		Timestamp:  ts,
		Confidence: conf,
		Gaze2D:     geometry.Line2D{Direction: dir},
	}
}

func timestamps(s Storage) []float64 {
	var out []float64
	for o := range s.All() {
		out = append(out, o.Timestamp)
	}
	return out
}

// --- BufferedStorage ---

func TestBufferedStorage_EvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewBufferedStorage(0.5, 3)
	for i := range 4 {
		require.True(t, s.Add(stub(float64(i), 1, r2.Point{X: 1})))
		assert.LessOrEqual(t, s.Count(), 3)
	}
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, []float64{1, 2, 3}, timestamps(s))
}

func TestBufferedStorage_Threshold(t *testing.T) {
	t.Parallel()
	s := NewBufferedStorage(0.8, 10)
	assert.False(t, s.Add(stub(0, 0.79, r2.Point{X: 1})))
	assert.True(t, s.Add(stub(1, 0.8, r2.Point{X: 1})))
	assert.Equal(t, 1, s.Count())

	s.Reset()
	assert.Zero(t, s.Count())
	assert.Empty(t, timestamps(s))
}

func TestStorage_RejectsNaNConfidence(t *testing.T) {
	t.Parallel()
	for name, s := range map[string]Storage{
		"buffered": NewBufferedStorage(0.8, 10),
		"binned":   NewBinnedStorage(BinnedConfig{Threshold: 0.98, Bins: 10, BinBufferLength: 5, ForgetMinTime: 5, ForgetMinObservations: 100}),
	} {
		assert.False(t, s.Add(stub(0, math.NaN(), r2.Point{X: 1})), name)
		assert.Zero(t, s.Count(), name)
	}
	// A zero threshold still rejects NaN.
	s := NewBufferedStorage(0, 10)
	assert.False(t, s.Add(stub(0, math.NaN(), r2.Point{X: 1})))
	assert.True(t, s.Add(stub(1, 0, r2.Point{X: 1})))
}

// --- BinnedStorage ---

func TestBinnedStorage_Threshold(t *testing.T) {
	t.Parallel()
	s := NewBinnedStorage(BinnedConfig{Threshold: 0.98, Bins: 10, BinBufferLength: 5, ForgetMinTime: 5, ForgetMinObservations: 100})
	assert.False(t, s.Add(stub(0, 0.5, r2.Point{X: 1})))
	assert.Zero(t, s.Count())
}

func TestBinnedStorage_BinIndex(t *testing.T) {
	t.Parallel()
	s := NewBinnedStorage(BinnedConfig{Bins: 4, BinBufferLength: 1})
	assert.Equal(t, 0, s.BinIndex(stub(0, 1, r2.Point{X: -1, Y: -0.01})))
	assert.Equal(t, 1, s.BinIndex(stub(0, 1, r2.Point{X: 0.01, Y: -1})))
	assert.Equal(t, 2, s.BinIndex(stub(0, 1, r2.Point{X: 1, Y: 0.01})))
	assert.Equal(t, 3, s.BinIndex(stub(0, 1, r2.Point{X: -1, Y: 0})))
}

func TestBinnedStorage_PerBinCap(t *testing.T) {
	t.Parallel()
	s := NewBinnedStorage(BinnedConfig{Bins: 4, BinBufferLength: 2, ForgetMinTime: 1e9, ForgetMinObservations: 1000})
	right := r2.Point{X: 1, Y: 0.01}
	left := r2.Point{X: -1, Y: 0.01}
	s.Add(stub(0, 1, right))
	s.Add(stub(1, 1, left))
	s.Add(stub(2, 1, right))
	s.Add(stub(3, 1, right))

	assert.Equal(t, 3, s.Count())
	assert.Equal(t, []int{0, 0, 2, 1}, s.BinCounts())
	assert.Equal(t, []float64{1, 2, 3}, timestamps(s))
}

func TestBinnedStorage_ForgetNeedsBothConditions(t *testing.T) {
	t.Parallel()
	dirs := []r2.Point{{X: 1, Y: 0.01}, {X: 0.01, Y: 1}, {X: -1, Y: 0.01}, {X: 0.01, Y: -1}}
	fill := func(s *BinnedStorage, n int, dt float64) {
		for i := range n {
			s.Add(stub(float64(i)*dt, 1, dirs[i%len(dirs)]))
		}
	}

	t.Run("old but few", func(t *testing.T) {
		t.Parallel()
		s := NewBinnedStorage(BinnedConfig{Bins: 4, BinBufferLength: 100, ForgetMinTime: 1, ForgetMinObservations: 50})
		fill(s, 20, 10)
		assert.Equal(t, 20, s.Count())
	})

	t.Run("many but recent", func(t *testing.T) {
		t.Parallel()
		s := NewBinnedStorage(BinnedConfig{Bins: 4, BinBufferLength: 100, ForgetMinTime: 1000, ForgetMinObservations: 5})
		fill(s, 20, 1)
		assert.Equal(t, 20, s.Count())
	})

	t.Run("many and old", func(t *testing.T) {
		t.Parallel()
		s := NewBinnedStorage(BinnedConfig{Bins: 4, BinBufferLength: 100, ForgetMinTime: 5, ForgetMinObservations: 5})
		fill(s, 20, 1)
		// Newest is t=19; everything at or after t=14 survives.
		got := timestamps(s)
		assert.Equal(t, []float64{14, 15, 16, 17, 18, 19}, got)
		assert.Equal(t, 6, s.Count())
	})

	t.Run("count floor holds", func(t *testing.T) {
		t.Parallel()
		s := NewBinnedStorage(BinnedConfig{Bins: 4, BinBufferLength: 100, ForgetMinTime: 1, ForgetMinObservations: 10})
		fill(s, 30, 10)
		assert.Equal(t, 10, s.Count())
		assert.True(t, slices.IsSorted(timestamps(s)))
	})
}

func TestBinnedStorage_Reset(t *testing.T) {
	t.Parallel()
	s := NewBinnedStorage(BinnedConfig{Bins: 2, BinBufferLength: 3})
	s.Add(stub(0, 1, r2.Point{X: 1}))
	s.Reset()
	assert.Zero(t, s.Count())
	assert.Equal(t, []int{0, 0}, s.BinCounts())
}
