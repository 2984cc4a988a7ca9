package detector

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eye3d/internal/eyemodel"
	"github.com/banshee-data/eye3d/internal/observation"
	"github.com/banshee-data/eye3d/internal/search"
	"github.com/banshee-data/eye3d/internal/testutil"
)

// idleAsyncTiers builds asyncTiers whose worker has not been started, with
// both tiers published as non-empty so that add asks for refits.
func idleAsyncTiers(e testutil.Eye, queue int) *asyncTiers {
	mcfg := eyemodel.Config{FocalLength: e.Focal}
	a := &asyncTiers{
		cfg:  DefaultConfig(),
		lt:   eyemodel.New(mcfg, observation.NewBufferedStorage(0, 100)),
		ult:  eyemodel.New(mcfg, observation.NewBufferedStorage(0, 100)),
		jobs: make(chan asyncJob, queue),
		done: make(chan struct{}),
	}
	a.longSnap.Store(&tierSnapshot{count: 1})
	a.ultraSnap.Store(&tierSnapshot{count: 1})
	return a
}

func bothDue() refitRequest { return refitRequest{ultra: true, long: true} }

func TestAsyncTiers_OneRefitInFlightPerTier(t *testing.T) {
	t.Parallel()
	e := testutil.DefaultEye()
	a := idleAsyncTiers(e, 4)

	gazes := testutil.GazeCone(3, 0.3)
	for i, g := range gazes {
		o, err := e.Observation(g, 1, float64(i)/fps)
		require.NoError(t, err)
		a.add(o, bothDue)
	}
	require.Len(t, a.jobs, 3)
	assert.Zero(t, a.dropped.Load())
	assert.True(t, a.longInFlight.Load())
	assert.True(t, a.ultraInFlight.Load())

	var queued []asyncJob
	for range 3 {
		queued = append(queued, <-a.jobs)
	}
	assert.Equal(t, refitRequest{ultra: true, long: true}, queued[0].req)
	assert.Equal(t, refitRequest{}, queued[1].req, "tiers already in flight are not asked again")
	assert.Equal(t, refitRequest{}, queued[2].req)

	// The worker releases both tiers once the refit has run.
	for _, j := range queued {
		a.jobs <- j
	}
	go a.run()
	a.close()
	assert.False(t, a.longInFlight.Load())
	assert.False(t, a.ultraInFlight.Load())
	assert.Equal(t, 3, a.long().count)
	assert.Equal(t, 3, a.ultra().count)
}

func TestAsyncTiers_DroppedJobReleasesOnlyItsClaims(t *testing.T) {
	t.Parallel()
	e := testutil.DefaultEye()
	o, err := e.Observation(r3.Vector{X: 0.1, Z: -1}, 1, 0)
	require.NoError(t, err)

	t.Run("claim released", func(t *testing.T) {
		t.Parallel()
		a := idleAsyncTiers(e, 0)
		a.add(o, bothDue)
		a.add(o, bothDue)
		assert.Equal(t, int64(2), a.dropped.Load())
		assert.False(t, a.longInFlight.Load())
		assert.False(t, a.ultraInFlight.Load())
	})

	t.Run("foreign claim kept", func(t *testing.T) {
		t.Parallel()
		a := idleAsyncTiers(e, 1)
		a.add(o, bothDue)
		a.add(o, bothDue)
		assert.Equal(t, int64(1), a.dropped.Load())
		assert.True(t, a.longInFlight.Load(), "the queued job still owns the long-term refit")
		assert.True(t, a.ultraInFlight.Load())
		assert.Equal(t, refitRequest{ultra: true, long: true}, (<-a.jobs).req)
	})
}

// fixedTiers publishes the same snapshot for both long-running tiers and
// ignores observations.
type fixedTiers struct{ snap *tierSnapshot }

func (f fixedTiers) add(*observation.Observation, func() refitRequest) {}
func (f fixedTiers) long() *tierSnapshot                               { return f.snap }
func (f fixedTiers) ultra() *tierSnapshot                              { return f.snap }
func (f fixedTiers) close()                                            {}

func TestUpdateAndDetect_FailedFitKeepsEstimate(t *testing.T) {
	t.Parallel()
	e := testutil.DefaultEye()
	d := newDetector(t, e)
	gazes := testutil.GazeCone(30, 20*math.Pi/180)
	feed(t, d, e, gazes, 0, DetectOptions{})

	before := d.State()
	require.InDelta(t, 0, before.ShortTerm.SphereCenter.Sub(e.Sphere).Norm(), 0.05)

	// A non-finite long-term center makes the short-term prior unsolvable.
	broken := before.LongTerm
	broken.SphereCenter = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	d.tiers.close()
	d.tiers = fixedTiers{snap: &tierSnapshot{est: broken, count: 1}}

	for i, g := range gazes[:5] {
		_, err := d.UpdateAndDetect(datum(e, g, 1, 1+float64(i)/fps), search.Frame{}, DetectOptions{})
		require.NoError(t, err)
		assert.Equal(t, before.ShortTerm, d.State().ShortTerm, "frame %d", i)
	}
	assert.Equal(t, before.Counts[0], d.State().Counts[0])
}

func TestUpdateAndDetect_AsyncTiersDrainOnClose(t *testing.T) {
	t.Parallel()
	e := testutil.DefaultEye()
	d := newDetector(t, e, WithMode(ModeAsync))
	feed(t, d, e, testutil.GazeCone(20, 0.3), 0, DetectOptions{})
	a, ok := d.tiers.(*asyncTiers)
	require.True(t, ok)

	d.Close()
	assert.False(t, a.longInFlight.Load())
	assert.False(t, a.ultraInFlight.Load())
	assert.Equal(t, int64(20), int64(a.long().count)+a.dropped.Load(), "every observation is stored or counted as dropped")
}
