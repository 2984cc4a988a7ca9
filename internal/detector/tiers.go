package detector

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/eye3d/internal/eyemodel"
	"github.com/banshee-data/eye3d/internal/monitoring"
	"github.com/banshee-data/eye3d/internal/observation"
)

// tierSnapshot is a copy of one model tier's state.
type tierSnapshot struct {
	est   eyemodel.Estimate
	debug eyemodel.DebugInfo
	count int
	bins  []int
}

func snapshotOf(m *eyemodel.Model) *tierSnapshot {
	s := &tierSnapshot{est: m.Estimate(), debug: m.DebugInfo(), count: m.Count()}
	if b, ok := m.Storage().(*observation.BinnedStorage); ok {
		s.bins = b.BinCounts()
	}
	return s
}

// refitRequest names the tiers that are due at one frame.
type refitRequest struct {
	ultra, long bool
}

// longTerm runs the long-term and ultra-long-term tiers, inline or on a
// worker.
type longTerm interface {
	// add stores o in both tiers and runs or requests the due refits.
	add(o *observation.Observation, due func() refitRequest)
	long() *tierSnapshot
	ultra() *tierSnapshot
	close()
}

// fitTiers performs one round of refits on the two long-running tiers.
// The long-term fit is pulled towards the ultra-long-term center.
func fitTiers(long, ultra *eyemodel.Model, req refitRequest, cfg Config) {
	if req.ultra {
		if _, err := ultra.EstimateSphereCenter(eyemodel.FitOptions{ResidualCutoff: cfg.ResidualCutoff}); err != nil {
			monitoring.Logf("detector: ultra-long-term fit: %v", err)
		}
	}
	if req.long {
		prior := ultra.SphereCenter()
		opts := eyemodel.FitOptions{
			Prior:          &prior,
			PriorStrength:  cfg.LongTermPriorStrength,
			ResidualCutoff: cfg.ResidualCutoff,
		}
		if _, err := long.EstimateSphereCenter(opts); err != nil {
			monitoring.Logf("detector: long-term fit: %v", err)
		}
	}
}

type blockingTiers struct {
	cfg     Config
	lt, ult *eyemodel.Model
}

func (b *blockingTiers) add(o *observation.Observation, due func() refitRequest) {
	b.lt.Add(o)
	b.ult.Add(o)
	if b.lt.Count() == 0 || b.ult.Count() == 0 {
		return
	}
	fitTiers(b.lt, b.ult, due(), b.cfg)
}

func (b *blockingTiers) long() *tierSnapshot  { return snapshotOf(b.lt) }
func (b *blockingTiers) ultra() *tierSnapshot { return snapshotOf(b.ult) }
func (b *blockingTiers) close()               {}

// asyncTiers hands observations and refit requests to a worker goroutine
// that exclusively owns both models. Snapshots are published after every
// job; a tier with a refit in flight is not asked again until it finishes.
type asyncTiers struct {
	cfg     Config
	lt, ult *eyemodel.Model

	jobs chan asyncJob
	done chan struct{}
	once sync.Once

	longSnap, ultraSnap         atomic.Pointer[tierSnapshot]
	longInFlight, ultraInFlight atomic.Bool
	dropped                     atomic.Int64
}

type asyncJob struct {
	obs *observation.Observation
	req refitRequest
}

// asyncQueueLength bounds the observations waiting for the worker.
const asyncQueueLength = 64

func newAsyncTiers(cfg Config, lt, ult *eyemodel.Model) *asyncTiers {
	a := &asyncTiers{
		cfg:  cfg,
		lt:   lt,
		ult:  ult,
		jobs: make(chan asyncJob, asyncQueueLength),
		done: make(chan struct{}),
	}
	a.longSnap.Store(snapshotOf(lt))
	a.ultraSnap.Store(snapshotOf(ult))
	go a.run()
	return a
}

func (a *asyncTiers) run() {
	defer close(a.done)
	for j := range a.jobs {
		a.lt.Add(j.obs)
		a.ult.Add(j.obs)
		if a.lt.Count() > 0 && a.ult.Count() > 0 {
			fitTiers(a.lt, a.ult, j.req, a.cfg)
		}
		a.longSnap.Store(snapshotOf(a.lt))
		a.ultraSnap.Store(snapshotOf(a.ult))
		if j.req.ultra {
			a.ultraInFlight.Store(false)
		}
		if j.req.long {
			a.longInFlight.Store(false)
		}
	}
}

// add never blocks. The due check uses the latest published counts, so a
// freshly reset detector refits only once the worker has stored something.
func (a *asyncTiers) add(o *observation.Observation, due func() refitRequest) {
	var req refitRequest
	if a.longSnap.Load().count > 0 && a.ultraSnap.Load().count > 0 {
		req = due()
		req.ultra = req.ultra && a.ultraInFlight.CompareAndSwap(false, true)
		req.long = req.long && a.longInFlight.CompareAndSwap(false, true)
	}
	select {
	case a.jobs <- asyncJob{obs: o.Clone(), req: req}:
	default:
		if req.ultra {
			a.ultraInFlight.Store(false)
		}
		if req.long {
			a.longInFlight.Store(false)
		}
		n := a.dropped.Add(1)
		monitoring.Debugf("detector: worker busy, dropped observation at %.3f (%d dropped)", o.Timestamp, n)
	}
}

func (a *asyncTiers) long() *tierSnapshot  { return a.longSnap.Load() }
func (a *asyncTiers) ultra() *tierSnapshot { return a.ultraSnap.Load() }

// close stops the worker after it drains the queue.
func (a *asyncTiers) close() {
	a.once.Do(func() {
		close(a.jobs)
		<-a.done
	})
}
