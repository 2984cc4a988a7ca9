package observation

import (
	"cmp"
	"iter"
	"math"
	"slices"
)

// Storage is a bounded working set of observations used for fitting.
type Storage interface {
	// Add stores o unless its confidence is below the storage threshold or
	// NaN.
	Add(o *Observation) bool
	// All yields retained observations in insertion order.
	All() iter.Seq[*Observation]
	Count() int
	Reset()
}

// BufferedStorage keeps the most recent observations in a sliding window.
type BufferedStorage struct {
	threshold float64
	buf       *ring[*Observation]
}

// NewBufferedStorage returns a FIFO window of the given length.
func NewBufferedStorage(threshold float64, length int) *BufferedStorage {
	return &BufferedStorage{threshold: threshold, buf: newRing[*Observation](max(length, 1))}
}

func (s *BufferedStorage) Add(o *Observation) bool {
	if !(o.Confidence >= s.threshold) {
		return false
	}
	s.buf.push(o)
	return true
}

func (s *BufferedStorage) All() iter.Seq[*Observation] { return s.buf.all() }
func (s *BufferedStorage) Count() int                  { return s.buf.len() }
func (s *BufferedStorage) Reset()                      { s.buf.reset() }

// BinnedConfig parameterizes a BinnedStorage.
type BinnedConfig struct {
	Threshold float64
	Bins      int
	// BinBufferLength caps how many observations each bin retains.
	BinBufferLength int
	// ForgetMinTime is the age (seconds, relative to the newest observation)
	// beyond which observations may be forgotten.
	ForgetMinTime float64
	// ForgetMinObservations is the total count that must be exceeded before
	// anything is forgotten.
	ForgetMinObservations int
}

type binnedEntry struct {
	obs *Observation
	seq uint64
}

// BinnedStorage spreads observations over horizontal gaze-direction bins so
// that fitting sees broad coverage rather than only recent frames.
type BinnedStorage struct {
	cfg   BinnedConfig
	bins  []*ring[binnedEntry]
	seq   uint64
	count int
}

func NewBinnedStorage(cfg BinnedConfig) *BinnedStorage {
	cfg.Bins = max(cfg.Bins, 1)
	cfg.BinBufferLength = max(cfg.BinBufferLength, 1)
	s := &BinnedStorage{cfg: cfg, bins: make([]*ring[binnedEntry], cfg.Bins)}
	for i := range s.bins {
		s.bins[i] = newRing[binnedEntry](cfg.BinBufferLength)
	}
	return s
}

// BinIndex maps an observation to its bin from the direction of its 2D gaze
// line.
func (s *BinnedStorage) BinIndex(o *Observation) int {
	d := o.Gaze2D.Direction
	a := math.Atan2(d.Y, d.X)
	idx := int(math.Floor((a + math.Pi) / (2 * math.Pi) * float64(s.cfg.Bins)))
	return min(max(idx, 0), s.cfg.Bins-1)
}

func (s *BinnedStorage) Add(o *Observation) bool {
	if !(o.Confidence >= s.cfg.Threshold) {
		return false
	}
	s.seq++
	if _, evicted := s.bins[s.BinIndex(o)].push(binnedEntry{obs: o, seq: s.seq}); !evicted {
		s.count++
	}
	s.forget(o.Timestamp)
	return true
}

// forget drops the globally oldest observations while the storage holds more
// than ForgetMinObservations and the oldest is older than ForgetMinTime.
func (s *BinnedStorage) forget(now float64) {
	for s.count > s.cfg.ForgetMinObservations {
		oldest := -1
		var oldestSeq uint64
		for i, b := range s.bins {
			e, ok := b.front()
			if ok && (oldest < 0 || e.seq < oldestSeq) {
				oldest, oldestSeq = i, e.seq
			}
		}
		if oldest < 0 {
			return
		}
		e, _ := s.bins[oldest].front()
		if now-e.obs.Timestamp <= s.cfg.ForgetMinTime {
			return
		}
		s.bins[oldest].popFront()
		s.count--
	}
}

func (s *BinnedStorage) All() iter.Seq[*Observation] {
	return func(yield func(*Observation) bool) {
		entries := make([]binnedEntry, 0, s.count)
		for _, b := range s.bins {
			entries = slices.AppendSeq(entries, b.all())
		}
		slices.SortFunc(entries, func(a, b binnedEntry) int { return cmp.Compare(a.seq, b.seq) })
		for _, e := range entries {
			if !yield(e.obs) {
				return
			}
		}
	}
}

func (s *BinnedStorage) Count() int { return s.count }

func (s *BinnedStorage) Reset() {
	for _, b := range s.bins {
		b.reset()
	}
	s.count, s.seq = 0, 0
}

// BinCounts reports per-bin occupancy.
func (s *BinnedStorage) BinCounts() []int {
	out := make([]int, len(s.bins))
	for i, b := range s.bins {
		out[i] = b.len()
	}
	return out
}
