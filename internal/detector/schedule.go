package detector

import "time"

// UpdateSchedule decides when a model tier refits. Every frame is due
// during the warmup that starts with the first query; afterwards the first
// frame is due and then one frame per interval. Times are frame timestamps
// in seconds.
type UpdateSchedule struct {
	interval float64
	warmup   float64

	started     bool
	warmupStart float64
	hasLast     bool
	lastUpdate  float64
	paused      bool
}

func NewUpdateSchedule(interval, warmup time.Duration) *UpdateSchedule {
	return &UpdateSchedule{interval: interval.Seconds(), warmup: warmup.Seconds()}
}

// Pause makes every query report not due until Resume.
func (s *UpdateSchedule) Pause() { s.paused = true }

// Resume lifts a pause; the next post-warmup query is due immediately.
func (s *UpdateSchedule) Resume() {
	s.paused = false
	s.hasLast = false
}

// IsUpdateDue reports whether the tier should refit at now.
func (s *UpdateSchedule) IsUpdateDue(now float64) bool {
	if s.paused {
		return false
	}
	if !s.started {
		s.started = true
		s.warmupStart = now
		return true
	}
	if now-s.warmupStart < s.warmup {
		return true
	}
	if !s.hasLast {
		s.hasLast = true
		s.lastUpdate = now
		return true
	}
	if now-s.lastUpdate > s.interval {
		s.lastUpdate = now
		return true
	}
	return false
}
