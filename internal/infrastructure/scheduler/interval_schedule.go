package scheduler

import (
	"fmt"
	"time"
)

// minInterval is the floor for interval schedules. Anything tighter would
// have the sweep re-entering before a single studio poll cycle completes.
const minInterval = time.Second

// IntervalSchedule fires a fixed duration after each run. Unlike a cron
// expression it drifts with execution time, which is what the stale-card
// sweep wants: back-to-back sweeps of a large backlog never overlap.
type IntervalSchedule struct {
	interval time.Duration
}

// NewIntervalSchedule creates a schedule that fires every interval,
// clamped to a one second minimum.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval < minInterval {
		interval = minInterval
	}
	return &IntervalSchedule{interval: interval}
}

// Next returns the firing after t.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.interval)
}
