package mqtt

import (
	"sync"
	"time"
)

// DailyCounters counts events per kind and resets at local midnight.
// It is safe for concurrent use.
type DailyCounters struct {
	mu       sync.Mutex
	counts   map[string]int64
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyCounters creates counters using loc for midnight detection.
// If loc is nil, [time.Local] is used.
func NewDailyCounters(loc *time.Location) *DailyCounters {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyCounters{
		counts: make(map[string]int64),
		loc:    loc,
		now:    time.Now,
	}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Inc adds one to kind.
func (d *DailyCounters) Inc(kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.counts[kind]++
}

// Snapshot returns a copy of today's counts.
func (d *DailyCounters) Snapshot() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	out := make(map[string]int64, len(d.counts))
	for k, v := range d.counts {
		out[k] = v
	}
	return out
}

// maybeReset clears the counts when the local day changed. Must be
// called with d.mu held.
func (d *DailyCounters) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		clear(d.counts)
		d.resetDay = today
	}
}
