package analytics

import (
	"sort"
	"sync"
	"time"
)

// DayFormat is the layout used for per-day keys.
const DayFormat = "2006-01-02"

// DailyStats holds the counters recorded for a single calendar day.
type DailyStats struct {
	FocusSeconds       int64 `json:"focus_seconds"`
	CompletedSessions  int64 `json:"completed_sessions"`
	NaturalCompletions int64 `json:"natural_completions"`
	BreaksTaken        int64 `json:"breaks_taken"`
	OverrideAttempts   int64 `json:"override_attempts"`
	OverridesGranted   int64 `json:"overrides_granted"`
}

// Totals holds lifetime counters.
type Totals struct {
	FocusSeconds      int64 `json:"focus_seconds"`
	CompletedSessions int64 `json:"completed_sessions"`
	BreaksTaken       int64 `json:"breaks_taken"`
	OverrideAttempts  int64 `json:"override_attempts"`
	OverridesGranted  int64 `json:"overrides_granted"`
}

// Snapshot is a point-in-time copy of the ledger.
type Snapshot struct {
	Lifetime Totals                `json:"lifetime"`
	Days     map[string]DailyStats `json:"days"`
}

// Delta is a set of increments applied to a single day and to the lifetime
// totals. It is what storage backends persist.
type Delta struct {
	Day                string
	FocusSeconds       int64
	CompletedSessions  int64
	NaturalCompletions int64
	BreaksTaken        int64
	OverrideAttempts   int64
	OverridesGranted   int64
}

// IsZero reports whether the delta carries no increments.
func (d Delta) IsZero() bool {
	return d.FocusSeconds == 0 && d.CompletedSessions == 0 && d.NaturalCompletions == 0 &&
		d.BreaksTaken == 0 && d.OverrideAttempts == 0 && d.OverridesGranted == 0
}

// DayKey returns the calendar day key for t in t's location.
func DayKey(t time.Time) string {
	return t.Format(DayFormat)
}

// Ledger aggregates focus statistics per day and over the lifetime of the
// installation. Entries are never removed.
type Ledger struct {
	mu       sync.RWMutex
	lifetime Totals
	days     map[string]DailyStats
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{days: make(map[string]DailyStats)}
}

// Restore replaces the ledger contents with a persisted snapshot.
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lifetime = s.Lifetime
	l.days = make(map[string]DailyStats, len(s.Days))
	for k, v := range s.Days {
		l.days[k] = v
	}
}

// Snapshot returns a deep copy of the ledger.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	days := make(map[string]DailyStats, len(l.days))
	for k, v := range l.days {
		days[k] = v
	}
	return Snapshot{Lifetime: l.lifetime, Days: days}
}

// RecordSessionCompletion adds elapsed focus time and one completed session
// to the day containing at. Negative durations are clamped to zero.
func (l *Ledger) RecordSessionCompletion(at time.Time, elapsed time.Duration, natural bool) Delta {
	seconds := int64(elapsed / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	d := Delta{Day: DayKey(at), FocusSeconds: seconds, CompletedSessions: 1}
	if natural {
		d.NaturalCompletions = 1
	}
	l.Apply(d)
	return d
}

// RecordBreak counts one break on the day containing at.
func (l *Ledger) RecordBreak(at time.Time) Delta {
	d := Delta{Day: DayKey(at), BreaksTaken: 1}
	l.Apply(d)
	return d
}

// RecordOverrideAttempt counts an emergency pass request, granted or not.
func (l *Ledger) RecordOverrideAttempt(at time.Time, granted bool) Delta {
	d := Delta{Day: DayKey(at), OverrideAttempts: 1}
	if granted {
		d.OverridesGranted = 1
	}
	l.Apply(d)
	return d
}

// EnsureDay creates a zero-valued entry for the day containing at if one
// does not exist yet. The returned delta is empty.
func (l *Ledger) EnsureDay(at time.Time) Delta {
	d := Delta{Day: DayKey(at)}
	l.Apply(d)
	return d
}

// Apply adds d to the day it names and to the lifetime totals.
func (l *Ledger) Apply(d Delta) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.days[d.Day]
	day.FocusSeconds += d.FocusSeconds
	day.CompletedSessions += d.CompletedSessions
	day.NaturalCompletions += d.NaturalCompletions
	day.BreaksTaken += d.BreaksTaken
	day.OverrideAttempts += d.OverrideAttempts
	day.OverridesGranted += d.OverridesGranted
	l.days[d.Day] = day

	l.lifetime.FocusSeconds += d.FocusSeconds
	l.lifetime.CompletedSessions += d.CompletedSessions
	l.lifetime.BreaksTaken += d.BreaksTaken
	l.lifetime.OverrideAttempts += d.OverrideAttempts
	l.lifetime.OverridesGranted += d.OverridesGranted
}

// Day returns the stats for the day containing at.
func (l *Ledger) Day(at time.Time) DailyStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.days[DayKey(at)]
}

// Lifetime returns the lifetime totals.
func (l *Ledger) Lifetime() Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lifetime
}

// DayEntry pairs a day key with its stats.
type DayEntry struct {
	Day   string     `json:"day"`
	Stats DailyStats `json:"stats"`
}

// Recent returns the last n days ending with the day containing at, oldest
// first. Days without an entry are reported as zero.
func (l *Ledger) Recent(at time.Time, n int) []DayEntry {
	if n <= 0 {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]DayEntry, 0, n)
	start := at.AddDate(0, 0, -(n - 1))
	for i := 0; i < n; i++ {
		key := DayKey(start.AddDate(0, 0, i))
		out = append(out, DayEntry{Day: key, Stats: l.days[key]})
	}
	return out
}

// Days returns all recorded day keys in ascending order.
func (l *Ledger) Days() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]string, 0, len(l.days))
	for k := range l.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
