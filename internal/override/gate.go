package override

import (
	"fmt"
	"sort"
	"time"
)

// Window selects how the grant allowance is measured.
type Window string

const (
	// WindowCalendarDay resets at local midnight.
	WindowCalendarDay Window = "calendar_day"
	// WindowRolling24h counts grants in the trailing 24 hours.
	WindowRolling24h Window = "rolling_24h"
	// WindowCalendarWeek resets at local midnight on Monday.
	WindowCalendarWeek Window = "calendar_week"
	// WindowRolling7d counts grants in the trailing 7 days.
	WindowRolling7d Window = "rolling_7d"
)

// ParseWindow converts a configuration string into a Window.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case WindowCalendarDay, WindowRolling24h, WindowCalendarWeek, WindowRolling7d:
		return w, nil
	case "":
		return WindowCalendarDay, nil
	default:
		return "", fmt.Errorf("unknown override window %q", s)
	}
}

// Policy configures the gate.
type Policy struct {
	Window        Window
	MaxGrants     int
	BreakDuration time.Duration
	Location      *time.Location
}

// DefaultPolicy allows one emergency pass per calendar day, each granting
// a one hour break.
func DefaultPolicy() Policy {
	return Policy{
		Window:        WindowCalendarDay,
		MaxGrants:     1,
		BreakDuration: time.Hour,
		Location:      time.Local,
	}
}

// Decision is the outcome of a single request.
type Decision struct {
	Granted bool
	// Remaining is the number of grants left in the current window after
	// this decision.
	Remaining int
	// NextAvailable is when the next grant becomes possible. Zero when a
	// grant is available now.
	NextAvailable time.Time
}

// Gate rate-limits emergency passes. It holds no lock: the owner serialises
// access.
type Gate struct {
	policy Policy
	grants []time.Time
}

// NewGate validates p and returns a gate with no grant history.
func NewGate(p Policy) (*Gate, error) {
	if p.Window == "" {
		p.Window = WindowCalendarDay
	}
	if _, err := ParseWindow(string(p.Window)); err != nil {
		return nil, err
	}
	if p.MaxGrants <= 0 {
		return nil, fmt.Errorf("max grants must be positive, got %d", p.MaxGrants)
	}
	if p.BreakDuration <= 0 {
		return nil, fmt.Errorf("break duration must be positive, got %s", p.BreakDuration)
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	return &Gate{policy: p}, nil
}

// Policy returns the effective policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// BreakDuration is the length of the break that accompanies a grant.
func (g *Gate) BreakDuration() time.Duration {
	return g.policy.BreakDuration
}

// Restore seeds the grant history, typically from storage.
func (g *Gate) Restore(grants []time.Time) {
	g.grants = append(g.grants[:0], grants...)
	sort.Slice(g.grants, func(i, j int) bool { return g.grants[i].Before(g.grants[j]) })
}

// Request evaluates a request at now and records the grant if allowed.
func (g *Gate) Request(now time.Time) Decision {
	d := g.Peek(now)
	if !d.Granted {
		return d
	}
	g.grants = append(g.grants, now)
	g.prune(now)
	d.Remaining--
	if d.Remaining == 0 {
		d.NextAvailable = g.nextAvailable(now)
	}
	return d
}

// Peek evaluates a request at now without recording anything.
func (g *Gate) Peek(now time.Time) Decision {
	used := g.UsedInWindow(now)
	if used >= g.policy.MaxGrants {
		return Decision{Granted: false, Remaining: 0, NextAvailable: g.nextAvailable(now)}
	}
	return Decision{Granted: true, Remaining: g.policy.MaxGrants - used}
}

// UsedInWindow returns the number of grants counted against the window
// containing now.
func (g *Gate) UsedInWindow(now time.Time) int {
	start := g.windowStart(now)
	n := 0
	for _, at := range g.grants {
		if !at.Before(start) && !at.After(now) {
			n++
		}
	}
	return n
}

// LastGrant returns the most recent grant, if any.
func (g *Gate) LastGrant() (time.Time, bool) {
	if len(g.grants) == 0 {
		return time.Time{}, false
	}
	return g.grants[len(g.grants)-1], true
}

// Grants returns a copy of the retained grant history.
func (g *Gate) Grants() []time.Time {
	return append([]time.Time(nil), g.grants...)
}

// Retention is how far back grants can still influence a decision.
func (g *Gate) Retention() time.Duration {
	switch g.policy.Window {
	case WindowCalendarWeek, WindowRolling7d:
		return 8 * 24 * time.Hour
	default:
		return 2 * 24 * time.Hour
	}
}

func (g *Gate) windowStart(now time.Time) time.Time {
	local := now.In(g.policy.Location)
	switch g.policy.Window {
	case WindowRolling24h:
		return now.Add(-24 * time.Hour)
	case WindowRolling7d:
		return now.Add(-7 * 24 * time.Hour)
	case WindowCalendarWeek:
		midnight := startOfDay(local)
		offset := (int(midnight.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset)
	default:
		return startOfDay(local)
	}
}

func (g *Gate) nextAvailable(now time.Time) time.Time {
	start := g.windowStart(now)
	switch g.policy.Window {
	case WindowRolling24h, WindowRolling7d:
		// The oldest grant inside the window has to age out.
		span := now.Sub(start)
		var inWindow []time.Time
		for _, at := range g.grants {
			if !at.Before(start) && !at.After(now) {
				inWindow = append(inWindow, at)
			}
		}
		idx := len(inWindow) - g.policy.MaxGrants
		if idx < 0 {
			return time.Time{}
		}
		return inWindow[idx].Add(span)
	case WindowCalendarWeek:
		return start.AddDate(0, 0, 7)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func (g *Gate) prune(now time.Time) {
	cutoff := now.Add(-g.Retention())
	kept := g.grants[:0]
	for _, at := range g.grants {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	g.grants = kept
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
