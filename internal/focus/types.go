package focus

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/focusguard/internal/analytics"
)

// Enforcer applies and lifts restrictions on the host.
// Implementations must be idempotent: applying the same sets twice, or
// removing when nothing is restricted, succeeds.
type Enforcer interface {
	ApplyRestrictions(ctx context.Context, apps, sites []string) error
	RemoveRestrictions(ctx context.Context) error
	// Refresh re-asserts whatever the enforcer currently holds.
	Refresh(ctx context.Context) error
}

// PreferenceStore provides the user's selections and receives the
// scheduler's persisted state.
type PreferenceStore interface {
	SelectedApps(ctx context.Context) ([]string, error)
	SelectedSites(ctx context.Context) ([]string, error)
	IncrementAnalytics(ctx context.Context, delta analytics.Delta) error
	RecordOverrideGrant(ctx context.Context, at time.Time, retention time.Duration) error
}

// Notifier delivers user-facing notices. Optional.
type Notifier interface {
	Notify(title, message string) error
}

// State is the coarse scheduler state.
type State int

const (
	StateIdle State = iota
	StateRestricting
	StateOnBreak
)

func (s State) String() string {
	switch s {
	case StateRestricting:
		return "restricting"
	case StateOnBreak:
		return "on_break"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "restricting":
		*s = StateRestricting
	case "on_break":
		*s = StateOnBreak
	default:
		return fmt.Errorf("unknown state %q", string(b))
	}
	return nil
}

// BreakKind records why restrictions are suspended.
type BreakKind string

const (
	BreakGrace     BreakKind = "grace"
	BreakUser      BreakKind = "user"
	BreakEmergency BreakKind = "emergency"
)

// EndReason records why a session ended.
type EndReason string

const (
	ReasonCompleted EndReason = "completed"
	ReasonStopped   EndReason = "stopped"
	ReasonShutdown  EndReason = "shutdown"
)

// Session is a running focus session.
type Session struct {
	ID               string    `json:"id"`
	Tier             Tier      `json:"tier"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	OverrideAttempts int       `json:"override_attempts"`
}

// Break is a period during which restrictions are lifted.
type Break struct {
	Kind      BreakKind `json:"kind"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Status is a read-only projection of the scheduler.
type Status struct {
	State                 State    `json:"state"`
	IsActive              bool     `json:"is_active"`
	IsInGracePeriod       bool     `json:"is_in_grace_period"`
	RemainingSeconds      int64    `json:"remaining_seconds"`
	BreakRemainingSeconds int64    `json:"break_remaining_seconds"`
	Session               *Session `json:"session,omitempty"`
	Break                 *Break   `json:"break,omitempty"`
	EnforcementHealthy    bool     `json:"enforcement_healthy"`
}

// PassResult is the outcome of an emergency pass request.
type PassResult struct {
	Granted       bool      `json:"granted"`
	BreakEnd      time.Time `json:"break_end,omitempty"`
	Remaining     int       `json:"remaining"`
	NextAvailable time.Time `json:"next_available,omitempty"`
}
