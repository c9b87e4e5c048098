package focus

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveSession is returned by operations that need a running session.
	ErrNoActiveSession = errors.New("focus: no active session")
	// ErrSessionActive is returned when starting a session while one is running.
	ErrSessionActive = errors.New("focus: session already active")
	// ErrNotOnBreak is returned when ending a break that does not exist.
	ErrNotOnBreak = errors.New("focus: not on a break")
	// ErrInvalidDuration is returned for non-positive break durations.
	ErrInvalidDuration = errors.New("focus: duration must be positive")
	// ErrUnknownTier is returned for tiers outside the defined set.
	ErrUnknownTier = errors.New("focus: unknown tier")
	// ErrMissingDependencies is returned by NewScheduler when a collaborator is nil.
	ErrMissingDependencies = errors.New("focus: missing dependencies")
	// ErrStopped is returned once the scheduler has shut down.
	ErrStopped = errors.New("focus: scheduler stopped")
)

// EnforcementError reports a failed call to the enforcer. The state
// transition that caused the call has already happened.
type EnforcementError struct {
	Op  string
	Err error
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("enforcement %s failed: %v", e.Op, e.Err)
}

func (e *EnforcementError) Unwrap() error {
	return e.Err
}
