package focus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/goodtune/focusguard/internal/analytics"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/override"
)

// Options holds optional scheduler settings.
type Options struct {
	Clock        clockwork.Clock
	Logger       zerolog.Logger
	Location     *time.Location
	GracePeriods map[Tier]time.Duration
	Notifier     Notifier
	// EffectTimeout bounds each enforcer or store call.
	EffectTimeout time.Duration
}

type request struct {
	fn   func()
	done chan struct{}
}

// Scheduler owns the focus session state machine. All state is confined to
// a single goroutine; public methods post requests to it and wait for the
// in-memory transition only. Enforcer and store calls are queued and run in
// order on a separate worker.
type Scheduler struct {
	enforcer Enforcer
	prefs    PreferenceStore
	ledger   *analytics.Ledger
	gate     *override.Gate
	notifier Notifier

	clock    clockwork.Clock
	location *time.Location
	grace    map[Tier]time.Duration
	logger   zerolog.Logger

	requests chan request
	quit     chan struct{}
	done     chan struct{}
	effects  *effectQueue

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	// lastEnforcementFailed is written by the effect worker.
	lastEnforcementFailed atomic.Bool

	// Owned by the run goroutine.
	session      *Session
	brk          *Break
	sessionTimer clockwork.Timer
	breakTimer   clockwork.Timer
}

// NewScheduler creates a scheduler. Call Start before use.
func NewScheduler(enforcer Enforcer, prefs PreferenceStore, ledger *analytics.Ledger, gate *override.Gate, opts Options) (*Scheduler, error) {
	var missing []string
	if enforcer == nil {
		missing = append(missing, "enforcer")
	}
	if prefs == nil {
		missing = append(missing, "preference store")
	}
	if ledger == nil {
		missing = append(missing, "ledger")
	}
	if gate == nil {
		missing = append(missing, "override gate")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingDependencies, missing)
	}

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.EffectTimeout <= 0 {
		opts.EffectTimeout = 10 * time.Second
	}

	grace := make(map[Tier]time.Duration, len(opts.GracePeriods))
	for t, d := range opts.GracePeriods {
		if !t.Valid() {
			return nil, fmt.Errorf("grace period: %w: %d", ErrUnknownTier, int(t))
		}
		if d < 0 {
			return nil, fmt.Errorf("grace period for %s: %w", t, ErrInvalidDuration)
		}
		grace[t] = d
	}

	s := &Scheduler{
		enforcer: enforcer,
		prefs:    prefs,
		ledger:   ledger,
		gate:     gate,
		notifier: opts.Notifier,
		clock:    opts.Clock,
		location: opts.Location,
		grace:    grace,
		logger:   opts.Logger.With().Str("component", "scheduler").Logger(),
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.effects = newEffectQueue(opts.EffectTimeout, s.logger, s.recordEffect)

	return s, nil
}

// Start launches the scheduler and effect worker goroutines.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.effects.run()
		go s.run()
		s.logger.Info().Msg("Scheduler started")
	})
}

// Stop ends any active session, stops the scheduler and waits for queued
// side effects to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}

	_ = s.do(ctx, func() {
		if s.session != nil {
			s.endSession(s.clock.Now(), ReasonShutdown)
		}
	})

	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
	s.effects.close()

	select {
	case <-s.effects.drained:
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			s.stopTimer(&s.sessionTimer)
			s.stopTimer(&s.breakTimer)
			return
		case <-timerC(s.sessionTimer):
			s.onSessionTimer()
		case <-timerC(s.breakTimer):
			s.onBreakTimer()
		case req := <-s.requests:
			s.fireDueTimers()
			req.fn()
			close(req.done)
		}
	}
}

// do runs fn on the scheduler goroutine and waits for it to return.
func (s *Scheduler) do(ctx context.Context, fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case s.requests <- req:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

// fireDueTimers processes timers that expired before a request arrived.
// Session expiry is handled first so it wins over a simultaneous break end.
func (s *Scheduler) fireDueTimers() {
	if c := timerC(s.sessionTimer); c != nil {
		select {
		case <-c:
			s.onSessionTimer()
		default:
		}
	}
	if c := timerC(s.breakTimer); c != nil {
		select {
		case <-c:
			s.onBreakTimer()
		default:
		}
	}
}

// StartSession begins a session of the given tier.
func (s *Scheduler) StartSession(ctx context.Context, tier Tier) (Session, error) {
	if !tier.Valid() {
		return Session{}, fmt.Errorf("%w: %d", ErrUnknownTier, int(tier))
	}

	var (
		out    Session
		opErr  error
		logger = s.logger
	)
	err := s.do(ctx, func() {
		if s.session != nil {
			logger.Debug().Str("session", s.session.ID).Msg("Start rejected, session already active")
			opErr = ErrSessionActive
			return
		}

		now := s.clock.Now()
		s.session = &Session{
			ID:        uuid.NewString(),
			Tier:      tier,
			StartTime: now,
			EndTime:   now.Add(tier.Duration()),
		}
		s.sessionTimer = s.clock.NewTimer(tier.Duration())

		if grace := s.grace[tier]; grace > 0 {
			s.armBreak(now, BreakGrace, grace)
		} else {
			s.enqueueApply("session_start")
		}

		metrics.SessionsStarted.WithLabelValues(tier.String()).Inc()
		metrics.SessionActive.Set(1)

		logger.Info().
			Str("session", s.session.ID).
			Str("tier", tier.String()).
			Time("end_time", s.session.EndTime).
			Dur("grace", s.grace[tier]).
			Msg("Focus session started")

		out = *s.session
	})
	if err != nil {
		return Session{}, err
	}
	return out, opErr
}

// StartBreak suspends restrictions for d. Starting a break while on a
// break, including the initial grace period, replaces it.
func (s *Scheduler) StartBreak(ctx context.Context, d time.Duration) (Break, error) {
	if d <= 0 {
		return Break{}, ErrInvalidDuration
	}

	var (
		out   Break
		opErr error
	)
	err := s.do(ctx, func() {
		if s.session == nil {
			opErr = ErrNoActiveSession
			return
		}

		now := s.clock.Now()
		s.beginBreak(now, BreakUser, d)
		s.persist(s.ledger.RecordBreak(now.In(s.location)), "break")

		s.logger.Info().
			Str("session", s.session.ID).
			Dur("duration", d).
			Time("break_end", s.brk.EndTime).
			Msg("Break started")

		out = *s.brk
	})
	if err != nil {
		return Break{}, err
	}
	return out, opErr
}

// EndBreakEarly cancels the current break and re-applies restrictions.
func (s *Scheduler) EndBreakEarly(ctx context.Context) error {
	var opErr error
	err := s.do(ctx, func() {
		switch {
		case s.session == nil:
			opErr = ErrNoActiveSession
		case s.brk == nil:
			opErr = ErrNotOnBreak
		default:
			s.logger.Info().
				Str("session", s.session.ID).
				Str("kind", string(s.brk.Kind)).
				Msg("Break ended early")
			s.resume("end_break_early")
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// StopSession ends the active session, records its focus time and waits
// until the enforcer has been asked to remove restrictions. The session is
// ended even when removal fails; the failure is returned as an
// *EnforcementError.
func (s *Scheduler) StopSession(ctx context.Context) error {
	var (
		wait  <-chan error
		opErr error
	)
	err := s.do(ctx, func() {
		if s.session == nil {
			opErr = ErrNoActiveSession
			return
		}
		wait = s.endSession(s.clock.Now(), ReasonStopped)
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	select {
	case removeErr := <-wait:
		if removeErr != nil {
			return &EnforcementError{Op: "remove", Err: removeErr}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestEmergencyPass asks the override gate for an emergency break.
// Requests while idle are denied without being recorded.
func (s *Scheduler) RequestEmergencyPass(ctx context.Context) (PassResult, error) {
	var out PassResult
	err := s.do(ctx, func() {
		if s.session == nil {
			metrics.OverrideRequests.WithLabelValues("idle").Inc()
			s.logger.Debug().Msg("Emergency pass requested with no active session")
			return
		}

		now := s.clock.Now()
		s.session.OverrideAttempts++
		decision := s.gate.Request(now)
		s.persist(s.ledger.RecordOverrideAttempt(now.In(s.location), decision.Granted), "override_attempt")

		out = PassResult{
			Granted:       decision.Granted,
			Remaining:     decision.Remaining,
			NextAvailable: decision.NextAvailable,
		}

		if !decision.Granted {
			metrics.OverrideRequests.WithLabelValues("denied").Inc()
			s.logger.Info().
				Str("session", s.session.ID).
				Int("attempts", s.session.OverrideAttempts).
				Time("next_available", decision.NextAvailable).
				Msg("Emergency pass denied")
			if s.restricting() {
				s.enqueueApply("override_denied")
			}
			return
		}

		metrics.OverrideRequests.WithLabelValues("granted").Inc()
		s.persistGrant(now)
		s.beginBreak(now, BreakEmergency, s.gate.BreakDuration())
		out.BreakEnd = s.brk.EndTime

		s.logger.Warn().
			Str("session", s.session.ID).
			Int("attempts", s.session.OverrideAttempts).
			Time("break_end", out.BreakEnd).
			Msg("Emergency pass granted")
		s.notify("Emergency pass granted", fmt.Sprintf("Restrictions lifted until %s", out.BreakEnd.In(s.location).Format("15:04")))
	})
	return out, err
}

// RefreshRestrictions re-applies the current selection when restrictions
// are in force. It is a no-op otherwise.
func (s *Scheduler) RefreshRestrictions(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.restricting() {
			s.enqueueApply("refresh")
		}
	})
}

// Reconcile re-issues the enforcer call matching the current state if the
// last one failed, and asks the enforcer to refresh otherwise.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.lastEnforcementFailed.Load() {
			s.logger.Info().Str("state", s.state().String()).Msg("Reconciling after enforcement failure")
			if s.restricting() {
				s.enqueueApply("reconcile")
			} else {
				s.enqueueRemove("reconcile")
			}
			return
		}
		s.effects.push(effect{
			op:          "refresh",
			cause:       "reconcile",
			enforcement: true,
			run:         s.enforcer.Refresh,
		})
	})
}

// ClearRestrictions asks the enforcer to remove restrictions when no
// session is active. Used at startup to reset state left by a previous run.
func (s *Scheduler) ClearRestrictions(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.session == nil {
			s.enqueueRemove("startup")
		}
	})
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() {
		now := s.clock.Now()
		st = Status{
			State:              s.state(),
			IsActive:           s.session != nil,
			IsInGracePeriod:    s.brk != nil,
			EnforcementHealthy: !s.lastEnforcementFailed.Load(),
		}
		if s.session != nil {
			sess := *s.session
			st.Session = &sess
			st.RemainingSeconds = remainingSeconds(now, sess.EndTime)
		}
		if s.brk != nil {
			b := *s.brk
			st.Break = &b
			st.BreakRemainingSeconds = remainingSeconds(now, b.EndTime)
		}
	})
	return st, err
}

// EnsureToday creates today's analytics entry.
func (s *Scheduler) EnsureToday(ctx context.Context) error {
	return s.do(ctx, func() {
		s.persist(s.ledger.EnsureDay(s.clock.Now().In(s.location)), "rollover")
	})
}

// Flush waits until every side effect queued so far has run.
func (s *Scheduler) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	err := s.do(ctx, func() {
		s.effects.push(effect{
			op:   "flush",
			run:  func(context.Context) error { return nil },
			done: done,
		})
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) state() State {
	switch {
	case s.session == nil:
		return StateIdle
	case s.brk != nil:
		return StateOnBreak
	default:
		return StateRestricting
	}
}

func (s *Scheduler) restricting() bool {
	return s.session != nil && s.brk == nil
}

func (s *Scheduler) onSessionTimer() {
	s.sessionTimer = nil
	if s.session == nil {
		return
	}

	now := s.clock.Now()
	if now.Before(s.session.EndTime) {
		s.sessionTimer = s.clock.NewTimer(s.session.EndTime.Sub(now))
		return
	}
	s.endSession(now, ReasonCompleted)
}

func (s *Scheduler) onBreakTimer() {
	s.breakTimer = nil
	if s.session == nil || s.brk == nil {
		return
	}

	now := s.clock.Now()
	if !now.Before(s.session.EndTime) {
		s.endSession(now, ReasonCompleted)
		return
	}
	if now.Before(s.brk.EndTime) {
		s.breakTimer = s.clock.NewTimer(s.brk.EndTime.Sub(now))
		return
	}

	kind := s.brk.Kind
	s.logger.Info().
		Str("session", s.session.ID).
		Str("kind", string(kind)).
		Msg("Break over, restrictions resumed")
	s.resume("break_over")

	if kind != BreakGrace {
		s.notify("Break over", "Restrictions are back on. Time to focus.")
	}
}

// beginBreak installs a break, replacing any existing one, and lifts
// restrictions if they were in force.
func (s *Scheduler) beginBreak(now time.Time, kind BreakKind, d time.Duration) {
	wasRestricting := s.restricting()
	s.armBreak(now, kind, d)
	if wasRestricting {
		s.enqueueRemove("break_" + string(kind))
	}
}

func (s *Scheduler) armBreak(now time.Time, kind BreakKind, d time.Duration) {
	s.stopTimer(&s.breakTimer)
	s.brk = &Break{Kind: kind, StartTime: now, EndTime: now.Add(d)}
	s.breakTimer = s.clock.NewTimer(d)
	metrics.BreaksTotal.WithLabelValues(string(kind)).Inc()
}

func (s *Scheduler) resume(cause string) {
	s.stopTimer(&s.breakTimer)
	s.brk = nil
	s.enqueueApply(cause)
}

// endSession records the session and clears all state. The returned
// channel receives the result of the removal call.
func (s *Scheduler) endSession(now time.Time, reason EndReason) <-chan error {
	sess := s.session

	end := now
	if sess.EndTime.Before(end) {
		end = sess.EndTime
	}
	elapsed := end.Sub(sess.StartTime)

	s.persist(s.ledger.RecordSessionCompletion(now.In(s.location), elapsed, reason == ReasonCompleted), "session_end")

	s.stopTimer(&s.sessionTimer)
	s.stopTimer(&s.breakTimer)
	s.session = nil
	s.brk = nil

	metrics.SessionsEnded.WithLabelValues(sess.Tier.String(), string(reason)).Inc()
	metrics.SessionActive.Set(0)
	metrics.FocusSeconds.Add(elapsed.Seconds())

	s.logger.Info().
		Str("session", sess.ID).
		Str("tier", sess.Tier.String()).
		Str("reason", string(reason)).
		Dur("elapsed", elapsed).
		Int("override_attempts", sess.OverrideAttempts).
		Msg("Focus session ended")

	done := make(chan error, 1)
	s.effects.push(effect{
		op:          "remove",
		cause:       "session_" + string(reason),
		enforcement: true,
		run:         s.enforcer.RemoveRestrictions,
		done:        done,
	})

	if reason == ReasonCompleted {
		s.notify("Focus session complete", fmt.Sprintf("Nice work! %s of focus recorded.", elapsed.Round(time.Minute)))
	}
	return done
}

func (s *Scheduler) enqueueApply(cause string) {
	s.effects.push(effect{
		op:          "apply",
		cause:       cause,
		enforcement: true,
		run: func(ctx context.Context) error {
			apps, err := s.prefs.SelectedApps(ctx)
			if err != nil {
				return fmt.Errorf("load selected apps: %w", err)
			}
			sites, err := s.prefs.SelectedSites(ctx)
			if err != nil {
				return fmt.Errorf("load selected sites: %w", err)
			}
			return s.enforcer.ApplyRestrictions(ctx, apps, sites)
		},
	})
}

func (s *Scheduler) enqueueRemove(cause string) {
	s.effects.push(effect{
		op:          "remove",
		cause:       cause,
		enforcement: true,
		run:         s.enforcer.RemoveRestrictions,
	})
}

func (s *Scheduler) persist(delta analytics.Delta, cause string) {
	s.effects.push(effect{
		op:    "analytics",
		cause: cause,
		run: func(ctx context.Context) error {
			return s.prefs.IncrementAnalytics(ctx, delta)
		},
	})
}

func (s *Scheduler) persistGrant(at time.Time) {
	retention := s.gate.Retention()
	s.effects.push(effect{
		op:    "override_grant",
		cause: "emergency_pass",
		run: func(ctx context.Context) error {
			return s.prefs.RecordOverrideGrant(ctx, at, retention)
		},
	})
}

func (s *Scheduler) notify(title, message string) {
	if s.notifier == nil {
		return
	}
	s.effects.push(effect{
		op:    "notify",
		cause: title,
		run: func(context.Context) error {
			return s.notifier.Notify(title, message)
		},
	})
}

// recordEffect runs on the effect worker after each effect.
func (s *Scheduler) recordEffect(e effect, err error) {
	if !e.enforcement {
		if err != nil && e.op != "notify" {
			metrics.PersistenceErrors.WithLabelValues(e.op).Inc()
		}
		return
	}

	metrics.EnforcementCalls.WithLabelValues(e.op).Inc()
	if err != nil {
		metrics.EnforcementFailures.WithLabelValues(e.op).Inc()
		s.lastEnforcementFailed.Store(true)
		return
	}

	s.lastEnforcementFailed.Store(false)
	switch e.op {
	case "apply":
		metrics.RestrictionsActive.Set(1)
	case "remove":
		metrics.RestrictionsActive.Set(0)
	}
}

func (s *Scheduler) stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// timerC returns the timer channel, or nil so a select case never fires.
func timerC(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func remainingSeconds(now, end time.Time) int64 {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
