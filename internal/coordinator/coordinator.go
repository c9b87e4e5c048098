// Package coordinator wires the scheduler to storage and exposes the
// operations used by the control API and the maintenance jobs.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/goodtune/focusguard/internal/analytics"
	"github.com/goodtune/focusguard/internal/focus"
	"github.com/goodtune/focusguard/internal/override"
	"github.com/goodtune/focusguard/internal/storage"
)

// ErrUnknownPreset is returned when a break preset name is not configured.
var ErrUnknownPreset = errors.New("unknown break preset")

// Options configures the coordinator
type Options struct {
	Clock         clockwork.Clock
	Location      *time.Location
	GracePeriods  map[focus.Tier]time.Duration
	BreakPresets  map[string]time.Duration
	Policy        override.Policy
	Notifier      focus.Notifier
	EffectTimeout time.Duration
	Logger        zerolog.Logger
}

// Summary is the focus statistics overview.
type Summary struct {
	TotalFocusSeconds      int64                `json:"total_focus_seconds"`
	TotalFocusMinutesToday int64                `json:"total_focus_minutes_today"`
	OverrideAttemptsToday  int64                `json:"override_attempts_today"`
	Lifetime               analytics.Totals     `json:"lifetime"`
	Days                   []analytics.DayEntry `json:"days"`
}

// Coordinator is the facade over the scheduler, ledger and stores.
type Coordinator struct {
	store     storage.Store
	scheduler *focus.Scheduler
	ledger    *analytics.Ledger

	clock    clockwork.Clock
	location *time.Location
	presets  map[string]time.Duration
	logger   zerolog.Logger
}

// New restores analytics and grant history from store and builds the
// scheduler. Call Start before use.
func New(ctx context.Context, store storage.Store, enforcer focus.Enforcer, opts Options) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: [store]", focus.ErrMissingDependencies)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Policy.MaxGrants == 0 {
		policy := override.DefaultPolicy()
		policy.Location = opts.Policy.Location
		opts.Policy = policy
	}
	if opts.Policy.Location == nil {
		opts.Policy.Location = opts.Location
	}

	logger := opts.Logger.With().Str("component", "coordinator").Logger()

	snapshot, err := store.Analytics().Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load analytics: %w", err)
	}
	ledger := analytics.NewLedger()
	ledger.Restore(*snapshot)

	gate, err := override.NewGate(opts.Policy)
	if err != nil {
		return nil, fmt.Errorf("invalid override policy: %w", err)
	}
	grants, err := store.Overrides().ListGrants(ctx, opts.Clock.Now().Add(-gate.Retention()))
	if err != nil {
		return nil, fmt.Errorf("failed to load override grants: %w", err)
	}
	gate.Restore(grants)

	scheduler, err := focus.NewScheduler(enforcer, prefsAdapter{store}, ledger, gate, focus.Options{
		Clock:         opts.Clock,
		Logger:        opts.Logger,
		Location:      opts.Location,
		GracePeriods:  opts.GracePeriods,
		Notifier:      opts.Notifier,
		EffectTimeout: opts.EffectTimeout,
	})
	if err != nil {
		return nil, err
	}

	presets := make(map[string]time.Duration, len(opts.BreakPresets))
	for name, d := range opts.BreakPresets {
		presets[strings.ToLower(name)] = d
	}

	logger.Info().
		Int("days", len(snapshot.Days)).
		Int("grants", len(grants)).
		Str("window", string(opts.Policy.Window)).
		Msg("State restored")

	return &Coordinator{
		store:     store,
		scheduler: scheduler,
		ledger:    ledger,
		clock:     opts.Clock,
		location:  opts.Location,
		presets:   presets,
		logger:    logger,
	}, nil
}

// Start runs the scheduler, clears restrictions left by a previous run and
// creates today's analytics entry.
func (c *Coordinator) Start(ctx context.Context) error {
	c.scheduler.Start()
	if err := c.scheduler.ClearRestrictions(ctx); err != nil {
		return err
	}
	return c.scheduler.EnsureToday(ctx)
}

// Stop ends any session and drains queued side effects.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.scheduler.Stop(ctx)
}

func (c *Coordinator) StartSession(ctx context.Context, tier focus.Tier) (focus.Session, error) {
	return c.scheduler.StartSession(ctx, tier)
}

func (c *Coordinator) StartBreak(ctx context.Context, d time.Duration) (focus.Break, error) {
	return c.scheduler.StartBreak(ctx, d)
}

func (c *Coordinator) EndBreakEarly(ctx context.Context) error {
	return c.scheduler.EndBreakEarly(ctx)
}

func (c *Coordinator) StopSession(ctx context.Context) error {
	return c.scheduler.StopSession(ctx)
}

func (c *Coordinator) RequestEmergencyPass(ctx context.Context) (focus.PassResult, error) {
	return c.scheduler.RequestEmergencyPass(ctx)
}

func (c *Coordinator) RefreshRestrictions(ctx context.Context) error {
	return c.scheduler.RefreshRestrictions(ctx)
}

// Reconcile retries failed enforcement or refreshes the enforcer.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	return c.scheduler.Reconcile(ctx)
}

// RollOver creates the zero entry for the current day.
func (c *Coordinator) RollOver(ctx context.Context) error {
	return c.scheduler.EnsureToday(ctx)
}

// Flush waits for queued side effects.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.scheduler.Flush(ctx)
}

// UpdateSelection persists a new selection and re-applies restrictions if
// they are in force.
func (c *Coordinator) UpdateSelection(ctx context.Context, sel storage.Selection) (storage.Selection, error) {
	sel = sel.Normalize()
	sel.UpdatedAt = c.clock.Now()
	if err := c.store.Preferences().SetSelection(ctx, sel); err != nil {
		return storage.Selection{}, fmt.Errorf("failed to save selection: %w", err)
	}

	c.logger.Info().
		Int("apps", len(sel.Apps)).
		Int("sites", len(sel.Sites)).
		Msg("Selection updated")

	if err := c.scheduler.RefreshRestrictions(ctx); err != nil {
		return sel, err
	}
	return sel, nil
}

// Selection returns the stored selection.
func (c *Coordinator) Selection(ctx context.Context) (storage.Selection, error) {
	sel, err := c.store.Preferences().GetSelection(ctx)
	if err != nil {
		return storage.Selection{}, err
	}
	return *sel, nil
}

func (c *Coordinator) Status(ctx context.Context) (focus.Status, error) {
	return c.scheduler.Status(ctx)
}

// BreakDuration resolves a preset name or a Go duration string.
func (c *Coordinator) BreakDuration(arg string) (time.Duration, error) {
	if d, ok := c.presets[strings.ToLower(strings.TrimSpace(arg))]; ok {
		return d, nil
	}
	d, err := time.ParseDuration(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, arg)
	}
	if d <= 0 {
		return 0, focus.ErrInvalidDuration
	}
	return d, nil
}

// BreakPresets returns the configured presets ordered by duration.
func (c *Coordinator) BreakPresets() []Preset {
	out := make([]Preset, 0, len(c.presets))
	for name, d := range c.presets {
		out = append(out, Preset{Name: name, Duration: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Duration == out[j].Duration {
			return out[i].Name < out[j].Name
		}
		return out[i].Duration < out[j].Duration
	})
	return out
}

// Preset is a named break length.
type Preset struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// TotalFocusTime is the lifetime focus time.
func (c *Coordinator) TotalFocusTime() time.Duration {
	return time.Duration(c.ledger.Lifetime().FocusSeconds) * time.Second
}

// TotalFocusMinutesToday is today's focus time in whole minutes.
func (c *Coordinator) TotalFocusMinutesToday() int64 {
	return c.ledger.Day(c.now()).FocusSeconds / 60
}

func (c *Coordinator) OverrideAttemptsToday() int64 {
	return c.ledger.Day(c.now()).OverrideAttempts
}

// DailyStats returns the last n days, oldest first.
func (c *Coordinator) DailyStats(n int) []analytics.DayEntry {
	return c.ledger.Recent(c.now(), n)
}

// Analytics returns a copy of the full ledger.
func (c *Coordinator) Analytics() analytics.Snapshot {
	return c.ledger.Snapshot()
}

// Summary combines the headline numbers with the last n days.
func (c *Coordinator) Summary(n int) Summary {
	return Summary{
		TotalFocusSeconds:      c.ledger.Lifetime().FocusSeconds,
		TotalFocusMinutesToday: c.TotalFocusMinutesToday(),
		OverrideAttemptsToday:  c.OverrideAttemptsToday(),
		Lifetime:               c.ledger.Lifetime(),
		Days:                   c.DailyStats(n),
	}
}

func (c *Coordinator) now() time.Time {
	return c.clock.Now().In(c.location)
}

// prefsAdapter exposes storage.Store as the scheduler's preference store.
type prefsAdapter struct {
	store storage.Store
}

func (p prefsAdapter) SelectedApps(ctx context.Context) ([]string, error) {
	return p.store.Preferences().SelectedApps(ctx)
}

func (p prefsAdapter) SelectedSites(ctx context.Context) ([]string, error) {
	return p.store.Preferences().SelectedSites(ctx)
}

func (p prefsAdapter) IncrementAnalytics(ctx context.Context, delta analytics.Delta) error {
	return p.store.Analytics().Increment(ctx, delta)
}

func (p prefsAdapter) RecordOverrideGrant(ctx context.Context, at time.Time, retention time.Duration) error {
	return p.store.Overrides().RecordGrant(ctx, at, retention)
}
