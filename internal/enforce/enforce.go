// Package enforce provides restriction enforcers and a composite that fans
// calls out to several of them.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/goodtune/focusguard/internal/focus"
	"github.com/goodtune/focusguard/internal/storage"
)

// Named pairs an enforcer with a name used in logs and errors.
type Named struct {
	Name     string
	Enforcer focus.Enforcer
}

// Multi calls every enforcer in order. A failure in one does not stop the
// others; the errors are joined.
type Multi struct {
	enforcers []Named
	logger    zerolog.Logger
}

// NewMulti creates a composite enforcer.
func NewMulti(logger zerolog.Logger, enforcers ...Named) *Multi {
	return &Multi{
		enforcers: enforcers,
		logger:    logger.With().Str("component", "enforce").Logger(),
	}
}

// Len returns the number of wrapped enforcers.
func (m *Multi) Len() int {
	return len(m.enforcers)
}

func (m *Multi) ApplyRestrictions(ctx context.Context, apps, sites []string) error {
	return m.each("apply", func(e focus.Enforcer) error {
		return e.ApplyRestrictions(ctx, apps, sites)
	})
}

func (m *Multi) RemoveRestrictions(ctx context.Context) error {
	return m.each("remove", func(e focus.Enforcer) error {
		return e.RemoveRestrictions(ctx)
	})
}

func (m *Multi) Refresh(ctx context.Context) error {
	return m.each("refresh", func(e focus.Enforcer) error {
		return e.Refresh(ctx)
	})
}

func (m *Multi) each(op string, fn func(focus.Enforcer) error) error {
	var errs []error
	for _, n := range m.enforcers {
		if err := fn(n.Enforcer); err != nil {
			m.logger.Warn().Err(err).Str("enforcer", n.Name).Str("op", op).Msg("Enforcer call failed")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Shield records the restriction state in the shield store, where host
// agents enforcing application blocking pick it up.
type Shield struct {
	store  storage.ShieldStore
	clock  clockwork.Clock
	logger zerolog.Logger

	mu        sync.Mutex
	state     storage.ShieldState
	published bool
}

// NewShield creates a shield enforcer backed by store. A nil clock uses
// the real clock.
func NewShield(store storage.ShieldStore, clock clockwork.Clock, logger zerolog.Logger) *Shield {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Shield{
		store:  store,
		clock:  clock,
		logger: logger.With().Str("component", "shield").Logger(),
	}
}

func (s *Shield) ApplyRestrictions(ctx context.Context, apps, sites []string) error {
	sel := storage.Selection{Apps: apps, Sites: sites}.Normalize()
	state := storage.ShieldState{Active: true, Apps: sel.Apps, Sites: sel.Sites, UpdatedAt: s.clock.Now()}
	return s.publish(ctx, state)
}

func (s *Shield) RemoveRestrictions(ctx context.Context) error {
	return s.publish(ctx, storage.ShieldState{Active: false, UpdatedAt: s.clock.Now()})
}

// Refresh republishes the last state so agents that missed it catch up.
func (s *Shield) Refresh(ctx context.Context) error {
	s.mu.Lock()
	state, published := s.state, s.published
	s.mu.Unlock()

	if !published {
		return nil
	}
	state.UpdatedAt = s.clock.Now()
	return s.publish(ctx, state)
}

func (s *Shield) publish(ctx context.Context, state storage.ShieldState) error {
	if err := s.store.Publish(ctx, state); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = state
	s.published = true
	s.mu.Unlock()

	s.logger.Debug().
		Bool("active", state.Active).
		Int("apps", len(state.Apps)).
		Int("sites", len(state.Sites)).
		Msg("Shield state published")
	return nil
}
