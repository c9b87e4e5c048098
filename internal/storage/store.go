package storage

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/focusguard/internal/analytics"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Preferences() PreferenceStore
	Analytics() AnalyticsStore
	Overrides() OverrideStore
	Shield() ShieldStore
}

// PreferenceStore manages the user's selection of restricted apps and sites.
type PreferenceStore interface {
	SelectedApps(ctx context.Context) ([]string, error)
	SelectedSites(ctx context.Context) ([]string, error)
	GetSelection(ctx context.Context) (*Selection, error)
	SetSelection(ctx context.Context, sel Selection) error
}

// AnalyticsStore persists the analytics ledger projection.
type AnalyticsStore interface {
	Increment(ctx context.Context, delta analytics.Delta) error
	Load(ctx context.Context) (*analytics.Snapshot, error)
	GetDay(ctx context.Context, day string) (*analytics.DailyStats, error)
}

// OverrideStore keeps the emergency pass grant history.
type OverrideStore interface {
	RecordGrant(ctx context.Context, at time.Time, retention time.Duration) error
	ListGrants(ctx context.Context, since time.Time) ([]time.Time, error)
}

// ShieldStore holds the restriction state published to host agents.
type ShieldStore interface {
	Publish(ctx context.Context, state ShieldState) error
	Current(ctx context.Context) (*ShieldState, error)
}
