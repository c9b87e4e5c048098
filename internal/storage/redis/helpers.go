package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/focusguard/internal/analytics"
	"github.com/goodtune/focusguard/internal/storage"
)

// parseDailyStats converts a Redis hash to DailyStats
func parseDailyStats(data map[string]string) (*analytics.DailyStats, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	var stats analytics.DailyStats
	fields := map[string]*int64{
		"focus_seconds":       &stats.FocusSeconds,
		"completed_sessions":  &stats.CompletedSessions,
		"natural_completions": &stats.NaturalCompletions,
		"breaks_taken":        &stats.BreaksTaken,
		"override_attempts":   &stats.OverrideAttempts,
		"overrides_granted":   &stats.OverridesGranted,
	}
	if err := parseCounters(data, fields); err != nil {
		return nil, err
	}
	return &stats, nil
}

// parseTotals converts a Redis hash to lifetime Totals
func parseTotals(data map[string]string) (*analytics.Totals, error) {
	var totals analytics.Totals
	fields := map[string]*int64{
		"focus_seconds":      &totals.FocusSeconds,
		"completed_sessions": &totals.CompletedSessions,
		"breaks_taken":       &totals.BreaksTaken,
		"override_attempts":  &totals.OverrideAttempts,
		"overrides_granted":  &totals.OverridesGranted,
	}
	if err := parseCounters(data, fields); err != nil {
		return nil, err
	}
	return &totals, nil
}

func parseCounters(data map[string]string, fields map[string]*int64) error {
	for name, dst := range fields {
		raw, ok := data[name]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", name, err)
		}
		*dst = n
	}
	return nil
}

// parseGrantTimes converts sorted set members to timestamps
func parseGrantTimes(members []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		t, err := time.Parse(time.RFC3339Nano, m)
		if err != nil {
			return nil, fmt.Errorf("failed to parse grant time %q: %w", m, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// parseShieldState converts a Redis hash to ShieldState
func parseShieldState(data map[string]string) (*storage.ShieldState, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	active, err := strconv.ParseBool(data["active"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse active: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.ShieldState{Active: active, UpdatedAt: updatedAt}, nil
}
