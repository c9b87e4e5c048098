package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/goodtune/focusguard/internal/analytics"
)

type analyticsStore struct {
	client *redis.Client
}

// Increment applies a ledger delta to the day it names and the lifetime totals
func (s *analyticsStore) Increment(ctx context.Context, d analytics.Delta) error {
	script := redis.NewScript(incrementAnalyticsScript)

	keys := []string{dailyKey(d.Day), keyAnalyticsLifetime, keyAnalyticsDays}
	args := []interface{}{
		d.Day,
		d.FocusSeconds,
		d.CompletedSessions,
		d.NaturalCompletions,
		d.BreaksTaken,
		d.OverrideAttempts,
		d.OverridesGranted,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// GetDay returns the stats recorded for a single day
func (s *analyticsStore) GetDay(ctx context.Context, day string) (*analytics.DailyStats, error) {
	data, err := s.client.HGetAll(ctx, dailyKey(day)).Result()
	if err != nil {
		return nil, err
	}
	return parseDailyStats(data)
}

// Load reads the full persisted ledger
func (s *analyticsStore) Load(ctx context.Context) (*analytics.Snapshot, error) {
	days, err := s.client.SMembers(ctx, keyAnalyticsDays).Result()
	if err != nil {
		return nil, err
	}

	snap := &analytics.Snapshot{Days: make(map[string]analytics.DailyStats, len(days))}

	lifetime, err := s.client.HGetAll(ctx, keyAnalyticsLifetime).Result()
	if err != nil {
		return nil, err
	}
	if len(lifetime) > 0 {
		totals, err := parseTotals(lifetime)
		if err != nil {
			return nil, err
		}
		snap.Lifetime = *totals
	}

	if len(days) == 0 {
		return snap, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(days))
	for _, day := range days {
		cmds[day] = pipe.HGetAll(ctx, dailyKey(day))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	for day, cmd := range cmds {
		stats, err := parseDailyStats(cmd.Val())
		if err != nil {
			return nil, err
		}
		snap.Days[day] = *stats
	}

	return snap, nil
}
