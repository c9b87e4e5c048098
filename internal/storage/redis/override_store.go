package redis

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type overrideStore struct {
	client *redis.Client
}

// Scores are Unix milliseconds, which a float64 holds exactly. Members keep
// full precision.
func grantScore(t time.Time) int64 {
	return t.UnixMilli()
}

// RecordGrant adds a grant to the history and drops grants older than the
// retention period
func (s *overrideStore) RecordGrant(ctx context.Context, at time.Time, retention time.Duration) error {
	cutoff := grantScore(at.Add(-retention))

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, keyOverrideGrants, redis.Z{
			Score:  float64(grantScore(at)),
			Member: at.UTC().Format(time.RFC3339Nano),
		})
		if retention > 0 {
			pipe.ZRemRangeByScore(ctx, keyOverrideGrants, "-inf", "("+strconv.FormatInt(cutoff, 10))
		}
		return nil
	})
	return err
}

// ListGrants returns grants at or after since, oldest first
func (s *overrideStore) ListGrants(ctx context.Context, since time.Time) ([]time.Time, error) {
	lower := "-inf"
	if !since.IsZero() {
		lower = strconv.FormatInt(grantScore(since), 10)
	}

	members, err := s.client.ZRangeByScore(ctx, keyOverrideGrants, &redis.ZRangeBy{
		Min: lower,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	grants, err := parseGrantTimes(members)
	if err != nil {
		return nil, err
	}

	// The score bound is only millisecond precise
	out := grants[:0]
	for _, g := range grants {
		if !g.Before(since) {
			out = append(out, g)
		}
	}
	// Members sharing a score come back in lexical order
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
