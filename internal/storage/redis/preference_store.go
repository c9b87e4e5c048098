package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodtune/focusguard/internal/storage"
)

type preferenceStore struct {
	client *redis.Client
}

// SelectedApps returns the restricted application identifiers
func (s *preferenceStore) SelectedApps(ctx context.Context) ([]string, error) {
	return sortedMembers(ctx, s.client, keySelectedApps)
}

// SelectedSites returns the restricted website hosts
func (s *preferenceStore) SelectedSites(ctx context.Context) ([]string, error) {
	return sortedMembers(ctx, s.client, keySelectedSites)
}

// GetSelection returns both sets and the time they were last replaced
func (s *preferenceStore) GetSelection(ctx context.Context) (*storage.Selection, error) {
	apps, err := s.SelectedApps(ctx)
	if err != nil {
		return nil, err
	}
	sites, err := s.SelectedSites(ctx)
	if err != nil {
		return nil, err
	}

	sel := &storage.Selection{Apps: apps, Sites: sites}

	updated, err := s.client.HGet(ctx, keySelectionMeta, "updated_at").Result()
	switch {
	case err == redis.Nil:
	case err != nil:
		return nil, err
	default:
		sel.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
	}

	return sel, nil
}

// SetSelection atomically replaces both sets
func (s *preferenceStore) SetSelection(ctx context.Context, sel storage.Selection) error {
	sel = sel.Normalize()
	if sel.UpdatedAt.IsZero() {
		sel.UpdatedAt = time.Now()
	}

	script := redis.NewScript(replaceSelectionScript)

	keys := []string{keySelectedApps, keySelectedSites, keySelectionMeta}
	args := make([]interface{}, 0, 2+len(sel.Apps)+len(sel.Sites))
	args = append(args, sel.UpdatedAt.UTC().Format(time.RFC3339Nano), len(sel.Apps))
	for _, a := range sel.Apps {
		args = append(args, a)
	}
	for _, h := range sel.Sites {
		args = append(args, h)
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

func sortedMembers(ctx context.Context, client *redis.Client, key string) ([]string, error) {
	members, err := client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}
