package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodtune/focusguard/internal/storage"
)

type shieldStore struct {
	client  *redis.Client
	channel string
}

// Publish replaces the shield state and announces it on the shield channel
func (s *shieldStore) Publish(ctx context.Context, state storage.ShieldState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	if !state.Active {
		state.Apps, state.Sites = nil, nil
	}

	script := redis.NewScript(replaceShieldScript)

	keys := []string{keyShieldState, keyShieldApps, keyShieldSites}
	args := make([]interface{}, 0, 3+len(state.Apps)+len(state.Sites))
	args = append(args, strconv.FormatBool(state.Active), state.UpdatedAt.UTC().Format(time.RFC3339Nano), len(state.Apps))
	for _, a := range state.Apps {
		args = append(args, a)
	}
	for _, h := range state.Sites {
		args = append(args, h)
	}

	if err := script.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to store shield state: %w", err)
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish shield state: %w", err)
	}
	return nil
}

// Current returns the stored shield state
func (s *shieldStore) Current(ctx context.Context) (*storage.ShieldState, error) {
	data, err := s.client.HGetAll(ctx, keyShieldState).Result()
	if err != nil {
		return nil, err
	}

	state, err := parseShieldState(data)
	if err != nil {
		return nil, err
	}

	if state.Apps, err = sortedMembers(ctx, s.client, keyShieldApps); err != nil {
		return nil, err
	}
	if state.Sites, err = sortedMembers(ctx, s.client, keyShieldSites); err != nil {
		return nil, err
	}
	return state, nil
}

// Subscribe returns a subscription to shield updates. Callers close it.
func (s *Store) SubscribeShield(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.shieldStore.channel)
}
