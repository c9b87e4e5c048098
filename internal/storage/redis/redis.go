package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/storage"
)

const (
	keyPrefix = "focusguard:"

	keySelectedApps      = keyPrefix + "prefs:apps"
	keySelectedSites     = keyPrefix + "prefs:sites"
	keySelectionMeta     = keyPrefix + "prefs:meta"
	keyAnalyticsLifetime = keyPrefix + "analytics:lifetime"
	keyAnalyticsDays     = keyPrefix + "analytics:days"
	keyOverrideGrants    = keyPrefix + "override:grants"
	keyShieldState       = keyPrefix + "shield:state"
	keyShieldApps        = keyPrefix + "shield:apps"
	keyShieldSites       = keyPrefix + "shield:sites"

	// DefaultShieldChannel is where shield state changes are published.
	DefaultShieldChannel = keyPrefix + "shield"
)

func dailyKey(day string) string {
	return fmt.Sprintf("%sanalytics:daily:%s", keyPrefix, day)
}

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// parseTimeout parses a configured timeout. An empty value selects fallback.
func parseTimeout(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

// Store implements the storage.Store interface using Redis
type Store struct {
	client          *redis.Client
	preferenceStore *preferenceStore
	analyticsStore  *analyticsStore
	overrideStore   *overrideStore
	shieldStore     *shieldStore
}

// Option customises a Store.
type Option func(*Store)

// WithShieldChannel overrides the pub/sub channel used for shield updates.
func WithShieldChannel(channel string) Option {
	return func(s *Store) {
		if channel != "" {
			s.shieldStore.channel = channel
		}
	}
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig, opts ...Option) (*Store, error) {
	dialTimeout, err := parseTimeout("dial_timeout", cfg.DialTimeout, defaultDialTimeout)
	if err != nil {
		return nil, err
	}

	readTimeout, err := parseTimeout("read_timeout", cfg.ReadTimeout, defaultReadTimeout)
	if err != nil {
		return nil, err
	}

	writeTimeout, err := parseTimeout("write_timeout", cfg.WriteTimeout, defaultWriteTimeout)
	if err != nil {
		return nil, err
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &Store{
		client:          client,
		preferenceStore: &preferenceStore{client: client},
		analyticsStore:  &analyticsStore{client: client},
		overrideStore:   &overrideStore{client: client},
		shieldStore:     &shieldStore{client: client, channel: DefaultShieldChannel},
	}
	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Client exposes the underlying client, for subscribers.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Preferences returns the PreferenceStore implementation
func (s *Store) Preferences() storage.PreferenceStore {
	return s.preferenceStore
}

// Analytics returns the AnalyticsStore implementation
func (s *Store) Analytics() storage.AnalyticsStore {
	return s.analyticsStore
}

// Overrides returns the OverrideStore implementation
func (s *Store) Overrides() storage.OverrideStore {
	return s.overrideStore
}

// Shield returns the ShieldStore implementation
func (s *Store) Shield() storage.ShieldStore {
	return s.shieldStore
}
