package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/goodtune/focusguard/internal/focus"
	"github.com/goodtune/focusguard/internal/override"
)

// Config holds the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	DNS           DNSConfig           `mapstructure:"dns"`
	Shield        ShieldConfig        `mapstructure:"shield"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Focus         FocusConfig         `mapstructure:"focus"`
	Emergency     EmergencyConfig     `mapstructure:"emergency"`
	Blocklist     BlocklistConfig     `mapstructure:"blocklist"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"`
	ControlPort  int    `mapstructure:"control_port"`
	DNSPort      int    `mapstructure:"dns_port"`
	DNSEnableUDP bool   `mapstructure:"dns_enable_udp"`
	DNSEnableTCP bool   `mapstructure:"dns_enable_tcp"`
	MetricsPort  int    `mapstructure:"metrics_port"`
}

// DNSConfig defines the DNS site blocker
type DNSConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	UpstreamServers []string `mapstructure:"upstream_servers"`
	BlockTTL        uint32   `mapstructure:"block_ttl"`
	UpstreamTimeout string   `mapstructure:"upstream_timeout"`
	CacheSize       int      `mapstructure:"cache_size"`
}

// ShieldConfig defines the Redis shield publisher used by host agents
type ShieldConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FocusConfig defines session scheduling behaviour
type FocusConfig struct {
	Timezone          string            `mapstructure:"timezone"`
	GracePeriods      map[string]string `mapstructure:"grace_periods"`
	BreakPresets      map[string]string `mapstructure:"break_presets"`
	ReconcileInterval string            `mapstructure:"reconcile_interval"`
	EffectTimeout     string            `mapstructure:"effect_timeout"`
}

// EmergencyConfig defines the emergency pass rate limit
type EmergencyConfig struct {
	Window        string `mapstructure:"window"`
	MaxGrants     int    `mapstructure:"max_grants"`
	BreakDuration string `mapstructure:"break_duration"`
}

// BlocklistConfig defines the optional blocklist file
type BlocklistConfig struct {
	Path     string `mapstructure:"path"`
	Watch    bool   `mapstructure:"watch"`
	Debounce string `mapstructure:"debounce"`
}

// NotificationsConfig defines desktop notifications
type NotificationsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	AppName string `mapstructure:"app_name"`
}

// Load loads configuration from file, a sibling .env file and environment
// variables.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("FOCUSGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration populated with default values only.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// KnownKeys returns every configuration key with a default. Keys below
// focus.break_presets are free-form and matched by prefix.
func KnownKeys() map[string]bool {
	v := viper.New()
	setDefaults(v)

	keys := make(map[string]bool)
	for _, k := range v.AllKeys() {
		keys[k] = true
	}
	return keys
}

// IsKnownKey reports whether key is a valid configuration key.
func IsKnownKey(known map[string]bool, key string) bool {
	if known[key] {
		return true
	}
	return strings.HasPrefix(key, "focus.break_presets.")
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.control_port", 7878)
	v.SetDefault("server.dns_port", 53)
	v.SetDefault("server.dns_enable_udp", true)
	v.SetDefault("server.dns_enable_tcp", true)
	v.SetDefault("server.metrics_port", 9090)

	// DNS defaults
	v.SetDefault("dns.enabled", true)
	v.SetDefault("dns.upstream_servers", []string{"1.1.1.1:53", "8.8.8.8:53"})
	v.SetDefault("dns.block_ttl", 30)
	v.SetDefault("dns.upstream_timeout", "5s")
	v.SetDefault("dns.cache_size", 4096)

	// Shield defaults
	v.SetDefault("shield.enabled", true)
	v.SetDefault("shield.channel", "focusguard:shield")

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Focus defaults
	v.SetDefault("focus.timezone", "Local")
	v.SetDefault("focus.grace_periods", map[string]any{
		"low":    "0s",
		"medium": "0s",
		"high":   "0s",
		"deep":   "0s",
	})
	v.SetDefault("focus.break_presets", map[string]any{
		"short":  "5m",
		"medium": "15m",
		"long":   "30m",
	})
	v.SetDefault("focus.reconcile_interval", "30s")
	v.SetDefault("focus.effect_timeout", "10s")

	// Emergency pass defaults
	v.SetDefault("emergency.window", string(override.WindowCalendarDay))
	v.SetDefault("emergency.max_grants", 1)
	v.SetDefault("emergency.break_duration", "1h")

	// Blocklist defaults
	v.SetDefault("blocklist.path", "")
	v.SetDefault("blocklist.watch", true)
	v.SetDefault("blocklist.debounce", "500ms")

	// Notification defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.app_name", "focusguard")
}

// validate validates the configuration
func validate(cfg *Config) error {
	for name, port := range map[string]int{
		"control": cfg.Server.ControlPort,
		"dns":     cfg.Server.DNSPort,
		"metrics": cfg.Server.MetricsPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
	}

	if cfg.DNS.Enabled && len(cfg.DNS.UpstreamServers) == 0 {
		return fmt.Errorf("at least one upstream DNS server is required")
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}
	if cfg.Storage.Type != "redis" {
		return fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", cfg.Storage.Type)
	}

	if _, err := cfg.Location(); err != nil {
		return err
	}
	if _, err := cfg.GracePeriods(); err != nil {
		return err
	}
	if _, err := cfg.BreakPresets(); err != nil {
		return err
	}
	if _, err := cfg.OverridePolicy(); err != nil {
		return err
	}

	for name, value := range map[string]string{
		"focus.reconcile_interval": cfg.Focus.ReconcileInterval,
		"focus.effect_timeout":     cfg.Focus.EffectTimeout,
		"dns.upstream_timeout":     cfg.DNS.UpstreamTimeout,
		"blocklist.debounce":       cfg.Blocklist.Debounce,
	} {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s: %q", name, value)
		}
	}

	return nil
}

// Location resolves focus.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Focus.Timezone == "" || c.Focus.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Focus.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid focus.timezone: %w", err)
	}
	return loc, nil
}

// GracePeriods parses focus.grace_periods keyed by tier.
func (c *Config) GracePeriods() (map[focus.Tier]time.Duration, error) {
	out := make(map[focus.Tier]time.Duration, len(c.Focus.GracePeriods))
	for name, value := range c.Focus.GracePeriods {
		tier, err := focus.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("invalid focus.grace_periods key: %w", err)
		}
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid focus.grace_periods.%s: %q", name, value)
		}
		out[tier] = d
	}
	return out, nil
}

// BreakPresets parses focus.break_presets.
func (c *Config) BreakPresets() (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(c.Focus.BreakPresets))
	for name, value := range c.Focus.BreakPresets {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid focus.break_presets.%s: %q", name, value)
		}
		out[strings.ToLower(name)] = d
	}
	return out, nil
}

// OverridePolicy builds the emergency pass policy.
func (c *Config) OverridePolicy() (override.Policy, error) {
	window, err := override.ParseWindow(c.Emergency.Window)
	if err != nil {
		return override.Policy{}, fmt.Errorf("invalid emergency.window: %w", err)
	}
	if c.Emergency.MaxGrants <= 0 {
		return override.Policy{}, fmt.Errorf("invalid emergency.max_grants: %d", c.Emergency.MaxGrants)
	}
	d, err := time.ParseDuration(c.Emergency.BreakDuration)
	if err != nil || d <= 0 {
		return override.Policy{}, fmt.Errorf("invalid emergency.break_duration: %q", c.Emergency.BreakDuration)
	}
	loc, err := c.Location()
	if err != nil {
		return override.Policy{}, err
	}
	return override.Policy{
		Window:        window,
		MaxGrants:     c.Emergency.MaxGrants,
		BreakDuration: d,
		Location:      loc,
	}, nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
