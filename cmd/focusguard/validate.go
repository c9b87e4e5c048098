package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goodtune/focusguard/internal/config"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the focusguard configuration file for syntax and semantic errors.`,
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Unknown keys are reported even without --dump
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		_, _ = fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys reads the config file on its own and returns the keys
// the config package does not recognise.
func findUnknownKeys(configPath string) ([]string, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := config.KnownKeys()
	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !config.IsKnownKey(known, key) {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  control_port", cfg.Server.ControlPort, defaultCfg.Server.ControlPort, yellow, green)
	dumpField("  dns_port", cfg.Server.DNSPort, defaultCfg.Server.DNSPort, yellow, green)
	dumpField("  dns_enable_udp", cfg.Server.DNSEnableUDP, defaultCfg.Server.DNSEnableUDP, yellow, green)
	dumpField("  dns_enable_tcp", cfg.Server.DNSEnableTCP, defaultCfg.Server.DNSEnableTCP, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)

	_, _ = cyan.Println("\n[dns]")
	dumpField("  enabled", cfg.DNS.Enabled, defaultCfg.DNS.Enabled, yellow, green)
	dumpField("  upstream_servers", cfg.DNS.UpstreamServers, defaultCfg.DNS.UpstreamServers, yellow, green)
	dumpField("  block_ttl", cfg.DNS.BlockTTL, defaultCfg.DNS.BlockTTL, yellow, green)
	dumpField("  upstream_timeout", cfg.DNS.UpstreamTimeout, defaultCfg.DNS.UpstreamTimeout, yellow, green)
	dumpField("  cache_size", cfg.DNS.CacheSize, defaultCfg.DNS.CacheSize, yellow, green)

	_, _ = cyan.Println("\n[shield]")
	dumpField("  enabled", cfg.Shield.Enabled, defaultCfg.Shield.Enabled, yellow, green)
	dumpField("  channel", cfg.Shield.Channel, defaultCfg.Shield.Channel, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	_, _ = cyan.Println("\n[focus]")
	dumpField("  timezone", cfg.Focus.Timezone, defaultCfg.Focus.Timezone, yellow, green)
	dumpMap("  grace_periods", cfg.Focus.GracePeriods, defaultCfg.Focus.GracePeriods, yellow, green)
	dumpMap("  break_presets", cfg.Focus.BreakPresets, defaultCfg.Focus.BreakPresets, yellow, green)
	dumpField("  reconcile_interval", cfg.Focus.ReconcileInterval, defaultCfg.Focus.ReconcileInterval, yellow, green)
	dumpField("  effect_timeout", cfg.Focus.EffectTimeout, defaultCfg.Focus.EffectTimeout, yellow, green)

	_, _ = cyan.Println("\n[emergency]")
	dumpField("  window", cfg.Emergency.Window, defaultCfg.Emergency.Window, yellow, green)
	dumpField("  max_grants", cfg.Emergency.MaxGrants, defaultCfg.Emergency.MaxGrants, yellow, green)
	dumpField("  break_duration", cfg.Emergency.BreakDuration, defaultCfg.Emergency.BreakDuration, yellow, green)

	_, _ = cyan.Println("\n[blocklist]")
	dumpField("  path", cfg.Blocklist.Path, defaultCfg.Blocklist.Path, yellow, green)
	dumpField("  watch", cfg.Blocklist.Watch, defaultCfg.Blocklist.Watch, yellow, green)
	dumpField("  debounce", cfg.Blocklist.Debounce, defaultCfg.Blocklist.Debounce, yellow, green)

	_, _ = cyan.Println("\n[notifications]")
	dumpField("  enabled", cfg.Notifications.Enabled, defaultCfg.Notifications.Enabled, yellow, green)
	dumpField("  app_name", cfg.Notifications.AppName, defaultCfg.Notifications.AppName, yellow, green)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpMap prints one line per entry, in key order.
func dumpMap(name string, values, defaults map[string]string, modifiedColor, defaultColor *color.Color) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		dumpField(name, "{}", "{}", modifiedColor, defaultColor)
		return
	}
	for _, k := range keys {
		var def interface{} = "(unset)"
		if d, ok := defaults[k]; ok {
			def = d
		}
		dumpField(name+"."+k, values[k], def, modifiedColor, defaultColor)
	}
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
