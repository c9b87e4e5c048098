package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/focusguard/internal/blocklist"
	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/control"
	"github.com/goodtune/focusguard/internal/coordinator"
	"github.com/goodtune/focusguard/internal/dns"
	"github.com/goodtune/focusguard/internal/enforce"
	"github.com/goodtune/focusguard/internal/focus"
	"github.com/goodtune/focusguard/internal/jobs"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/notify"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/goodtune/focusguard/internal/storage/redis"
	"github.com/goodtune/focusguard/internal/systemd"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the focusguard daemon",
	Long:  `Start the focusguard daemon with the DNS site blocker, the control API, and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting focusguard")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage, cfg.Shield.Channel)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Msg("Storage initialized")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	grace, err := cfg.GracePeriods()
	if err != nil {
		return err
	}
	presets, err := cfg.BreakPresets()
	if err != nil {
		return err
	}
	policy, err := cfg.OverridePolicy()
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()

	// Initialize enforcers
	var enforcers []enforce.Named

	var dnsServer *dns.Server
	if cfg.DNS.Enabled {
		dnsConfig := dns.Config{
			ListenAddr:  net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.DNSPort)),
			UpstreamDNS: cfg.DNS.UpstreamServers,
			BlockTTL:    cfg.DNS.BlockTTL,
			EnableTCP:   cfg.Server.DNSEnableTCP,
			EnableUDP:   cfg.Server.DNSEnableUDP,
			Timeout:     config.ParseDuration(cfg.DNS.UpstreamTimeout, 5*time.Second),
			CacheSize:   cfg.DNS.CacheSize,
		}

		dnsServer, err = dns.NewServer(dnsConfig, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize DNS Server: %w", err)
		}

		// Use systemd socket-activated listeners if available
		if sdListeners.DNSUdp != nil {
			dnsServer.SetPacketConn(sdListeners.DNSUdp)
		}
		if sdListeners.DNSTcp != nil {
			dnsServer.SetListener(sdListeners.DNSTcp)
		}

		if err := dnsServer.Start(); err != nil {
			return fmt.Errorf("failed to start DNS Server: %w", err)
		}

		enforcers = append(enforcers, enforce.Named{Name: "dns", Enforcer: dnsServer})
		logger.Info().
			Str("addr", dnsConfig.ListenAddr).
			Strs("upstreams", dnsConfig.UpstreamDNS).
			Msg("DNS Server started")
	}

	if cfg.Shield.Enabled {
		enforcers = append(enforcers, enforce.Named{Name: "shield", Enforcer: enforce.NewShield(store.Shield(), clock, logger)})
		logger.Info().Str("channel", cfg.Shield.Channel).Msg("Shield publisher enabled")
	}

	if len(enforcers) == 0 {
		logger.Warn().Msg("No enforcers enabled, sessions will not restrict anything")
	}
	enforcer := enforce.NewMulti(logger, enforcers...)

	var notifier focus.Notifier
	if cfg.Notifications.Enabled {
		notifier = notify.NewDesktop(cfg.Notifications.AppName, logger)
	}

	// Initialize coordinator and scheduler
	ctx := context.Background()
	coord, err := coordinator.New(ctx, store, enforcer, coordinator.Options{
		Clock:         clock,
		Location:      loc,
		GracePeriods:  grace,
		BreakPresets:  presets,
		Policy:        policy,
		Notifier:      notifier,
		EffectTimeout: config.ParseDuration(cfg.Focus.EffectTimeout, 10*time.Second),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	logger.Info().
		Str("timezone", loc.String()).
		Str("emergency_window", string(policy.Window)).
		Int("emergency_max_grants", policy.MaxGrants).
		Msg("Scheduler started")

	// Blocklist file
	var watcher *blocklist.Watcher
	if cfg.Blocklist.Path != "" {
		watcher, err = blocklist.NewWatcher(
			cfg.Blocklist.Path,
			config.ParseDuration(cfg.Blocklist.Debounce, 500*time.Millisecond),
			func(ctx context.Context, sel storage.Selection) error {
				_, err := coord.UpdateSelection(ctx, sel)
				return err
			},
			logger,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize blocklist watcher: %w", err)
		}

		if err := watcher.Reload(ctx); err != nil {
			logger.Error().Err(err).Str("path", cfg.Blocklist.Path).Msg("Failed to load blocklist")
		}
		if cfg.Blocklist.Watch {
			if err := watcher.Start(ctx); err != nil {
				return fmt.Errorf("failed to watch blocklist: %w", err)
			}
		}
	}

	// Maintenance jobs
	runner, err := jobs.NewRunner(coord, jobs.Options{
		Clock:             clock,
		Location:          loc,
		ReconcileInterval: config.ParseDuration(cfg.Focus.ReconcileInterval, 30*time.Second),
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize maintenance jobs: %w", err)
	}
	runner.Start()

	// Initialize Control Server
	apiAddr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.ControlPort))
	controlServer := control.NewServer(apiAddr, coord, logger)
	if sdListeners.Control != nil {
		controlServer.SetListener(sdListeners.Control)
	}
	if err := controlServer.Start(); err != nil {
		return fmt.Errorf("failed to start Control Server: %w", err)
	}

	// Initialize Metrics Server
	metricsAddr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.MetricsPort))
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().Msg("focusguard startup complete")
	logger.Info().Msgf("Control API: http://%s", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	stopWatchdog := startWatchdog(logger)

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading blocklist and refreshing restrictions")
		if watcher != nil {
			if err := watcher.Reload(ctx); err != nil {
				logger.Error().Err(err).Msg("Failed to reload blocklist")
			}
		}
		if err := coord.RefreshRestrictions(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to refresh restrictions")
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	stopWatchdog()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := controlServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping Control Server")
	}
	if err := runner.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping maintenance jobs")
	}
	if watcher != nil {
		watcher.Stop()
	}

	// Ends any active session so restrictions are lifted before the DNS
	// server goes away.
	if err := coord.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping scheduler")
	}

	if dnsServer != nil {
		if err := dnsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping DNS Server")
		}
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("focusguard stopped")
	return nil
}

func openStorage(cfg config.StorageConfig, shieldChannel string) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis, redis.WithShieldChannel(shieldChannel))
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", storageType)
	}
}

// startWatchdog pings the systemd watchdog until the returned func is called.
func startWatchdog(logger zerolog.Logger) func() {
	interval, err := systemd.WatchdogInterval()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read systemd watchdog settings")
		return func() {}
	}
	if interval <= 0 {
		return func() {}
	}

	logger.Debug().Dur("interval", interval).Msg("Systemd watchdog enabled")
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := systemd.NotifyWatchdog(); err != nil {
					logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
