package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/lingoloop/viability/internal/config"
	"github.com/lingoloop/viability/internal/health"
	"github.com/lingoloop/viability/internal/metrics"
	"github.com/lingoloop/viability/internal/mgmt"
	"github.com/lingoloop/viability/internal/notify"
	"github.com/lingoloop/viability/internal/retry"
	"github.com/lingoloop/viability/internal/seed"
	"github.com/lingoloop/viability/internal/store"
	"github.com/lingoloop/viability/internal/sweep"
	"github.com/lingoloop/viability/internal/threshold"
	"github.com/lingoloop/viability/internal/ttlcache"
	"github.com/lingoloop/viability/internal/variant"
	"github.com/lingoloop/viability/internal/viability"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Dur("sweep_interval", cfg.SweepInterval).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting viability engine")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Storage
	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	// Seed threshold configs into an empty store
	if cfg.SeedConfigPath != "" {
		seedFile, seedErr := seed.Load(cfg.SeedConfigPath)
		if seedErr != nil {
			logger.Fatal().Err(seedErr).Str("path", cfg.SeedConfigPath).Msg("failed to load seed file")
		}
		if seedErr := seed.Apply(ctx, st, seedFile, logger); seedErr != nil {
			logger.Fatal().Err(seedErr).Msg("failed to seed threshold configs")
		}
	}

	// Caches
	resolvedCache := ttlcache.New[threshold.Resolved](cfg.CacheCapacity, cfg.CacheSweepInterval)
	analysisCache := ttlcache.New[viability.Analysis](cfg.CacheCapacity, cfg.CacheSweepInterval)
	defer resolvedCache.Stop()
	defer analysisCache.Stop()

	// Core engine
	resolver := threshold.NewResolver(st, resolvedCache, logger)
	overlay := variant.NewStaticOverlay()
	analyzer := viability.NewAnalyzer(resolver, analysisCache, logger, viability.WithOverlay(overlay))
	machine := viability.NewMachine(st, resolver, analyzer, logger)

	// Notifications
	var notifier notify.Notifier = notify.Nop{}
	if cfg.SlackEnabled() {
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = cfg.NotifyRetries
		retryCfg.AttemptTimeout = cfg.NotifyTimeout
		notifier = notify.NewSlackNotifier(
			slack.New(cfg.SlackBotToken),
			cfg.SlackCancChannel,
			cfg.SlackWarnChannel,
			retryCfg,
			logger,
		)
		logger.Info().
			Str("cancellation_channel", cfg.SlackCancChannel).
			Str("warning_channel", cfg.SlackWarnChannel).
			Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack not configured — decisions will only be logged")
	}

	// Metrics & health
	metricsCollector := metrics.New()
	checker := health.NewChecker(logger)
	checker.Register("sqlite", func(context.Context) health.Status {
		if st.Ping() != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Sweep scheduler
	sweeper := sweep.New(st, machine, notifier, cfg.SweepInterval, cfg.SweepWorkers, logger,
		sweep.WithMetrics(metricsCollector))

	// Management API
	rtCfg := &mgmt.RuntimeConfig{
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
		MgmtListenAddr: cfg.MgmtListenAddr,
		AuthMode:       cfg.MgmtAuthMode,
		SweepInterval:  cfg.SweepInterval,
		SweepWorkers:   cfg.SweepWorkers,
		CacheCapacity:  cfg.CacheCapacity,
	}

	mgmtServer := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:      cfg.MgmtAuthMode,
			APIKey:    cfg.MgmtAPIKey,
			JWTSecret: cfg.MgmtJWTSecret,
		},
		CORSOrigins: cfg.MgmtCORSOrigins,
	}, st, resolver, analyzer, sweeper, checker, metricsCollector, rtCfg, logger)

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	// Start sweep scheduler
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	// Start Management API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgmtServer.Start(); err != nil {
			logger.Error().Err(err).Msg("management API server error")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Cancel context to stop the sweeper
	cancel()

	if err := mgmtServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("management API server shutdown error")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("viability engine stopped")
}
