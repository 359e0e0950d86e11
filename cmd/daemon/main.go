// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/callscribe/callscribe/internal/api"
	"github.com/callscribe/callscribe/internal/archive"
	"github.com/callscribe/callscribe/internal/bus"
	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/engine"
	"github.com/callscribe/callscribe/internal/health"
	"github.com/callscribe/callscribe/internal/journal"
	xlog "github.com/callscribe/callscribe/internal/log"
	"github.com/callscribe/callscribe/internal/match"
	"github.com/callscribe/callscribe/internal/session"
	"github.com/callscribe/callscribe/internal/telemetry"
	"github.com/callscribe/callscribe/internal/watch"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Handle command-line flags
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xlog.Configure(xlog.Config{
		Level:   "info",
		Service: "callscribe",
		Version: version,
	})

	logger := xlog.WithComponent("daemon")

	// Create a context that listens for the interrupt signal from the OS
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Determine config path:
	// - Explicit via --config
	// - Otherwise auto-load ${CALLSCRIBE_DATA_DIR}/config.yaml if it exists
	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("CALLSCRIBE_DATA_DIR", config.Defaults().DataDir))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	// Load configuration with precedence: ENV > File > Defaults
	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	xlog.SetLevel(cfg.LogLevel)

	if err := config.EnsureDirs(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.dirs_failed").
			Msg("failed to create data directories")
	}

	// Pre-flight Checks (Fail Fast)
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting callscribe")

	// Log key configuration
	logger.Info().Msgf("→ Watch root: %s", cfg.WatchRoot)
	logger.Info().Msgf("→ Quiet period: %s", cfg.QuietPeriod)
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	if cfg.ArchiveEnabled {
		logger.Info().Msgf("→ Archive dir: %s", cfg.ArchiveDir)
	} else {
		logger.Warn().Msg("→ Archive: disabled (finalized sessions are journaled only)")
	}
	if cfg.NotifyURL != "" {
		logger.Info().Msgf("→ Notify: %s", cfg.NotifyURL)
	}

	// Tracing
	tracerProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TraceEnabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: version,
		Environment:    config.ParseString("CALLSCRIBE_ENVIRONMENT", "production"),
		ExporterType:   cfg.TraceExporter,
		Endpoint:       cfg.TraceEndpoint,
		SamplingRate:   cfg.TraceSamplingRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise tracing")
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// Journal (badger)
	store, err := journal.OpenBadgerStore(filepath.Join(cfg.DataDir, "journal"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "journal.open_failed").
			Msg("failed to open journal store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("journal close failed")
		}
	}()

	// Core assembly: matcher, registry, bus, engine, watcher
	matcher := match.New(match.Rules{
		Extension:      cfg.FileExtension,
		InboundSuffix:  cfg.InboundSuffix,
		OutboundSuffix: cfg.OutboundSuffix,
	})
	registry := session.NewRegistry(cfg.ClosedRetention)
	eventBus := bus.NewMemoryBus()

	eng := engine.New(engine.Config{
		QuietPeriod:        cfg.QuietPeriod,
		HandoffWorkers:     cfg.HandoffWorkers,
		HandoffRetries:     cfg.HandoffRetries,
		HandoffBackoffBase: cfg.HandoffBackoffBase,
		HandoffTimeout:     cfg.HandoffTimeout,
	}, matcher, registry, eventBus, store)

	watcher, err := watch.New(cfg.WatchRoot, eng.Events())
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "watch.init_failed").
			Msg("failed to initialise spool watcher")
	}

	// Archival subscriber
	var archiver *archive.Archiver
	var index *archive.Index
	if cfg.ArchiveEnabled {
		index, err = archive.OpenIndex(filepath.Join(cfg.DataDir, "archive.db"))
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "archive.index_failed").
				Msg("failed to open archive index")
		}
		defer func() {
			if err := index.Close(); err != nil {
				logger.Warn().Err(err).Msg("archive index close failed")
			}
		}()

		var transcriber archive.Transcriber
		if cfg.TranscribeCommand != "" {
			transcriber = &archive.CommandTranscriber{
				Command: cfg.TranscribeCommand,
				Timeout: cfg.TranscribeTimeout,
			}
		}
		var notifier *archive.Notifier
		if cfg.NotifyURL != "" {
			notifier = archive.NewNotifier(cfg.NotifyURL, cfg.NotifyRetries)
		}
		archiver = archive.New(cfg.ArchiveDir, eventBus, transcriber, notifier, index)
	}

	// Health manager with liveness/readiness checkers
	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewDirChecker("watch-root", cfg.WatchRoot))
	healthMgr.RegisterChecker(health.NewDirChecker("data-dir", cfg.DataDir))
	if index != nil {
		healthMgr.RegisterChecker(health.NewStoreChecker("archive-index", index.Ping))
	}

	server := api.NewServer(api.Config{
		ListenAddr:     cfg.ListenAddr,
		RateLimitRPM:   cfg.RateLimitRPM,
		MetricsEnabled: cfg.MetricsEnabled,
		TracingService: traceService(cfg),
	}, registry, store, index, healthMgr)

	// Supervise all long-running components; the first fatal error or
	// signal tears the group down.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	if archiver != nil {
		g.Go(func() error { return archiver.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !isShutdown(err) {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("daemon exiting")
}

func traceService(cfg config.AppConfig) string {
	if !cfg.TraceEnabled {
		return ""
	}
	return cfg.LogService
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
