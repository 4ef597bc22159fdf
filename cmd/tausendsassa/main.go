// Package main is the CLI entrypoint for Tausendsassa. It provides
// subcommands for running the sync engine (serve), managing database
// migrations (migrate), and printing version information (version). The serve
// command loads configuration, connects to PostgreSQL (and optionally NATS),
// runs pending migrations, starts the periodic drivers and the ops HTTP
// endpoint, and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spa1teN/tausendsassa/internal/api"
	"github.com/spa1teN/tausendsassa/internal/audit"
	"github.com/spa1teN/tausendsassa/internal/backup"
	"github.com/spa1teN/tausendsassa/internal/calendar"
	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/config"
	"github.com/spa1teN/tausendsassa/internal/database"
	"github.com/spa1teN/tausendsassa/internal/events"
	"github.com/spa1teN/tausendsassa/internal/feeds"
	"github.com/spa1teN/tausendsassa/internal/httpfetch"
	"github.com/spa1teN/tausendsassa/internal/mapengine"
	"github.com/spa1teN/tausendsassa/internal/monitor"
	"github.com/spa1teN/tausendsassa/internal/retry"
	"github.com/spa1teN/tausendsassa/internal/scheduler"
	"github.com/spa1teN/tausendsassa/internal/store"
)

// Build-time variables set via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "migrate":
		if err := runMigrate(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		runVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// printUsage prints the CLI usage information.
func printUsage() {
	fmt.Println("Tausendsassa — feed, calendar, and map sync engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tausendsassa <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the sync engine")
	fmt.Println("  migrate   Run database migrations")
	fmt.Println("  version   Print version information")
	fmt.Println("  help      Show this help message")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  Config file:  tausendsassa.toml (or set TSB_CONFIG_PATH)")
	fmt.Println("  Env prefix:   TSB_ (e.g. TSB_DATABASE_URL)")
}

// runServe starts the full engine: loads config, connects to PostgreSQL and
// NATS, runs migrations, wires the engines into the scheduler, and handles
// graceful shutdown.
func runServe() error {
	logger := setupLogger("info", "json")

	logger.Info("starting Tausendsassa",
		slog.String("version", version),
		slog.String("commit", commit),
	)

	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reconfigure logger with loaded settings.
	logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", slog.String("path", cfgPath))

	if cfg.Chat.Token == "" {
		return fmt.Errorf("chat.token is required (set TSB_CHAT_TOKEN)")
	}

	ctx := context.Background()

	// Connect to database and run migrations.
	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConnections, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := database.MigrateUp(cfg.Database.URL, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	st := store.New(db.Pool)

	// Connect to the NATS event bus (optional).
	var bus *events.Bus
	if cfg.NATS.URL != "" {
		bus, err = events.New(cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn("event bus unavailable, continuing without it",
				slog.String("error", err.Error()),
			)
		} else {
			defer bus.Close()
		}
	}

	// Shared outbound HTTP pool.
	fetcher := httpfetch.New(httpfetch.Config{
		Timeout:        cfg.HTTP.Timeout(),
		MaxConnections: cfg.HTTP.MaxConnections,
		MaxPerHost:     cfg.HTTP.MaxPerHost,
		UserAgent:      cfg.HTTP.UserAgent,
		Cache:          st,
		Logger:         logger,
	})

	// Retry fabric.
	fabric := retry.New(retry.Config{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.BaseRetryDelay(),
		Logger:     logger,
	})

	// Chat surface and webhook client.
	surface := chat.NewArikawaSurface(cfg.Chat.Token)
	webhooks := chat.NewWebhookClient(fetcher, logger)

	// Engines.
	feedEngine := feeds.New(st, fetcher, fabric, surface, webhooks, bus, logger, feeds.Config{
		MaxPostAge:       cfg.Sync.MaxPostAge(),
		FailureThreshold: cfg.Sync.FailureThreshold,
	})
	calendarEngine := calendar.New(st, fetcher, fabric, surface, bus, logger)

	renderer := mapengine.NewRenderer(cfg.Map.DataDir, cfg.Map.CacheDir, 2, logger)
	mapEngine := mapengine.New(st, renderer, fetcher, surface, bus, logger, cfg.Map.BaseWidth, cfg.Map.CacheDir)

	monitorEngine := monitor.New(st, surface, logger, version)

	// Audit worker (bus consumers).
	auditWorker := audit.New(st, bus, webhooks, logger)
	if err := auditWorker.Start(ctx); err != nil {
		logger.Warn("audit worker not started", slog.String("error", err.Error()))
	}

	// Scheduler tasks.
	sched := scheduler.New(logger)
	sched.Add("feed-poll", time.Duration(cfg.Sync.FeedPollSeconds)*time.Second, feedEngine.PollAll)
	sched.Add("calendar-sync", time.Duration(cfg.Sync.CalendarSyncSeconds)*time.Second, calendarEngine.SyncAll)
	sched.Add("event-status", time.Duration(cfg.Sync.EventStatusSeconds)*time.Second, calendarEngine.TickEventStatus)
	sched.Add("reminders", time.Duration(cfg.Sync.ReminderSeconds)*time.Second, calendarEngine.TickReminders)
	sched.Add("monitor-refresh", time.Duration(cfg.Sync.MonitorRefreshSeconds)*time.Second, monitorEngine.RefreshDue)
	sched.Add("map-board-refresh", 15*time.Minute, mapEngine.RefreshAll)
	sched.Add("maintenance", time.Hour, func(ctx context.Context) error {
		if removed, err := st.CleanupPostedEntries(ctx, 7); err != nil {
			logger.Warn("posted-entry sweep failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			logger.Debug("posted entries swept", slog.Int64("removed", removed))
		}
		if _, err := st.CleanupFeedHTTPCache(ctx, 30); err != nil {
			logger.Warn("http cache sweep failed", slog.String("error", err.Error()))
		}
		fabric.Sweep(24 * time.Hour)
		return nil
	})

	if cfg.Backup.Enabled {
		backupSvc := backup.New(st, webhooks, bus, logger, backup.Config{
			Dir:         cfg.Backup.Dir,
			KeepDays:    cfg.Backup.KeepDays,
			WebhookURL:  cfg.Backup.WebhookURL,
			S3Endpoint:  cfg.Backup.S3Endpoint,
			S3Bucket:    cfg.Backup.S3Bucket,
			S3AccessKey: cfg.Backup.S3AccessKey,
			S3SecretKey: cfg.Backup.S3SecretKey,
			S3Region:    cfg.Backup.S3Region,
			S3UseSSL:    cfg.Backup.S3UseSSL,
		})
		sched.Add("backup", 24*time.Hour, backupSvc.Run)
	}

	// Start the scheduler; tasks hold until the chat surface is usable.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	sched.Start(runCtx)
	sched.Ready()

	// Ops HTTP endpoint.
	var opsServer *api.Server
	errCh := make(chan error, 1)
	if cfg.Ops.Enabled {
		opsServer = api.NewServer(cfg.Ops.Listen, st, sched, logger, version)
		go func() {
			if err := opsServer.Start(); err != nil {
				errCh <- fmt.Errorf("ops server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or server error.
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-shutdownCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	// Graceful shutdown: cancel tasks, wait bounded, stop the ops server.
	cancelRun()
	sched.Stop(10 * time.Second)

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown error", slog.String("error", err.Error()))
		}
	}

	logger.Info("Tausendsassa stopped")
	return nil
}

// runMigrate handles the migrate subcommand with up/down/status operations.
func runMigrate() error {
	logger := setupLogger("info", "text")

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	action := "up"
	if len(os.Args) >= 3 {
		action = os.Args[2]
	}

	switch action {
	case "up":
		return database.MigrateUp(cfg.Database.URL, logger)
	case "down":
		return database.MigrateDown(cfg.Database.URL, logger)
	case "status":
		v, dirty, err := database.MigrateStatus(cfg.Database.URL)
		if err != nil {
			return err
		}
		fmt.Printf("Migration version: %d\n", v)
		fmt.Printf("Dirty: %v\n", dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action: %s (use: up, down, status)", action)
	}
}

// runVersion prints version information and exits.
func runVersion() {
	fmt.Printf("Tausendsassa %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
}

// configPath returns the config file path from TSB_CONFIG_PATH or the default.
func configPath() string {
	if p := os.Getenv("TSB_CONFIG_PATH"); p != "" {
		return p
	}
	return "tausendsassa.toml"
}

// setupLogger creates a slog.Logger with the given level and format.
func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
