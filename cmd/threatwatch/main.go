// Package main is the entry point for the threatwatch detection engine.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"threatwatch/internal/alerting"
	"threatwatch/internal/archive"
	"threatwatch/internal/audit"
	"threatwatch/internal/config"
	"threatwatch/internal/detect"
	"threatwatch/internal/engine"
	"threatwatch/internal/fallback"
	"threatwatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	slog.Info("configuration loaded",
		"clickhouse_hosts", cfg.Storage.ClickHouse.Hosts,
		"redis_enabled", cfg.Redis.Enabled,
		"kafka_enabled", cfg.Alerting.Kafka.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
		"scan_enabled", cfg.Scan.Enabled,
	)

	trail, err := audit.NewTrail(cfg.Audit, []byte(os.Getenv("THREATWATCH_AUDIT_KEY")))
	if err != nil {
		slog.Error("failed to open audit trail", "error", err)
		os.Exit(1)
	}
	defer trail.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The storage decision is made once at startup: either ClickHouse is
	// reachable and the engine runs fully persistent, or it is not and
	// the engine runs degraded on in-memory buffers and the audit trail.
	var (
		primary    fallback.Primary
		activity   engine.ActivityLog
		eventStore *storage.EventStore
		chClient   *storage.ClickHouseClient
	)

	chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
	if err != nil {
		if cfg.Storage.Required {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		slog.Warn("ClickHouse unreachable, starting in degraded mode", "error", err)
		chClient = nil
		activity = fallback.NewActivityBuffer()
	} else {
		defer chClient.Close()

		slog.Info("running database migrations")
		if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		eventStore = storage.NewEventStore(chClient)
		primary = eventStore
		activity = storage.NewActivityLog(chClient)
	}

	var rdb *redis.Client
	var profiles detect.ProfileCache
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		defer rdb.Close()
		profiles = storage.NewProfileCache(rdb, cfg.Redis.ProfileTTL)
	}

	dispatcher := alerting.NewDispatcher(cfg.Alerting.Dispatcher, rdb)
	dispatcher.AddChannel(alerting.NewLogChannel())

	var kafkaChannel *alerting.KafkaChannel
	if cfg.Alerting.Kafka.Enabled {
		kafkaChannel = alerting.NewKafkaChannel(cfg.Alerting.Kafka)
		dispatcher.AddChannel(kafkaChannel)
		defer kafkaChannel.Close()
	}
	if cfg.Alerting.WebhookURL != "" {
		dispatcher.AddChannel(alerting.NewWebhookChannel("webhook", cfg.Alerting.WebhookURL, nil))
	}

	store := fallback.NewStore(primary, trail)

	eng, err := engine.New(engine.Options{
		Store:      store,
		Activity:   activity,
		Trail:      trail,
		Dispatcher: dispatcher,
		Profiles:   profiles,
		Detection:  cfg.Detection,
		Thresholds: cfg.Scoring,
	})
	if err != nil {
		slog.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	if cfg.Archive.Enabled {
		if eventStore == nil {
			slog.Warn("archive enabled but storage is degraded, skipping archiver")
		} else {
			archiver, err := archive.NewArchiver(ctx, cfg.Archive, eventStore)
			if err != nil {
				slog.Error("failed to build archiver", "error", err)
				os.Exit(1)
			}
			go archiver.Run(ctx)
		}
	}

	if cfg.Scan.Enabled {
		go runScanLoop(ctx, eng, cfg.Scan)
	}

	trail.Append(audit.Record{
		Tag:     audit.TagSystem,
		Message: "engine started",
		Success: true,
		Data: map[string]any{
			"degraded": store.Degraded(),
		},
	})
	slog.Info("threatwatch started", "degraded", store.Degraded())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())
	cancel()

	trail.Append(audit.Record{
		Tag:     audit.TagSystem,
		Message: "engine stopped",
		Success: true,
	})
	slog.Info("shutdown complete")
}

// setupLogging configures the default slog logger from config.
func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// runScanLoop periodically runs the anomaly detector over recently
// active actors and logs a metrics summary.
func runScanLoop(ctx context.Context, eng *engine.Engine, cfg config.ScanConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	slog.Info("anomaly scan loop started",
		"interval", cfg.Interval,
		"lookback", cfg.Lookback,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("anomaly scan loop stopping")
			return
		case <-ticker.C:
			emitted, err := eng.ScanRecentActors(ctx, cfg.Lookback, cfg.MaxActors)
			if err != nil {
				slog.Error("anomaly scan failed", "error", err)
				continue
			}

			m, err := eng.GetSecurityMetrics(ctx, 7)
			if err != nil {
				slog.Error("metrics refresh failed", "error", err)
				continue
			}
			slog.Info("scan cycle complete",
				"emitted", emitted,
				"total_events_7d", m.TotalEvents,
				"open_alerts", m.OpenAlerts,
				"degraded", m.Degraded,
			)
		}
	}
}
