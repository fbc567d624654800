package main

import (
	"context"
	"os"
	"time"

	"spesebook/internal/cli"
	"spesebook/internal/clock"
	"spesebook/internal/config"
	"spesebook/internal/log"
	"spesebook/internal/session"
	"spesebook/internal/storage"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("SPESEBOOK_LOG_LEVEL"))
	logger.Info("Starting recurring-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	loc, _ := cfg.Location() // validated above

	sess := session.New(session.Options{
		Store: storage.Options{
			Path:              cfg.DBPath,
			Location:          loc,
			CategoryCacheSize: cfg.CategoryCacheSize,
			CategoryCacheTTL:  cfg.CategoryCacheTTL,
			Logger:            logger.WithComponent(log.ComponentStorage),
		},
		CatchUpWorkers: cfg.CatchUpWorkers,
		CacheSweep:     cfg.CategoryCacheTTL,
		Logger:         logger,
	}, clock.System{})

	if _, err := sess.OpenStore(context.Background()); err != nil {
		logger.Error("Failed to open store", log.FieldError, err, log.FieldPath, cfg.DBPath)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if err := sess.Close(); err != nil {
			logger.Error("Failed to close session", log.FieldError, err)
		}
	})

	activate(ctx, sess, logger)

	if cfg.RecurringInterval == 0 {
		if err := sess.Close(); err != nil {
			logger.Error("Failed to close session", log.FieldError, err)
			os.Exit(1)
		}
		return
	}

	run(ctx, sess, cfg, logger)
	cli.WaitForShutdown(ctx, done)
}

// run starts a new activation every interval until ctx ends.
func run(ctx context.Context, sess *session.Session, cfg *config.Config, logger *log.Logger) {
	logger.Info("Recurring catch-up scheduled", "interval", cfg.RecurringInterval)

	ticker := time.NewTicker(cfg.RecurringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.Resume()
			activate(ctx, sess, logger)
		}
	}
}

func activate(ctx context.Context, sess *session.Session, logger *log.Logger) {
	report, err := sess.Activate(ctx)
	if err != nil {
		logger.Error("Recurring catch-up failed", log.FieldOperation, log.OpCatchUp, log.FieldError, err)
		return
	}
	logger.Info("Recurring catch-up finished",
		log.FieldOperation, log.OpCatchUp,
		"rules_checked", report.RulesChecked,
		"rules_failed", report.RulesFailed,
		"materialized", report.Materialized)
}
