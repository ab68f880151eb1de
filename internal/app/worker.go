package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/cli"
	"pulsewatch.dev/pulsewatch/internal/enrich"
	"pulsewatch.dev/pulsewatch/internal/metrics"
)

const workerSweepTimeout = 5 * time.Minute

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return 1
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := connectPool(dbCtx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()

	matchSvc := newMatchService(pool, logger, cfg)
	alertSvc := newAlertService(pool, logger, cfg)
	rollupSvc := newRollupService(pool, logger)
	dispatchSvc := newDispatchService(pool, logger, cfg)
	enrichSvc := newEnrichService(pool, logger, cfg)

	limit := cfg.SweepBatchSize

	scheduler := cron.New(cron.WithSeconds())

	schedules := []struct {
		stage string
		expr  string
		run   func(ctx context.Context, log zerolog.Logger) error
	}{
		{
			stage: "match",
			expr:  cfg.MatchSchedule,
			run: func(ctx context.Context, log zerolog.Logger) error {
				result, err := matchSvc.MatchPending(ctx, limit)
				if err != nil {
					return err
				}
				if result.Processed > 0 {
					log.Info().Int("processed", result.Processed).Int("matched", result.Matched).Msg("match sweep completed")
				}
				return nil
			},
		},
		{
			stage: "alert",
			expr:  cfg.AlertSchedule,
			run: func(ctx context.Context, log zerolog.Logger) error {
				result, err := alertSvc.EvaluatePending(ctx, limit)
				if err != nil {
					return err
				}
				if result.Processed > 0 {
					log.Info().Int("processed", result.Processed).Int("fired", result.Fired).Msg("alert sweep completed")
				}
				return nil
			},
		},
		{
			stage: "rollup",
			expr:  cfg.RollupSchedule,
			run: func(ctx context.Context, log zerolog.Logger) error {
				result, err := rollupSvc.RollupPending(ctx, limit)
				if err != nil {
					return err
				}
				if result.Processed > 0 {
					log.Info().Int("processed", result.Processed).Int("rolled_up", result.RolledUp).Msg("rollup sweep completed")
				}
				return nil
			},
		},
		{
			stage: "dispatch",
			expr:  cfg.DispatchSchedule,
			run: func(ctx context.Context, log zerolog.Logger) error {
				result, err := dispatchSvc.Dispatch(ctx, limit)
				if err != nil {
					return err
				}
				if result.Processed > 0 {
					log.Info().
						Int("processed", result.Processed).
						Int("delivered", result.Delivered).
						Int("retried", result.Retried).
						Int("failed", result.Failed).
						Msg("dispatch sweep completed")
				}

				stale, err := dispatchSvc.StalePending(ctx, cfg.StalePendingAge)
				if err != nil {
					return err
				}
				metrics.StalePendingNotifications.Set(float64(stale))
				if stale > 0 {
					log.Warn().Int("stale", stale).Dur("age", cfg.StalePendingAge).Msg("notifications stuck pending past stale threshold")
				}
				return nil
			},
		},
		{
			stage: "enrich",
			expr:  cfg.EnrichSchedule,
			run: func(ctx context.Context, log zerolog.Logger) error {
				scored, err := enrichSvc.ScorePending(ctx, limit)
				if err != nil && !errors.Is(err, enrich.ErrScorerUnavailable) {
					return err
				}
				if errors.Is(err, enrich.ErrScorerUnavailable) {
					log.Warn().Err(err).Msg("scorer unavailable, pending mentions left for retry")
				}

				embedded, embedErr := enrichSvc.EmbedPending(ctx, limit)
				if embedErr != nil {
					log.Warn().Err(embedErr).Msg("embed sweep failed, vectors left for retry")
				}
				if scored.Scored > 0 || embedded.Embedded > 0 {
					log.Info().Int("scored", scored.Scored).Int("embedded", embedded.Embedded).Msg("enrich sweep completed")
				}
				return nil
			},
		},
	}

	for _, schedule := range schedules {
		stage := schedule.stage
		runSweep := schedule.run
		_, err := scheduler.AddFunc(schedule.expr, func() {
			sweepLogger := logger.With().
				Str("stage", stage).
				Str("sweep_id", uuid.NewString()).
				Logger()

			ctx, cancel := context.WithTimeout(context.Background(), workerSweepTimeout)
			defer cancel()

			started := time.Now()
			if err := runSweep(ctx, sweepLogger); err != nil {
				sweepLogger.Error().Err(err).Msg("sweep failed")
			}
			metrics.SweepDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
		})
		if err != nil {
			logger.Error().Err(err).Str("stage", stage).Str("schedule", schedule.expr).Msg("invalid cron schedule")
			fmt.Fprintf(os.Stderr, "Invalid %s schedule %q: %v\n", stage, schedule.expr, err)
			return 2
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	scheduler.Start()
	logger.Info().Int("batch_size", limit).Msg("pulsewatch worker started")

	<-sigCh
	logger.Info().Msg("shutdown signal received, waiting for running sweeps")

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(workerSweepTimeout):
		logger.Warn().Msg("sweeps did not finish before shutdown deadline")
	}

	logger.Info().Msg("pulsewatch worker stopped")
	return 0
}
