package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/cli"
	"pulsewatch.dev/pulsewatch/internal/config"
	"pulsewatch.dev/pulsewatch/internal/db"
	"pulsewatch.dev/pulsewatch/internal/enrich"
)

type sweepFlags struct {
	envLoader *cli.EnvLoader
	timeout   *time.Duration
	limit     *int
}

func newSweepFlagSet(name string, defaultTimeout time.Duration, limitUsage string) (*flag.FlagSet, sweepFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	flags := sweepFlags{
		envLoader: cli.AddEnvFlag(fs, ".env", "Path to the .env file"),
		timeout:   fs.Duration("timeout", defaultTimeout, "Command timeout"),
		limit:     fs.Int("limit", 1000, limitUsage),
	}
	return fs, flags
}

func parseSweepFlags(fs *flag.FlagSet, flags sweepFlags, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	if *flags.limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2, false
	}

	if flags.envLoader != nil {
		if _, err := flags.envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return 0, true
}

func runMatch(args []string) int {
	fs, flags := newSweepFlagSet("match", time.Minute, "Maximum unmatched mentions to process")
	if code, ok := parseSweepFlags(fs, flags, args); !ok {
		return code
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flags.timeout)
	defer cancel()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()

	svc := newMatchService(pool, logger, cfg)
	result, err := svc.MatchPending(ctx, *flags.limit)
	if err != nil {
		logger.Error().Err(err).Int("limit", *flags.limit).Msg("match sweep failed")
		fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("matched", result.Matched).
		Msg("match sweep completed")
	fmt.Printf("match processed=%d matched=%d limit=%d\n", result.Processed, result.Matched, *flags.limit)
	return 0
}

func runAlerts(args []string) int {
	fs, flags := newSweepFlagSet("alerts", time.Minute, "Maximum unevaluated matches to process")
	if code, ok := parseSweepFlags(fs, flags, args); !ok {
		return code
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flags.timeout)
	defer cancel()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()

	svc := newAlertService(pool, logger, cfg)
	result, err := svc.EvaluatePending(ctx, *flags.limit)
	if err != nil {
		logger.Error().Err(err).Int("limit", *flags.limit).Msg("alert sweep failed")
		fmt.Fprintf(os.Stderr, "Alert evaluation failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("fired", result.Fired).
		Msg("alert sweep completed")
	fmt.Printf("alerts processed=%d fired=%d limit=%d\n", result.Processed, result.Fired, *flags.limit)
	return 0
}

func runDispatch(args []string) int {
	fs, flags := newSweepFlagSet("dispatch", 2*time.Minute, "Maximum queued notifications to deliver")
	if code, ok := parseSweepFlags(fs, flags, args); !ok {
		return code
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flags.timeout)
	defer cancel()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()

	svc := newDispatchService(pool, logger, cfg)
	result, err := svc.Dispatch(ctx, *flags.limit)
	if err != nil {
		logger.Error().Err(err).Int("limit", *flags.limit).Msg("dispatch sweep failed")
		fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("delivered", result.Delivered).
		Int("retried", result.Retried).
		Int("failed", result.Failed).
		Msg("dispatch sweep completed")
	fmt.Printf("dispatch processed=%d delivered=%d retried=%d failed=%d\n",
		result.Processed, result.Delivered, result.Retried, result.Failed)
	return 0
}

func runRollup(args []string) int {
	fs, flags := newSweepFlagSet("rollup", time.Minute, "Maximum matches to fold into analytics")
	if code, ok := parseSweepFlags(fs, flags, args); !ok {
		return code
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flags.timeout)
	defer cancel()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()

	svc := newRollupService(pool, logger)
	result, err := svc.RollupPending(ctx, *flags.limit)
	if err != nil {
		logger.Error().Err(err).Int("limit", *flags.limit).Msg("rollup sweep failed")
		fmt.Fprintf(os.Stderr, "Rollup failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("rolled_up", result.RolledUp).
		Msg("rollup sweep completed")
	fmt.Printf("rollup processed=%d rolled_up=%d limit=%d\n", result.Processed, result.RolledUp, *flags.limit)
	return 0
}

func runEnrich(args []string) int {
	fs, flags := newSweepFlagSet("enrich", 5*time.Minute, "Maximum pending mentions to enrich")
	skipEmbed := fs.Bool("skip-embed", false, "Skip the embedding pass")
	if code, ok := parseSweepFlags(fs, flags, args); !ok {
		return code
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flags.timeout)
	defer cancel()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()

	svc := newEnrichService(pool, logger, cfg)

	scored, err := svc.ScorePending(ctx, *flags.limit)
	if err != nil {
		if errors.Is(err, enrich.ErrScorerUnavailable) {
			logger.Warn().Err(err).Msg("scorer unavailable, pending mentions left for retry")
		} else {
			logger.Error().Err(err).Msg("score sweep failed")
			fmt.Fprintf(os.Stderr, "Enrich failed: %v\n", err)
			return 1
		}
	}

	var embedded enrich.EmbedResult
	if !*skipEmbed {
		embedded, err = svc.EmbedPending(ctx, *flags.limit)
		if err != nil {
			logger.Warn().Err(err).Msg("embed sweep failed, vectors left for retry")
		}
	}

	logger.Info().
		Int("scored", scored.Scored).
		Int("embedded", embedded.Embedded).
		Msg("enrich sweep completed")
	fmt.Printf("enrich scored=%d embedded=%d limit=%d\n", scored.Scored, embedded.Embedded, *flags.limit)
	return 0
}

// runProcess runs one full pipeline pass in dependency order. Match before
// alerts so fresh matches are evaluated, alerts before dispatch so the queue
// has something to deliver.
func runProcess(args []string) int {
	fs, flags := newSweepFlagSet("process", 10*time.Minute, "Maximum items per stage")
	if code, ok := parseSweepFlags(fs, flags, args); !ok {
		return code
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flags.timeout)
	defer cancel()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()

	if err := runPipelineOnce(ctx, pool, logger, cfg, *flags.limit); err != nil {
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		return 1
	}

	fmt.Println("process completed")
	return 0
}

func runPipelineOnce(ctx context.Context, pool *db.Pool, logger zerolog.Logger, cfg *config.Config, limit int) error {
	matchSvc := newMatchService(pool, logger, cfg)
	alertSvc := newAlertService(pool, logger, cfg)
	rollupSvc := newRollupService(pool, logger)
	dispatchSvc := newDispatchService(pool, logger, cfg)
	enrichSvc := newEnrichService(pool, logger, cfg)

	matched, err := matchSvc.MatchPending(ctx, limit)
	if err != nil {
		return fmt.Errorf("match stage: %w", err)
	}
	logger.Info().Int("processed", matched.Processed).Int("matched", matched.Matched).Msg("match stage completed")

	alerts, err := alertSvc.EvaluatePending(ctx, limit)
	if err != nil {
		return fmt.Errorf("alert stage: %w", err)
	}
	logger.Info().Int("processed", alerts.Processed).Int("fired", alerts.Fired).Msg("alert stage completed")

	rolled, err := rollupSvc.RollupPending(ctx, limit)
	if err != nil {
		return fmt.Errorf("rollup stage: %w", err)
	}
	logger.Info().Int("processed", rolled.Processed).Int("rolled_up", rolled.RolledUp).Msg("rollup stage completed")

	dispatched, err := dispatchSvc.Dispatch(ctx, limit)
	if err != nil {
		return fmt.Errorf("dispatch stage: %w", err)
	}
	logger.Info().
		Int("processed", dispatched.Processed).
		Int("delivered", dispatched.Delivered).
		Int("retried", dispatched.Retried).
		Int("failed", dispatched.Failed).
		Msg("dispatch stage completed")

	if _, err := enrichSvc.ScorePending(ctx, limit); err != nil {
		if errors.Is(err, enrich.ErrScorerUnavailable) {
			logger.Warn().Err(err).Msg("scorer unavailable, pending mentions left for retry")
		} else {
			return fmt.Errorf("score stage: %w", err)
		}
	}
	if _, err := enrichSvc.EmbedPending(ctx, limit); err != nil {
		logger.Warn().Err(err).Msg("embed stage failed, vectors left for retry")
	}

	return nil
}
