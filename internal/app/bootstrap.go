package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/alert"
	"pulsewatch.dev/pulsewatch/internal/channels"
	"pulsewatch.dev/pulsewatch/internal/config"
	"pulsewatch.dev/pulsewatch/internal/db"
	"pulsewatch.dev/pulsewatch/internal/dispatch"
	"pulsewatch.dev/pulsewatch/internal/enrich"
	"pulsewatch.dev/pulsewatch/internal/ingest"
	"pulsewatch.dev/pulsewatch/internal/logging"
	"pulsewatch.dev/pulsewatch/internal/match"
	"pulsewatch.dev/pulsewatch/internal/rollup"
)

func loadConfigAndLogger() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), err
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func connectPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*db.Pool, error) {
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return nil, err
	}
	return pool, nil
}

func buildChannelRegistry(cfg *config.Config, logger zerolog.Logger) *channels.Registry {
	registry := channels.NewRegistry()
	registry.Register(channels.NewWebhookChannel(cfg.DispatchTimeout))

	if cfg.SMTPHost != "" {
		registry.Register(channels.NewEmailChannel(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom))
	} else {
		logger.Debug().Msg("SMTP_HOST not set, email channel disabled")
	}
	return registry
}

func newIngestService(pool *db.Pool, logger zerolog.Logger, cfg *config.Config) *ingest.Service {
	return ingest.NewService(pool, logger, ingest.Options{
		SimhashMaxDistance: cfg.SimhashMaxDistance,
		TrigramThreshold:   cfg.TrigramThreshold,
		Lookback:           cfg.DedupLookback,
		CandidateLimit:     cfg.DedupCandidateLimit,
	})
}

func newMatchService(pool *db.Pool, logger zerolog.Logger, cfg *config.Config) *match.Service {
	return match.NewService(pool, logger, match.Options{
		ConfidenceFloor: cfg.MatchConfidenceFloor,
		IndexTTL:        cfg.MonitorIndexTTL,
	})
}

func newAlertService(pool *db.Pool, logger zerolog.Logger, cfg *config.Config) *alert.Service {
	return alert.NewService(pool, logger, alert.Options{
		DefaultCooldown:     cfg.AlertCooldown,
		DispatchMaxAttempts: cfg.DispatchMaxAttempts,
	})
}

func newDispatchService(pool *db.Pool, logger zerolog.Logger, cfg *config.Config) *dispatch.Service {
	registry := buildChannelRegistry(cfg, logger)
	return dispatch.NewService(pool, registry, logger, dispatch.Options{
		BaseBackoff:     cfg.DispatchBaseBackoff,
		DeliveryTimeout: cfg.DispatchTimeout,
		StuckAge:        cfg.DispatchStuckAge,
	})
}

func newRollupService(pool *db.Pool, logger zerolog.Logger) *rollup.Service {
	return rollup.NewService(pool, logger)
}

func newEnrichService(pool *db.Pool, logger zerolog.Logger, cfg *config.Config) *enrich.Service {
	return enrich.NewService(pool, logger,
		enrich.ScorerOptions{
			Endpoint: cfg.ScorerEndpoint,
			Timeout:  cfg.ScorerTimeout,
		},
		enrich.EmbedOptions{
			Endpoint:  cfg.EmbeddingEndpoint,
			Timeout:   cfg.EmbeddingTimeout,
			BatchSize: cfg.EmbeddingBatch,
		})
}
