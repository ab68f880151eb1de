package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"PW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PW_DB_MAX_CONNS" default:"8"`

	// Dedup policy. Similarity cutoffs are configuration, not constants: the
	// right values depend on the traffic mix per deployment.
	SimhashMaxDistance  int           `envconfig:"SIMHASH_MAX_DISTANCE" default:"3"`
	TrigramThreshold    float64       `envconfig:"TRIGRAM_SIMILARITY_THRESHOLD" default:"0.88"`
	DedupLookback       time.Duration `envconfig:"DEDUP_LOOKBACK" default:"72h"`
	DedupCandidateLimit int           `envconfig:"DEDUP_CANDIDATE_LIMIT" default:"200"`

	// Matching policy.
	MatchConfidenceFloor float64       `envconfig:"MATCH_CONFIDENCE_FLOOR" default:"0.5"`
	MonitorIndexTTL      time.Duration `envconfig:"MONITOR_INDEX_TTL" default:"1m"`

	// Alerting policy.
	AlertCooldown time.Duration `envconfig:"ALERT_COOLDOWN" default:"30m"`

	// Dispatch policy.
	DispatchMaxAttempts int           `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"5"`
	DispatchBaseBackoff time.Duration `envconfig:"DISPATCH_BASE_BACKOFF" default:"30s"`
	DispatchTimeout     time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"30s"`
	DispatchStuckAge    time.Duration `envconfig:"DISPATCH_STUCK_AGE" default:"10m"`
	StalePendingAge     time.Duration `envconfig:"STALE_PENDING_AGE" default:"15m"`

	// External scoring and embedding services.
	ScorerEndpoint    string        `envconfig:"SCORER_ENDPOINT" default:"http://127.0.0.1:8831/score"`
	ScorerTimeout     time.Duration `envconfig:"SCORER_TIMEOUT" default:"20s"`
	EmbeddingEndpoint string        `envconfig:"EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingTimeout  time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"45s"`
	EmbeddingBatch    int           `envconfig:"EMBEDDING_BATCH" default:"32"`

	// SMTP settings for the email delivery channel. Optional; the channel is
	// only registered when a host is configured.
	SMTPHost     string `envconfig:"SMTP_HOST" default:""`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"alerts@pulsewatch.dev"`

	// Worker sweep schedules (cron expressions with a seconds field).
	MatchSchedule    string `envconfig:"MATCH_SCHEDULE" default:"*/10 * * * * *"`
	AlertSchedule    string `envconfig:"ALERT_SCHEDULE" default:"*/15 * * * * *"`
	DispatchSchedule string `envconfig:"DISPATCH_SCHEDULE" default:"*/10 * * * * *"`
	RollupSchedule   string `envconfig:"ROLLUP_SCHEDULE" default:"*/30 * * * * *"`
	EnrichSchedule   string `envconfig:"ENRICH_SCHEDULE" default:"*/20 * * * * *"`
	SweepBatchSize   int    `envconfig:"SWEEP_BATCH_SIZE" default:"100"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PW_DB_MIN_CONNS (%d) cannot exceed PW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SimhashMaxDistance < 0 || c.SimhashMaxDistance > 64 {
		return fmt.Errorf("SIMHASH_MAX_DISTANCE must be between 0 and 64")
	}
	if c.TrigramThreshold < 0 || c.TrigramThreshold > 1 {
		return fmt.Errorf("TRIGRAM_SIMILARITY_THRESHOLD must be in [0,1]")
	}
	if c.MatchConfidenceFloor < 0 || c.MatchConfidenceFloor > 1 {
		return fmt.Errorf("MATCH_CONFIDENCE_FLOOR must be in [0,1]")
	}
	if c.DedupLookback <= 0 {
		return fmt.Errorf("DEDUP_LOOKBACK must be positive")
	}
	if c.DedupCandidateLimit < 1 {
		return fmt.Errorf("DEDUP_CANDIDATE_LIMIT must be >= 1")
	}
	if c.AlertCooldown < 0 {
		return fmt.Errorf("ALERT_COOLDOWN must not be negative")
	}
	if c.DispatchMaxAttempts < 1 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be >= 1")
	}
	if c.DispatchBaseBackoff <= 0 {
		return fmt.Errorf("DISPATCH_BASE_BACKOFF must be positive")
	}
	if c.DispatchStuckAge <= 0 {
		return fmt.Errorf("DISPATCH_STUCK_AGE must be positive")
	}
	if c.SweepBatchSize < 1 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be >= 1")
	}
	if c.SMTPHost != "" && strings.TrimSpace(c.SMTPFrom) == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}
