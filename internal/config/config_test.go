package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Environment:          "local",
		LogLevel:             "info",
		DatabaseURL:          "postgres://localhost:5432/pulsewatch",
		DBMinConns:           1,
		DBMaxConns:           8,
		SimhashMaxDistance:   3,
		TrigramThreshold:     0.88,
		DedupLookback:        72 * time.Hour,
		DedupCandidateLimit:  200,
		MatchConfidenceFloor: 0.5,
		MonitorIndexTTL:      time.Minute,
		AlertCooldown:        30 * time.Minute,
		DispatchMaxAttempts:  5,
		DispatchBaseBackoff:  30 * time.Second,
		DispatchStuckAge:     10 * time.Minute,
		SweepBatchSize:       100,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.DatabaseURL = "  " },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "min conns above max",
			mutate:  func(c *Config) { c.DBMinConns = 9 },
			wantErr: "PW_DB_MIN_CONNS (9) cannot exceed PW_DB_MAX_CONNS (8)",
		},
		{
			name:    "negative min conns",
			mutate:  func(c *Config) { c.DBMinConns = -1 },
			wantErr: "PW_DB_MIN_CONNS",
		},
		{
			name:    "simhash distance out of range",
			mutate:  func(c *Config) { c.SimhashMaxDistance = 65 },
			wantErr: "SIMHASH_MAX_DISTANCE",
		},
		{
			name:    "trigram threshold out of range",
			mutate:  func(c *Config) { c.TrigramThreshold = 1.5 },
			wantErr: "TRIGRAM_SIMILARITY_THRESHOLD",
		},
		{
			name:    "confidence floor out of range",
			mutate:  func(c *Config) { c.MatchConfidenceFloor = -0.1 },
			wantErr: "MATCH_CONFIDENCE_FLOOR",
		},
		{
			name:    "zero lookback",
			mutate:  func(c *Config) { c.DedupLookback = 0 },
			wantErr: "DEDUP_LOOKBACK",
		},
		{
			name:    "zero candidate limit",
			mutate:  func(c *Config) { c.DedupCandidateLimit = 0 },
			wantErr: "DEDUP_CANDIDATE_LIMIT",
		},
		{
			name:    "negative cooldown",
			mutate:  func(c *Config) { c.AlertCooldown = -time.Minute },
			wantErr: "ALERT_COOLDOWN",
		},
		{
			name:    "zero dispatch attempts",
			mutate:  func(c *Config) { c.DispatchMaxAttempts = 0 },
			wantErr: "DISPATCH_MAX_ATTEMPTS",
		},
		{
			name:    "zero base backoff",
			mutate:  func(c *Config) { c.DispatchBaseBackoff = 0 },
			wantErr: "DISPATCH_BASE_BACKOFF",
		},
		{
			name:    "zero stuck age",
			mutate:  func(c *Config) { c.DispatchStuckAge = 0 },
			wantErr: "DISPATCH_STUCK_AGE",
		},
		{
			name:    "zero sweep batch",
			mutate:  func(c *Config) { c.SweepBatchSize = 0 },
			wantErr: "SWEEP_BATCH_SIZE",
		},
		{
			name: "smtp host without from",
			mutate: func(c *Config) {
				c.SMTPHost = "smtp.example.com"
				c.SMTPFrom = " "
			},
			wantErr: "SMTP_FROM",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}
