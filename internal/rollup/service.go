package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/db"
	"pulsewatch.dev/pulsewatch/internal/globaltime"
)

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
}

// mentionFacts is the slice of a mention the rollup aggregates.
type mentionFacts struct {
	Platform       string
	PublishedAt    time.Time
	SentimentScore *float64
	SentimentLabel *string
	Category       *string
	Likes          int
	Shares         int
	Comments       int
}

type SweepResult struct {
	Processed int
	RolledUp  int
}

func NewService(pool *db.Pool, logger zerolog.Logger) *Service {
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

// HourBucket floors a timestamp to its UTC hour.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayBucket floors a timestamp to its UTC day.
func DayBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// RollupPending claims monitor matches without a rollup marker and folds each
// into the hourly and daily aggregates.
func (s *Service) RollupPending(ctx context.Context, limit int) (SweepResult, error) {
	if s == nil || s.pool == nil {
		return SweepResult{}, fmt.Errorf("rollup service is not initialized")
	}
	if limit <= 0 {
		return SweepResult{}, nil
	}

	var result SweepResult
	for result.Processed < limit {
		tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
		if err != nil {
			return result, fmt.Errorf("begin rollup tx: %w", err)
		}

		monitorID, mentionID, found, err := claimOneUnrolledMatchTx(ctx, tx)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}
		if !found {
			if err := tx.Commit(ctx); err != nil {
				_ = tx.Rollback(ctx)
				return result, fmt.Errorf("commit empty rollup tx: %w", err)
			}
			break
		}

		rolledUp, err := s.recordTx(ctx, tx, monitorID, mentionID)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("commit rollup tx: %w", err)
		}

		result.Processed++
		if rolledUp {
			result.RolledUp++
		}
	}

	return result, nil
}

// Record folds one monitor/mention pair into the aggregates. Safe to replay;
// the marker row makes the second call a no-op.
func (s *Service) Record(ctx context.Context, monitorID, mentionID int64) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("rollup service is not initialized")
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin rollup tx: %w", err)
	}

	if _, err := s.recordTx(ctx, tx, monitorID, mentionID); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit rollup tx: %w", err)
	}
	return nil
}

func (s *Service) recordTx(ctx context.Context, tx db.Tx, monitorID, mentionID int64) (bool, error) {
	inserted, err := insertMarkerTx(ctx, tx, monitorID, mentionID)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	facts, err := loadMentionFactsTx(ctx, tx, mentionID)
	if err != nil {
		return false, err
	}

	now := globaltime.UTC()
	if err := upsertBucketTx(ctx, tx, "pulse.monitor_analytics_hourly", monitorID, HourBucket(facts.PublishedAt), facts, now); err != nil {
		return false, err
	}
	if err := upsertBucketTx(ctx, tx, "pulse.monitor_analytics_daily", monitorID, DayBucket(facts.PublishedAt), facts, now); err != nil {
		return false, err
	}
	return true, nil
}

func claimOneUnrolledMatchTx(ctx context.Context, tx db.Tx) (int64, int64, bool, error) {
	const q = `
SELECT mm.monitor_id, mm.mention_id
FROM pulse.monitor_mentions mm
WHERE NOT EXISTS (
	SELECT 1
	FROM pulse.mention_rollups r
	WHERE r.monitor_id = mm.monitor_id
	  AND r.mention_id = mm.mention_id
)
ORDER BY mm.detected_at
LIMIT 1
FOR UPDATE OF mm SKIP LOCKED
`
	var monitorID, mentionID int64
	err := tx.QueryRow(ctx, q).Scan(&monitorID, &mentionID)
	if err != nil {
		if err == db.ErrNoRows {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("claim unrolled match: %w", err)
	}
	return monitorID, mentionID, true, nil
}

func insertMarkerTx(ctx context.Context, tx db.Tx, monitorID, mentionID int64) (bool, error) {
	const q = `
INSERT INTO pulse.mention_rollups (monitor_id, mention_id, rolled_up_at)
VALUES ($1, $2, $3)
ON CONFLICT (monitor_id, mention_id) DO NOTHING
`
	commandTag, err := tx.Exec(ctx, q, monitorID, mentionID, globaltime.UTC())
	if err != nil {
		return false, fmt.Errorf("insert rollup marker monitor_id=%d mention_id=%d: %w", monitorID, mentionID, err)
	}
	return commandTag.RowsAffected() == 1, nil
}

func loadMentionFactsTx(ctx context.Context, tx db.Tx, mentionID int64) (mentionFacts, error) {
	const q = `
SELECT
	p.name,
	m.published_at,
	m.sentiment_score,
	m.sentiment_label,
	m.category,
	m.likes_count,
	m.shares_count,
	m.comments_count
FROM pulse.mentions m
JOIN pulse.platforms p ON p.platform_id = m.platform_id
WHERE m.mention_id = $1
`
	var facts mentionFacts
	err := tx.QueryRow(ctx, q, mentionID).Scan(
		&facts.Platform,
		&facts.PublishedAt,
		&facts.SentimentScore,
		&facts.SentimentLabel,
		&facts.Category,
		&facts.Likes,
		&facts.Shares,
		&facts.Comments,
	)
	if err != nil {
		if err == db.ErrNoRows {
			return mentionFacts{}, fmt.Errorf("mention_id=%d not found", mentionID)
		}
		return mentionFacts{}, fmt.Errorf("load mention facts mention_id=%d: %w", mentionID, err)
	}
	return facts, nil
}

// upsertBucketTx increments one aggregate row. The jsonb concatenations bump
// the per-category and per-platform counters in place.
func upsertBucketTx(ctx context.Context, tx db.Tx, table string, monitorID int64, bucket time.Time, facts mentionFacts, now time.Time) error {
	q := fmt.Sprintf(`
INSERT INTO %s AS agg (
	monitor_id,
	bucket_start,
	mention_count,
	sentiment_sum,
	sentiment_count,
	positive_count,
	negative_count,
	neutral_count,
	category_counts,
	platform_counts,
	likes_sum,
	shares_sum,
	comments_sum,
	updated_at
)
VALUES (
	$1, $2, 1, $3, $4, $5, $6, $7,
	CASE WHEN $8::text IS NULL THEN '{}'::jsonb ELSE jsonb_build_object($8::text, 1) END,
	jsonb_build_object($9::text, 1),
	$10, $11, $12, $13
)
ON CONFLICT (monitor_id, bucket_start) DO UPDATE SET
	mention_count = agg.mention_count + 1,
	sentiment_sum = agg.sentiment_sum + EXCLUDED.sentiment_sum,
	sentiment_count = agg.sentiment_count + EXCLUDED.sentiment_count,
	positive_count = agg.positive_count + EXCLUDED.positive_count,
	negative_count = agg.negative_count + EXCLUDED.negative_count,
	neutral_count = agg.neutral_count + EXCLUDED.neutral_count,
	category_counts = CASE
		WHEN $8::text IS NULL THEN COALESCE(agg.category_counts, '{}'::jsonb)
		ELSE COALESCE(agg.category_counts, '{}'::jsonb) ||
			jsonb_build_object($8::text, COALESCE((agg.category_counts->>$8::text)::int, 0) + 1)
	END,
	platform_counts = COALESCE(agg.platform_counts, '{}'::jsonb) ||
		jsonb_build_object($9::text, COALESCE((agg.platform_counts->>$9::text)::int, 0) + 1),
	likes_sum = agg.likes_sum + EXCLUDED.likes_sum,
	shares_sum = agg.shares_sum + EXCLUDED.shares_sum,
	comments_sum = agg.comments_sum + EXCLUDED.comments_sum,
	updated_at = EXCLUDED.updated_at
`, table)

	sentimentSum := 0.0
	sentimentCount := 0
	if facts.SentimentScore != nil {
		sentimentSum = *facts.SentimentScore
		sentimentCount = 1
	}

	positive, negative, neutral := LabelCounts(facts.SentimentLabel)

	_, err := tx.Exec(
		ctx,
		q,
		monitorID,
		bucket,
		sentimentSum,
		sentimentCount,
		positive,
		negative,
		neutral,
		facts.Category,
		facts.Platform,
		facts.Likes,
		facts.Shares,
		facts.Comments,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert %s monitor_id=%d bucket=%s: %w", table, monitorID, bucket.Format(time.RFC3339), err)
	}
	return nil
}

// LabelCounts maps a sentiment label to its counter increments. Unlabeled
// mentions increment nothing.
func LabelCounts(label *string) (positive, negative, neutral int) {
	if label == nil {
		return 0, 0, 0
	}
	switch *label {
	case "positive":
		return 1, 0, 0
	case "negative":
		return 0, 1, 0
	case "neutral":
		return 0, 0, 1
	default:
		return 0, 0, 0
	}
}
