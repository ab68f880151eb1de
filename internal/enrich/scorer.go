package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/db"
	"pulsewatch.dev/pulsewatch/internal/globaltime"
)

// ErrScorerUnavailable means the scoring service could not be reached or
// answered with a server error. Affected mentions stay pending for retry.
var ErrScorerUnavailable = errors.New("scorer service unavailable")

const (
	DefaultScorerTimeout  = 20 * time.Second
	defaultScoreBatchSize = 50
)

type ScorerOptions struct {
	Endpoint string
	Timeout  time.Duration
}

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
	scorer *resty.Client

	scorerEndpoint string
	embed          EmbedOptions
}

type scoreRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type scoreResponse struct {
	SentimentScore float64 `json:"sentiment_score"`
	SentimentLabel string  `json:"sentiment_label"`
	PriorityScore  float64 `json:"priority_score"`
	Category       string  `json:"category"`
}

type pendingMention struct {
	MentionID         int64
	NormalizedContent string
	Language          string
}

type ScoreResult struct {
	Processed int
	Scored    int
	Skipped   int
}

func NewService(pool *db.Pool, logger zerolog.Logger, scorerOpts ScorerOptions, embedOpts EmbedOptions) *Service {
	if scorerOpts.Timeout <= 0 {
		scorerOpts.Timeout = DefaultScorerTimeout
	}
	client := resty.New().
		SetTimeout(scorerOpts.Timeout).
		SetHeader("Content-Type", "application/json")

	return &Service{
		pool:           pool,
		logger:         logger,
		scorer:         client,
		scorerEndpoint: strings.TrimSpace(scorerOpts.Endpoint),
		embed:          normalizeEmbedOptions(embedOpts),
	}
}

// ScorePending scores unprocessed mentions and stamps them processed. The
// status CAS keeps a concurrent scorer from overwriting the winner's result.
func (s *Service) ScorePending(ctx context.Context, limit int) (ScoreResult, error) {
	if s == nil || s.pool == nil {
		return ScoreResult{}, fmt.Errorf("enrich service is not initialized")
	}
	if limit <= 0 {
		return ScoreResult{}, nil
	}

	var result ScoreResult
	for result.Processed < limit {
		remaining := limit - result.Processed
		mentions, err := s.selectPendingMentions(ctx, min(defaultScoreBatchSize, remaining))
		if err != nil {
			return result, err
		}
		if len(mentions) == 0 {
			break
		}

		for _, mention := range mentions {
			result.Processed++

			scores, err := s.requestScores(ctx, mention)
			if err != nil {
				return result, err
			}

			updated, err := s.writeScores(ctx, mention.MentionID, scores)
			if err != nil {
				return result, err
			}
			if updated {
				result.Scored++
			} else {
				result.Skipped++
			}
		}
	}

	return result, nil
}

func (s *Service) selectPendingMentions(ctx context.Context, limit int) ([]pendingMention, error) {
	const q = `
SELECT mention_id, normalized_content, language
FROM pulse.mentions
WHERE processing_status = 'pending'
ORDER BY mention_id
LIMIT $1
`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending mentions: %w", err)
	}
	defer rows.Close()

	mentions := make([]pendingMention, 0, limit)
	for rows.Next() {
		var mention pendingMention
		if err := rows.Scan(&mention.MentionID, &mention.NormalizedContent, &mention.Language); err != nil {
			return nil, fmt.Errorf("scan pending mention: %w", err)
		}
		mentions = append(mentions, mention)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending mentions: %w", err)
	}
	return mentions, nil
}

func (s *Service) requestScores(ctx context.Context, mention pendingMention) (scoreResponse, error) {
	var scores scoreResponse
	resp, err := s.scorer.R().
		SetContext(ctx).
		SetBody(scoreRequest{
			Text:     mention.NormalizedContent,
			Language: mention.Language,
		}).
		SetResult(&scores).
		Post(s.scorerEndpoint)
	if err != nil {
		return scoreResponse{}, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return scoreResponse{}, fmt.Errorf("%w: status %d", ErrScorerUnavailable, resp.StatusCode())
	}
	return scores, nil
}

func (s *Service) writeScores(ctx context.Context, mentionID int64, scores scoreResponse) (bool, error) {
	const q = `
UPDATE pulse.mentions
SET
	sentiment_score = $2,
	sentiment_label = $3,
	category = $4,
	priority_score = $5,
	processing_status = 'processed',
	processed_at = $6,
	updated_at = $6
WHERE mention_id = $1
  AND processing_status = 'pending'
`
	label := normalizeSentimentLabel(scores.SentimentLabel)
	commandTag, err := s.pool.Exec(
		ctx,
		q,
		mentionID,
		scores.SentimentScore,
		label,
		nullableText(scores.Category),
		scores.PriorityScore,
		globaltime.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("write scores mention_id=%d: %w", mentionID, err)
	}
	return commandTag.RowsAffected() == 1, nil
}

func normalizeSentimentLabel(raw string) string {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "positive":
		return "positive"
	case "negative":
		return "negative"
	default:
		return "neutral"
	}
}

func nullableText(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
