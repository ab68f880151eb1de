package enrich

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"pulsewatch.dev/pulsewatch/internal/globaltime"
)

const (
	DefaultEmbeddingEndpoint     = "http://127.0.0.1:8844/embed"
	DefaultEmbeddingModelName    = "bge-m3"
	DefaultEmbeddingModelVersion = "v1"
	DefaultEmbeddingBatchSize    = 32
	DefaultEmbeddingTimeout      = 45 * time.Second
	embeddingVectorDimensions    = 1024
)

type EmbedOptions struct {
	Endpoint     string
	ModelName    string
	ModelVersion string
	BatchSize    int
	Timeout      time.Duration
}

type EmbedResult struct {
	Processed int
	Embedded  int
	Skipped   int
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	ElapsedMS  *float64    `json:"elapsed_ms"`
}

type embeddingPendingMention struct {
	MentionID         int64
	NormalizedContent string
}

func normalizeEmbedOptions(opts EmbedOptions) EmbedOptions {
	normalized := opts
	if strings.TrimSpace(normalized.Endpoint) == "" {
		normalized.Endpoint = DefaultEmbeddingEndpoint
	}
	if strings.TrimSpace(normalized.ModelName) == "" {
		normalized.ModelName = DefaultEmbeddingModelName
	}
	if strings.TrimSpace(normalized.ModelVersion) == "" {
		normalized.ModelVersion = DefaultEmbeddingModelVersion
	}
	if normalized.BatchSize <= 0 {
		normalized.BatchSize = DefaultEmbeddingBatchSize
	}
	if normalized.Timeout <= 0 {
		normalized.Timeout = DefaultEmbeddingTimeout
	}
	return normalized
}

// EmbedPending computes embeddings for mentions that have none yet.
// Best-effort: the rest of the pipeline works without vectors.
func (s *Service) EmbedPending(ctx context.Context, limit int) (EmbedResult, error) {
	if s == nil || s.pool == nil {
		return EmbedResult{}, fmt.Errorf("enrich service is not initialized")
	}
	if limit <= 0 {
		return EmbedResult{}, nil
	}

	client := resty.New().
		SetTimeout(s.embed.Timeout).
		SetHeader("Content-Type", "application/json")

	var result EmbedResult
	for result.Processed < limit {
		remaining := limit - result.Processed
		batchSize := min(s.embed.BatchSize, remaining)

		mentions, err := s.selectPendingEmbeddingMentions(ctx, batchSize)
		if err != nil {
			return result, err
		}
		if len(mentions) == 0 {
			break
		}

		texts := make([]string, 0, len(mentions))
		for _, mention := range mentions {
			texts = append(texts, mention.NormalizedContent)
		}

		vectors, latencyMS, err := requestEmbeddings(ctx, client, s.embed.Endpoint, texts)
		if err != nil {
			return result, err
		}
		if len(vectors) != len(mentions) {
			return result, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(mentions), len(vectors))
		}

		for i, mention := range mentions {
			result.Processed++

			vectorLiteral, err := toVectorLiteral(vectors[i])
			if err != nil {
				return result, fmt.Errorf("mention_id=%d invalid embedding vector: %w", mention.MentionID, err)
			}

			inserted, err := s.insertMentionEmbedding(ctx, mention.MentionID, vectorLiteral, latencyMS)
			if err != nil {
				return result, err
			}
			if inserted {
				result.Embedded++
			} else {
				result.Skipped++
			}
		}
	}

	return result, nil
}

func (s *Service) selectPendingEmbeddingMentions(ctx context.Context, limit int) ([]embeddingPendingMention, error) {
	const q = `
SELECT m.mention_id, m.normalized_content
FROM pulse.mentions m
WHERE NOT EXISTS (
	SELECT 1
	FROM pulse.mention_embeddings e
	WHERE e.mention_id = m.mention_id
)
ORDER BY m.mention_id
LIMIT $1
`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select mentions for embedding: %w", err)
	}
	defer rows.Close()

	mentions := make([]embeddingPendingMention, 0, limit)
	for rows.Next() {
		var mention embeddingPendingMention
		if err := rows.Scan(&mention.MentionID, &mention.NormalizedContent); err != nil {
			return nil, fmt.Errorf("scan mention for embedding: %w", err)
		}
		mentions = append(mentions, mention)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mentions for embedding: %w", err)
	}
	return mentions, nil
}

func (s *Service) insertMentionEmbedding(ctx context.Context, mentionID int64, vectorLiteral string, latencyMS *int) (bool, error) {
	const q = `
INSERT INTO pulse.mention_embeddings (
	mention_id,
	model_name,
	model_version,
	embedding,
	embedded_at,
	latency_ms
)
VALUES ($1, $2, $3, $4::vector, $5, $6)
ON CONFLICT (mention_id) DO NOTHING
`
	tag, err := s.pool.Exec(ctx, q, mentionID, s.embed.ModelName, s.embed.ModelVersion, vectorLiteral, globaltime.UTC(), latencyMS)
	if err != nil {
		return false, fmt.Errorf("insert mention embedding mention_id=%d: %w", mentionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func requestEmbeddings(ctx context.Context, client *resty.Client, endpoint string, texts []string) ([][]float64, *int, error) {
	var parsed embedResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(embedRequest{Texts: texts}).
		SetResult(&parsed).
		Post(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, nil, fmt.Errorf("embedding service status %d", resp.StatusCode())
	}
	if len(parsed.Embeddings) == 0 {
		return nil, nil, fmt.Errorf("embedding response missing vectors")
	}

	var latencyMS *int
	if parsed.ElapsedMS != nil {
		rounded := int(math.Round(*parsed.ElapsedMS))
		latencyMS = &rounded
	}
	return parsed.Embeddings, latencyMS, nil
}

func toVectorLiteral(values []float64) (string, error) {
	if len(values) != embeddingVectorDimensions {
		return "", fmt.Errorf("expected %d dimensions, got %d", embeddingVectorDimensions, len(values))
	}

	var builder strings.Builder
	builder.Grow(len(values) * 8)
	builder.WriteByte('[')
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
