package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/db"
	"pulsewatch.dev/pulsewatch/internal/fingerprint"
	"pulsewatch.dev/pulsewatch/internal/globaltime"
	"pulsewatch.dev/pulsewatch/internal/metrics"
)

// fuzzyTokenThreshold is the minimum trigram similarity for a single-token
// keyword to count as a fuzzy hit. Multi-word keywords require the exact
// phrase.
const fuzzyTokenThreshold = 0.75

type Options struct {
	ConfidenceFloor float64
	IndexTTL        time.Duration
}

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options

	mu        sync.RWMutex
	index     *Index
	refreshed time.Time
}

// MentionRecord is the slice of a mention the matcher needs.
type MentionRecord struct {
	MentionID         int64
	Platform          string
	Language          string
	NormalizedContent string
}

type MonitorMatch struct {
	MonitorID       int64
	WorkspaceID     string
	MatchedKeywords []string
	Confidence      float64
}

type SweepResult struct {
	Processed int
	Matched   int
}

func NewService(pool *db.Pool, logger zerolog.Logger, opts Options) *Service {
	if opts.ConfidenceFloor <= 0 {
		opts.ConfidenceFloor = 0.5
	}
	if opts.IndexTTL <= 0 {
		opts.IndexTTL = time.Minute
	}
	return &Service{
		pool:   pool,
		logger: logger,
		opts:   opts,
	}
}

// Refresh rebuilds the keyword index from the active monitors.
func (s *Service) Refresh(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("match service is not initialized")
	}

	const q = `
SELECT
	m.monitor_id,
	m.workspace_id,
	m.name,
	m.keywords,
	m.negative_keywords,
	m.platforms,
	m.languages
FROM pulse.monitors m
WHERE m.status = 'active'
ORDER BY m.monitor_id
`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("query active monitors: %w", err)
	}
	defer rows.Close()

	var monitors []MonitorSnapshot
	for rows.Next() {
		var (
			snapshot      MonitorSnapshot
			keywordsJSON  []byte
			negativeJSON  []byte
			platformsJSON []byte
			languagesJSON []byte
		)
		if err := rows.Scan(
			&snapshot.MonitorID,
			&snapshot.WorkspaceID,
			&snapshot.Name,
			&keywordsJSON,
			&negativeJSON,
			&platformsJSON,
			&languagesJSON,
		); err != nil {
			return fmt.Errorf("scan monitor: %w", err)
		}

		snapshot.Keywords = decodeStringArray(keywordsJSON)
		snapshot.NegativeKeywords = decodeStringArray(negativeJSON)
		snapshot.Platforms = decodeStringArray(platformsJSON)
		snapshot.Languages = decodeStringArray(languagesJSON)
		if len(snapshot.Keywords) == 0 {
			continue
		}
		monitors = append(monitors, snapshot)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate monitors: %w", err)
	}

	index := BuildIndex(monitors)

	s.mu.Lock()
	s.index = index
	s.refreshed = globaltime.UTC()
	s.mu.Unlock()

	s.logger.Debug().Int("monitors", index.Size()).Msg("monitor index rebuilt")
	return nil
}

func (s *Service) currentIndex(ctx context.Context) (*Index, error) {
	s.mu.RLock()
	index := s.index
	refreshed := s.refreshed
	s.mu.RUnlock()

	if index != nil && globaltime.UTC().Sub(refreshed) < s.opts.IndexTTL {
		return index, nil
	}

	if err := s.Refresh(ctx); err != nil {
		if index != nil {
			// Stale index beats no index.
			s.logger.Warn().Err(err).Msg("monitor index refresh failed; using stale index")
			return index, nil
		}
		return nil, err
	}

	s.mu.RLock()
	index = s.index
	s.mu.RUnlock()
	return index, nil
}

// Match evaluates one mention against the indexed monitors. The result only
// depends on the mention and the index contents.
func (s *Service) Match(ctx context.Context, mention MentionRecord) ([]MonitorMatch, error) {
	index, err := s.currentIndex(ctx)
	if err != nil {
		return nil, err
	}
	return EvaluateMention(index, mention, s.opts.ConfidenceFloor), nil
}

// EvaluateMention is the pure matching core: candidate pruning via the index,
// then full per-monitor evaluation.
func EvaluateMention(index *Index, mention MentionRecord, confidenceFloor float64) []MonitorMatch {
	tokens := fingerprint.Tokenize(mention.NormalizedContent)
	if len(tokens) == 0 {
		return nil
	}

	var matches []MonitorMatch
	for _, monitor := range index.Candidates(tokens) {
		match, ok := evaluateMonitor(monitor, mention, tokens)
		if !ok || match.Confidence < confidenceFloor {
			continue
		}
		matches = append(matches, match)
	}
	return matches
}

func evaluateMonitor(monitor MonitorSnapshot, mention MentionRecord, tokens []string) (MonitorMatch, bool) {
	if len(monitor.Platforms) > 0 && !containsFold(monitor.Platforms, mention.Platform) {
		return MonitorMatch{}, false
	}
	if len(monitor.Languages) > 0 && !containsFold(monitor.Languages, mention.Language) {
		return MonitorMatch{}, false
	}

	for _, negative := range monitor.NegativeKeywords {
		if keywordScore(negative, mention.NormalizedContent, tokens) > 0 {
			return MonitorMatch{}, false
		}
	}

	var matchedKeywords []string
	scoreSum := 0.0
	for _, keyword := range monitor.Keywords {
		score := keywordScore(keyword, mention.NormalizedContent, tokens)
		if score <= 0 {
			continue
		}
		matchedKeywords = append(matchedKeywords, keyword)
		scoreSum += score
	}
	if len(matchedKeywords) == 0 {
		return MonitorMatch{}, false
	}

	avgScore := scoreSum / float64(len(matchedKeywords))
	coverage := float64(len(matchedKeywords)) / float64(len(monitor.Keywords))
	confidence := (avgScore + coverage) / 2

	return MonitorMatch{
		MonitorID:       monitor.MonitorID,
		WorkspaceID:     monitor.WorkspaceID,
		MatchedKeywords: matchedKeywords,
		Confidence:      confidence,
	}, true
}

// keywordScore returns 1 for an exact phrase hit, a trigram similarity in
// (0,1] for a fuzzy single-token hit, and 0 for a miss.
func keywordScore(keyword, normalizedContent string, contentTokens []string) float64 {
	normalizedKeyword := fingerprint.NormalizeText(keyword)
	if normalizedKeyword == "" {
		return 0
	}

	if phraseMatch(normalizedContent, normalizedKeyword) {
		return 1
	}

	keywordTokens := fingerprint.Tokenize(normalizedKeyword)
	if len(keywordTokens) != 1 {
		return 0
	}

	best := 0.0
	for _, token := range contentTokens {
		similarity := fingerprint.TrigramJaccard(keywordTokens[0], token)
		if similarity > best {
			best = similarity
		}
	}
	if best < fuzzyTokenThreshold {
		return 0
	}
	return best
}

func phraseMatch(normalizedContent, normalizedKeyword string) bool {
	padded := " " + strings.Join(fingerprint.Tokenize(normalizedContent), " ") + " "
	phrase := " " + strings.Join(fingerprint.Tokenize(normalizedKeyword), " ") + " "
	return strings.Contains(padded, phrase)
}

// MatchPending claims unmatched mentions one at a time and persists their
// monitor matches.
func (s *Service) MatchPending(ctx context.Context, limit int) (SweepResult, error) {
	if s == nil || s.pool == nil {
		return SweepResult{}, fmt.Errorf("match service is not initialized")
	}
	if limit <= 0 {
		return SweepResult{}, nil
	}

	var result SweepResult
	for result.Processed < limit {
		tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
		if err != nil {
			return result, fmt.Errorf("begin match tx: %w", err)
		}

		mention, found, err := claimOneUnmatchedMentionTx(ctx, tx)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}
		if !found {
			if err := tx.Commit(ctx); err != nil {
				_ = tx.Rollback(ctx)
				return result, fmt.Errorf("commit empty match tx: %w", err)
			}
			break
		}

		matches, err := s.Match(ctx, mention)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}

		now := globaltime.UTC()
		for _, match := range matches {
			if _, err := persistMatchTx(ctx, tx, mention.MentionID, match, now); err != nil {
				_ = tx.Rollback(ctx)
				return result, err
			}
		}

		if err := markMentionMatchedTx(ctx, tx, mention.MentionID, now); err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("commit match tx: %w", err)
		}

		result.Processed++
		result.Matched += len(matches)
		if len(matches) > 0 {
			metrics.MonitorMatches.Add(float64(len(matches)))
		}
	}

	return result, nil
}

func claimOneUnmatchedMentionTx(ctx context.Context, tx db.Tx) (MentionRecord, bool, error) {
	const q = `
SELECT
	m.mention_id,
	p.name,
	m.language,
	m.normalized_content
FROM pulse.mentions m
JOIN pulse.platforms p ON p.platform_id = m.platform_id
WHERE m.matched_at IS NULL
ORDER BY m.mention_id
LIMIT 1
FOR UPDATE OF m SKIP LOCKED
`
	var mention MentionRecord
	err := tx.QueryRow(ctx, q).Scan(
		&mention.MentionID,
		&mention.Platform,
		&mention.Language,
		&mention.NormalizedContent,
	)
	if err != nil {
		if err == db.ErrNoRows {
			return MentionRecord{}, false, nil
		}
		return MentionRecord{}, false, fmt.Errorf("claim unmatched mention: %w", err)
	}
	return mention, true, nil
}

func persistMatchTx(ctx context.Context, tx db.Tx, mentionID int64, match MonitorMatch, now time.Time) (bool, error) {
	const q = `
INSERT INTO pulse.monitor_mentions (
	monitor_id,
	mention_id,
	matched_keywords,
	confidence,
	detected_at
)
VALUES ($1, $2, $3::jsonb, $4, $5)
ON CONFLICT (monitor_id, mention_id) DO NOTHING
`
	keywordsJSON, err := json.Marshal(match.MatchedKeywords)
	if err != nil {
		return false, fmt.Errorf("marshal matched keywords: %w", err)
	}

	commandTag, err := tx.Exec(ctx, q, match.MonitorID, mentionID, string(keywordsJSON), match.Confidence, now)
	if err != nil {
		return false, fmt.Errorf("insert monitor_mention monitor_id=%d mention_id=%d: %w", match.MonitorID, mentionID, err)
	}
	inserted := commandTag.RowsAffected() == 1
	if !inserted {
		return false, nil
	}

	const touch = `
UPDATE pulse.monitors
SET last_mention_at = GREATEST(COALESCE(last_mention_at, $2), $2), updated_at = $2
WHERE monitor_id = $1
`
	if _, err := tx.Exec(ctx, touch, match.MonitorID, now); err != nil {
		return false, fmt.Errorf("touch monitor last_mention_at monitor_id=%d: %w", match.MonitorID, err)
	}
	return true, nil
}

func markMentionMatchedTx(ctx context.Context, tx db.Tx, mentionID int64, now time.Time) error {
	const q = `
UPDATE pulse.mentions
SET matched_at = $2, updated_at = $2
WHERE mention_id = $1
`
	if _, err := tx.Exec(ctx, q, mentionID, now); err != nil {
		return fmt.Errorf("mark mention matched mention_id=%d: %w", mentionID, err)
	}
	return nil
}

func decodeStringArray(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	cleaned := values[:0]
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		cleaned = append(cleaned, v)
	}
	return cleaned
}
