package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/db"
	"pulsewatch.dev/pulsewatch/internal/fingerprint"
	"pulsewatch.dev/pulsewatch/internal/globaltime"
	"pulsewatch.dev/pulsewatch/internal/langdetect"
)

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
)

// Options bound the near-duplicate probe.
type Options struct {
	SimhashMaxDistance int
	TrigramThreshold   float64
	Lookback           time.Duration
	CandidateLimit     int
}

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options
}

// RawMention is a validated collector item ready for ingestion.
type RawMention struct {
	Platform       string
	ExternalPostID string
	ContentText    string
	URL            string
	PostType       string
	Language       string
	Hashtags       []string
	Author         *Author
	Likes          int
	Shares         int
	Comments       int
	PublishedAt    time.Time
	CollectedAt    time.Time
}

type Author struct {
	ExternalUserID string
	Handle         string
	DisplayName    string
	FollowersCount int
	Verified       bool
}

type Result struct {
	Outcome     Outcome
	MentionID   int64
	DuplicateOf int64
	RunID       int64
}

type dupCandidate struct {
	MentionID         int64
	SimilarityHash    int64
	NormalizedContent string
}

func NewService(pool *db.Pool, logger zerolog.Logger, opts Options) *Service {
	if opts.SimhashMaxDistance <= 0 {
		opts.SimhashMaxDistance = 3
	}
	if opts.TrigramThreshold <= 0 {
		opts.TrigramThreshold = 0.88
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 72 * time.Hour
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 200
	}
	return &Service{
		pool:   pool,
		logger: logger,
		opts:   opts,
	}
}

// Ingest runs one mention through dedup and either creates a canonical row or
// merges into an existing one. Every call leaves an ingest_runs ledger row.
func (s *Service) Ingest(ctx context.Context, raw RawMention) (Result, error) {
	if s == nil || s.pool == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}

	runID, err := s.startRun(ctx, raw.Platform)
	if err != nil {
		return Result{}, err
	}

	result, err := s.ingestOne(ctx, raw)
	result.RunID = runID
	if err != nil {
		s.finishRun(ctx, runID, "failed", result, err)
		return result, err
	}

	s.finishRun(ctx, runID, "completed", result, nil)
	return result, nil
}

func (s *Service) ingestOne(ctx context.Context, raw RawMention) (Result, error) {
	platform := strings.TrimSpace(strings.ToLower(raw.Platform))
	externalPostID := strings.TrimSpace(raw.ExternalPostID)
	if platform == "" {
		return Result{}, fmt.Errorf("platform must not be empty")
	}
	if externalPostID == "" {
		return Result{}, fmt.Errorf("external_post_id must not be empty")
	}
	if raw.PublishedAt.IsZero() {
		return Result{}, fmt.Errorf("published_at must be set")
	}

	fp, err := fingerprint.Compute(raw.ContentText, raw.URL)
	if err != nil {
		return Result{}, fmt.Errorf("fingerprint mention %s/%s: %w", platform, externalPostID, err)
	}

	language := strings.TrimSpace(strings.ToLower(raw.Language))
	if language == "" {
		language = langdetect.DetectISO6391(raw.ContentText)
	}
	if language == "" {
		language = "und"
	}

	now := globaltime.UTC()
	collectedAt := raw.CollectedAt.UTC()
	if raw.CollectedAt.IsZero() {
		collectedAt = now
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("begin ingest tx: %w", err)
	}

	result, err := s.ingestOneTx(ctx, tx, raw, fp, platform, externalPostID, language, collectedAt, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return Result{}, fmt.Errorf("commit ingest tx: %w", err)
	}
	return result, nil
}

func (s *Service) ingestOneTx(
	ctx context.Context,
	tx db.Tx,
	raw RawMention,
	fp fingerprint.Fingerprint,
	platform string,
	externalPostID string,
	language string,
	collectedAt time.Time,
	now time.Time,
) (Result, error) {
	platformID, err := ensurePlatformTx(ctx, tx, platform, now)
	if err != nil {
		return Result{}, err
	}

	// Identity key first: the same post re-collected is always a duplicate.
	if existingID, found, err := findByIdentityTx(ctx, tx, platformID, externalPostID); err != nil {
		return Result{}, err
	} else if found {
		return s.mergeDuplicateTx(ctx, tx, existingID, raw, now)
	}

	lookbackCutoff := now.Add(-s.opts.Lookback)

	if existingID, found, err := findByContentHashTx(ctx, tx, platformID, fp.ContentHash, lookbackCutoff); err != nil {
		return Result{}, err
	} else if found {
		return s.mergeDuplicateTx(ctx, tx, existingID, raw, now)
	}

	if len(fp.URLHash) > 0 {
		if existingID, found, err := findByURLHashTx(ctx, tx, platformID, fp.URLHash, lookbackCutoff); err != nil {
			return Result{}, err
		} else if found {
			return s.mergeDuplicateTx(ctx, tx, existingID, raw, now)
		}
	}

	if existingID, found, err := s.findNearDuplicateTx(ctx, tx, platformID, fp, lookbackCutoff); err != nil {
		return Result{}, err
	} else if found {
		return s.mergeDuplicateTx(ctx, tx, existingID, raw, now)
	}

	var socialUserID *int64
	if raw.Author != nil && strings.TrimSpace(raw.Author.ExternalUserID) != "" {
		id, err := upsertSocialUserTx(ctx, tx, platformID, *raw.Author, now)
		if err != nil {
			return Result{}, err
		}
		socialUserID = &id
	}

	mentionID, inserted, err := insertMentionTx(ctx, tx, insertMentionArgs{
		PlatformID:        platformID,
		SocialUserID:      socialUserID,
		ExternalPostID:    externalPostID,
		ContentText:       raw.ContentText,
		NormalizedContent: fp.NormalizedContent,
		Language:          language,
		PostType:          normalizePostType(raw.PostType),
		URL:               canonicalURLPtr(fp, raw.URL),
		Hashtags:          raw.Hashtags,
		PublishedAt:       raw.PublishedAt.UTC(),
		CollectedAt:       collectedAt,
		Likes:             raw.Likes,
		Shares:            raw.Shares,
		Comments:          raw.Comments,
		Now:               now,
	})
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		// Lost the insert race; the winner's row is the canonical one.
		existingID, found, err := findByIdentityTx(ctx, tx, platformID, externalPostID)
		if err != nil {
			return Result{}, err
		}
		if !found {
			return Result{}, fmt.Errorf("mention %s/%s conflicted on insert but is not readable", platform, externalPostID)
		}
		return s.mergeDuplicateTx(ctx, tx, existingID, raw, now)
	}

	if err := insertFingerprintTx(ctx, tx, mentionID, fp, now); err != nil {
		return Result{}, err
	}

	return Result{Outcome: OutcomeCreated, MentionID: mentionID}, nil
}

// mergeDuplicateTx folds a repeated sighting into the canonical mention.
// Engagement counters only ever move forward.
func (s *Service) mergeDuplicateTx(ctx context.Context, tx db.Tx, canonicalID int64, raw RawMention, now time.Time) (Result, error) {
	const q = `
UPDATE pulse.mentions
SET
	duplicate_count = duplicate_count + 1,
	last_duplicate_at = $2,
	likes_count = GREATEST(likes_count, $3),
	shares_count = GREATEST(shares_count, $4),
	comments_count = GREATEST(comments_count, $5),
	updated_at = $2
WHERE mention_id = $1
`
	if _, err := tx.Exec(ctx, q, canonicalID, now, raw.Likes, raw.Shares, raw.Comments); err != nil {
		return Result{}, fmt.Errorf("merge duplicate into mention_id=%d: %w", canonicalID, err)
	}
	return Result{Outcome: OutcomeDuplicate, MentionID: canonicalID, DuplicateOf: canonicalID}, nil
}

func (s *Service) findNearDuplicateTx(
	ctx context.Context,
	tx db.Tx,
	platformID int64,
	fp fingerprint.Fingerprint,
	lookbackCutoff time.Time,
) (int64, bool, error) {
	const q = `
SELECT
	m.mention_id,
	f.similarity_hash,
	m.normalized_content
FROM pulse.mention_fingerprints f
JOIN pulse.mentions m ON m.mention_id = f.mention_id
WHERE m.platform_id = $1
  AND m.published_at >= $2
ORDER BY m.published_at DESC
LIMIT $3
`
	rows, err := tx.Query(ctx, q, platformID, lookbackCutoff, s.opts.CandidateLimit)
	if err != nil {
		return 0, false, fmt.Errorf("query near-duplicate candidates: %w", err)
	}
	defer rows.Close()

	bestDistance := s.opts.SimhashMaxDistance + 1
	bestSimilarity := 0.0
	var bestID int64
	found := false

	for rows.Next() {
		var c dupCandidate
		if err := rows.Scan(&c.MentionID, &c.SimilarityHash, &c.NormalizedContent); err != nil {
			return 0, false, fmt.Errorf("scan near-duplicate candidate: %w", err)
		}

		distance := fingerprint.HammingDistance(fp.SimilarityHash, c.SimilarityHash)
		if distance > s.opts.SimhashMaxDistance {
			continue
		}

		// Simhash narrows, trigram overlap confirms.
		similarity := fingerprint.TrigramJaccard(fp.NormalizedContent, c.NormalizedContent)
		if similarity < s.opts.TrigramThreshold {
			continue
		}

		if !found || distance < bestDistance || (distance == bestDistance && similarity > bestSimilarity) {
			bestDistance = distance
			bestSimilarity = similarity
			bestID = c.MentionID
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("iterate near-duplicate candidates: %w", err)
	}

	return bestID, found, nil
}

func ensurePlatformTx(ctx context.Context, tx db.Tx, name string, now time.Time) (int64, error) {
	const insertQ = `
INSERT INTO pulse.platforms (name, display_name, status, created_at, updated_at)
VALUES ($1, $2, 'active', $3, $3)
ON CONFLICT (name) DO NOTHING
RETURNING platform_id
`
	var platformID int64
	err := tx.QueryRow(ctx, insertQ, name, displayName(name), now).Scan(&platformID)
	if err == nil {
		return platformID, nil
	}
	if err != db.ErrNoRows {
		return 0, fmt.Errorf("insert platform %q: %w", name, err)
	}

	const selectQ = `SELECT platform_id FROM pulse.platforms WHERE name = $1`
	if err := tx.QueryRow(ctx, selectQ, name).Scan(&platformID); err != nil {
		return 0, fmt.Errorf("select platform %q: %w", name, err)
	}
	return platformID, nil
}

func findByIdentityTx(ctx context.Context, tx db.Tx, platformID int64, externalPostID string) (int64, bool, error) {
	const q = `
SELECT mention_id
FROM pulse.mentions
WHERE platform_id = $1
  AND external_post_id = $2
`
	var mentionID int64
	err := tx.QueryRow(ctx, q, platformID, externalPostID).Scan(&mentionID)
	if err != nil {
		if err == db.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("find mention by identity: %w", err)
	}
	return mentionID, true, nil
}

func findByContentHashTx(ctx context.Context, tx db.Tx, platformID int64, contentHash []byte, lookbackCutoff time.Time) (int64, bool, error) {
	if len(contentHash) == 0 {
		return 0, false, nil
	}
	const q = `
SELECT m.mention_id
FROM pulse.mention_fingerprints f
JOIN pulse.mentions m ON m.mention_id = f.mention_id
WHERE m.platform_id = $1
  AND f.content_hash = $2
  AND m.published_at >= $3
ORDER BY m.mention_id
LIMIT 1
`
	var mentionID int64
	err := tx.QueryRow(ctx, q, platformID, contentHash, lookbackCutoff).Scan(&mentionID)
	if err != nil {
		if err == db.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("find mention by content hash: %w", err)
	}
	return mentionID, true, nil
}

func findByURLHashTx(ctx context.Context, tx db.Tx, platformID int64, urlHash []byte, lookbackCutoff time.Time) (int64, bool, error) {
	const q = `
SELECT m.mention_id
FROM pulse.mention_fingerprints f
JOIN pulse.mentions m ON m.mention_id = f.mention_id
WHERE m.platform_id = $1
  AND f.url_hash = $2
  AND m.published_at >= $3
ORDER BY m.mention_id
LIMIT 1
`
	var mentionID int64
	err := tx.QueryRow(ctx, q, platformID, urlHash, lookbackCutoff).Scan(&mentionID)
	if err != nil {
		if err == db.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("find mention by url hash: %w", err)
	}
	return mentionID, true, nil
}

func upsertSocialUserTx(ctx context.Context, tx db.Tx, platformID int64, author Author, now time.Time) (int64, error) {
	const q = `
INSERT INTO pulse.social_users (
	platform_id,
	external_user_id,
	handle,
	display_name,
	followers_count,
	verified,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (platform_id, external_user_id) DO UPDATE SET
	handle = EXCLUDED.handle,
	display_name = EXCLUDED.display_name,
	followers_count = GREATEST(pulse.social_users.followers_count, EXCLUDED.followers_count),
	verified = EXCLUDED.verified,
	updated_at = EXCLUDED.updated_at
RETURNING social_user_id
`
	var socialUserID int64
	err := tx.QueryRow(
		ctx,
		q,
		platformID,
		strings.TrimSpace(author.ExternalUserID),
		strings.TrimSpace(author.Handle),
		strings.TrimSpace(author.DisplayName),
		author.FollowersCount,
		author.Verified,
		now,
	).Scan(&socialUserID)
	if err != nil {
		return 0, fmt.Errorf("upsert social user %q: %w", author.ExternalUserID, err)
	}
	return socialUserID, nil
}

type insertMentionArgs struct {
	PlatformID        int64
	SocialUserID      *int64
	ExternalPostID    string
	ContentText       string
	NormalizedContent string
	Language          string
	PostType          string
	URL               *string
	Hashtags          []string
	PublishedAt       time.Time
	CollectedAt       time.Time
	Likes             int
	Shares            int
	Comments          int
	Now               time.Time
}

func insertMentionTx(ctx context.Context, tx db.Tx, args insertMentionArgs) (int64, bool, error) {
	const q = `
INSERT INTO pulse.mentions (
	platform_id,
	social_user_id,
	external_post_id,
	content_text,
	normalized_content,
	language,
	post_type,
	url,
	hashtags,
	published_at,
	collected_at,
	likes_count,
	shares_count,
	comments_count,
	processing_status,
	duplicate_count,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14, 'pending', 0, $15, $15)
ON CONFLICT (platform_id, external_post_id) DO NOTHING
RETURNING mention_id
`
	hashtagsJSON, err := json.Marshal(nonNilStrings(args.Hashtags))
	if err != nil {
		return 0, false, fmt.Errorf("marshal hashtags: %w", err)
	}

	var mentionID int64
	err = tx.QueryRow(
		ctx,
		q,
		args.PlatformID,
		args.SocialUserID,
		args.ExternalPostID,
		args.ContentText,
		args.NormalizedContent,
		args.Language,
		args.PostType,
		args.URL,
		string(hashtagsJSON),
		args.PublishedAt,
		args.CollectedAt,
		args.Likes,
		args.Shares,
		args.Comments,
		args.Now,
	).Scan(&mentionID)
	if err != nil {
		if err == db.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert mention %s: %w", args.ExternalPostID, err)
	}
	return mentionID, true, nil
}

func insertFingerprintTx(ctx context.Context, tx db.Tx, mentionID int64, fp fingerprint.Fingerprint, now time.Time) error {
	const q = `
INSERT INTO pulse.mention_fingerprints (
	mention_id,
	content_hash,
	similarity_hash,
	url_hash,
	created_at
)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (mention_id) DO NOTHING
`
	var urlHash []byte
	if len(fp.URLHash) > 0 {
		urlHash = fp.URLHash
	}
	if _, err := tx.Exec(ctx, q, mentionID, fp.ContentHash, fp.SimilarityHash, urlHash, now); err != nil {
		return fmt.Errorf("insert fingerprint mention_id=%d: %w", mentionID, err)
	}
	return nil
}

func (s *Service) startRun(ctx context.Context, source string) (int64, error) {
	const q = `
INSERT INTO pulse.ingest_runs (source, status, items_received, started_at, created_at, updated_at)
VALUES ($1, 'running', 1, $2, $2, $2)
RETURNING run_id
`
	now := globaltime.UTC()
	var runID int64
	if err := s.pool.QueryRow(ctx, q, strings.TrimSpace(strings.ToLower(source)), now).Scan(&runID); err != nil {
		return 0, fmt.Errorf("start ingest run: %w", err)
	}
	return runID, nil
}

func (s *Service) finishRun(ctx context.Context, runID int64, status string, result Result, runErr error) {
	const q = `
UPDATE pulse.ingest_runs
SET
	status = $2,
	finished_at = $3,
	items_created = $4,
	items_merged = $5,
	error_message = $6,
	updated_at = $3
WHERE run_id = $1
`
	now := globaltime.UTC()
	created := 0
	merged := 0
	switch result.Outcome {
	case OutcomeCreated:
		created = 1
	case OutcomeDuplicate:
		merged = 1
	}
	var errorMessage *string
	if runErr != nil {
		msg := runErr.Error()
		errorMessage = &msg
	}
	if _, err := s.pool.Exec(ctx, q, runID, status, now, created, merged, errorMessage); err != nil {
		s.logger.Warn().Err(err).Int64("run_id", runID).Msg("failed to finish ingest run")
	}
}

func normalizePostType(raw string) string {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "comment":
		return "comment"
	case "reply":
		return "reply"
	case "share":
		return "share"
	case "review":
		return "review"
	default:
		return "post"
	}
}

func canonicalURLPtr(fp fingerprint.Fingerprint, rawURL string) *string {
	if fp.CanonicalURL != "" {
		u := fp.CanonicalURL
		return &u
	}
	if trimmed := strings.TrimSpace(rawURL); trimmed != "" {
		return &trimmed
	}
	return nil
}

func displayName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
