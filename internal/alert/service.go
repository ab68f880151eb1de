package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/db"
	"pulsewatch.dev/pulsewatch/internal/globaltime"
	"pulsewatch.dev/pulsewatch/internal/metrics"
)

const (
	RuleTypeRate      = "rate"
	RuleTypeSentiment = "sentiment"
	RuleTypePriority  = "priority"
)

const rateAlertMentionIDLimit = 50

type Options struct {
	DefaultCooldown     time.Duration
	DispatchMaxAttempts int
}

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options
}

// Rule is one active alert rule loaded for evaluation.
type Rule struct {
	RuleID          int64
	MonitorID       int64
	WorkspaceID     string
	MonitorName     string
	Name            string
	RuleType        string
	Window          time.Duration
	Threshold       float64
	Severity        string
	Cooldown        time.Duration
	Channels        []string
	Conditions      RuleConditions
	LastTriggeredAt *time.Time
}

// RuleConditions are optional qualifiers layered on a rule's primary
// threshold. MaxSentiment restricts a rate rule's window count to mentions
// scored at or below the given sentiment.
type RuleConditions struct {
	MaxSentiment *float64 `json:"max_sentiment"`
}

func parseRuleConditions(raw []byte) RuleConditions {
	if len(raw) == 0 {
		return RuleConditions{}
	}
	var conditions RuleConditions
	if err := json.Unmarshal(raw, &conditions); err != nil {
		return RuleConditions{}
	}
	return conditions
}

// MentionSignals carries the enrichment values a sentiment or priority rule
// inspects.
type MentionSignals struct {
	SentimentScore *float64
	PriorityScore  *float64
}

type SweepResult struct {
	Processed int
	Fired     int
}

func NewService(pool *db.Pool, logger zerolog.Logger, opts Options) *Service {
	if opts.DefaultCooldown <= 0 {
		opts.DefaultCooldown = 30 * time.Minute
	}
	if opts.DispatchMaxAttempts <= 0 {
		opts.DispatchMaxAttempts = 5
	}
	return &Service{
		pool:   pool,
		logger: logger,
		opts:   opts,
	}
}

// EvaluatePending claims monitor matches not yet run through the rules and
// evaluates each. A rule error never fails the sweep; the match is still
// marked evaluated so one poisoned rule cannot wedge the queue.
func (s *Service) EvaluatePending(ctx context.Context, limit int) (SweepResult, error) {
	if s == nil || s.pool == nil {
		return SweepResult{}, fmt.Errorf("alert service is not initialized")
	}
	if limit <= 0 {
		return SweepResult{}, nil
	}

	var result SweepResult
	for result.Processed < limit {
		tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
		if err != nil {
			return result, fmt.Errorf("begin alert tx: %w", err)
		}

		monitorID, mentionID, found, err := claimOneUnevaluatedMatchTx(ctx, tx)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}
		if !found {
			if err := tx.Commit(ctx); err != nil {
				_ = tx.Rollback(ctx)
				return result, fmt.Errorf("commit empty alert tx: %w", err)
			}
			break
		}

		fired, evalErr := s.Evaluate(ctx, tx, monitorID, mentionID)
		if evalErr != nil {
			s.logger.Error().
				Err(evalErr).
				Int64("monitor_id", monitorID).
				Int64("mention_id", mentionID).
				Msg("alert evaluation failed")
			// A SQL failure leaves the claim transaction aborted, so the
			// evaluated mark has to happen outside it.
			_ = tx.Rollback(ctx)
			if err := s.markMatchEvaluated(ctx, monitorID, mentionID); err != nil {
				return result, err
			}
			result.Processed++
			continue
		}

		if err := markMatchEvaluatedTx(ctx, tx, monitorID, mentionID); err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("commit alert tx: %w", err)
		}

		result.Processed++
		result.Fired += fired
	}

	return result, nil
}

// Evaluate runs every active rule of the monitor against the mention and
// returns how many alerts fired.
func (s *Service) Evaluate(ctx context.Context, tx db.Tx, monitorID, mentionID int64) (int, error) {
	rules, err := loadActiveRulesTx(ctx, tx, monitorID)
	if err != nil {
		return 0, err
	}
	if len(rules) == 0 {
		return 0, nil
	}

	signals, err := loadMentionSignalsTx(ctx, tx, mentionID)
	if err != nil {
		return 0, err
	}

	now := globaltime.UTC()
	fired := 0
	for _, rule := range rules {
		var didFire bool
		ruleErr, txErr := withRuleSavepoint(ctx, tx, func() error {
			var err error
			didFire, err = s.evaluateRuleTx(ctx, tx, rule, mentionID, signals, now)
			return err
		})
		if txErr != nil {
			return fired, txErr
		}
		if ruleErr != nil {
			s.logger.Error().
				Err(ruleErr).
				Int64("rule_id", rule.RuleID).
				Int64("mention_id", mentionID).
				Msg("rule evaluation failed")
			continue
		}
		if didFire {
			fired++
		}
	}
	return fired, nil
}

// withRuleSavepoint runs fn inside a savepoint so a SQL error from one rule
// aborts only that rule, not the claim transaction. txErr reports savepoint
// machinery failures; those poison the transaction and end the evaluation.
func withRuleSavepoint(ctx context.Context, tx db.Tx, fn func() error) (fnErr, txErr error) {
	if _, err := tx.Exec(ctx, "SAVEPOINT rule_eval"); err != nil {
		return nil, fmt.Errorf("savepoint rule_eval: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT rule_eval"); rbErr != nil {
			return err, fmt.Errorf("rollback to savepoint rule_eval: %w", rbErr)
		}
		return err, nil
	}
	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT rule_eval"); err != nil {
		return nil, fmt.Errorf("release savepoint rule_eval: %w", err)
	}
	return nil, nil
}

func (s *Service) evaluateRuleTx(
	ctx context.Context,
	tx db.Tx,
	rule Rule,
	mentionID int64,
	signals MentionSignals,
	now time.Time,
) (bool, error) {
	var mentionIDs []int64

	switch rule.RuleType {
	case RuleTypeRate:
		count, recent, err := countWindowMatchesTx(ctx, tx, rule.MonitorID, now.Add(-rule.Window), rule.Conditions.MaxSentiment)
		if err != nil {
			return false, err
		}
		if !RateFired(count, rule.Threshold) {
			return false, nil
		}
		mentionIDs = recent
	case RuleTypeSentiment:
		if !SentimentFired(signals.SentimentScore, rule.Threshold) {
			return false, nil
		}
		mentionIDs = []int64{mentionID}
	case RuleTypePriority:
		if !PriorityFired(signals.PriorityScore, rule.Threshold) {
			return false, nil
		}
		mentionIDs = []int64{mentionID}
	default:
		return false, fmt.Errorf("unknown rule_type %q", rule.RuleType)
	}

	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = s.opts.DefaultCooldown
	}

	// The CAS on last_triggered_at is the cooldown gate: among concurrent
	// evaluators at most one update succeeds.
	claimed, err := claimRuleTriggerTx(ctx, tx, rule.RuleID, now, cooldown)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	alertID, err := insertAlertTx(ctx, tx, rule, mentionIDs, now)
	if err != nil {
		return false, err
	}

	if err := s.enqueueNotificationsTx(ctx, tx, rule, alertID, now); err != nil {
		return false, err
	}

	metrics.AlertsFired.WithLabelValues(strings.ToLower(rule.Severity)).Inc()
	return true, nil
}

// RateFired reports whether a window count crosses the rate threshold.
func RateFired(count int, threshold float64) bool {
	return float64(count) >= threshold
}

// SentimentFired reports whether a sentiment score is at or below the
// threshold. Unscored mentions never fire.
func SentimentFired(score *float64, threshold float64) bool {
	return score != nil && *score <= threshold
}

// PriorityFired reports whether a priority score is at or above the
// threshold. Unscored mentions never fire.
func PriorityFired(score *float64, threshold float64) bool {
	return score != nil && *score >= threshold
}

// SeverityPriority maps alert severity to queue priority, higher first.
func SeverityPriority(severity string) int {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "critical":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}

func claimOneUnevaluatedMatchTx(ctx context.Context, tx db.Tx) (int64, int64, bool, error) {
	const q = `
SELECT mm.monitor_id, mm.mention_id
FROM pulse.monitor_mentions mm
WHERE mm.evaluated_at IS NULL
ORDER BY mm.detected_at
LIMIT 1
FOR UPDATE SKIP LOCKED
`
	var monitorID, mentionID int64
	err := tx.QueryRow(ctx, q).Scan(&monitorID, &mentionID)
	if err != nil {
		if err == db.ErrNoRows {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("claim unevaluated match: %w", err)
	}
	return monitorID, mentionID, true, nil
}

const markMatchEvaluatedQuery = `
UPDATE pulse.monitor_mentions
SET evaluated_at = $3
WHERE monitor_id = $1 AND mention_id = $2
`

func markMatchEvaluatedTx(ctx context.Context, tx db.Tx, monitorID, mentionID int64) error {
	if _, err := tx.Exec(ctx, markMatchEvaluatedQuery, monitorID, mentionID, globaltime.UTC()); err != nil {
		return fmt.Errorf("mark match evaluated monitor_id=%d mention_id=%d: %w", monitorID, mentionID, err)
	}
	return nil
}

// markMatchEvaluated marks the match outside the claim transaction, used when
// evaluation aborted that transaction.
func (s *Service) markMatchEvaluated(ctx context.Context, monitorID, mentionID int64) error {
	if _, err := s.pool.Exec(ctx, markMatchEvaluatedQuery, monitorID, mentionID, globaltime.UTC()); err != nil {
		return fmt.Errorf("mark match evaluated monitor_id=%d mention_id=%d: %w", monitorID, mentionID, err)
	}
	return nil
}

func loadActiveRulesTx(ctx context.Context, tx db.Tx, monitorID int64) ([]Rule, error) {
	const q = `
SELECT
	r.rule_id,
	r.monitor_id,
	m.workspace_id,
	m.name,
	r.name,
	r.rule_type,
	r.window_seconds,
	r.threshold,
	r.severity,
	r.cooldown_seconds,
	r.channels,
	r.conditions,
	r.last_triggered_at
FROM pulse.alert_rules r
JOIN pulse.monitors m ON m.monitor_id = r.monitor_id
WHERE r.monitor_id = $1
  AND r.status = 'active'
  AND m.status = 'active'
ORDER BY r.rule_id
`
	rows, err := tx.Query(ctx, q, monitorID)
	if err != nil {
		return nil, fmt.Errorf("query active rules monitor_id=%d: %w", monitorID, err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule            Rule
			windowSeconds   int
			cooldownSeconds int
			channelsJSON    []byte
			conditionsJSON  []byte
		)
		if err := rows.Scan(
			&rule.RuleID,
			&rule.MonitorID,
			&rule.WorkspaceID,
			&rule.MonitorName,
			&rule.Name,
			&rule.RuleType,
			&windowSeconds,
			&rule.Threshold,
			&rule.Severity,
			&cooldownSeconds,
			&channelsJSON,
			&conditionsJSON,
			&rule.LastTriggeredAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.Window = time.Duration(windowSeconds) * time.Second
		rule.Cooldown = time.Duration(cooldownSeconds) * time.Second
		if len(channelsJSON) > 0 {
			_ = json.Unmarshal(channelsJSON, &rule.Channels)
		}
		rule.Conditions = parseRuleConditions(conditionsJSON)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func loadMentionSignalsTx(ctx context.Context, tx db.Tx, mentionID int64) (MentionSignals, error) {
	const q = `
SELECT sentiment_score, priority_score
FROM pulse.mentions
WHERE mention_id = $1
`
	var signals MentionSignals
	err := tx.QueryRow(ctx, q, mentionID).Scan(&signals.SentimentScore, &signals.PriorityScore)
	if err != nil {
		if err == db.ErrNoRows {
			return MentionSignals{}, fmt.Errorf("mention_id=%d not found", mentionID)
		}
		return MentionSignals{}, fmt.Errorf("load mention signals mention_id=%d: %w", mentionID, err)
	}
	return signals, nil
}

// countWindowMatchesTx counts a monitor's matches inside the window. A
// non-nil maxSentiment narrows the count to mentions scored at or below it,
// so a rate rule can express "N negative mentions in the window".
func countWindowMatchesTx(ctx context.Context, tx db.Tx, monitorID int64, windowStart time.Time, maxSentiment *float64) (int, []int64, error) {
	const countQ = `
SELECT COUNT(*)
FROM pulse.monitor_mentions mm
JOIN pulse.mentions m ON m.mention_id = mm.mention_id
WHERE mm.monitor_id = $1
  AND mm.detected_at >= $2
  AND ($3::double precision IS NULL OR m.sentiment_score <= $3)
`
	var count int
	if err := tx.QueryRow(ctx, countQ, monitorID, windowStart, maxSentiment).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("count window matches monitor_id=%d: %w", monitorID, err)
	}
	if count == 0 {
		return 0, nil, nil
	}

	const idsQ = `
SELECT mm.mention_id
FROM pulse.monitor_mentions mm
JOIN pulse.mentions m ON m.mention_id = mm.mention_id
WHERE mm.monitor_id = $1
  AND mm.detected_at >= $2
  AND ($3::double precision IS NULL OR m.sentiment_score <= $3)
ORDER BY mm.detected_at DESC
LIMIT $4
`
	rows, err := tx.Query(ctx, idsQ, monitorID, windowStart, maxSentiment, rateAlertMentionIDLimit)
	if err != nil {
		return 0, nil, fmt.Errorf("query window mention ids monitor_id=%d: %w", monitorID, err)
	}
	defer rows.Close()

	var mentionIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, nil, fmt.Errorf("scan window mention id: %w", err)
		}
		mentionIDs = append(mentionIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate window mention ids: %w", err)
	}
	return count, mentionIDs, nil
}

func claimRuleTriggerTx(ctx context.Context, tx db.Tx, ruleID int64, now time.Time, cooldown time.Duration) (bool, error) {
	const q = `
UPDATE pulse.alert_rules
SET last_triggered_at = $2, updated_at = $2
WHERE rule_id = $1
  AND (last_triggered_at IS NULL OR last_triggered_at <= $3)
`
	commandTag, err := tx.Exec(ctx, q, ruleID, now, now.Add(-cooldown))
	if err != nil {
		return false, fmt.Errorf("claim rule trigger rule_id=%d: %w", ruleID, err)
	}
	return commandTag.RowsAffected() == 1, nil
}

func insertAlertTx(ctx context.Context, tx db.Tx, rule Rule, mentionIDs []int64, now time.Time) (int64, error) {
	const q = `
INSERT INTO pulse.alerts (
	rule_id,
	monitor_id,
	alert_type,
	severity,
	status,
	title,
	message,
	mention_ids,
	triggered_at,
	created_at
)
VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7::jsonb, $8, $8)
RETURNING alert_id
`
	if mentionIDs == nil {
		mentionIDs = []int64{}
	}
	idsJSON, err := json.Marshal(mentionIDs)
	if err != nil {
		return 0, fmt.Errorf("marshal mention ids: %w", err)
	}

	title := fmt.Sprintf("%s: %s", rule.MonitorName, rule.Name)
	message := alertMessage(rule, len(mentionIDs))

	var alertID int64
	err = tx.QueryRow(
		ctx,
		q,
		rule.RuleID,
		rule.MonitorID,
		rule.RuleType,
		strings.ToLower(rule.Severity),
		title,
		message,
		string(idsJSON),
		now,
	).Scan(&alertID)
	if err != nil {
		return 0, fmt.Errorf("insert alert rule_id=%d: %w", rule.RuleID, err)
	}
	return alertID, nil
}

func alertMessage(rule Rule, mentionCount int) string {
	switch rule.RuleType {
	case RuleTypeRate:
		return fmt.Sprintf(
			"Monitor %q matched %d mentions within %s (threshold %.0f).",
			rule.MonitorName, mentionCount, rule.Window, rule.Threshold,
		)
	case RuleTypeSentiment:
		return fmt.Sprintf(
			"Monitor %q caught a mention with sentiment at or below %.2f.",
			rule.MonitorName, rule.Threshold,
		)
	case RuleTypePriority:
		return fmt.Sprintf(
			"Monitor %q caught a mention with priority at or above %.2f.",
			rule.MonitorName, rule.Threshold,
		)
	default:
		return fmt.Sprintf("Monitor %q triggered rule %q.", rule.MonitorName, rule.Name)
	}
}

// enqueueNotificationsTx fans the alert out to every enabled channel of the
// workspace, optionally filtered down by the rule's channel list.
func (s *Service) enqueueNotificationsTx(ctx context.Context, tx db.Tx, rule Rule, alertID int64, now time.Time) error {
	const q = `
SELECT channel_type, recipient
FROM pulse.workspace_channels
WHERE workspace_id = $1
  AND enabled = TRUE
ORDER BY workspace_channel_id
`
	rows, err := tx.Query(ctx, q, rule.WorkspaceID)
	if err != nil {
		return fmt.Errorf("query workspace channels workspace_id=%s: %w", rule.WorkspaceID, err)
	}
	defer rows.Close()

	type target struct {
		channelType string
		recipient   string
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.channelType, &t.recipient); err != nil {
			return fmt.Errorf("scan workspace channel: %w", err)
		}
		if len(rule.Channels) > 0 && !containsChannel(rule.Channels, t.channelType) {
			continue
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate workspace channels: %w", err)
	}

	if len(targets) == 0 {
		s.logger.Warn().
			Int64("alert_id", alertID).
			Str("workspace_id", rule.WorkspaceID).
			Msg("alert fired but workspace has no enabled delivery channels")
		return nil
	}

	const insertQ = `
INSERT INTO pulse.notification_queue (
	workspace_id,
	alert_id,
	channel_type,
	recipient,
	subject,
	body,
	priority,
	status,
	attempts,
	max_attempts,
	scheduled_for,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, $8, $9, $9, $9)
`
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(rule.Severity), rule.MonitorName)
	body := alertMessage(rule, 0)
	priority := SeverityPriority(rule.Severity)

	for _, t := range targets {
		if _, err := tx.Exec(
			ctx,
			insertQ,
			rule.WorkspaceID,
			alertID,
			t.channelType,
			t.recipient,
			subject,
			body,
			priority,
			s.opts.DispatchMaxAttempts,
			now,
		); err != nil {
			return fmt.Errorf("enqueue notification alert_id=%d channel=%s: %w", alertID, t.channelType, err)
		}
	}
	return nil
}

func containsChannel(channels []string, channelType string) bool {
	for _, c := range channels {
		if strings.EqualFold(strings.TrimSpace(c), channelType) {
			return true
		}
	}
	return false
}
