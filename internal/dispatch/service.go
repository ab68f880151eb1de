package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/channels"
	"pulsewatch.dev/pulsewatch/internal/db"
	"pulsewatch.dev/pulsewatch/internal/globaltime"
	"pulsewatch.dev/pulsewatch/internal/metrics"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDelivered  = "delivered"
	StatusFailed     = "failed"
)

// statusWriteTimeout bounds the post-delivery status update. The write runs
// on a context detached from the sweep deadline: once a channel call has gone
// out, the outcome must be recorded even if the sweep is out of time.
const statusWriteTimeout = 10 * time.Second

type Options struct {
	BaseBackoff     time.Duration
	DeliveryTimeout time.Duration
	StuckAge        time.Duration
}

type Service struct {
	pool     *db.Pool
	registry *channels.Registry
	logger   zerolog.Logger
	opts     Options
}

// Entry is one claimed notification_queue row.
type Entry struct {
	NotificationID int64
	ChannelType    string
	Recipient      string
	Subject        *string
	Body           string
	Attempts       int
	MaxAttempts    int
}

type SweepResult struct {
	Processed int
	Delivered int
	Retried   int
	Failed    int
}

func NewService(pool *db.Pool, registry *channels.Registry, logger zerolog.Logger, opts Options) *Service {
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 30 * time.Second
	}
	if opts.StuckAge <= 0 {
		opts.StuckAge = 10 * time.Minute
	}
	return &Service{
		pool:     pool,
		registry: registry,
		logger:   logger,
		opts:     opts,
	}
}

// Dispatch claims due queue entries one at a time and delivers them. A
// delivery error only affects its own entry.
func (s *Service) Dispatch(ctx context.Context, limit int) (SweepResult, error) {
	if s == nil || s.pool == nil {
		return SweepResult{}, fmt.Errorf("dispatch service is not initialized")
	}
	if limit <= 0 {
		return SweepResult{}, nil
	}

	if err := s.requeueStuck(ctx); err != nil {
		return SweepResult{}, err
	}

	var result SweepResult
	for result.Processed < limit {
		entry, found, err := s.claimOne(ctx)
		if err != nil {
			return result, err
		}
		if !found {
			break
		}

		result.Processed++
		switch s.deliverOne(ctx, entry) {
		case StatusDelivered:
			result.Delivered++
			metrics.NotificationsDispatched.WithLabelValues("delivered").Inc()
		case StatusPending:
			result.Retried++
			metrics.NotificationsDispatched.WithLabelValues("retried").Inc()
		case StatusFailed:
			result.Failed++
			metrics.NotificationsDispatched.WithLabelValues("failed").Inc()
		}
	}

	return result, nil
}

// claimOne moves the next due entry to processing and bumps its attempt
// counter. The subselect with SKIP LOCKED makes the claim safe under
// concurrent dispatchers.
func (s *Service) claimOne(ctx context.Context) (Entry, bool, error) {
	const q = `
UPDATE pulse.notification_queue
SET
	status = 'processing',
	attempts = attempts + 1,
	last_attempt_at = $1,
	updated_at = $1
WHERE notification_id = (
	SELECT notification_id
	FROM pulse.notification_queue
	WHERE status = 'pending'
	  AND scheduled_for <= $1
	ORDER BY scheduled_for ASC, priority DESC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING notification_id, channel_type, recipient, subject, body, attempts, max_attempts
`
	var entry Entry
	err := s.pool.QueryRow(ctx, q, globaltime.UTC()).Scan(
		&entry.NotificationID,
		&entry.ChannelType,
		&entry.Recipient,
		&entry.Subject,
		&entry.Body,
		&entry.Attempts,
		&entry.MaxAttempts,
	)
	if err != nil {
		if err == db.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("claim notification: %w", err)
	}
	return entry, true, nil
}

func (s *Service) deliverOne(ctx context.Context, entry Entry) string {
	channel, ok := s.registry.Get(entry.ChannelType)
	if !ok {
		s.failEntry(ctx, entry, fmt.Sprintf("no channel registered for type %q", entry.ChannelType))
		return StatusFailed
	}

	subject := ""
	if entry.Subject != nil {
		subject = *entry.Subject
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, s.opts.DeliveryTimeout)
	err := channel.Send(deliveryCtx, channels.Message{
		Recipient: entry.Recipient,
		Subject:   subject,
		Body:      entry.Body,
	})
	cancel()

	if err == nil {
		s.markDelivered(ctx, entry)
		return StatusDelivered
	}

	if channels.IsPermanent(err) || entry.Attempts >= entry.MaxAttempts {
		s.failEntry(ctx, entry, err.Error())
		return StatusFailed
	}

	s.scheduleRetry(ctx, entry, err.Error())
	return StatusPending
}

// requeueStuck returns entries stranded in processing (a dispatcher crashed
// or ran out of sweep time between claim and status write) to the queue. The
// claim already bumped attempts, so the retry budget stays correct; entries
// out of attempts go straight to failed.
func (s *Service) requeueStuck(ctx context.Context) error {
	const q = `
UPDATE pulse.notification_queue
SET
	status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
	last_error = COALESCE(last_error, 'delivery interrupted'),
	updated_at = $1
WHERE status = 'processing'
  AND last_attempt_at <= $2
`
	now := globaltime.UTC()
	commandTag, err := s.pool.Exec(ctx, q, now, now.Add(-s.opts.StuckAge))
	if err != nil {
		return fmt.Errorf("requeue stuck notifications: %w", err)
	}
	if reclaimed := commandTag.RowsAffected(); reclaimed > 0 {
		s.logger.Warn().
			Int64("reclaimed", reclaimed).
			Dur("stuck_age", s.opts.StuckAge).
			Msg("returned stranded processing notifications to the queue")
	}
	return nil
}

// NextBackoff is the delay before retry attempt n (1-based): base doubled per
// prior attempt.
func NextBackoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := base
	for i := 1; i < attempts; i++ {
		backoff *= 2
	}
	return backoff
}

// statusWriteContext detaches the status update from the sweep deadline.
func statusWriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
}

func (s *Service) markDelivered(ctx context.Context, entry Entry) {
	const q = `
UPDATE pulse.notification_queue
SET status = 'delivered', delivered_at = $2, last_error = NULL, updated_at = $2
WHERE notification_id = $1 AND status = 'processing'
`
	writeCtx, cancel := statusWriteContext(ctx)
	defer cancel()
	if _, err := s.pool.Exec(writeCtx, q, entry.NotificationID, globaltime.UTC()); err != nil {
		s.logger.Error().Err(err).Int64("notification_id", entry.NotificationID).Msg("failed to mark notification delivered")
	}
}

func (s *Service) scheduleRetry(ctx context.Context, entry Entry, lastError string) {
	now := globaltime.UTC()
	nextAttemptAt := now.Add(NextBackoff(s.opts.BaseBackoff, entry.Attempts))

	const q = `
UPDATE pulse.notification_queue
SET status = 'pending', scheduled_for = $2, last_error = $3, updated_at = $4
WHERE notification_id = $1 AND status = 'processing'
`
	writeCtx, cancel := statusWriteContext(ctx)
	defer cancel()
	if _, err := s.pool.Exec(writeCtx, q, entry.NotificationID, nextAttemptAt, lastError, now); err != nil {
		s.logger.Error().Err(err).Int64("notification_id", entry.NotificationID).Msg("failed to schedule notification retry")
		return
	}

	s.logger.Warn().
		Int64("notification_id", entry.NotificationID).
		Str("channel_type", entry.ChannelType).
		Int("attempts", entry.Attempts).
		Time("next_attempt_at", nextAttemptAt).
		Str("error", lastError).
		Msg("notification delivery failed; retry scheduled")
}

func (s *Service) failEntry(ctx context.Context, entry Entry, lastError string) {
	const q = `
UPDATE pulse.notification_queue
SET status = 'failed', last_error = $2, updated_at = $3
WHERE notification_id = $1 AND status = 'processing'
`
	writeCtx, cancel := statusWriteContext(ctx)
	defer cancel()
	if _, err := s.pool.Exec(writeCtx, q, entry.NotificationID, lastError, globaltime.UTC()); err != nil {
		s.logger.Error().Err(err).Int64("notification_id", entry.NotificationID).Msg("failed to mark notification failed")
		return
	}

	s.logger.Error().
		Int64("notification_id", entry.NotificationID).
		Str("channel_type", entry.ChannelType).
		Int("attempts", entry.Attempts).
		Str("error", lastError).
		Msg("notification delivery failed permanently")
}

// StalePending counts entries overdue by at least age, including entries
// stranded in processing. It feeds the queue health gauge.
func (s *Service) StalePending(ctx context.Context, age time.Duration) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("dispatch service is not initialized")
	}

	const q = `
SELECT COUNT(*)
FROM pulse.notification_queue
WHERE (status = 'pending' AND scheduled_for <= $1)
   OR (status = 'processing' AND last_attempt_at <= $1)
`
	var count int
	if err := s.pool.QueryRow(ctx, q, globaltime.UTC().Add(-age)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stale pending notifications: %w", err)
	}
	return count, nil
}

// QueueStats summarizes the queue by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

func (s *Service) Stats(ctx context.Context) (QueueStats, error) {
	if s == nil || s.pool == nil {
		return QueueStats{}, fmt.Errorf("dispatch service is not initialized")
	}

	const q = `
SELECT status, COUNT(*)
FROM pulse.notification_queue
GROUP BY status
`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return QueueStats{}, fmt.Errorf("query queue stats: %w", err)
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return QueueStats{}, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusDelivered:
			stats.Delivered = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return QueueStats{}, fmt.Errorf("iterate queue stats: %w", err)
	}
	return stats, nil
}
