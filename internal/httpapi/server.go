package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"pulsewatch.dev/pulsewatch/internal/db"
	"pulsewatch.dev/pulsewatch/internal/dispatch"
	"pulsewatch.dev/pulsewatch/internal/globaltime"
	"pulsewatch.dev/pulsewatch/internal/ingest"
	"pulsewatch.dev/pulsewatch/internal/metrics"
	payloadschema "pulsewatch.dev/pulsewatch/schema"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
	maxPayloadBytes = 1 << 20
)

var errMonitorNotFound = errors.New("monitor not found")

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool       *db.Pool
	ingestor   *ingest.Service
	dispatcher *dispatch.Service
	logger     zerolog.Logger
	opts       Options
}

func NewServer(pool *db.Pool, ingestor *ingest.Service, dispatcher *dispatch.Service, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:       pool,
		ingestor:   ingestor,
		dispatcher: dispatcher,
		logger:     logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/mentions", s.handleMentions)
	api.POST("/mentions", s.handleIngestMention)
	api.GET("/monitors/:monitor_uuid/analytics", s.handleMonitorAnalytics)
	api.GET("/alerts", s.handleAlerts)
	api.GET("/queue/stats", s.handleQueueStats)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("pulsewatch api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("pulsewatch api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pool.QueryRow(c.Request().Context(), "SELECT 1").Scan(new(int)); err != nil {
		s.logger.Error().Err(err).Msg("health check database probe failed")
		return internalError(c, "Database unreachable")
	}
	return success(c, map[string]any{
		"service": "pulsewatch",
		"time":    globaltime.UTC(),
	})
}

// handleIngestMention accepts one collector payload, validates it against the
// embedded schema, and runs it through the dedup pipeline.
func (s *Server) handleIngestMention(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes+1))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not read request body"})
	}
	if len(body) > maxPayloadBytes {
		return fail(c, http.StatusRequestEntityTooLarge, "Payload too large", nil)
	}

	payload, err := payloadschema.ValidateMentionPayload(body)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	raw, err := ingest.FromPayload(payload)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	result, err := s.ingestor.Ingest(c.Request().Context(), raw)
	if err != nil {
		s.logger.Error().Err(err).
			Str("platform", raw.Platform).
			Str("external_post_id", raw.ExternalPostID).
			Msg("ingest failed")
		return internalError(c, "Ingest failed")
	}

	metrics.MentionsIngested.WithLabelValues(string(result.Outcome)).Inc()

	status := http.StatusCreated
	if result.Outcome == ingest.OutcomeDuplicate {
		status = http.StatusOK
	}
	return successWithStatus(c, status, map[string]any{
		"outcome":    result.Outcome,
		"mention_id": result.MentionID,
		"run_id":     result.RunID,
	})
}

type mentionListItem struct {
	MentionUUID    string     `json:"mention_uuid"`
	Platform       string     `json:"platform"`
	ExternalPostID string     `json:"external_post_id"`
	ContentText    string     `json:"content_text"`
	Language       string     `json:"language"`
	PostType       string     `json:"post_type"`
	URL            *string    `json:"url,omitempty"`
	PublishedAt    time.Time  `json:"published_at"`
	SentimentScore *float64   `json:"sentiment_score,omitempty"`
	SentimentLabel *string    `json:"sentiment_label,omitempty"`
	Category       *string    `json:"category,omitempty"`
	PriorityScore  *float64   `json:"priority_score,omitempty"`
	Status         string     `json:"processing_status"`
	DuplicateCount int        `json:"duplicate_count"`
	Likes          int        `json:"likes"`
	Shares         int        `json:"shares"`
	Comments       int        `json:"comments"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

func (s *Server) handleMentions(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}
	from, err := parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	to, err := parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}
	if from != nil && to != nil && from.After(*to) {
		return failValidation(c, map[string]string{"time_range": "from must be <= to"})
	}

	platform := strings.TrimSpace(strings.ToLower(c.QueryParam("platform")))
	status := strings.TrimSpace(strings.ToLower(c.QueryParam("status")))

	const countQ = `
SELECT COUNT(*)
FROM pulse.mentions m
JOIN pulse.platforms p ON p.platform_id = m.platform_id
WHERE ($1 = '' OR p.name = $1)
  AND ($2 = '' OR m.processing_status = $2)
  AND ($3::timestamptz IS NULL OR m.published_at >= $3)
  AND ($4::timestamptz IS NULL OR m.published_at <= $4)
`
	var total int64
	if err := s.pool.QueryRow(c.Request().Context(), countQ, platform, status, from, to).Scan(&total); err != nil {
		s.logger.Error().Err(err).Msg("count mentions failed")
		return internalError(c, "Failed to load mentions")
	}

	const rowsQ = `
SELECT
	m.mention_uuid::text,
	p.name,
	m.external_post_id,
	m.content_text,
	m.language,
	m.post_type,
	m.url,
	m.published_at,
	m.sentiment_score,
	m.sentiment_label,
	m.category,
	m.priority_score,
	m.processing_status,
	m.duplicate_count,
	m.likes_count,
	m.shares_count,
	m.comments_count,
	m.processed_at
FROM pulse.mentions m
JOIN pulse.platforms p ON p.platform_id = m.platform_id
WHERE ($1 = '' OR p.name = $1)
  AND ($2 = '' OR m.processing_status = $2)
  AND ($3::timestamptz IS NULL OR m.published_at >= $3)
  AND ($4::timestamptz IS NULL OR m.published_at <= $4)
ORDER BY m.published_at DESC, m.mention_id DESC
LIMIT $5
OFFSET $6
`
	offset := (page - 1) * pageSize
	rows, err := s.pool.Query(c.Request().Context(), rowsQ, platform, status, from, to, pageSize, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("query mentions failed")
		return internalError(c, "Failed to load mentions")
	}
	defer rows.Close()

	items := make([]mentionListItem, 0, pageSize)
	for rows.Next() {
		var row mentionListItem
		if err := rows.Scan(
			&row.MentionUUID,
			&row.Platform,
			&row.ExternalPostID,
			&row.ContentText,
			&row.Language,
			&row.PostType,
			&row.URL,
			&row.PublishedAt,
			&row.SentimentScore,
			&row.SentimentLabel,
			&row.Category,
			&row.PriorityScore,
			&row.Status,
			&row.DuplicateCount,
			&row.Likes,
			&row.Shares,
			&row.Comments,
			&row.ProcessedAt,
		); err != nil {
			s.logger.Error().Err(err).Msg("scan mention row failed")
			return internalError(c, "Failed to load mentions")
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error().Err(err).Msg("iterate mention rows failed")
		return internalError(c, "Failed to load mentions")
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":        page,
			"page_size":   pageSize,
			"total_items": total,
			"total_pages": totalPages,
		},
	})
}

type analyticsBucket struct {
	BucketStart    time.Time `json:"bucket_start"`
	MentionCount   int       `json:"mention_count"`
	SentimentSum   float64   `json:"sentiment_sum"`
	SentimentCount int       `json:"sentiment_count"`
	PositiveCount  int       `json:"positive_count"`
	NegativeCount  int       `json:"negative_count"`
	NeutralCount   int       `json:"neutral_count"`
	CategoryCounts []byte    `json:"-"`
	PlatformCounts []byte    `json:"-"`
	LikesSum       int64     `json:"likes_sum"`
	SharesSum      int64     `json:"shares_sum"`
	CommentsSum    int64     `json:"comments_sum"`
}

func (s *Server) handleMonitorAnalytics(c echo.Context) error {
	monitorUUID := strings.TrimSpace(c.Param("monitor_uuid"))
	if monitorUUID == "" {
		return failValidation(c, map[string]string{"monitor_uuid": "is required"})
	}

	granularity := strings.TrimSpace(strings.ToLower(c.QueryParam("granularity")))
	if granularity == "" {
		granularity = "hourly"
	}
	table := "pulse.monitor_analytics_hourly"
	if granularity == "daily" {
		table = "pulse.monitor_analytics_daily"
	} else if granularity != "hourly" {
		return failValidation(c, map[string]string{"granularity": "must be hourly or daily"})
	}

	from, err := parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	to, err := parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}

	monitorID, err := s.resolveMonitorID(c.Request().Context(), monitorUUID)
	if err != nil {
		if errors.Is(err, errMonitorNotFound) {
			return failNotFound(c, "Monitor not found")
		}
		s.logger.Error().Err(err).Str("monitor_uuid", monitorUUID).Msg("resolve monitor failed")
		return internalError(c, "Failed to load analytics")
	}

	q := fmt.Sprintf(`
SELECT
	bucket_start,
	mention_count,
	sentiment_sum,
	sentiment_count,
	positive_count,
	negative_count,
	neutral_count,
	likes_sum,
	shares_sum,
	comments_sum
FROM %s
WHERE monitor_id = $1
  AND ($2::timestamptz IS NULL OR bucket_start >= $2)
  AND ($3::timestamptz IS NULL OR bucket_start <= $3)
ORDER BY bucket_start
`, table)

	rows, err := s.pool.Query(c.Request().Context(), q, monitorID, from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("query analytics failed")
		return internalError(c, "Failed to load analytics")
	}
	defer rows.Close()

	items := make([]analyticsBucket, 0, 64)
	for rows.Next() {
		var row analyticsBucket
		if err := rows.Scan(
			&row.BucketStart,
			&row.MentionCount,
			&row.SentimentSum,
			&row.SentimentCount,
			&row.PositiveCount,
			&row.NegativeCount,
			&row.NeutralCount,
			&row.LikesSum,
			&row.SharesSum,
			&row.CommentsSum,
		); err != nil {
			s.logger.Error().Err(err).Msg("scan analytics bucket failed")
			return internalError(c, "Failed to load analytics")
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error().Err(err).Msg("iterate analytics buckets failed")
		return internalError(c, "Failed to load analytics")
	}

	return success(c, map[string]any{
		"items":       items,
		"granularity": granularity,
	})
}

func (s *Server) resolveMonitorID(ctx context.Context, monitorUUID string) (int64, error) {
	const q = `SELECT monitor_id FROM pulse.monitors WHERE monitor_uuid = $1::uuid`
	var monitorID int64
	if err := s.pool.QueryRow(ctx, q, monitorUUID).Scan(&monitorID); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return 0, errMonitorNotFound
		}
		return 0, fmt.Errorf("query monitor: %w", err)
	}
	return monitorID, nil
}

type alertListItem struct {
	AlertUUID   string     `json:"alert_uuid"`
	MonitorID   int64      `json:"monitor_id"`
	AlertType   string     `json:"alert_type"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

func (s *Server) handleAlerts(c echo.Context) error {
	status := strings.TrimSpace(strings.ToLower(c.QueryParam("status")))
	limit, err := parsePositiveInt(c.QueryParam("limit"), 50, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	const q = `
SELECT
	a.alert_uuid::text,
	a.monitor_id,
	a.alert_type,
	a.severity,
	a.status,
	a.title,
	a.message,
	a.triggered_at,
	a.resolved_at
FROM pulse.alerts a
WHERE ($1 = '' OR a.status = $1)
ORDER BY a.triggered_at DESC
LIMIT $2
`
	rows, err := s.pool.Query(c.Request().Context(), q, status, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query alerts failed")
		return internalError(c, "Failed to load alerts")
	}
	defer rows.Close()

	items := make([]alertListItem, 0, limit)
	for rows.Next() {
		var row alertListItem
		if err := rows.Scan(
			&row.AlertUUID,
			&row.MonitorID,
			&row.AlertType,
			&row.Severity,
			&row.Status,
			&row.Title,
			&row.Message,
			&row.TriggeredAt,
			&row.ResolvedAt,
		); err != nil {
			s.logger.Error().Err(err).Msg("scan alert row failed")
			return internalError(c, "Failed to load alerts")
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error().Err(err).Msg("iterate alert rows failed")
		return internalError(c, "Failed to load alerts")
	}

	return success(c, map[string]any{"items": items})
}

func (s *Server) handleQueueStats(c echo.Context) error {
	stats, err := s.dispatcher.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query queue stats failed")
		return internalError(c, "Failed to load queue stats")
	}
	return success(c, stats)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}

	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		if endOfDay {
			utc = utc.Add((24 * time.Hour) - time.Nanosecond)
		}
		return &utc, nil
	}

	return nil, fmt.Errorf("invalid time format")
}
