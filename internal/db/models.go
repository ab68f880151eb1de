package db

import (
	"encoding/json"
	"time"
)

// Platform maps pulse.platforms.
type Platform struct {
	PlatformID   int64     `gorm:"column:platform_id;primaryKey;autoIncrement"`
	PlatformUUID string    `gorm:"column:platform_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name         string    `gorm:"column:name;type:text;not null;unique"`
	DisplayName  string    `gorm:"column:display_name;type:text;not null"`
	Status       string    `gorm:"column:status;type:text;not null;default:active"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Platform) TableName() string { return "pulse.platforms" }

// SocialUser maps pulse.social_users.
type SocialUser struct {
	SocialUserID   int64     `gorm:"column:social_user_id;primaryKey;autoIncrement"`
	SocialUserUUID string    `gorm:"column:social_user_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	PlatformID     int64     `gorm:"column:platform_id;type:bigint;not null;uniqueIndex:ux_social_users_platform_external"`
	ExternalUserID string    `gorm:"column:external_user_id;type:text;not null;uniqueIndex:ux_social_users_platform_external"`
	Handle         string    `gorm:"column:handle;type:text;not null;default:''"`
	DisplayName    string    `gorm:"column:display_name;type:text;not null;default:''"`
	FollowersCount int       `gorm:"column:followers_count;type:integer;not null;default:0"`
	Verified       bool      `gorm:"column:verified;type:boolean;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (SocialUser) TableName() string { return "pulse.social_users" }

// Mention maps pulse.mentions.
type Mention struct {
	MentionID         int64           `gorm:"column:mention_id;primaryKey;autoIncrement"`
	MentionUUID       string          `gorm:"column:mention_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	PlatformID        int64           `gorm:"column:platform_id;type:bigint;not null;uniqueIndex:ux_mentions_platform_post"`
	ExternalPostID    string          `gorm:"column:external_post_id;type:text;not null;uniqueIndex:ux_mentions_platform_post"`
	SocialUserID      *int64          `gorm:"column:social_user_id;type:bigint"`
	ContentText       string          `gorm:"column:content_text;type:text;not null"`
	NormalizedContent string          `gorm:"column:normalized_content;type:text;not null"`
	Language          string          `gorm:"column:language;type:text;not null;default:und"`
	PostType          string          `gorm:"column:post_type;type:text;not null;default:post"`
	URL               *string         `gorm:"column:url;type:text"`
	Hashtags          json.RawMessage `gorm:"column:hashtags;type:jsonb"`
	PublishedAt       time.Time       `gorm:"column:published_at;type:timestamptz;not null"`
	CollectedAt       time.Time       `gorm:"column:collected_at;type:timestamptz;not null;default:now()"`
	LikesCount        int             `gorm:"column:likes_count;type:integer;not null;default:0"`
	SharesCount       int             `gorm:"column:shares_count;type:integer;not null;default:0"`
	CommentsCount     int             `gorm:"column:comments_count;type:integer;not null;default:0"`
	SentimentScore    *float64        `gorm:"column:sentiment_score;type:double precision"`
	SentimentLabel    *string         `gorm:"column:sentiment_label;type:text"`
	Category          *string         `gorm:"column:category;type:text"`
	PriorityScore     *float64        `gorm:"column:priority_score;type:double precision"`
	ProcessingStatus  string          `gorm:"column:processing_status;type:text;not null;default:pending"`
	ProcessedAt       *time.Time      `gorm:"column:processed_at;type:timestamptz"`
	MatchedAt         *time.Time      `gorm:"column:matched_at;type:timestamptz"`
	DuplicateCount    int             `gorm:"column:duplicate_count;type:integer;not null;default:0"`
	LastDuplicateAt   *time.Time      `gorm:"column:last_duplicate_at;type:timestamptz"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Mention) TableName() string { return "pulse.mentions" }

// MentionFingerprint maps pulse.mention_fingerprints. Rows are written once
// at ingest and never mutated.
type MentionFingerprint struct {
	MentionID      int64     `gorm:"column:mention_id;type:bigint;primaryKey"`
	ContentHash    []byte    `gorm:"column:content_hash;type:bytea;not null"`
	SimilarityHash int64     `gorm:"column:similarity_hash;type:bigint;not null"`
	URLHash        []byte    `gorm:"column:url_hash;type:bytea"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (MentionFingerprint) TableName() string { return "pulse.mention_fingerprints" }

// MentionEmbedding maps pulse.mention_embeddings.
type MentionEmbedding struct {
	MentionEmbeddingID int64     `gorm:"column:mention_embedding_id;primaryKey;autoIncrement"`
	MentionID          int64     `gorm:"column:mention_id;type:bigint;not null;unique"`
	ModelName          string    `gorm:"column:model_name;type:text;not null"`
	ModelVersion       string    `gorm:"column:model_version;type:text;not null"`
	Embedding          string    `gorm:"column:embedding;type:vector(1024);not null"`
	EmbeddedAt         time.Time `gorm:"column:embedded_at;type:timestamptz;not null;default:now()"`
	LatencyMS          *int      `gorm:"column:latency_ms;type:integer"`
}

func (MentionEmbedding) TableName() string { return "pulse.mention_embeddings" }

// Monitor maps pulse.monitors.
type Monitor struct {
	MonitorID        int64           `gorm:"column:monitor_id;primaryKey;autoIncrement"`
	MonitorUUID      string          `gorm:"column:monitor_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	WorkspaceID      string          `gorm:"column:workspace_id;type:uuid;not null"`
	Name             string          `gorm:"column:name;type:text;not null"`
	Keywords         json.RawMessage `gorm:"column:keywords;type:jsonb;not null"`
	NegativeKeywords json.RawMessage `gorm:"column:negative_keywords;type:jsonb"`
	Platforms        json.RawMessage `gorm:"column:platforms;type:jsonb"`
	Languages        json.RawMessage `gorm:"column:languages;type:jsonb"`
	Status           string          `gorm:"column:status;type:text;not null;default:active"`
	LastMentionAt    *time.Time      `gorm:"column:last_mention_at;type:timestamptz"`
	CreatedAt        time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Monitor) TableName() string { return "pulse.monitors" }

// MonitorMention maps pulse.monitor_mentions. Insert-once per pair.
type MonitorMention struct {
	MonitorID       int64           `gorm:"column:monitor_id;type:bigint;primaryKey"`
	MentionID       int64           `gorm:"column:mention_id;type:bigint;primaryKey"`
	MatchedKeywords json.RawMessage `gorm:"column:matched_keywords;type:jsonb"`
	Confidence      float64         `gorm:"column:confidence;type:double precision;not null"`
	DetectedAt      time.Time       `gorm:"column:detected_at;type:timestamptz;not null;default:now()"`
	EvaluatedAt     *time.Time      `gorm:"column:evaluated_at;type:timestamptz"`
}

func (MonitorMention) TableName() string { return "pulse.monitor_mentions" }

// AlertRule maps pulse.alert_rules.
type AlertRule struct {
	RuleID          int64           `gorm:"column:rule_id;primaryKey;autoIncrement"`
	RuleUUID        string          `gorm:"column:rule_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	MonitorID       int64           `gorm:"column:monitor_id;type:bigint;not null"`
	Name            string          `gorm:"column:name;type:text;not null"`
	RuleType        string          `gorm:"column:rule_type;type:text;not null"`
	WindowSeconds   int             `gorm:"column:window_seconds;type:integer;not null;default:3600"`
	Threshold       float64         `gorm:"column:threshold;type:double precision;not null"`
	Severity        string          `gorm:"column:severity;type:text;not null;default:medium"`
	CooldownSeconds int             `gorm:"column:cooldown_seconds;type:integer;not null;default:1800"`
	Channels        json.RawMessage `gorm:"column:channels;type:jsonb"`
	Conditions      json.RawMessage `gorm:"column:conditions;type:jsonb"`
	Status          string          `gorm:"column:status;type:text;not null;default:active"`
	LastTriggeredAt *time.Time      `gorm:"column:last_triggered_at;type:timestamptz"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (AlertRule) TableName() string { return "pulse.alert_rules" }

// Alert maps pulse.alerts.
type Alert struct {
	AlertID     int64           `gorm:"column:alert_id;primaryKey;autoIncrement"`
	AlertUUID   string          `gorm:"column:alert_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	RuleID      int64           `gorm:"column:rule_id;type:bigint;not null"`
	MonitorID   int64           `gorm:"column:monitor_id;type:bigint;not null"`
	AlertType   string          `gorm:"column:alert_type;type:text;not null"`
	Severity    string          `gorm:"column:severity;type:text;not null"`
	Status      string          `gorm:"column:status;type:text;not null;default:pending"`
	Title       string          `gorm:"column:title;type:text;not null"`
	Message     string          `gorm:"column:message;type:text;not null"`
	MentionIDs  json.RawMessage `gorm:"column:mention_ids;type:jsonb"`
	TriggeredAt time.Time       `gorm:"column:triggered_at;type:timestamptz;not null"`
	ResolvedAt  *time.Time      `gorm:"column:resolved_at;type:timestamptz"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Alert) TableName() string { return "pulse.alerts" }

// WorkspaceChannel maps pulse.workspace_channels.
type WorkspaceChannel struct {
	WorkspaceChannelID   int64     `gorm:"column:workspace_channel_id;primaryKey;autoIncrement"`
	WorkspaceChannelUUID string    `gorm:"column:workspace_channel_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	WorkspaceID          string    `gorm:"column:workspace_id;type:uuid;not null"`
	ChannelType          string    `gorm:"column:channel_type;type:text;not null"`
	Recipient            string    `gorm:"column:recipient;type:text;not null"`
	Enabled              bool      `gorm:"column:enabled;type:boolean;not null;default:true"`
	CreatedAt            time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt            time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (WorkspaceChannel) TableName() string { return "pulse.workspace_channels" }

// NotificationQueueEntry maps pulse.notification_queue.
type NotificationQueueEntry struct {
	NotificationID   int64      `gorm:"column:notification_id;primaryKey;autoIncrement"`
	NotificationUUID string     `gorm:"column:notification_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	WorkspaceID      string     `gorm:"column:workspace_id;type:uuid;not null"`
	AlertID          *int64     `gorm:"column:alert_id;type:bigint"`
	ChannelType      string     `gorm:"column:channel_type;type:text;not null"`
	Recipient        string     `gorm:"column:recipient;type:text;not null"`
	Subject          *string    `gorm:"column:subject;type:text"`
	Body             string     `gorm:"column:body;type:text;not null"`
	Priority         int        `gorm:"column:priority;type:integer;not null;default:0"`
	Status           string     `gorm:"column:status;type:text;not null;default:pending"`
	Attempts         int        `gorm:"column:attempts;type:integer;not null;default:0"`
	MaxAttempts      int        `gorm:"column:max_attempts;type:integer;not null;default:5"`
	ScheduledFor     time.Time  `gorm:"column:scheduled_for;type:timestamptz;not null"`
	LastAttemptAt    *time.Time `gorm:"column:last_attempt_at;type:timestamptz"`
	DeliveredAt      *time.Time `gorm:"column:delivered_at;type:timestamptz"`
	LastError        *string    `gorm:"column:last_error;type:text"`
	CreatedAt        time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (NotificationQueueEntry) TableName() string { return "pulse.notification_queue" }

// MonitorAnalyticsHourly maps pulse.monitor_analytics_hourly.
type MonitorAnalyticsHourly struct {
	AnalyticsID    int64           `gorm:"column:analytics_id;primaryKey;autoIncrement"`
	MonitorID      int64           `gorm:"column:monitor_id;type:bigint;not null;uniqueIndex:ux_analytics_hourly_monitor_bucket"`
	BucketStart    time.Time       `gorm:"column:bucket_start;type:timestamptz;not null;uniqueIndex:ux_analytics_hourly_monitor_bucket"`
	MentionCount   int             `gorm:"column:mention_count;type:integer;not null;default:0"`
	SentimentSum   float64         `gorm:"column:sentiment_sum;type:double precision;not null;default:0"`
	SentimentCount int             `gorm:"column:sentiment_count;type:integer;not null;default:0"`
	PositiveCount  int             `gorm:"column:positive_count;type:integer;not null;default:0"`
	NegativeCount  int             `gorm:"column:negative_count;type:integer;not null;default:0"`
	NeutralCount   int             `gorm:"column:neutral_count;type:integer;not null;default:0"`
	CategoryCounts json.RawMessage `gorm:"column:category_counts;type:jsonb"`
	PlatformCounts json.RawMessage `gorm:"column:platform_counts;type:jsonb"`
	LikesSum       int64           `gorm:"column:likes_sum;type:bigint;not null;default:0"`
	SharesSum      int64           `gorm:"column:shares_sum;type:bigint;not null;default:0"`
	CommentsSum    int64           `gorm:"column:comments_sum;type:bigint;not null;default:0"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (MonitorAnalyticsHourly) TableName() string { return "pulse.monitor_analytics_hourly" }

// MonitorAnalyticsDaily maps pulse.monitor_analytics_daily.
type MonitorAnalyticsDaily struct {
	AnalyticsID    int64           `gorm:"column:analytics_id;primaryKey;autoIncrement"`
	MonitorID      int64           `gorm:"column:monitor_id;type:bigint;not null;uniqueIndex:ux_analytics_daily_monitor_bucket"`
	BucketStart    time.Time       `gorm:"column:bucket_start;type:timestamptz;not null;uniqueIndex:ux_analytics_daily_monitor_bucket"`
	MentionCount   int             `gorm:"column:mention_count;type:integer;not null;default:0"`
	SentimentSum   float64         `gorm:"column:sentiment_sum;type:double precision;not null;default:0"`
	SentimentCount int             `gorm:"column:sentiment_count;type:integer;not null;default:0"`
	PositiveCount  int             `gorm:"column:positive_count;type:integer;not null;default:0"`
	NegativeCount  int             `gorm:"column:negative_count;type:integer;not null;default:0"`
	NeutralCount   int             `gorm:"column:neutral_count;type:integer;not null;default:0"`
	CategoryCounts json.RawMessage `gorm:"column:category_counts;type:jsonb"`
	PlatformCounts json.RawMessage `gorm:"column:platform_counts;type:jsonb"`
	LikesSum       int64           `gorm:"column:likes_sum;type:bigint;not null;default:0"`
	SharesSum      int64           `gorm:"column:shares_sum;type:bigint;not null;default:0"`
	CommentsSum    int64           `gorm:"column:comments_sum;type:bigint;not null;default:0"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (MonitorAnalyticsDaily) TableName() string { return "pulse.monitor_analytics_daily" }

// MentionRollup maps pulse.mention_rollups. The marker row makes rollup
// replay a no-op.
type MentionRollup struct {
	MonitorID  int64     `gorm:"column:monitor_id;type:bigint;primaryKey"`
	MentionID  int64     `gorm:"column:mention_id;type:bigint;primaryKey"`
	RolledUpAt time.Time `gorm:"column:rolled_up_at;type:timestamptz;not null;default:now()"`
}

func (MentionRollup) TableName() string { return "pulse.mention_rollups" }

// IngestRun maps pulse.ingest_runs.
type IngestRun struct {
	RunID         int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID       string     `gorm:"column:run_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Source        string     `gorm:"column:source;type:text;not null"`
	StartedAt     time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt    *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status        string     `gorm:"column:status;type:text;not null;default:running"`
	ItemsReceived int        `gorm:"column:items_received;type:integer;not null;default:0"`
	ItemsCreated  int        `gorm:"column:items_created;type:integer;not null;default:0"`
	ItemsMerged   int        `gorm:"column:items_merged;type:integer;not null;default:0"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (IngestRun) TableName() string { return "pulse.ingest_runs" }

func autoMigrateModels() []any {
	return []any{
		&Platform{},
		&SocialUser{},
		&Mention{},
		&MentionFingerprint{},
		&MentionEmbedding{},
		&Monitor{},
		&MonitorMention{},
		&AlertRule{},
		&Alert{},
		&WorkspaceChannel{},
		&NotificationQueueEntry{},
		&MonitorAnalyticsHourly{},
		&MonitorAnalyticsDaily{},
		&MentionRollup{},
		&IngestRun{},
	}
}
