// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN for the notification record store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// KafkaBrokers is a comma-separated list of broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuthEventsTopic is the topic carrying login/logout events, partitioned by subject.
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group ID for the event processor.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// RedisAddr is the Redis host:port backing the delayed delivery queues.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is optional.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// ExpiryQueueKey is the sorted-set key for discovered expiries awaiting advice.
	ExpiryQueueKey string `mapstructure:"EXPIRY_QUEUE_KEY"`
	// RecoveryQueueKey is the sorted-set key for record backfill requests.
	RecoveryQueueKey string `mapstructure:"RECOVERY_QUEUE_KEY"`

	// SessionInfoBaseURL is the session-info service base URL.
	SessionInfoBaseURL string `mapstructure:"SESSION_INFO_BASE_URL"`
	SessionInfoAPIKey  string `mapstructure:"SESSION_INFO_API_KEY"`
	// ProfileBaseURL is the citizen profile service base URL.
	ProfileBaseURL string `mapstructure:"PROFILE_BASE_URL"`
	ProfileAPIKey  string `mapstructure:"PROFILE_API_KEY"`
	// MailerBaseURL is the transactional mail gateway base URL.
	MailerBaseURL string `mapstructure:"MAILER_BASE_URL"`
	MailerAPIKey  string `mapstructure:"MAILER_API_KEY"`
	// MailFrom is the sender address on re-engagement mail.
	MailFrom string `mapstructure:"MAIL_FROM"`
	// MailDryRun suppresses actual sends; delivery is telemetry-only.
	MailDryRun bool `mapstructure:"MAIL_DRY_RUN"`

	// TTLRetentionOffsetSeconds is added to a session's remaining lifetime to
	// get the record TTL; default 30 days.
	TTLRetentionOffsetSeconds int64 `mapstructure:"TTL_RETENTION_OFFSET_SECONDS"`
	// TTLFallbackOffsetSeconds is the TTL used when the recomputed value would
	// be negative during a flag update.
	TTLFallbackOffsetSeconds int64 `mapstructure:"TTL_FALLBACK_OFFSET_SECONDS"`

	// ScanChunkSize is how many records each page of a store scan carries.
	ScanChunkSize int `mapstructure:"SCAN_CHUNK_SIZE"`

	// VisibilityDelayStep is the per-chunk enqueue delay during expiry
	// discovery (e.g. "30s"), spreading delivery load over the day.
	VisibilityDelayStep string `mapstructure:"VISIBILITY_DELAY_STEP"`
	// MaxDeliveryAttempts bounds redelivery of queue items and event messages.
	MaxDeliveryAttempts int `mapstructure:"MAX_DELIVERY_ATTEMPTS"`

	// MagicLinkJWTSecret signs the login links embedded in mail.
	MagicLinkJWTSecret string `mapstructure:"MAGIC_LINK_JWT_SECRET"`
	// MagicLinkBaseURL is the public login endpoint the token is appended to.
	MagicLinkBaseURL string `mapstructure:"MAGIC_LINK_BASE_URL"`
	// MagicLinkTTL is the token lifetime (e.g. "24h").
	MagicLinkTTL string `mapstructure:"MAGIC_LINK_TTL"`

	// OTLPEndpoint enables OpenTelemetry export when non-empty (host:port or URL).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_TOPIC", "auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "session-notifications-processor")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("EXPIRY_QUEUE_KEY", "session-notifications:expiry")
	v.SetDefault("RECOVERY_QUEUE_KEY", "session-notifications:recovery")
	v.SetDefault("SESSION_INFO_BASE_URL", "")
	v.SetDefault("SESSION_INFO_API_KEY", "")
	v.SetDefault("PROFILE_BASE_URL", "")
	v.SetDefault("PROFILE_API_KEY", "")
	v.SetDefault("MAILER_BASE_URL", "")
	v.SetDefault("MAILER_API_KEY", "")
	v.SetDefault("MAIL_FROM", "noreply@notifiche.example.it")
	v.SetDefault("MAIL_DRY_RUN", false)
	v.SetDefault("TTL_RETENTION_OFFSET_SECONDS", 2592000) // 30d
	v.SetDefault("TTL_FALLBACK_OFFSET_SECONDS", 2592000)
	v.SetDefault("SCAN_CHUNK_SIZE", 100)
	v.SetDefault("VISIBILITY_DELAY_STEP", "30s")
	v.SetDefault("MAX_DELIVERY_ATTEMPTS", 3)
	v.SetDefault("MAGIC_LINK_JWT_SECRET", "")
	v.SetDefault("MAGIC_LINK_BASE_URL", "")
	v.SetDefault("MAGIC_LINK_TTL", "24h")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.TTLRetentionOffsetSeconds < 0 {
		return nil, errors.New("config: TTL_RETENTION_OFFSET_SECONDS must not be negative")
	}
	if cfg.TTLFallbackOffsetSeconds < 0 {
		return nil, errors.New("config: TTL_FALLBACK_OFFSET_SECONDS must not be negative")
	}
	if cfg.MaxDeliveryAttempts < 1 {
		return nil, errors.New("config: MAX_DELIVERY_ATTEMPTS must be at least 1")
	}
	if cfg.ScanChunkSize < 1 {
		return nil, errors.New("config: SCAN_CHUNK_SIZE must be at least 1")
	}
	if cfg.Env == "production" && !cfg.MailDryRun && cfg.MagicLinkJWTSecret == "" {
		return nil, errors.New("config: MAGIC_LINK_JWT_SECRET must be set when APP_ENV=production and mail is live")
	}

	return &cfg, nil
}

// KafkaBrokersList returns broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// VisibilityDelayStepDuration parses VisibilityDelayStep. Returns 30s if unset or invalid.
func (c *Config) VisibilityDelayStepDuration() time.Duration {
	d, err := time.ParseDuration(c.VisibilityDelayStep)
	if err != nil || d < 0 {
		return 30 * time.Second
	}
	return d
}

// MagicLinkTTLDuration parses MagicLinkTTL. Returns 24h if unset or invalid.
func (c *Config) MagicLinkTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.MagicLinkTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
