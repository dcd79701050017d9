// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dedup store backends.
const (
	DedupBackendS3       = "s3"
	DedupBackendPostgres = "postgres"
	DedupBackendRedis    = "redis"
)

// Config holds all configuration for the application.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Server    ServerConfig
	Webhook   WebhookConfig
	Messenger MessengerConfig
	Dedup     DedupConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Media     MediaConfig
	Logging   LoggingConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	WriteTimeout    time.Duration
}

// WebhookConfig contains inbound webhook configuration.
type WebhookConfig struct {
	Path           string
	MaxPayloadSize int64
}

// MessengerConfig contains the shared handshake secret and Send API settings.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type MessengerConfig struct {
	VerifyToken string
	AccessToken string
	GraphURL    string
	APIVersion  string
	Timeout     time.Duration
	RateLimit   float64
	Burst       int
}

// DedupConfig selects where dedup markers live.
type DedupConfig struct {
	Backend           string
	ConditionalWrites bool
	RedisPrefix       string
}

// StorageConfig contains S3 settings for dedup markers and public artifacts.
type StorageConfig struct {
	Region        string
	Endpoint      string
	PublicBucket  string
	PublicBaseURL string
	DedupBucket   string
}

// DatabaseConfig contains database connection configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type DatabaseConfig struct {
	Host           string
	Name           string
	User           string
	Password       string
	SSLMode        string
	Port           int
	MaxConnections int
	MinConnections int
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
}

// RedisConfig contains the Redis connection URL.
type RedisConfig struct {
	URL string
}

// RabbitMQConfig contains RabbitMQ connection and exchange configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RabbitMQConfig struct {
	Enabled    bool
	Host       string
	User       string
	Password   string
	Exchange   string
	Queue      string
	RoutingKey string
	Port       int
}

// MediaConfig contains stabilization job settings.
type MediaConfig struct {
	FFmpegPath string
	JobTimeout time.Duration
	Shakiness  int
	Smoothing  int
	TempDir    string
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	// APP_MESSENGER_VERIFYTOKEN -> messenger.verifytoken
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the webhook cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.Messenger.VerifyToken == "" {
		errs = append(errs, errors.New("messenger.verifytoken is required"))
	}
	if c.Messenger.AccessToken == "" {
		errs = append(errs, errors.New("messenger.accesstoken is required"))
	}
	if c.Storage.PublicBucket == "" {
		errs = append(errs, errors.New("storage.publicbucket is required"))
	}

	switch c.Dedup.Backend {
	case DedupBackendS3:
		if c.Storage.DedupBucket == "" {
			errs = append(errs, errors.New("storage.dedupbucket is required for the s3 dedup backend"))
		}
	case DedupBackendPostgres:
	case DedupBackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis dedup backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend))
	}

	if c.Media.JobTimeout <= 0 {
		errs = append(errs, errors.New("media.jobtimeout must be positive"))
	}

	return errors.Join(errs...)
}

// PublicURL returns the public base URL artifacts are served from.
func (s StorageConfig) PublicURL() string {
	if s.PublicBaseURL != "" {
		return strings.TrimRight(s.PublicBaseURL, "/")
	}
	return "https://s3.amazonaws.com/" + s.PublicBucket
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL form, as golang-migrate expects it.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// URL returns the AMQP connection URL.
func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.User, r.Password, r.Host, r.Port)
}

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.shutdowntimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 15*time.Minute)

	// Webhook
	viper.SetDefault("webhook.path", "/webhook")
	viper.SetDefault("webhook.maxpayloadsize", 1048576) // 1MB

	// Messenger
	viper.SetDefault("messenger.verifytoken", "")
	viper.SetDefault("messenger.accesstoken", "")
	viper.SetDefault("messenger.graphurl", "https://graph.facebook.com")
	viper.SetDefault("messenger.apiversion", "v2.6")
	viper.SetDefault("messenger.timeout", 10*time.Second)
	viper.SetDefault("messenger.ratelimit", 10.0)
	viper.SetDefault("messenger.burst", 20)

	// Dedup
	viper.SetDefault("dedup.backend", DedupBackendS3)
	viper.SetDefault("dedup.conditionalwrites", true)
	viper.SetDefault("dedup.redisprefix", "vidstab:dedup:")

	// Storage
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.endpoint", "")
	viper.SetDefault("storage.publicbucket", "messengervidstabpublic")
	viper.SetDefault("storage.publicbaseurl", "")
	viper.SetDefault("storage.dedupbucket", "messengervidstaburls")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "vidstab")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxconnections", 10)
	viper.SetDefault("database.minconnections", 2)
	viper.SetDefault("database.maxidletime", 10*time.Minute)
	viper.SetDefault("database.maxlifetime", 1*time.Hour)

	// Redis
	viper.SetDefault("redis.url", "")

	// RabbitMQ
	viper.SetDefault("rabbitmq.enabled", false)
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.exchange", "messenger.vidstab")
	viper.SetDefault("rabbitmq.queue", "messenger.vidstab.outcomes")
	viper.SetDefault("rabbitmq.routingkey", "pipeline.outcome")

	// Media
	viper.SetDefault("media.ffmpegpath", "ffmpeg")
	viper.SetDefault("media.jobtimeout", 10*time.Minute)
	viper.SetDefault("media.shakiness", 5)
	viper.SetDefault("media.smoothing", 30)
	viper.SetDefault("media.tempdir", "")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.file", "")
}
