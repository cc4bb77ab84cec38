package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Detector   DetectorConfig
	Downloader DownloaderConfig
	Muxer      MuxerConfig
	Transport  TransportConfig
	Webhook    WebhookConfig
	Tracing    TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
	MetricsPort     int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// DetectorConfig holds stream detection and deduplication configuration
type DetectorConfig struct {
	// MinDuration is the shortest duration (seconds) a stream may have and
	// still be listed; anything under it is treated as an ad or preview.
	MinDuration float64
	// MergeTolerance is the relative duration window within which two
	// detections are considered the same video.
	MergeTolerance float64
	// PruneRatio: accepted streams shorter than this fraction of the
	// longest accepted stream are dropped.
	PruneRatio float64
	// RejectUnknownDuration drops streams whose manifest yields no usable
	// duration instead of listing them.
	RejectUnknownDuration bool
}

// DownloaderConfig holds download pipeline configuration
type DownloaderConfig struct {
	TempDir           string
	SegmentRetries    int
	SegmentRetryDelay time.Duration
	InitRetries       int
	TaskRetries       int
	RetryBackoffBase  time.Duration
	RetryBackoffMax   time.Duration
	RequestTimeout    time.Duration
	UserAgent         string
}

// MuxerConfig holds muxing configuration
type MuxerConfig struct {
	FFmpegPath string
	OutputDir  string
}

// TransportConfig holds HTTP fetch configuration
type TransportConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// WebhookConfig holds outbound notification configuration
type WebhookConfig struct {
	Endpoints []string
	Secret    string
}

// TracingConfig holds distributed tracing configuration
type TracingConfig struct {
	Enabled        bool
	JaegerEndpoint string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")
	viper.SetDefault("server.rateLimitRPS", 10)
	viper.SetDefault("server.rateLimitBurst", 20)
	viper.SetDefault("server.metricsPort", 9091)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "streamvault")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Storage defaults
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "videos")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Detector defaults
	viper.SetDefault("detector.minDuration", 300.0)
	viper.SetDefault("detector.mergeTolerance", 0.15)
	viper.SetDefault("detector.pruneRatio", 0.7)
	viper.SetDefault("detector.rejectUnknownDuration", true)

	// Downloader defaults
	viper.SetDefault("downloader.tempDir", "/tmp/streamvault")
	viper.SetDefault("downloader.segmentRetries", 3)
	viper.SetDefault("downloader.segmentRetryDelay", "2s")
	viper.SetDefault("downloader.initRetries", 3)
	viper.SetDefault("downloader.taskRetries", 5)
	viper.SetDefault("downloader.retryBackoffBase", "1m")
	viper.SetDefault("downloader.retryBackoffMax", "60m")
	viper.SetDefault("downloader.requestTimeout", "30s")
	viper.SetDefault("downloader.userAgent", "")

	// Muxer defaults
	viper.SetDefault("muxer.ffmpegPath", "ffmpeg")
	viper.SetDefault("muxer.outputDir", "/tmp/streamvault/out")

	// Transport defaults
	viper.SetDefault("transport.timeout", "30s")
	viper.SetDefault("transport.userAgent", "")

	// Webhook defaults
	viper.SetDefault("webhook.endpoints", []string{})
	viper.SetDefault("webhook.secret", "")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")
}
