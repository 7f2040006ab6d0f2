package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores the worker's runtime settings.
type Config struct {
	RedisURL        string
	Concurrency     int
	Port            int
	LogLevel        string
	LogFormat       string
	OutputDir       string
	DownloadDir     string
	FFmpegPath      string
	DatabaseURL     string
	CallbackTimeout time.Duration

	Storage StorageConfig
}

// StorageConfig stores blob-store connectivity settings.
type StorageConfig struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
}

const (
	defaultConcurrency     = 2
	defaultPort            = 8080
	defaultOutputDir       = "./output"
	defaultDownloadDir     = "./downloads"
	defaultFFmpegPath      = "ffmpeg"
	defaultCallbackTimeout = 10 * time.Second
)

// LoadFromEnv initialises a Config from environment variables.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		Concurrency:     defaultConcurrency,
		Port:            defaultPort,
		LogLevel:        strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		LogFormat:       strings.TrimSpace(os.Getenv("LOG_FORMAT")),
		OutputDir:       envOrDefault("OUTPUT_DIR", defaultOutputDir),
		DownloadDir:     envOrDefault("DOWNLOAD_DIR", defaultDownloadDir),
		FFmpegPath:      envOrDefault("FFMPEG_PATH", defaultFFmpegPath),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		CallbackTimeout: defaultCallbackTimeout,
		Storage: StorageConfig{
			Endpoint:       strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
			PublicEndpoint: strings.TrimSpace(os.Getenv("S3_PUBLIC_ENDPOINT")),
			Bucket:         strings.TrimSpace(os.Getenv("S3_BUCKET")),
			Region:         strings.TrimSpace(os.Getenv("S3_REGION")),
			AccessKey:      strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")),
			SecretKey:      strings.TrimSpace(os.Getenv("S3_SECRET_KEY")),
		},
	}

	if value := strings.TrimSpace(os.Getenv("WORKER_CONCURRENCY")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse WORKER_CONCURRENCY: %w", err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", parsed)
		}
		cfg.Concurrency = parsed
	}

	if value := strings.TrimSpace(os.Getenv("PORT")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT: %w", err)
		}
		cfg.Port = parsed
	}

	if value := strings.TrimSpace(os.Getenv("S3_USE_SSL")); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse S3_USE_SSL: %w", err)
		}
		cfg.Storage.UseSSL = parsed
	}

	if value := strings.TrimSpace(os.Getenv("CALLBACK_TIMEOUT")); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse CALLBACK_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.CallbackTimeout = parsed
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the worker cannot start with.
func (c Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("S3_ENDPOINT is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
