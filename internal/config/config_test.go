package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	t.Setenv("S3_ENDPOINT", "http://127.0.0.1:9000")
	t.Setenv("S3_BUCKET", "media")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Concurrency != defaultConcurrency {
		t.Fatalf("expected default concurrency %d, got %d", defaultConcurrency, cfg.Concurrency)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %d, got %d", defaultPort, cfg.Port)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Fatalf("expected ffmpeg on PATH by default, got %q", cfg.FFmpegPath)
	}
	if cfg.CallbackTimeout != 10*time.Second {
		t.Fatalf("expected 10s callback timeout, got %s", cfg.CallbackTimeout)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("PORT", "9090")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("CALLBACK_TIMEOUT", "30s")
	t.Setenv("FFMPEG_PATH", "/usr/local/bin/ffmpeg")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Concurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.Concurrency)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if !cfg.Storage.UseSSL {
		t.Fatalf("expected SSL enabled")
	}
	if cfg.CallbackTimeout != 30*time.Second {
		t.Fatalf("expected 30s callback timeout, got %s", cfg.CallbackTimeout)
	}
	if cfg.FFmpegPath != "/usr/local/bin/ffmpeg" {
		t.Fatalf("unexpected ffmpeg path %q", cfg.FFmpegPath)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{name: "non-numeric concurrency", key: "WORKER_CONCURRENCY", value: "many", want: "WORKER_CONCURRENCY"},
		{name: "zero concurrency", key: "WORKER_CONCURRENCY", value: "0", want: "positive"},
		{name: "bad port", key: "PORT", value: "http", want: "PORT"},
		{name: "bad timeout", key: "CALLBACK_TIMEOUT", value: "soon", want: "CALLBACK_TIMEOUT"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateRequiresStorage(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("S3_BUCKET", "")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected missing bucket to fail validation")
	}
}
