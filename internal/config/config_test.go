package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "HTMLCHUNK_API_KEY", "PATHSTORE_URL", "PATHSTORE_API_KEY",
		"WORKER_COUNT", "MAX_QUEUE_SIZE", "MAX_CONCURRENT_STORE", "MAX_UPLOAD_BYTES", "JOB_TTL", "STATS_WINDOW",
		"PDF_FALLBACK_PDFTOTEXT"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 100, cfg.MaxQueueSize)
	assert.Equal(t, 10, cfg.MaxConcurrentStore)
	assert.Equal(t, int64(52428800), cfg.MaxUploadBytes)
	assert.Equal(t, time.Hour, cfg.JobTTL)
	assert.Equal(t, time.Hour, cfg.StatsWindow)
	assert.True(t, cfg.PDFFallbackPdftotext)
	assert.False(t, cfg.StoreEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("JOB_TTL", "30m")
	t.Setenv("PDF_FALLBACK_PDFTOTEXT", "false")
	t.Setenv("PATHSTORE_URL", "http://store:8080/")
	t.Setenv("PATHSTORE_API_KEY", "k")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 30*time.Minute, cfg.JobTTL)
	assert.False(t, cfg.PDFFallbackPdftotext)
	assert.Equal(t, "http://store:8080", cfg.PathstoreURL)
	assert.True(t, cfg.StoreEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "-3")
	t.Setenv("MAX_QUEUE_SIZE", "lots")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg := Load()
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 100, cfg.MaxQueueSize)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	cfg := Config{Port: "8090", PathstoreURL: "http://store"}
	assert.Error(t, cfg.Validate())

	cfg.PathstoreAPIKey = "k"
	assert.NoError(t, cfg.Validate())

	cfg.Port = "http"
	assert.Error(t, cfg.Validate())
}
