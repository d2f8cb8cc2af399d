package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RunMode != "all" {
		t.Errorf("RunMode = %q, want %q", cfg.RunMode, "all")
	}
	if cfg.BlobBackend != BlobBackendFS {
		t.Errorf("BlobBackend = %q, want %q", cfg.BlobBackend, BlobBackendFS)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Errorf("WorkerConcurrency = %d, want 2", cfg.WorkerConcurrency)
	}
	if cfg.Lease != 120*time.Second {
		t.Errorf("Lease = %s, want 120s", cfg.Lease)
	}
	if cfg.WorkerID == "" {
		t.Error("WorkerID should never be empty")
	}
	if cfg.LLMConfidenceThreshold != 0.85 {
		t.Errorf("LLMConfidenceThreshold = %f, want 0.85", cfg.LLMConfidenceThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RUN_MODE", "worker")
	t.Setenv("BLOB_BACKEND", "memory")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("LEASE_SECONDS", "45")
	t.Setenv("HEARTBEAT_SECONDS", "10")
	t.Setenv("LLM_CLASSIFY_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RunMode != "worker" {
		t.Errorf("RunMode = %q, want %q", cfg.RunMode, "worker")
	}
	if cfg.BlobBackend != BlobBackendMemory {
		t.Errorf("BlobBackend = %q, want %q", cfg.BlobBackend, BlobBackendMemory)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("WorkerConcurrency = %d, want 8", cfg.WorkerConcurrency)
	}
	if cfg.Lease != 45*time.Second {
		t.Errorf("Lease = %s, want 45s", cfg.Lease)
	}
	if !cfg.LLMClassifyEnabled {
		t.Error("LLMClassifyEnabled should be true")
	}
}

func TestLoadRejectsUnknownBlobBackend(t *testing.T) {
	t.Setenv("BLOB_BACKEND", "s3")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown blob backend")
	}
}

func TestLoadRejectsGCSWithoutBucket(t *testing.T) {
	t.Setenv("BLOB_BACKEND", "gcs")
	t.Setenv("BLOB_GCS_BUCKET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when gcs backend has no bucket")
	}
}

func TestLoadGCSBackend(t *testing.T) {
	t.Setenv("BLOB_BACKEND", "gcs")
	t.Setenv("BLOB_GCS_BUCKET", "drafter-artifacts")
	t.Setenv("BLOB_GCS_PREFIX", "prod")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BlobGCSBucket != "drafter-artifacts" {
		t.Errorf("BlobGCSBucket = %q, want %q", cfg.BlobGCSBucket, "drafter-artifacts")
	}
	if cfg.BlobGCSPrefix != "prod" {
		t.Errorf("BlobGCSPrefix = %q, want %q", cfg.BlobGCSPrefix, "prod")
	}
}

func TestLoadRejectsHeartbeatLongerThanLease(t *testing.T) {
	t.Setenv("LEASE_SECONDS", "10")
	t.Setenv("HEARTBEAT_SECONDS", "30")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when heartbeat exceeds lease")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "not-a-number")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_FLOAT", "0.5")
	t.Setenv("TEST_DUR", "90")

	if got := getEnv("TEST_STR", "fallback"); got != "value" {
		t.Errorf("getEnv = %q, want %q", got, "value")
	}
	if got := getEnv("TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnv = %q, want %q", got, "fallback")
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt = %d, want 42", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt with bad value = %d, want fallback 7", got)
	}
	if got := getEnvBool("TEST_BOOL", false); !got {
		t.Error("getEnvBool = false, want true")
	}
	if got := getEnvFloat("TEST_FLOAT", 0); got != 0.5 {
		t.Errorf("getEnvFloat = %f, want 0.5", got)
	}
	if got := getEnvDuration("TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration = %s, want 90s", got)
	}
}
