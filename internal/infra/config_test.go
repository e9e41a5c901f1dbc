package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "")
	t.Setenv("MAX_CONCURRENT_JOBS", "")
	t.Setenv("PORT", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.QueueCapacity != 5 || cfg.MaxConcurrentJobs != 2 {
		t.Fatalf("capacity defaults = %d/%d, want 5/2", cfg.QueueCapacity, cfg.MaxConcurrentJobs)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.GenAPITimeout != 120*time.Second {
		t.Fatalf("GenAPITimeout = %s, want 2m0s", cfg.GenAPITimeout)
	}
	if cfg.ProgressTick != 800*time.Millisecond {
		t.Fatalf("ProgressTick = %s, want 800ms", cfg.ProgressTick)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("CORSAllowedOrigins = %#v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigRejectsConcurrencyAboveCapacity(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "2")
	t.Setenv("MAX_CONCURRENT_JOBS", "3")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when concurrency exceeds queue capacity")
	}
}

func TestLoadConfigRejectsZeroConcurrency(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "5")
	t.Setenv("MAX_CONCURRENT_JOBS", "0")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}
}

func TestLoadConfigParsesOriginsAndPacing(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.example.com , ,http://localhost:5173")
	t.Setenv("GEN_API_RPS", "2.5")
	t.Setenv("QUEUE_CAPACITY", "8")
	t.Setenv("MAX_CONCURRENT_JOBS", "8")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := []string{"https://app.example.com", "http://localhost:5173"}
	if len(cfg.CORSAllowedOrigins) != len(expected) {
		t.Fatalf("CORSAllowedOrigins mismatch: got %#v want %#v", cfg.CORSAllowedOrigins, expected)
	}
	for i, origin := range expected {
		if cfg.CORSAllowedOrigins[i] != origin {
			t.Fatalf("CORSAllowedOrigins[%d] = %q, want %q", i, cfg.CORSAllowedOrigins[i], origin)
		}
	}
	if cfg.GenAPIRPS != 2.5 {
		t.Fatalf("GenAPIRPS = %v, want 2.5", cfg.GenAPIRPS)
	}
}
