package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	Port     string
	LogLevel string

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	CORSAllowedOrigins []string

	QueueCapacity     int
	MaxConcurrentJobs int
	SchedulerResync   time.Duration
	ProgressTick      time.Duration
	MaxPixels         int
	MaxImagesPerJob   int

	GenAPIBaseURL           string
	GenAPIKey               string
	GenAPITimeout           time.Duration
	GenAPIRPS               float64
	GenAPIGeneratePath      string
	GenAPIEditPath          string
	GenAPITurboGeneratePath string
	GenAPITurboEditPath     string
	GenAPIBalancePath       string

	SubmitRateLimitPerMin int

	DatabaseURL  string
	OTLPEndpoint string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "")),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		QueueCapacity:     getEnvInt("QUEUE_CAPACITY", 5),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 2),
		SchedulerResync:   time.Second * time.Duration(getEnvInt("SCHEDULER_RESYNC_SECONDS", 5)),
		ProgressTick:      time.Millisecond * time.Duration(getEnvInt("PROGRESS_TICK_MILLIS", 800)),
		MaxPixels:         getEnvInt("MAX_PIXELS", 4096*4096),
		MaxImagesPerJob:   getEnvInt("MAX_IMAGES_PER_JOB", 4),

		GenAPIBaseURL:           getEnv("GEN_API_BASE_URL", "https://api.example-genapi.com/v1"),
		GenAPIKey:               os.Getenv("GEN_API_KEY"),
		GenAPITimeout:           time.Second * time.Duration(getEnvInt("GEN_API_TIMEOUT_SECONDS", 120)),
		GenAPIRPS:               getEnvFloat("GEN_API_RPS", 0),
		GenAPIGeneratePath:      os.Getenv("GEN_API_GENERATE_PATH"),
		GenAPIEditPath:          os.Getenv("GEN_API_EDIT_PATH"),
		GenAPITurboGeneratePath: os.Getenv("GEN_API_TURBO_GENERATE_PATH"),
		GenAPITurboEditPath:     os.Getenv("GEN_API_TURBO_EDIT_PATH"),
		GenAPIBalancePath:       os.Getenv("GEN_API_BALANCE_PATH"),

		SubmitRateLimitPerMin: getEnvInt("SUBMIT_RATE_LIMIT_PER_MINUTE", 10),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.MaxConcurrentJobs < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1, got %d", cfg.MaxConcurrentJobs)
	}
	if cfg.QueueCapacity < cfg.MaxConcurrentJobs {
		return nil, fmt.Errorf("QUEUE_CAPACITY (%d) must be >= MAX_CONCURRENT_JOBS (%d)", cfg.QueueCapacity, cfg.MaxConcurrentJobs)
	}
	if cfg.MaxPixels <= 0 {
		return nil, fmt.Errorf("MAX_PIXELS must be positive")
	}
	if cfg.MaxImagesPerJob < 1 {
		return nil, fmt.Errorf("MAX_IMAGES_PER_JOB must be at least 1")
	}
	if cfg.SubmitRateLimitPerMin < 1 {
		return nil, fmt.Errorf("SUBMIT_RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if cfg.GenAPIRPS < 0 {
		return nil, fmt.Errorf("GEN_API_RPS must not be negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
