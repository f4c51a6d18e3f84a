// Package config loads the flat configuration record described in
// spec.md §6 from the environment, grounded on chinweokwu-MQueue's
// config.go (godotenv + os.Getenv + validation-with-logging shape).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"feedrelay/internal/log"
)

type Config struct {
	// Storage / collaborators.
	DatabaseURLs  []string
	RedisAddrs    []string
	RedisPassword string
	JWTSecret     string
	WorkerID      string

	// Pipeline tunables (spec.md §6 configuration table).
	MinSendInterval        time.Duration
	MaxRetries             int
	RetryBase              time.Duration
	RetryCap               time.Duration
	PerAttemptTimeout      time.Duration
	BreakerFailureThreshold int
	BreakerResetTimeout    time.Duration
	QueueMaxSize           int
	OverflowPolicy         string
	AgeBoostInterval       time.Duration
	MinBatch               int
	MaxBatch               int
	MinWorkers             int
	MaxWorkers             int
	TargetCPUPercent       int
	DrainSLA               time.Duration
	StoreTimeout           time.Duration

	// Admin HTTP surface.
	AdminAddr string

	// Fetcher collaborator adapter.
	FetcherBaseURL string
	MetricsAddr    string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger := log.NewLogger()
		logger.Warnw("no .env file loaded, continuing with process environment", "error", err)
	}
	logger := log.NewLogger()

	cfg := &Config{
		DatabaseURLs:  splitNonEmpty(os.Getenv("DATABASE_URLS")),
		RedisAddrs:    splitNonEmpty(os.Getenv("REDIS_ADDRS")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		WorkerID:      os.Getenv("WORKER_ID"),
		AdminAddr:      envOr("ADMIN_ADDR", ":8090"),
		FetcherBaseURL: os.Getenv("FETCHER_BASE_URL"),
		MetricsAddr:    envOr("METRICS_ADDR", ":9090"),

		MinSendInterval:         envDurationMs("MIN_SEND_INTERVAL_MS", 200),
		MaxRetries:              envInt("MAX_RETRIES", 3),
		RetryBase:               envDurationMs("RETRY_BASE_MS", 1000),
		RetryCap:                envDurationMs("RETRY_CAP_MS", 30000),
		PerAttemptTimeout:       envDurationMs("PER_ATTEMPT_TIMEOUT_MS", 10000),
		BreakerFailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerResetTimeout:     envDurationMs("BREAKER_RESET_TIMEOUT_MS", 30000),
		QueueMaxSize:            envInt("QUEUE_MAX_SIZE", 1000),
		OverflowPolicy:          envOr("OVERFLOW_POLICY", "displace"),
		AgeBoostInterval:        envDurationMs("AGE_BOOST_INTERVAL_MS", 0),
		MinBatch:                envInt("MIN_BATCH", 10),
		MaxBatch:                envInt("MAX_BATCH", 500),
		MinWorkers:              envInt("MIN_WORKERS", 2),
		MaxWorkers:              envInt("MAX_WORKERS", 16),
		TargetCPUPercent:        envInt("TARGET_CPU_PERCENT", 70),
		DrainSLA:                envDurationMs("DRAIN_SLA_MS", 30000),
		StoreTimeout:            envDurationMs("STORE_TIMEOUT_MS", 2000),
	}

	if len(cfg.DatabaseURLs) == 0 {
		logger.Error("DATABASE_URLS is required")
		return nil, fmt.Errorf("DATABASE_URLS is required")
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.OverflowPolicy != "displace" && cfg.OverflowPolicy != "reject" {
		logger.Errorw("invalid OVERFLOW_POLICY", "value", cfg.OverflowPolicy)
		return nil, fmt.Errorf("invalid OVERFLOW_POLICY: %s", cfg.OverflowPolicy)
	}
	if cfg.FetcherBaseURL == "" {
		logger.Error("FETCHER_BASE_URL is required")
		return nil, fmt.Errorf("FETCHER_BASE_URL is required")
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-1"
		logger.Infow("using default worker id", "worker_id", cfg.WorkerID)
	}

	logger.Info("config loaded")
	return cfg, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationMs(key string, defMs int) time.Duration {
	n := envInt(key, defMs)
	return time.Duration(n) * time.Millisecond
}
