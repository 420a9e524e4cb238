/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// NotifierBackend selects the live-update transport.
type NotifierBackend string

const (
	NotifierNATS  NotifierBackend = "nats"
	NotifierRedis NotifierBackend = "redis"
	NotifierNone  NotifierBackend = "none"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Data source (the ad server).
	APIBaseURL string
	AuthToken  string
	DeviceID   string
	CompanyID  string

	// Local state.
	DataDir  string
	DBDSN    string
	CacheDir string

	// Live update notifier.
	Notifier      NotifierBackend
	NATSURL       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Behavior knobs.
	FetchTimeout         time.Duration
	ReportFlushThreshold time.Duration
	ResolveTimeout       time.Duration
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("SIGNAGED_ENV", "development"),
		HTTPBind:    getEnv("SIGNAGED_HTTP_BIND", "127.0.0.1"),
		HTTPPort:    getEnvInt("SIGNAGED_HTTP_PORT", 8710),

		APIBaseURL: getEnv("SIGNAGED_API_BASE_URL", ""),
		AuthToken:  getEnv("SIGNAGED_AUTH_TOKEN", ""),
		DeviceID:   getEnv("SIGNAGED_DEVICE_ID", ""),
		CompanyID:  getEnv("SIGNAGED_COMPANY_ID", ""),

		DataDir:  getEnv("SIGNAGED_DATA_DIR", "./data"),
		DBDSN:    getEnv("SIGNAGED_DB_DSN", ""),
		CacheDir: getEnv("SIGNAGED_CACHE_DIR", ""),

		Notifier:      NotifierBackend(getEnv("SIGNAGED_NOTIFIER", string(NotifierNATS))),
		NATSURL:       getEnv("SIGNAGED_NATS_URL", "nats://localhost:4222"),
		RedisAddr:     getEnv("SIGNAGED_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("SIGNAGED_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SIGNAGED_REDIS_DB", 0),

		FetchTimeout:         time.Duration(getEnvInt("SIGNAGED_FETCH_TIMEOUT_SECONDS", 120)) * time.Second,
		ReportFlushThreshold: time.Duration(getEnvInt("SIGNAGED_REPORT_FLUSH_MINUTES", 5)) * time.Minute,
		ResolveTimeout:       time.Duration(getEnvInt("SIGNAGED_RESOLVE_TIMEOUT_SECONDS", 10)) * time.Second,
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("SIGNAGED_API_BASE_URL must be provided")
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	switch cfg.Notifier {
	case NotifierNATS, NotifierRedis, NotifierNone:
	default:
		return nil, fmt.Errorf("unsupported notifier backend %q", cfg.Notifier)
	}

	if cfg.DBDSN == "" {
		cfg.DBDSN = cfg.DataDir + "/signaged.sqlite"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = cfg.DataDir + "/cache"
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
