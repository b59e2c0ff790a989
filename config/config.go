package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Server Configuration
	Port        string
	Environment string // development, staging, production

	// Storage
	DatabasePath string
	UploadDir    string
	OutputDir    string

	// Compression Tool
	GifsiclePath string

	// Queue Configuration
	DefaultConcurrency int
	MaxConcurrency     int

	// Upload Limits
	MaxUploadSize int64

	// Retention
	RetentionSeconds      int64 // 0 = keep artifacts indefinitely
	ReaperIntervalSeconds int

	// Predictor
	BaselinePath string // empty = use the embedded baseline

	// Logging
	LogLevel  string
	LogFormat string // json or console
}

func New() *Config {
	defaultConcurrency, _ := strconv.Atoi(getEnv("DEFAULT_CONCURRENCY", "2"))
	maxConcurrency, _ := strconv.Atoi(getEnv("MAX_CONCURRENCY", "10"))
	maxUploadSize, _ := strconv.ParseInt(getEnv("MAX_UPLOAD_SIZE", "104857600"), 10, 64) // 100MB default
	retentionSeconds, _ := strconv.ParseInt(getEnv("RETENTION_SECONDS", "0"), 10, 64)
	reaperInterval, _ := strconv.Atoi(getEnv("REAPER_INTERVAL_SECONDS", "60"))

	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if defaultConcurrency < 1 {
		defaultConcurrency = 1
	}
	if defaultConcurrency > maxConcurrency {
		defaultConcurrency = maxConcurrency
	}
	if reaperInterval < 1 {
		reaperInterval = 60
	}

	return &Config{
		Port:        getEnv("PORT", "8000"),
		Environment: getEnv("ENV", "production"),

		DatabasePath: getEnv("DB_PATH", "./data/jobs.db"),
		UploadDir:    getEnv("UPLOAD_DIR", "./data/uploads"),
		OutputDir:    getEnv("OUTPUT_DIR", "./data/outputs"),

		GifsiclePath: getEnv("GIFSICLE_PATH", "gifsicle"),

		DefaultConcurrency: defaultConcurrency,
		MaxConcurrency:     maxConcurrency,

		MaxUploadSize: maxUploadSize,

		RetentionSeconds:      retentionSeconds,
		ReaperIntervalSeconds: reaperInterval,

		BaselinePath: getEnv("BASELINE_PATH", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
