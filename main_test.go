package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"gif-compressor/config"
)

func TestNewLoggerLevels(t *testing.T) {
	cfg := &config.Config{LogLevel: "debug", LogFormat: "json"}
	log := newLogger(cfg)
	assert.Equal(t, zerolog.DebugLevel, log.GetLevel())

	cfg = &config.Config{LogLevel: "not-a-level", LogFormat: "json"}
	log = newLogger(cfg)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel(), "unknown level falls back to info")
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	cfg := &config.Config{LogLevel: "warn", LogFormat: "console"}
	log := newLogger(cfg)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
}
