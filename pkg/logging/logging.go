// Package logging configures structured logging for FieldEdge services.
//
// Services log through log/slog. The LOG_LEVEL environment variable sets the
// base level and LOG_VERBOSE holds a comma-separated list of service tags for
// which debug logging is enabled regardless of the base level.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

const (
	envLogLevel   = "LOG_LEVEL"
	envLogVerbose = "LOG_VERBOSE"
)

// LevelFromEnv derives the base log level from LOG_LEVEL, defaulting to info.
func LevelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv(envLogLevel)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Verbose reports whether LOG_VERBOSE enables debug logging for a service
// tag. A bare "true" or "1" enables it for every service.
func Verbose(tag string) bool {
	value := os.Getenv(envLogVerbose)
	if value == "" {
		return false
	}
	if value == "true" || value == "1" {
		return true
	}
	for _, entry := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(entry), tag) {
			return true
		}
	}
	return false
}

// Setup installs a text handler on the default logger using the environment
// level and returns it.
func Setup() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: LevelFromEnv(),
	}))
	slog.SetDefault(logger)
	return logger
}

// ForService returns a logger scoped to a service tag. Debug records are
// emitted when the tag is listed in LOG_VERBOSE.
func ForService(tag string) *slog.Logger {
	level := LevelFromEnv()
	if Verbose(tag) {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", tag)
}
