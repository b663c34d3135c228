package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Setenv(envLogLevel, tt.value)
		assert.Equal(t, tt.want, LevelFromEnv(), "LOG_LEVEL=%q", tt.value)
	}
}

func TestVerbose(t *testing.T) {
	t.Setenv(envLogVerbose, "")
	assert.False(t, Verbose("modem"))

	t.Setenv(envLogVerbose, "modem,gnss")
	assert.True(t, Verbose("modem"))
	assert.True(t, Verbose("gnss"))
	assert.False(t, Verbose("battery"))

	t.Setenv(envLogVerbose, "true")
	assert.True(t, Verbose("anything"))
}

func TestForService(t *testing.T) {
	t.Setenv(envLogLevel, "INFO")
	t.Setenv(envLogVerbose, "modem")

	verbose := ForService("modem")
	assert.True(t, verbose.Enabled(nil, slog.LevelDebug))

	quiet := ForService("battery")
	assert.False(t, quiet.Enabled(nil, slog.LevelDebug))
	assert.True(t, quiet.Enabled(nil, slog.LevelInfo))
}
