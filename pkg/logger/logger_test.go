package logger

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"garbage", slog.LevelInfo},
	}
	for _, tt := range tests {
		level, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level, "level %q", tt.in)
	}
}

func TestGetLogger(t *testing.T) {
	t.Run("initializes on first use", func(t *testing.T) {
		defaultLogger = nil
		logger := GetLogger()
		require.NotNil(t, logger)
		assert.Same(t, logger, GetLogger())
	})

	t.Run("returns the configured logger after init", func(t *testing.T) {
		Init(slog.LevelDebug, os.Stderr, "json")
		logger := GetLogger()
		require.NotNil(t, logger)
		assert.Same(t, defaultLogger, logger)
		assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	})
}
