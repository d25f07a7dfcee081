package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/e7canasta/kmsplay/internal/config"
)

func TestNewMapsConfigLevels(t *testing.T) {
	cases := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogLevelError, slog.LevelError},
		{config.LogLevelWarn, slog.LevelWarn},
		{config.LogLevelInfo, slog.LevelInfo},
		{config.LogLevelDebug, slog.LevelDebug},
		{config.LogLevelTrace, LevelTrace},
	}
	for _, c := range cases {
		logger := New(c.level)
		require.True(t, logger.Enabled(context.Background(), c.want))
	}
}

func TestTraceLevelSitsBelowDebug(t *testing.T) {
	require.Less(t, int(LevelTrace), int(slog.LevelDebug))
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	logger := New(config.LogLevel("bogus"))
	require.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
