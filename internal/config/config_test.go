package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COLLECTOR_LAG", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	require.Equal(t, 30*time.Minute, cfg.CollectorLag)
	require.Equal(t, 24*time.Hour, cfg.SourceInitialBackfill)
	require.True(t, cfg.CollectorRunOnStart)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("COLLECTOR_LAG", "45m")
	t.Setenv("COLLECTOR_CALL_TIMEOUT", "not-a-duration")
	t.Setenv("COLLECTOR_RUN_ON_START", "false")
	t.Setenv("COLLECTOR_SCHEDULE", "@every 5m")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()
	require.Equal(t, 45*time.Minute, cfg.CollectorLag)
	require.Equal(t, 10*time.Minute, cfg.CollectorCallTimeout)
	require.False(t, cfg.CollectorRunOnStart)
	require.Equal(t, "@every 5m", cfg.CollectorSchedule)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zap.InfoLevel))
	require.True(t, logger.Core().Enabled(zap.WarnLevel))
}
