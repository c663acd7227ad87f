package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dmm-service/internal/config"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "info", want: zapcore.InfoLevel},
		{level: "warn", want: zapcore.WarnLevel},
		{level: "error", want: zapcore.ErrorLevel},
		{level: "chatty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(&config.LoggingConfig{Level: tt.level, Format: "json", Output: "stderr"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dmm.log")
	logger, err := NewLogger(&config.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     path,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, CloseLogger(logger))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestDeviceLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	dl := NewDeviceLogger(zap.New(core), "/dev/ttyUSB0")

	dl.LogCommand("READ?", nil)
	dl.LogCommand("READ?", errors.New("boom"))
	dl.LogConnection("open", true, nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "/dev/ttyUSB0", entries[2].ContextMap()["port"])
	assert.Equal(t, "device", entries[2].ContextMap()["component"])
}

func TestSessionLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sl := NewSessionLogger(zap.New(core), "abc")

	sl.Start()
	sl.Success(zap.Int("rows", 3))
	sl.Error(errors.New("failed"))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "Session started", entries[0].Message)
	assert.Equal(t, int64(3), entries[1].ContextMap()["rows"])
	assert.Equal(t, "abc", entries[2].ContextMap()["session_id"])
}
