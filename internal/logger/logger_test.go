package logger_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level logger.LogLevel) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLogLevel(level)
	t.Cleanup(func() { logger.SetLogLevel(logger.InfoLevel) })

	return &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
	}{
		{"debug", logger.DebugLevel},
		{"INFO", logger.InfoLevel},
		{"", logger.InfoLevel},
		{"warning", logger.WarnLevel},
		{"error", logger.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := logger.ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := logger.ParseLevel("loud")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, logger.WarnLevel)

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("shown")
	assert.Equal(t, "shown", decode(t, buf)["message"])
}

func TestComponentLogger(t *testing.T) {
	buf := capture(t, logger.DebugLevel)

	logger.Default().With("session").Info().Int("poll", 3).Msg("polled")

	entry := decode(t, buf)
	assert.Equal(t, "session", entry["component"])
	assert.Equal(t, float64(3), entry["poll"])
	assert.Equal(t, "polled", entry["message"])
}

func TestErrorWithCode(t *testing.T) {
	buf := capture(t, logger.DebugLevel)

	err := errors.New().Wrap(errors.ErrTimeout, fmt.Errorf("no response"))
	logger.Default().ErrorWithCode(err).Msg("fetch failed")

	entry := decode(t, buf)
	assert.Equal(t, "operation_timeout", entry["error_code"])
	assert.Equal(t, "no response", entry["error"])
	assert.Equal(t, "error", entry["level"])
}
