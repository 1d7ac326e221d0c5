package logger_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
	}{
		{"debug", logger.DebugLevel},
		{"info", logger.InfoLevel},
		{"", logger.InfoLevel},
		{"warning", logger.WarnLevel},
		{"warn", logger.WarnLevel},
		{"error", logger.ErrorLevel},
	}

	for _, tt := range tests {
		got, err := logger.ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := logger.ParseLevel("chatty")
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidLogLevel, errors.CodeOf(err))
}

func TestFaultFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	log := logger.New(zerolog.New(&buf))

	fault := errors.FromWithSeverity(errors.New().New(errors.ErrBufferOverflow), errors.BadIfReoccurring)
	log.Fault(fault).Msg("Telemetry source error")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "buffer_overflow", line["cause"])
	assert.Equal(t, "BadIfReoccurring", line["severity"])
	assert.Equal(t, "Telemetry source error", line["message"])
}

func TestErrorWithCode(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	log := logger.New(zerolog.New(&buf))

	log.ErrorWithCode(errors.New().New(errors.ErrInitFailed)).Msg("boom")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "initialization_failed", line["error_code"])
	assert.Equal(t, "Initialization failed", line["error"])
}

func TestInitWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gaugectl.log")

	require.NoError(t, logger.Init(logger.Options{Level: "info", File: path, MaxSizeMB: 1}))
	logger.Info().Msg("hello file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := logger.Init(logger.Options{Level: "loud"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidLogLevel, errors.CodeOf(err))
}
