package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)

	logger.WithField("page", 3).WithFields(map[string]interface{}{"rows": 100}).Info("page collected")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "page collected", entry.Message)
	assert.EqualValues(t, 3, entry.Fields["page"])
	assert.EqualValues(t, 100, entry.Fields["rows"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelWarn, FormatText, &buf)

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "warn: shown")

	// derived loggers share the level
	child := logger.WithField("k", "v")
	logger.SetLevel(LevelDebug)
	child.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestLogger_WithErrorNil(t *testing.T) {
	logger := Discard()
	assert.Same(t, logger, logger.WithError(nil))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatText, &buf)

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("from ctx")
	assert.True(t, strings.Contains(buf.String(), "from ctx"))

	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LevelInfo, ParseLogLevel("bogus"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("xml"))
}

func TestGlobalHelpers(t *testing.T) {
	var buf bytes.Buffer
	globalMu.Lock()
	previous := globalLogger
	globalLogger = NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		globalLogger = previous
		globalMu.Unlock()
	})

	WithField("circuitBreaker", "ranking-source").Info("breaker opened")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "breaker opened", entry.Message)
	assert.Equal(t, "ranking-source", entry.Fields["circuitBreaker"])
}
