package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("planner", "test", DebugLevel)
	logger.SetOutput(&buf)

	ctx := WithStage(WithRunID(context.Background(), "run-1"), "build")
	logger.Info(ctx, "[MODEL_BUILD] Problem built", Fields{"variables": 12})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, "build", entry.Stage)
	assert.Equal(t, float64(12), entry.Fields["variables"])
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("planner", "test", WarnLevel)
	logger.SetOutput(&buf)

	logger.Info(context.Background(), "dropped", nil)
	logger.Error(context.Background(), "kept", nil, errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "boom", entry.Error)
	assert.NotEmpty(t, entry.File)
}

func TestContextLogger_MergeFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("planner", "test", InfoLevel)
	logger.SetOutput(&buf)

	logger.WithFields(Fields{"comuna": "maipu", "sites": 3}).Info(context.Background(), "loaded", Fields{"sites": 4})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "maipu", entry.Fields["comuna"])
	assert.Equal(t, float64(4), entry.Fields["sites"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}
