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

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
		"fatal":   FatalLevel,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestDefaultLoggerRoutesByLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewDefaultLoggerWithWriters(&stdout, &stderr)
	logger.SetLevel(DebugLevel)

	logger.Debug("window analysed", Fields{"note": "A4"})
	logger.Warn("chunk rejected")
	logger.Error(errors.New("boom"), "capture failed", Fields{"device": 0})

	assert.Contains(t, stdout.String(), "[DEBUG] window analysed {note=A4}")
	assert.Contains(t, stderr.String(), "[WARN] chunk rejected")
	assert.Contains(t, stderr.String(), "[ERROR] capture failed: boom {device=0}")
	assert.NotContains(t, stdout.String(), "WARN")
}

func TestDefaultLoggerLevelFilter(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewDefaultLoggerWithWriters(&stdout, &stderr)

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "shown")
}

func TestDefaultLoggerFields(t *testing.T) {
	var stdout bytes.Buffer
	base := NewDefaultLoggerWithWriters(&stdout, &stdout)

	logger := base.WithFields(Fields{"component": "tuner_session", "b": 2})
	logger.Info("started", Fields{"a": 1})

	assert.Contains(t, stdout.String(), "{a=1 b=2 component=tuner_session}")

	// The parent keeps its own fields
	stdout.Reset()
	base.Info("plain")
	assert.NotContains(t, stdout.String(), "component")
}

func TestContextFields(t *testing.T) {
	ctx := ContextWithFields(context.Background(), Fields{"session_id": "abc"})
	ctx = ContextWithFields(ctx, Fields{"file": "e2.wav"})

	fields, ok := FieldsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, Fields{"session_id": "abc", "file": "e2.wav"}, fields)

	var stdout bytes.Buffer
	NewDefaultLoggerWithWriters(&stdout, &stdout).WithContext(ctx).Info("decoded")
	assert.Contains(t, stdout.String(), "{file=e2.wav session_id=abc}")

	_, ok = FieldsFromContext(context.Background())
	assert.False(t, ok)
}

func TestGlobalLogger(t *testing.T) {
	previous := GetGlobalLogger()
	defer SetGlobalLogger(previous)

	var stdout bytes.Buffer
	SetGlobalLogger(NewDefaultLoggerWithWriters(&stdout, &stdout))

	WithFields(Fields{"component": "test"}).Info("hello")
	Info("world")
	assert.Contains(t, stdout.String(), "hello {component=test}")
	assert.Contains(t, stdout.String(), "world")

	SetGlobalLogger(nil)
	assert.IsType(t, &NoOpLogger{}, GetGlobalLogger())
	assert.NotPanics(t, func() {
		Warn("dropped")
		WithContext(context.Background()).Error(errors.New("x"), "dropped")
	})
}

func TestLogrusLoggerJSON(t *testing.T) {
	var out bytes.Buffer
	logger, err := NewLogrusLogger(&out, FormatJSON)
	require.NoError(t, err)

	logger.WithFields(Fields{"component": "tuner_session"}).
		Warn("Rejected audio chunk", Fields{"session_id": "abc"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "Rejected audio chunk", entry["msg"])
	assert.Equal(t, "tuner_session", entry["component"])
	assert.Equal(t, "abc", entry["session_id"])
}

func TestLogrusLoggerError(t *testing.T) {
	var out bytes.Buffer
	logger, err := NewLogrusLogger(&out, FormatJSON)
	require.NoError(t, err)

	logger.Error(errors.New("device busy"), "Failed to open audio source")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "device busy", entry["error"])
}

func TestLogrusLoggerLevel(t *testing.T) {
	var out bytes.Buffer
	logger, err := NewLogrusLogger(&out, FormatText)
	require.NoError(t, err)

	child := logger.WithFields(Fields{"component": "cli"})
	child.Debug("hidden")
	assert.Empty(t, out.String())

	logger.SetLevel(DebugLevel)
	child.Debug("visible")
	assert.True(t, strings.Contains(out.String(), "visible"))
	assert.Contains(t, out.String(), "component=cli")
}

func TestLogrusLoggerRejectsUnknownFormat(t *testing.T) {
	_, err := NewLogrusLogger(&bytes.Buffer{}, "xml")
	assert.Error(t, err)
}
