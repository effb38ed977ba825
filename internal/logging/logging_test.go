package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNewLoggerProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "production", "info")

	log.Debug("hidden")
	log.Info("connection opened", "conn", "c-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "connection opened", line["msg"])
	assert.Equal(t, "c-1", line["conn"])
}

func TestNewLoggerDevWritesText(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "dev", "debug")

	log.Debug("joined room", "room", "r1")

	assert.Contains(t, buf.String(), "msg=\"joined room\"")
	assert.Contains(t, buf.String(), "room=r1")
}
