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
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(LevelWarning))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelDebug, ParseLevel(" debug "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestIsDebug(t *testing.T) {
	assert.True(t, Config{Level: "debug"}.IsDebug())
	assert.False(t, Config{Level: LevelInfo}.IsDebug())
	assert.False(t, Config{}.IsDebug())
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Config{Level: LevelWarning, Format: "JSON"}))

	logger.Info("dropped")
	logger.Warn("kept", "agent_id", "a1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "a1", line["agent_id"])
}

func TestNewHandler_DefaultsToText(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, Config{})).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello k=v")
}
