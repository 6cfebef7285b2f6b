package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestFromContextCarriesEventID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"})

	ctx := WithEventID(context.Background(), "evt-1")
	assert.Equal(t, "evt-1", EventID(ctx))
	FromContext(ctx).Info("indexed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "evt-1", line["event_id"])
	assert.Equal(t, "indexed", line["msg"])
}

func TestSetupWriterFiltersBelowLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, config.LoggingConfig{Level: "warn"})
	slog.Info("hidden")
	assert.Empty(t, buf.String())
	slog.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
