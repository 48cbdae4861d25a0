package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picorelay/pkg/redaction"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	prevLevel := GetLevel()
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(prevLevel)
		ConfigureRedaction(redaction.DefaultConfig())
	})
	return &buf
}

func TestLogMessage_WritesComponentAndFields(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(DEBUG)

	InfoCF("relay", "Task created", map[string]any{"file": "telegram_1.md"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "relay", entry["component"])
	assert.Equal(t, "Task created", entry["message"])
	assert.Equal(t, "telegram_1.md", entry["file"])
}

func TestLogMessage_RespectsLevel(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(WARN)

	DebugC("relay", "hidden")
	InfoC("relay", "hidden too")
	assert.Empty(t, buf.String())

	WarnC("relay", "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogMessage_RedactsSecrets(t *testing.T) {
	buf := captureOutput(t)
	ConfigureRedaction(redaction.Config{Enabled: true, Secrets: []string{"s3cr3t-bot-token"}})

	ErrorCF("telegram", "request failed for s3cr3t-bot-token", map[string]any{
		"error": "bad token s3cr3t-bot-token",
	})

	out := buf.String()
	assert.False(t, strings.Contains(out, "s3cr3t-bot-token"), "secret leaked: %s", out)
	assert.Contains(t, out, "[REDACTED]")
}

func TestFatal_Exits(t *testing.T) {
	captureOutput(t)
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	FatalCF("config", "bad config", nil)
	assert.Equal(t, 1, code)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, lvl)

	lvl, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, WARN, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
