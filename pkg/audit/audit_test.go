package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLogger(t *testing.T, key []byte) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	l, err := Open(Config{LogFilePath: path, SecretKey: key})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestLogger_LogWritesJSONLines(t *testing.T) {
	l, path := openTestLogger(t, nil)

	require.NoError(t, l.Log(Event{
		Identity: "42",
		Kind:     EventTaskCreated,
		Command:  "task",
		Details:  map[string]any{"file": "telegram_20260101_120000.md"},
	}))
	require.NoError(t, l.Log(Event{
		Identity: "7",
		Kind:     EventUnauthorizedAccess,
		Outcome:  OutcomeFailure,
		Command:  "status",
	}))

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, OutcomeSuccess, first.Outcome)
	assert.Equal(t, SeverityInfo, first.Severity)
	assert.Empty(t, first.PreviousHash)
	assert.Equal(t, "telegram_20260101_120000.md", first.Details["file"])

	second := events[1]
	assert.Equal(t, SeverityWarning, second.Severity)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.NotEqual(t, first.ID, second.ID)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.SplitN(string(raw), "\n", 2)[0]
	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &fields))
	for _, key := range []string{"id", "timestamp", "identity", "event", "outcome", "severity", "hash"} {
		assert.Contains(t, fields, key)
	}
}

func TestLogger_CircuitOpenIsCritical(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)
	require.NoError(t, l.Log(Event{Kind: EventCircuitOpened, Outcome: OutcomeFailure}))

	var e Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e))
	assert.Equal(t, SeverityCritical, e.Severity)
}

func TestLogger_VerifyChain(t *testing.T) {
	l, _ := openTestLogger(t, []byte("test-secret-key"))

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(Event{Identity: "42", Kind: EventStatusChecked}))
	}

	n, err := l.VerifyChain()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestLogger_VerifyChainDetectsTampering(t *testing.T) {
	l, path := openTestLogger(t, []byte("test-secret-key"))

	require.NoError(t, l.Log(Event{Identity: "42", Kind: EventTaskCreated}))
	require.NoError(t, l.Log(Event{Identity: "42", Kind: EventApprovalDecided}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"identity":"42"`, `"identity":"43"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	_, err = l.VerifyChain()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestOpen_ResumesChain(t *testing.T) {
	l, path := openTestLogger(t, nil)
	require.NoError(t, l.Log(Event{Identity: "42", Kind: EventTaskCreated}))
	require.NoError(t, l.Close())

	reopened, err := Open(Config{LogFilePath: path})
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Log(Event{Identity: "42", Kind: EventStatusChecked}))

	n, err := reopened.VerifyChain()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
