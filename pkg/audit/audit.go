// Package audit records security-relevant relay events as append-only JSON
// lines. Each line carries a hash of its content chained to the previous
// line so later edits to the file can be detected.
package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind names a security event.
type EventKind string

const (
	EventUnauthorizedAccess EventKind = "UNAUTHORIZED_ACCESS"
	EventRateLimitExceeded  EventKind = "RATE_LIMIT_EXCEEDED"
	EventCircuitOpened      EventKind = "CIRCUIT_BREAKER_OPEN"
	EventCircuitClosed      EventKind = "CIRCUIT_BREAKER_CLOSED"
	EventValidationFailed   EventKind = "VALIDATION_FAILED"
	EventStatusChecked      EventKind = "STATUS_CHECKED"
	EventTaskCreated        EventKind = "TASK_CREATED"
	EventTasksListed        EventKind = "TASKS_LISTED"
	EventApprovalDecided    EventKind = "APPROVAL_DECIDED"
	EventCommandExecuted    EventKind = "COMMAND_EXECUTED"
	EventCommandFailed      EventKind = "COMMAND_FAILED"
	EventOpenAccessWarning  EventKind = "OPEN_ACCESS_ENABLED"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit record.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Identity     string         `json:"identity"`
	Kind         EventKind      `json:"event"`
	Outcome      Outcome        `json:"outcome"`
	Severity     Severity       `json:"severity"`
	Command      string         `json:"command,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Hash         string         `json:"hash"`
	PreviousHash string         `json:"previous_hash,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	LogFilePath string
	// SecretKey switches the chain hash from SHA-256 to HMAC-SHA256.
	SecretKey []byte
}

// Logger appends events to the audit file.
type Logger struct {
	config   Config
	mu       sync.Mutex
	w        io.Writer
	file     *os.File
	lastHash string
	nowFunc  func() time.Time
}

// Open opens (or creates) the audit file in append mode and resumes the hash
// chain from its last line.
func Open(config Config) (*Logger, error) {
	if config.LogFilePath == "" {
		return nil, errors.New("audit log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(config.LogFilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	last, err := lastHash(config.LogFilePath)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(config.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		config:   config,
		w:        file,
		file:     file,
		lastHash: last,
		nowFunc:  time.Now,
	}, nil
}

// NewWriterLogger writes events to w without a backing file. VerifyChain is
// unavailable on such a logger.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{w: w, nowFunc: time.Now}
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.w = io.Discard
		return err
	}
	return nil
}

// Log records an audit event. ID, Timestamp, Outcome and Severity are
// filled in when empty.
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.nowFunc().UTC()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}
	if event.Severity == "" {
		event.Severity = defaultSeverity(event)
	}

	event.PreviousHash = l.lastHash
	event.Hash = l.computeHash(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	l.lastHash = event.Hash
	return nil
}

func defaultSeverity(e Event) Severity {
	switch {
	case e.Kind == EventCircuitOpened:
		return SeverityCritical
	case e.Outcome == OutcomeFailure, e.Kind == EventOpenAccessWarning:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func (l *Logger) computeHash(event Event) string {
	details, _ := json.Marshal(event.Details)
	signData := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s",
		event.ID,
		event.Timestamp.Format(time.RFC3339Nano),
		event.Identity,
		event.Kind,
		event.Outcome,
		event.Severity,
		event.Command,
		details,
		event.PreviousHash,
	)

	var h hash.Hash
	if len(l.config.SecretKey) > 0 {
		h = hmac.New(sha256.New, l.config.SecretKey)
	} else {
		h = sha256.New()
	}
	h.Write([]byte(signData))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain re-reads the audit file and checks every hash and link.
// It returns the number of verified events.
func (l *Logger) VerifyChain() (int, error) {
	if l.config.LogFilePath == "" {
		return 0, errors.New("audit logger has no file")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.config.LogFilePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer f.Close()

	var prev string
	n := 0
	err = scanEvents(f, func(line int, event Event) error {
		if event.PreviousHash != prev {
			return fmt.Errorf("hash chain broken at line %d", line)
		}
		if event.Hash != l.computeHash(event) {
			return fmt.Errorf("event hash mismatch at line %d", line)
		}
		prev = event.Hash
		n++
		return nil
	})
	return n, err
}

// ReadEvents parses every event in path.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	err = scanEvents(f, func(_ int, event Event) error {
		events = append(events, event)
		return nil
	})
	return events, err
}

func scanEvents(r io.Reader, fn func(line int, event Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return fmt.Errorf("failed to parse event at line %d: %w", line, err)
		}
		if err := fn(line, event); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read audit log: %w", err)
	}
	defer f.Close()

	var last string
	err = scanEvents(f, func(_ int, event Event) error {
		last = event.Hash
		return nil
	})
	if err != nil {
		return "", err
	}
	return last, nil
}
