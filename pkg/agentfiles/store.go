// Package agentfiles reads and writes the well-known files shared with the
// agent: the status document, the approval request and response, and the
// task records directory.
package agentfiles

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/picorelay/pkg/logger"
	"github.com/sipeed/picorelay/pkg/safefile"
)

// Decision is the literal written to the approval response file.
type Decision string

const (
	Approved Decision = "APPROVED"
	Rejected Decision = "REJECTED"
)

const taskPattern = "telegram_*.md"

// Paths locates the agent files.
type Paths struct {
	StatusFile           string
	ApprovalRequestFile  string
	ApprovalResponseFile string
	TasksDir             string
}

// Store performs every agent-file operation through safefile, so each call
// is bounded in size and time.
type Store struct {
	paths   Paths
	io      *safefile.IO
	nowFunc func() time.Time
	newID   func() string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

func NewStore(paths Paths, fio *safefile.IO, opts ...Option) *Store {
	if fio == nil {
		fio = safefile.New()
	}
	s := &Store{
		paths:   paths,
		io:      fio,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Paths() Paths { return s.paths }

// CreateTask writes a new pending task record. The description must
// already be sanitized. An existing record is never overwritten: a numeric
// suffix is added to the file name instead.
func (s *Store) CreateTask(ctx context.Context, user, description string) (TaskRecord, error) {
	now := s.nowFunc()
	rec := TaskRecord{
		ID:          s.newID(),
		CreatedAt:   now,
		User:        user,
		Status:      StatusPending,
		Description: description,
	}

	if err := s.io.EnsureDir(ctx, s.paths.TasksDir); err != nil {
		return rec, fmt.Errorf("create tasks dir: %w", err)
	}

	name, err := s.freeName(ctx, TaskFileName(now))
	if err != nil {
		return rec, err
	}
	rec.FileName = name

	content, err := rec.Render()
	if err != nil {
		return rec, err
	}
	if err := s.io.Write(ctx, filepath.Join(s.paths.TasksDir, name), content, 0); err != nil {
		return rec, fmt.Errorf("write task record: %w", err)
	}

	logger.InfoCF("agentfiles", "Task record created", map[string]any{
		"file": name,
		"id":   rec.ID,
	})
	return rec, nil
}

func (s *Store) freeName(ctx context.Context, name string) (string, error) {
	base := strings.TrimSuffix(name, ".md")
	candidate := name
	for i := 1; i < 1000; i++ {
		exists, err := s.io.Exists(ctx, filepath.Join(s.paths.TasksDir, candidate))
		if err != nil {
			return "", fmt.Errorf("check task record: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d.md", base, i)
	}
	return "", fmt.Errorf("no free task file name for %s", name)
}

// WriteStatus overwrites the status document for a newly created task.
func (s *Store) WriteStatus(ctx context.Context, rec TaskRecord) error {
	if err := s.io.Write(ctx, s.paths.StatusFile, StatusText(rec), 0); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// ReadStatus returns the status document. A missing document is reported
// as safefile.ErrNotFound.
func (s *Store) ReadStatus(ctx context.Context) (string, error) {
	text, err := s.io.Read(ctx, s.paths.StatusFile, 0)
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return text, nil
}

// PendingApproval reports whether an approval request exists.
func (s *Store) PendingApproval(ctx context.Context) (bool, error) {
	ok, err := s.io.Exists(ctx, s.paths.ApprovalRequestFile)
	if err != nil {
		return false, fmt.Errorf("check approval request: %w", err)
	}
	return ok, nil
}

// ApprovalRequest returns the text of the pending approval request.
func (s *Store) ApprovalRequest(ctx context.Context) (string, error) {
	text, err := s.io.Read(ctx, s.paths.ApprovalRequestFile, 0)
	if err != nil {
		return "", fmt.Errorf("read approval request: %w", err)
	}
	return text, nil
}

// Decide answers the pending approval request: it reads the request, writes
// the decision to the response file and removes the request. pending is
// false when there was nothing to decide, in which case no file changes.
// A request that is too large or not UTF-8 is still answered; its text is
// returned empty.
func (s *Store) Decide(ctx context.Context, d Decision) (request string, pending bool, err error) {
	request, err = s.io.Read(ctx, s.paths.ApprovalRequestFile, 0)
	switch {
	case err == nil:
	case errors.Is(err, safefile.ErrNotFound):
		return "", false, nil
	case errors.Is(err, safefile.ErrTooLarge), errors.Is(err, safefile.ErrInvalidEncoding):
		logger.WarnCF("agentfiles", "Approval request unreadable, deciding without its text", map[string]any{
			"decision": string(d),
			"error":    err.Error(),
		})
		request = ""
	default:
		return "", true, fmt.Errorf("read approval request: %w", err)
	}

	if err := s.io.Write(ctx, s.paths.ApprovalResponseFile, string(d), 0); err != nil {
		return request, true, fmt.Errorf("write approval response: %w", err)
	}

	if err := s.io.Remove(ctx, s.paths.ApprovalRequestFile); err != nil && !errors.Is(err, safefile.ErrNotFound) {
		return request, true, fmt.Errorf("remove approval request: %w", err)
	}
	return request, true, nil
}

// ListTasks returns up to limit task records, newest first. Records that
// cannot be read or parsed are skipped.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	entries, err := s.io.List(ctx, s.paths.TasksDir, taskPattern)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]TaskRecord, 0, len(entries))
	for _, e := range entries {
		content, err := s.io.Read(ctx, filepath.Join(s.paths.TasksDir, e.Name), 0)
		if err != nil {
			if errors.Is(err, safefile.ErrTimedOut) {
				return out, fmt.Errorf("read task record: %w", err)
			}
			logger.WarnCF("agentfiles", "Skipping unreadable task record", map[string]any{
				"file":  e.Name,
				"error": err.Error(),
			})
			continue
		}
		rec, err := ParseTaskRecord(content)
		if err != nil {
			logger.WarnCF("agentfiles", "Skipping malformed task record", map[string]any{
				"file":  e.Name,
				"error": err.Error(),
			})
			continue
		}
		rec.FileName = e.Name
		out = append(out, rec)
	}
	return out, nil
}
