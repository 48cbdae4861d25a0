// Package watcher pushes a notice to the operator when the agent asks for
// approval, so the operator does not have to poll /status.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sipeed/picorelay/pkg/logger"
	"github.com/sipeed/picorelay/pkg/safefile"
)

const (
	defaultDebounce = 200 * time.Millisecond
	maxPreviewRunes = 500
)

// Notifier delivers a notice to the operator.
type Notifier func(ctx context.Context, text string) error

// RequestReader reads the pending approval request.
type RequestReader interface {
	ApprovalRequest(ctx context.Context) (string, error)
}

type Option func(*ApprovalWatcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *ApprovalWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// ApprovalWatcher watches the approval request file.
type ApprovalWatcher struct {
	path     string
	reader   RequestReader
	notify   Notifier
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	lastSent string
}

func NewApprovalWatcher(path string, reader RequestReader, notify Notifier, opts ...Option) *ApprovalWatcher {
	w := &ApprovalWatcher{
		path:     filepath.Clean(path),
		reader:   reader,
		notify:   notify,
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx ends. A request already present at startup is
// announced once.
func (w *ApprovalWatcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	logger.InfoCF("watcher", "Watching for approval requests", map[string]any{
		"path": w.path,
	})

	w.check(ctx)

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.WarnCF("watcher", "Watch error", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

func (w *ApprovalWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		w.lastSent = ""
		w.mu.Unlock()
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.check(ctx) })
	w.mu.Unlock()
}

func (w *ApprovalWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// check reads the request and notifies unless the same text was already sent.
func (w *ApprovalWatcher) check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	text, err := w.reader.ApprovalRequest(ctx)
	if err != nil {
		if !errors.Is(err, safefile.ErrNotFound) {
			logger.WarnCF("watcher", "Failed to read approval request", map[string]any{
				"error": err.Error(),
			})
		}
		return
	}

	w.mu.Lock()
	if text == w.lastSent {
		w.mu.Unlock()
		return
	}
	w.lastSent = text
	w.mu.Unlock()

	if err := w.notify(ctx, Notice(text)); err != nil {
		logger.ErrorCF("watcher", "Failed to send approval notice", map[string]any{
			"error": err.Error(),
		})
		w.mu.Lock()
		w.lastSent = ""
		w.mu.Unlock()
	}
}

// Notice renders the message sent for an approval request.
func Notice(request string) string {
	request = strings.TrimSpace(request)
	if runes := []rune(request); len(runes) > maxPreviewRunes {
		request = string(runes[:maxPreviewRunes-1]) + "…"
	}
	if request == "" {
		return "🚨 APPROVAL PENDING\nReply /approve or /reject"
	}
	return "🚨 APPROVAL PENDING\n\n" + request + "\n\nReply /approve or /reject"
}
