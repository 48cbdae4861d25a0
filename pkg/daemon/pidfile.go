// Package daemon keeps a single gateway process per relay home.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// ProcessRunningError is returned by Acquire when another live process
// holds the PID file.
type ProcessRunningError struct {
	PID  int
	Path string
}

func (e *ProcessRunningError) Error() string {
	return fmt.Sprintf("gateway already running with PID %d (PID file: %s)", e.PID, e.Path)
}

// PIDFile guards a process ID file.
type PIDFile struct {
	path string
	mu   sync.Mutex
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

func (p *PIDFile) Path() string { return p.path }

// Acquire records the current process. A file left by a dead process is
// replaced.
func (p *PIDFile) Acquire() error {
	return p.acquire(os.Getpid())
}

func (p *PIDFile) acquire(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, err := p.read(); err == nil && existing != pid && isProcessRunning(existing) {
		return &ProcessRunningError{PID: existing, Path: p.path}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create PID dir: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// Release removes the file if it still names the current process.
func (p *PIDFile) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pid, err := p.read(); err == nil && pid == os.Getpid() {
		_ = os.Remove(p.path)
	}
}

// Running returns the PID of a live process holding the file, or 0.
func (p *PIDFile) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid, err := p.read()
	if err != nil || !isProcessRunning(pid) {
		return 0
	}
	return pid
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", p.path, err)
	}
	return pid, nil
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
