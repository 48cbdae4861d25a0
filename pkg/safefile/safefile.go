// Package safefile reads and writes the relay's handshake files with a size
// bound, a UTF-8 check and a wall-clock deadline. The files may live on a slow
// or shared filesystem written by another process, so no call is allowed to
// block the command loop for longer than its deadline.
package safefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxSize int64 = 1 << 20
	DefaultTimeout       = 5 * time.Second
)

// Kind classifies a file operation failure.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindTooLarge        Kind = "too_large"
	KindInvalidEncoding Kind = "invalid_encoding"
	KindTimedOut        Kind = "timed_out"
	KindIO              Kind = "io"
)

var (
	ErrNotFound        = errors.New("file not found")
	ErrTooLarge        = errors.New("file too large")
	ErrInvalidEncoding = errors.New("file is not valid UTF-8")
	ErrTimedOut        = errors.New("file operation timed out")
)

// Error describes a failed file operation. It matches the package sentinels
// with errors.Is.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTooLarge:
		return e.Kind == KindTooLarge
	case ErrInvalidEncoding:
		return e.Kind == KindInvalidEncoding
	case ErrTimedOut:
		return e.Kind == KindTimedOut
	}
	return false
}

// IO performs bounded file operations. The zero value is not usable; use New.
type IO struct {
	maxSize int64
	timeout time.Duration
}

// Option configures an IO.
type Option func(*IO)

// WithMaxSize sets the default size bound used when a call passes maxSize <= 0.
func WithMaxSize(n int64) Option {
	return func(o *IO) {
		if n > 0 {
			o.maxSize = n
		}
	}
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *IO) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func New(opts ...Option) *IO {
	o := &IO{maxSize: DefaultMaxSize, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaxSize returns the default size bound.
func (o *IO) MaxSize() int64 { return o.maxSize }

// Read returns the content of path. Files strictly larger than maxSize fail
// with ErrTooLarge; a file of exactly maxSize bytes is accepted.
func (o *IO) Read(ctx context.Context, path string, maxSize int64) (string, error) {
	if maxSize <= 0 {
		maxSize = o.maxSize
	}
	return run(ctx, o.timeout, "read", path, func(context.Context) (string, error) {
		f, err := os.Open(path)
		if err != nil {
			return "", classify("read", path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return "", classify("read", path, err)
		}
		if info.IsDir() {
			return "", &Error{Kind: KindIO, Op: "read", Path: path, Err: errors.New("is a directory")}
		}
		if info.Size() > maxSize {
			return "", tooLarge("read", path, info.Size(), maxSize)
		}

		// The file can grow between Stat and Read.
		data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
		if err != nil {
			return "", classify("read", path, err)
		}
		if int64(len(data)) > maxSize {
			return "", tooLarge("read", path, int64(len(data)), maxSize)
		}
		if !utf8.Valid(data) {
			return "", &Error{Kind: KindInvalidEncoding, Op: "read", Path: path, Err: ErrInvalidEncoding}
		}
		return string(data), nil
	})
}

// Write replaces the content of path. The data goes to a temp file in the
// same directory and is renamed into place, and the rename is skipped once
// the deadline has passed, so readers never observe a partial file.
func (o *IO) Write(ctx context.Context, path, content string, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = o.maxSize
	}
	if size := int64(len(content)); size > maxSize {
		return tooLarge("write", path, size, maxSize)
	}
	_, err := run(ctx, o.timeout, "write", path, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, writeAtomic(ctx, path, []byte(content))
	})
	return err
}

// Remove deletes path. A missing file is reported as ErrNotFound. Nothing is
// deleted once the deadline has passed.
func (o *IO) Remove(ctx context.Context, path string) error {
	_, err := run(ctx, o.timeout, "remove", path, func(ctx context.Context) (struct{}, error) {
		if ctx.Err() != nil {
			return struct{}{}, &Error{Kind: KindTimedOut, Op: "remove", Path: path, Err: ErrTimedOut}
		}
		if err := os.Remove(path); err != nil {
			return struct{}{}, classify("remove", path, err)
		}
		return struct{}{}, nil
	})
	return err
}

// Exists reports whether path exists.
func (o *IO) Exists(ctx context.Context, path string) (bool, error) {
	return run(ctx, o.timeout, "stat", path, func(context.Context) (bool, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, classify("stat", path, err)
	})
}

// EnsureDir creates dir and its parents.
func (o *IO) EnsureDir(ctx context.Context, dir string) error {
	_, err := run(ctx, o.timeout, "mkdir", dir, func(context.Context) (struct{}, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return struct{}{}, classify("mkdir", dir, err)
		}
		return struct{}{}, nil
	})
	return err
}

// Entry is a directory listing item.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// List returns the regular files in dir whose base name matches pattern,
// newest first. A missing directory yields an empty list.
func (o *IO) List(ctx context.Context, dir, pattern string) ([]Entry, error) {
	return run(ctx, o.timeout, "list", dir, func(context.Context) ([]Entry, error) {
		des, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, classify("list", dir, err)
		}
		out := make([]Entry, 0, len(des))
		for _, de := range des {
			if !de.Type().IsRegular() {
				continue
			}
			if pattern != "" {
				if ok, _ := filepath.Match(pattern, de.Name()); !ok {
					continue
				}
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			out = append(out, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].ModTime.Equal(out[j].ModTime) {
				return out[i].Name > out[j].Name
			}
			return out[i].ModTime.After(out[j].ModTime)
		})
		return out, nil
	})
}

// run executes fn on its own goroutine and gives up when the deadline
// passes. fn receives a context that is cancelled at that point so it can
// avoid committing late work.
func run[T any](ctx context.Context, timeout time.Duration, op, path string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, &Error{Kind: KindTimedOut, Op: op, Path: path, Err: ErrTimedOut}
	}
}

func writeAtomic(ctx context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return classify("write", path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return classify("write", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return classify("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return classify("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return classify("write", path, err)
	}

	if ctx.Err() != nil {
		return &Error{Kind: KindTimedOut, Op: "write", Path: path, Err: ErrTimedOut}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return classify("write", path, fmt.Errorf("rename temp file: %w", err))
	}
	return nil
}

func classify(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &Error{Kind: KindNotFound, Op: op, Path: path, Err: err}
	}
	return &Error{Kind: KindIO, Op: op, Path: path, Err: err}
}

func tooLarge(op, path string, size, limit int64) error {
	return &Error{
		Kind: KindTooLarge,
		Op:   op,
		Path: path,
		Err:  fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, size, limit),
	}
}
