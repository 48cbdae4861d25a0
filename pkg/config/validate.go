package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ConfigurationError is a fatal startup problem. Problems lists every
// violation found, not only the first.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks everything the relay needs before it may start polling.
// requireToken is false for commands that never talk to Telegram.
func (c *Config) Validate(requireToken bool) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if requireToken && strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram token is required (TELEGRAM_BOT_TOKEN)")
	}
	if c.Telegram.AuthorizedUserID.String() == "" && !c.Telegram.AllowAnyUser {
		add("authorized user id is required (TELEGRAM_USER_ID); set PICORELAY_ALLOW_ANY_USER=true to allow everyone")
	}

	files := []struct {
		name, path string
	}{
		{"status_file", c.Files.StatusFile},
		{"approval_request_file", c.Files.ApprovalRequestFile},
		{"approval_response_file", c.Files.ApprovalResponseFile},
		{"tasks_dir", c.Files.TasksDir},
	}
	seen := make(map[string]string, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.path) == "" {
			add("%s must not be empty", f.name)
			continue
		}
		clean := filepath.Clean(f.path)
		if other, ok := seen[clean]; ok {
			add("%s and %s must be different paths (%s)", other, f.name, clean)
			continue
		}
		seen[clean] = f.name
	}

	if c.Files.Timeout <= 0 {
		add("files.timeout must be positive")
	}
	if c.Files.MaxSize <= 0 {
		add("files.max_size must be positive")
	}
	if c.Limits.RateLimit <= 0 {
		add("limits.rate_limit must be positive")
	}
	if c.Limits.RateWindow <= 0 {
		add("limits.rate_window must be positive")
	}
	if c.Limits.BreakerThreshold <= 0 {
		add("limits.breaker_threshold must be positive")
	}
	if c.Limits.BreakerTimeout <= 0 {
		add("limits.breaker_timeout must be positive")
	}
	if c.Limits.TaskMaxLen <= 0 {
		add("limits.task_max_len must be positive")
	}
	if c.Telegram.SendRate < 0 {
		add("telegram.send_rate must not be negative")
	}
	if strings.TrimSpace(c.Audit.LogFile) == "" {
		add("audit.log_file must not be empty")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}
