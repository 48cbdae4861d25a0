package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sipeed/picorelay/pkg/logger"
	"github.com/sipeed/picorelay/pkg/safefile"
)

// FlexibleString is a string that also accepts a JSON number, so
// authorized_user_id can be written as "123" or 123.
type FlexibleString string

func (f *FlexibleString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexibleString(n.String())
	return nil
}

func (f *FlexibleString) UnmarshalText(text []byte) error {
	*f = FlexibleString(text)
	return nil
}

func (f FlexibleString) String() string { return strings.TrimSpace(string(f)) }

// Duration accepts Go duration strings ("90s", "5m") or a bare number of
// seconds, in JSON and in environment variables.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Files    FilesConfig    `json:"files"`
	Limits   LimitsConfig   `json:"limits"`
	Audit    AuditConfig    `json:"audit"`
	Log      LogConfig      `json:"log"`
}

type TelegramConfig struct {
	Token            string         `json:"token" env:"TELEGRAM_BOT_TOKEN"`
	AuthorizedUserID FlexibleString `json:"authorized_user_id" env:"TELEGRAM_USER_ID"`
	// AllowAnyUser admits every caller when no operator is configured.
	AllowAnyUser bool   `json:"allow_any_user" env:"PICORELAY_ALLOW_ANY_USER"`
	Proxy        string `json:"proxy,omitempty" env:"PICORELAY_TELEGRAM_PROXY"`
	// SendRate caps outbound messages per second.
	SendRate        float64 `json:"send_rate" env:"PICORELAY_SEND_RATE"`
	NotifyApprovals bool    `json:"notify_approvals" env:"PICORELAY_NOTIFY_APPROVALS"`
}

type FilesConfig struct {
	StatusFile           string   `json:"status_file" env:"PICORELAY_STATUS_FILE"`
	ApprovalRequestFile  string   `json:"approval_request_file" env:"PICORELAY_APPROVAL_FILE"`
	ApprovalResponseFile string   `json:"approval_response_file" env:"PICORELAY_RESPONSE_FILE"`
	TasksDir             string   `json:"tasks_dir" env:"PICORELAY_TASKS_DIR"`
	Timeout              Duration `json:"timeout" env:"PICORELAY_FILE_TIMEOUT"`
	MaxSize              int64    `json:"max_size" env:"PICORELAY_FILE_MAX_SIZE"`
}

type LimitsConfig struct {
	RateLimit        int      `json:"rate_limit" env:"PICORELAY_RATE_LIMIT"`
	RateWindow       Duration `json:"rate_window" env:"PICORELAY_RATE_WINDOW"`
	BreakerThreshold int      `json:"breaker_threshold" env:"PICORELAY_BREAKER_THRESHOLD"`
	BreakerTimeout   Duration `json:"breaker_timeout" env:"PICORELAY_BREAKER_TIMEOUT"`
	TaskMaxLen       int      `json:"task_max_len" env:"PICORELAY_TASK_MAX_LEN"`
	// JanitorSchedule is a cron expression for pruning idle rate-limit windows.
	JanitorSchedule string `json:"janitor_schedule" env:"PICORELAY_JANITOR_SCHEDULE"`
}

type AuditConfig struct {
	LogFile   string `json:"log_file" env:"PICORELAY_AUDIT_LOG"`
	SecretKey string `json:"-" env:"PICORELAY_AUDIT_KEY"`
}

type LogConfig struct {
	Level string `json:"level" env:"PICORELAY_LOG_LEVEL"`
	File  string `json:"file,omitempty" env:"PICORELAY_LOG_FILE"`
}

// LoadConfig reads path over the defaults and then applies environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.applyLegacyEnv()

	cfg.expandPaths()
	return cfg, nil
}

// legacyFileEnv maps the file variables read by earlier agent setups to the
// current names.
var legacyFileEnv = []struct {
	legacy, current string
	field           func(*FilesConfig) *string
}{
	{"CLAUDE_STATUS_FILE", "PICORELAY_STATUS_FILE", func(f *FilesConfig) *string { return &f.StatusFile }},
	{"CLAUDE_APPROVAL_FILE", "PICORELAY_APPROVAL_FILE", func(f *FilesConfig) *string { return &f.ApprovalRequestFile }},
	{"CLAUDE_RESPONSE_FILE", "PICORELAY_RESPONSE_FILE", func(f *FilesConfig) *string { return &f.ApprovalResponseFile }},
	{"CLAUDE_TASKS_DIR", "PICORELAY_TASKS_DIR", func(f *FilesConfig) *string { return &f.TasksDir }},
}

// applyLegacyEnv honors a legacy variable only when its current name is
// unset.
func (c *Config) applyLegacyEnv() {
	for _, e := range legacyFileEnv {
		value, ok := os.LookupEnv(e.legacy)
		if !ok || value == "" {
			continue
		}
		if _, set := os.LookupEnv(e.current); set {
			continue
		}
		*e.field(&c.Files) = value
		logger.WarnCF("config", "Deprecated environment variable, use the new name", map[string]any{
			"variable": e.legacy,
			"use":      e.current,
		})
	}
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return safefile.New().Write(context.Background(), path, string(data)+"\n", 0)
}

func (c *Config) expandPaths() {
	c.Files.StatusFile = expandHome(c.Files.StatusFile)
	c.Files.ApprovalRequestFile = expandHome(c.Files.ApprovalRequestFile)
	c.Files.ApprovalResponseFile = expandHome(c.Files.ApprovalResponseFile)
	c.Files.TasksDir = expandHome(c.Files.TasksDir)
	c.Audit.LogFile = expandHome(c.Audit.LogFile)
	c.Log.File = expandHome(c.Log.File)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
			return filepath.Join(home, path[2:])
		}
		return home
	}
	return path
}
