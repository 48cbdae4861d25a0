package config

import "time"

// DefaultConfig returns the default configuration for picorelay.
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			SendRate:        1,
			NotifyApprovals: true,
		},
		Files: FilesConfig{
			StatusFile:           "~/.picorelay/agent/status.txt",
			ApprovalRequestFile:  "~/.picorelay/agent/approval_needed.txt",
			ApprovalResponseFile: "~/.picorelay/agent/approval_response.txt",
			TasksDir:             "~/.picorelay/agent/tasks",
			Timeout:              Duration(5 * time.Second),
			MaxSize:              1 << 20,
		},
		Limits: LimitsConfig{
			RateLimit:        10,
			RateWindow:       Duration(time.Minute),
			BreakerThreshold: 5,
			BreakerTimeout:   Duration(5 * time.Minute),
			TaskMaxLen:       500,
			JanitorSchedule:  "@every 10m",
		},
		Audit: AuditConfig{
			LogFile: "~/.picorelay/audit.jsonl",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
