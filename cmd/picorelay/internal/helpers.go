package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"

	"github.com/sipeed/picorelay/pkg/agentfiles"
	"github.com/sipeed/picorelay/pkg/config"
	"github.com/sipeed/picorelay/pkg/safefile"
)

const Logo = "📡"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

var loadDotEnv = godotenv.Load

func GetConfigPath() string {
	return config.ResolveRuntimePaths().ConfigPath
}

// GetPIDPath returns the gateway PID file inside the relay home.
func GetPIDPath() string {
	return filepath.Join(config.ResolveRuntimePaths().HomeDir, "gateway.pid")
}

// LoadConfig loads the .env file next to the config, if any, and then the
// config itself. Variables already set in the environment win.
func LoadConfig() (*config.Config, error) {
	paths := config.ResolveRuntimePaths()
	_ = loadDotEnv(paths.EnvFile)
	_ = loadDotEnv()

	cfg, err := config.LoadConfig(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// NewFileIO returns the bounded file accessor configured by cfg.
func NewFileIO(cfg *config.Config) *safefile.IO {
	return safefile.New(
		safefile.WithTimeout(cfg.Files.Timeout.Std()),
		safefile.WithMaxSize(cfg.Files.MaxSize),
	)
}

// NewStore returns the agent file store configured by cfg.
func NewStore(cfg *config.Config) *agentfiles.Store {
	return agentfiles.NewStore(agentfiles.Paths{
		StatusFile:           cfg.Files.StatusFile,
		ApprovalRequestFile:  cfg.Files.ApprovalRequestFile,
		ApprovalResponseFile: cfg.Files.ApprovalResponseFile,
		TasksDir:             cfg.Files.TasksDir,
	}, NewFileIO(cfg))
}

// EnsureTasksDir creates the tasks directory when missing.
func EnsureTasksDir(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return NewFileIO(cfg).EnsureDir(ctx, cfg.Files.TasksDir)
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

func GetVersion() string {
	return version
}
