package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvPicoRelayConfig = "PICORELAY_CONFIG"
	EnvPicoRelayHome   = "PICORELAY_HOME"
)

type RuntimePaths struct {
	HomeDir    string
	ConfigPath string
	EnvFile    string
}

func ResolveRuntimePaths() RuntimePaths {
	if configPath := expandHome(strings.TrimSpace(os.Getenv(EnvPicoRelayConfig))); configPath != "" {
		return buildRuntimePaths(filepath.Dir(configPath), configPath)
	}

	homeDir := expandHome(strings.TrimSpace(os.Getenv(EnvPicoRelayHome)))
	if homeDir == "" {
		homeDir = defaultPicoRelayHome()
	}

	return buildRuntimePaths(homeDir, filepath.Join(homeDir, "config.json"))
}

func defaultPicoRelayHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".picorelay"
	}
	return filepath.Join(home, ".picorelay")
}

func buildRuntimePaths(homeDir, configPath string) RuntimePaths {
	return RuntimePaths{
		HomeDir:    homeDir,
		ConfigPath: configPath,
		EnvFile:    filepath.Join(homeDir, ".env"),
	}
}
