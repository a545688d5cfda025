package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/grinbot/grinbot/pkg/config"
	"github.com/grinbot/grinbot/pkg/logger"
)

const Logo = "😺"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// ConfigFile is set by the root --config flag.
var ConfigFile string

// GetConfigPath resolves the config file: flag, then GRINBOT_CONFIG, then
// ~/.grinbot/config.json.
func GetConfigPath() string {
	if ConfigFile != "" {
		return ConfigFile
	}
	if p := os.Getenv("GRINBOT_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".grinbot", "config.json")
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(GetConfigPath())
}

// SetupLogging applies the log section. debug forces the debug level.
func SetupLogging(cfg *config.Config, debug bool) error {
	logger.SetFormat(cfg.Log.Format)
	if level, ok := logger.ParseLevel(cfg.Log.Level); ok {
		logger.SetLevel(level)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
	if cfg.Log.File != "" {
		if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
			return fmt.Errorf("enable file logging: %w", err)
		}
	}
	return nil
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

// GetVersion returns the version string
func GetVersion() string {
	return version
}
