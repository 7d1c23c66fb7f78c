package internal

import (
	"fmt"
	"runtime"

	"github.com/tinyland-inc/parley/pkg/auth"
	"github.com/tinyland-inc/parley/pkg/config"
	"github.com/tinyland-inc/parley/pkg/logger"
)

const Logo = "🕊️"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func GetConfigPath() string {
	return config.DefaultPath()
}

func GetCredentialPath() string {
	return auth.DefaultPath()
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(GetConfigPath())
}

// LoadCredential returns the stored session credential, with a hint to run
// onboarding when none exists.
func LoadCredential() (*auth.Credential, error) {
	cred, err := auth.Load(GetCredentialPath())
	if err != nil {
		return nil, fmt.Errorf("no usable credential (run 'parley onboard' first): %w", err)
	}
	return cred, nil
}

// ApplyLogConfig sets the global log level and optional log file.
func ApplyLogConfig(cfg *config.Config) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.File != "" {
		if err := logger.SetLogFile(cfg.Log.File); err != nil {
			logger.WarnCF("cli", "Log file unavailable", map[string]any{"error": err.Error()})
		}
	}
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
