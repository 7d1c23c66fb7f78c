package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, 2*time.Second, cfg.TypingDebounce())
	assert.Equal(t, 2*time.Second, cfg.BadgeReset())
	assert.Equal(t, time.Second, cfg.ReconnectBase())
	assert.Equal(t, 3, cfg.Moderation.MaxAttempts)
	assert.Equal(t, 1000, cfg.Analytics.Capacity)
}

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.APIBase, cfg.Server.APIBase)
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"api_base": "https://file.example", "ws_url": "wss://file.example/ws"},
		"moderation": {"max_attempts": 5}
	}`), 0o600))

	t.Setenv("PARLEY_SERVER_API_BASE", "https://env.example")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	// Env beats file, file beats defaults.
	assert.Equal(t, "https://env.example", cfg.Server.APIBase)
	assert.Equal(t, "wss://file.example/ws", cfg.Server.WSURL)
	assert.Equal(t, 5, cfg.Moderation.MaxAttempts)
	assert.Equal(t, 2, cfg.Session.PollIntervalSeconds)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIBase = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Moderation.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Analytics.Capacity = 0
	assert.Error(t, cfg.Validate())
}

func TestSaveConfig_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.Moderation.ExtraEmergencyKeywords = []string{"wildfire"}

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"wildfire"}, loaded.Moderation.ExtraEmergencyKeywords)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
