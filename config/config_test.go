package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "OriginChats", cfg.Server)
	assert.Equal(t, 5613, cfg.Port)
	assert.Equal(t, 30, cfg.HeartbeatInterval)
	assert.Equal(t, []string{"member"}, cfg.DefaultRoles)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 30, cfg.RateLimit.MessagesPerMinute)
	assert.Equal(t, 5, cfg.RateLimit.BurstLimit)
	assert.Equal(t, 60, cfg.RateLimit.CooldownSeconds)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"server": "TestChat",
		"port": 9000,
		"rate_limiting": {"enabled": true, "messages_per_minute": 10},
		"validator": {"url": "http://validator.local", "key": "secret"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "TestChat", cfg.Server)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.RateLimit.MessagesPerMinute)
	assert.Equal(t, "http://validator.local", cfg.Validator.URL)
	// untouched values keep their defaults
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 5, cfg.RateLimit.BurstLimit)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 9000}`), 0o644))

	t.Setenv("ORIGINCHATS_PORT", "7000")
	t.Setenv("ORIGINCHATS_DEFAULT_ROLES", "guest,member")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, []string{"guest", "member"}, cfg.DefaultRoles)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
