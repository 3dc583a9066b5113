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

	assert.Equal(t, ":8100", cfg.Server.Addr)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Upstream.Model)
	assert.Equal(t, 0.7, cfg.Upstream.Temperature)
	assert.Equal(t, int64(2000), cfg.Upstream.MaxTokens)
	assert.Equal(t, 20, cfg.Chat.HistoryWindow)
	assert.Equal(t, 1, cfg.Chat.GuestMessageLimit)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = ":9000"

[chat]
history_window = 5

[auth]
email_header = "X-Proxy-Email"

[auth.tokens]
"tok-1" = "alice@example.com"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Chat.HistoryWindow)
	// Untouched sections keep their defaults.
	assert.Equal(t, "buddy.db", cfg.Database.Path)
	assert.Equal(t, "X-Proxy-Email", cfg.Auth.EmailHeader)
	assert.Equal(t, "alice@example.com", cfg.Auth.Tokens["tok-1"])
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-upstream")
	t.Setenv("OPENROUTER_API_KEY_IMAGE", "sk-image")
	t.Setenv("BUDDY_ADDR", ":7777")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-upstream", cfg.Upstream.APIKey)
	assert.Equal(t, "sk-image", cfg.Media.ImageAPIKey)
	assert.Empty(t, cfg.Media.VideoAPIKey)
	assert.Equal(t, ":7777", cfg.Server.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
