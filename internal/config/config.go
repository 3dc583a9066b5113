// Package config loads server configuration from an optional TOML file with
// in-code defaults. Credentials are taken from the environment only and are
// never read from the file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	Addr            string  `toml:"addr"`
	RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
	RateLimitBurst  int     `toml:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type UpstreamConfig struct {
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int64   `toml:"max_tokens"`
	APIKey      string  `toml:"-"`
}

type MediaConfig struct {
	BaseURL        string `toml:"base_url"`
	ImageModel     string `toml:"image_model"`
	VideoModel     string `toml:"video_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ImageAPIKey    string `toml:"-"`
	VideoAPIKey    string `toml:"-"`
}

// ChatConfig carries product policy values. The history window bounds the
// context sent upstream; the guest message limit is enforced by the client
// collaborator and only published here.
type ChatConfig struct {
	HistoryWindow     int    `toml:"history_window"`
	GuestMessageLimit int    `toml:"guest_message_limit"`
	SystemPrompt      string `toml:"system_prompt,omitempty"`
}

type AuthConfig struct {
	EmailHeader string            `toml:"email_header"`
	NameHeader  string            `toml:"name_header"`
	Tokens      map[string]string `toml:"tokens"`
}

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Upstream UpstreamConfig `toml:"upstream"`
	Media    MediaConfig    `toml:"media"`
	Chat     ChatConfig     `toml:"chat"`
	Auth     AuthConfig     `toml:"auth"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8100",
			RateLimitPerSec: 5,
			RateLimitBurst:  10,
		},
		Database: DatabaseConfig{
			Path: "buddy.db",
		},
		Upstream: UpstreamConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   2000,
		},
		Media: MediaConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			ImageModel:     "stabilityai/stable-diffusion-xl-base-1.0",
			VideoModel:     "luma/ray",
			TimeoutSeconds: 120,
		},
		Chat: ChatConfig{
			HistoryWindow:     20,
			GuestMessageLimit: 1,
		},
		Auth: AuthConfig{
			EmailHeader: "X-Auth-Email",
			NameHeader:  "X-Auth-Name",
		},
	}
}

// Load reads the TOML file at path, when given, over the defaults, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY_IMAGE"); v != "" {
		c.Media.ImageAPIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY_VIDEO"); v != "" {
		c.Media.VideoAPIKey = v
	}
	if v := os.Getenv("BUDDY_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("BUDDY_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("BUDDY_MODEL"); v != "" {
		c.Upstream.Model = v
	}
}
