package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"bad http port", func(c *Config) { c.HTTP.Port = 99999 }},
		{"redis enabled without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"missing standard tier", func(c *Config) { delete(c.RateLimit.MessageTiers, "standard") }},
		{"zero poke limit", func(c *Config) { c.RateLimit.PokeLimit = 0 }},
		{"caps percent over 100", func(c *Config) { c.Spam.CapsPercent = 150 }},
		{"repeated run too short", func(c *Config) { c.Spam.RepeatedRunLength = 1 }},
		{"zero sweep interval", func(c *Config) { c.Poke.SweepInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BREWLINE_HTTP_PORT", "9090")
	t.Setenv("BREWLINE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("BREWLINE_POKE_LIMIT", "10")
	t.Setenv("BREWLINE_MUTE_DURATION", "1h")
	t.Setenv("BREWLINE_SPAM_PROFANITY", "badword,worse")

	cfg := LoadFromEnv()
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.HTTP.Port)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.RateLimit.PokeLimit != 10 {
		t.Errorf("poke limit = %d, want 10", cfg.RateLimit.PokeLimit)
	}
	if cfg.Spam.MuteDuration != time.Hour {
		t.Errorf("mute duration = %s, want 1h", cfg.Spam.MuteDuration)
	}
	if len(cfg.Spam.Profanity) != 2 {
		t.Errorf("profanity = %v", cfg.Spam.Profanity)
	}
}

func TestLoadFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("BREWLINE_HTTP_PORT", "not-a-number")
	t.Setenv("BREWLINE_POKE_EXPIRATION", "tomorrow")

	cfg := LoadFromEnv()
	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.HTTP.Port)
	}
	if cfg.Poke.Expiration != 24*time.Hour {
		t.Errorf("expiration = %s, want default 24h", cfg.Poke.Expiration)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"http": {"port": 9000, "read_timeout": "15s"},
		"ratelimit": {
			"message_tiers": {
				"standard": {"count": 5, "window": "30s", "cooldown": "1s"}
			},
			"poke_limit": 3,
			"poke_window": "12h"
		},
		"spam": {"caps_percent": 70, "profanity": ["spamword"]}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.HTTP.Port != 9000 || cfg.HTTP.ReadTimeout != 15*time.Second {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	standard := cfg.RateLimit.MessageTiers["standard"]
	if standard.Count != 5 || standard.Window != 30*time.Second || standard.Cooldown != time.Second {
		t.Errorf("standard tier = %+v", standard)
	}
	if cfg.RateLimit.PokeLimit != 3 || cfg.RateLimit.PokeWindow != 12*time.Hour {
		t.Errorf("poke limits = %+v", cfg.RateLimit)
	}
	if cfg.Spam.CapsPercent != 70 || len(cfg.Spam.Profanity) != 1 {
		t.Errorf("spam = %+v", cfg.Spam)
	}
	// Untouched sections keep their defaults.
	if cfg.Poke.Expiration != 24*time.Hour {
		t.Errorf("poke expiration = %s, want default", cfg.Poke.Expiration)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http:
  port: 9001
redis:
  enabled: true
  addr: redis.internal:6379
poke:
  expiration: 48h
  sweep_interval: 1m
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.HTTP.Port != 9001 {
		t.Errorf("port = %d, want 9001", cfg.HTTP.Port)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Poke.Expiration != 48*time.Hour || cfg.Poke.SweepInterval != time.Minute {
		t.Errorf("poke = %+v", cfg.Poke)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("BREWLINE_HTTP_PORT", "9090")

	// File wins over environment.
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"http": {"port": 7000}}`), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cfg := LoadConfigWithPrecedence(path)
	if cfg.HTTP.Port != 7000 {
		t.Errorf("port = %d, want file value 7000", cfg.HTTP.Port)
	}

	// Missing file falls back to the environment.
	cfg = LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "missing.json"))
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want env value 9090", cfg.HTTP.Port)
	}
}
