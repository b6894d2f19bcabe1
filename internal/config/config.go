// Package config loads system-wide settings with precedence
// file > environment > defaults. Files may be JSON or YAML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Redis     *RedisConfig     `json:"redis"`
	RateLimit *RateLimitConfig `json:"ratelimit"`
	Spam      *SpamConfig      `json:"spam"`
	Poke      *PokeConfig      `json:"poke"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// RedisConfig selects the limiter/classifier backing store. With Enabled
// false everything runs on the in-process store, which is fine for a single
// instance.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type TierLimitConfig struct {
	Count    int           `json:"count"`
	Window   time.Duration `json:"window"`
	Cooldown time.Duration `json:"cooldown"`
}

type RateLimitConfig struct {
	Disabled            bool                       `json:"disabled"`
	MessageTiers        map[string]TierLimitConfig `json:"message_tiers"`
	AgentGlobalCooldown time.Duration              `json:"agent_global_cooldown"`
	AgentSessionLimit   int                        `json:"agent_session_limit"`
	AgentSessionTTL     time.Duration              `json:"agent_session_ttl"`
	PokeLimit           int                        `json:"poke_limit"`
	PokeWindow          time.Duration              `json:"poke_window"`
}

type SpamConfig struct {
	DuplicateTTL      time.Duration `json:"duplicate_ttl"`
	CapsPercent       int           `json:"caps_percent"`
	MaxURLs           int           `json:"max_urls"`
	RepeatedRunLength int           `json:"repeated_run_length"`
	Profanity         []string      `json:"profanity"`
	MuteDuration      time.Duration `json:"mute_duration"`
}

type PokeConfig struct {
	Expiration    time.Duration `json:"expiration"`
	MaxPerWindow  int           `json:"max_per_window"`
	Window        time.Duration `json:"window"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/brewline.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Redis: &RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		RateLimit: &RateLimitConfig{
			MessageTiers: map[string]TierLimitConfig{
				"standard": {Count: 10, Window: time.Minute, Cooldown: 2 * time.Second},
				"regular":  {Count: 20, Window: time.Minute, Cooldown: time.Second},
				"staff":    {Count: 60, Window: time.Minute, Cooldown: 0},
			},
			AgentGlobalCooldown: 30 * time.Second,
			AgentSessionLimit:   2,
			AgentSessionTTL:     24 * time.Hour,
			PokeLimit:           5,
			PokeWindow:          24 * time.Hour,
		},
		Spam: &SpamConfig{
			DuplicateTTL:      5 * time.Minute,
			CapsPercent:       50,
			MaxURLs:           2,
			RepeatedRunLength: 7,
			Profanity:         []string{},
			MuteDuration:      24 * time.Hour,
		},
		Poke: &PokeConfig{
			Expiration:    24 * time.Hour,
			MaxPerWindow:  5,
			Window:        24 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address cannot be empty when redis is enabled")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if _, ok := c.RateLimit.MessageTiers["standard"]; !ok {
		return fmt.Errorf("rate limit configuration needs a standard tier")
	}
	for tier, limit := range c.RateLimit.MessageTiers {
		if limit.Count <= 0 || limit.Window <= 0 {
			return fmt.Errorf("invalid message limit for tier %s", tier)
		}
	}
	if c.RateLimit.AgentSessionLimit <= 0 {
		return fmt.Errorf("agent session limit must be positive")
	}
	if c.RateLimit.PokeLimit <= 0 || c.RateLimit.PokeWindow <= 0 {
		return fmt.Errorf("poke limit and window must be positive")
	}

	if c.Spam == nil {
		return fmt.Errorf("spam configuration is required")
	}
	if c.Spam.CapsPercent <= 0 || c.Spam.CapsPercent > 100 {
		return fmt.Errorf("caps percent must be between 1 and 100")
	}
	if c.Spam.DuplicateTTL <= 0 {
		return fmt.Errorf("duplicate TTL must be positive")
	}
	if c.Spam.RepeatedRunLength < 2 {
		return fmt.Errorf("repeated run length must be at least 2")
	}
	if c.Spam.MuteDuration <= 0 {
		return fmt.Errorf("mute duration must be positive")
	}

	if c.Poke == nil {
		return fmt.Errorf("poke configuration is required")
	}
	if c.Poke.Expiration <= 0 {
		return fmt.Errorf("poke expiration must be positive")
	}
	if c.Poke.SweepInterval <= 0 {
		return fmt.Errorf("poke sweep interval must be positive")
	}

	return nil
}

// LoadFromEnv applies BREWLINE_* environment variables over the defaults.
// Unparseable values are ignored in favor of the default.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("BREWLINE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("BREWLINE_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("BREWLINE_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if addr := os.Getenv("BREWLINE_REDIS_ADDR"); addr != "" {
		config.Redis.Enabled = true
		config.Redis.Addr = addr
	}
	if password := os.Getenv("BREWLINE_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("BREWLINE_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = n
		}
	}
	if disabled := os.Getenv("BREWLINE_RATELIMIT_DISABLED"); disabled != "" {
		if b, err := strconv.ParseBool(disabled); err == nil {
			config.RateLimit.Disabled = b
		}
	}
	if cooldown := os.Getenv("BREWLINE_AGENT_GLOBAL_COOLDOWN"); cooldown != "" {
		if d, err := time.ParseDuration(cooldown); err == nil {
			config.RateLimit.AgentGlobalCooldown = d
		}
	}
	if limit := os.Getenv("BREWLINE_AGENT_SESSION_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.RateLimit.AgentSessionLimit = n
		}
	}
	if limit := os.Getenv("BREWLINE_POKE_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.RateLimit.PokeLimit = n
		}
	}
	if expiration := os.Getenv("BREWLINE_POKE_EXPIRATION"); expiration != "" {
		if d, err := time.ParseDuration(expiration); err == nil {
			config.Poke.Expiration = d
		}
	}
	if duration := os.Getenv("BREWLINE_MUTE_DURATION"); duration != "" {
		if d, err := time.ParseDuration(duration); err == nil {
			config.Spam.MuteDuration = d
		}
	}
	if words := os.Getenv("BREWLINE_SPAM_PROFANITY"); words != "" {
		config.Spam.Profanity = strings.Split(words, ",")
	}

	return config
}

// ConfigFile mirrors Config with string durations so files stay readable.
// The same struct parses both JSON and YAML.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Redis     *RedisConfig         `json:"redis" yaml:"redis"`
	RateLimit *RateLimitConfigFile `json:"ratelimit" yaml:"ratelimit"`
	Spam      *SpamConfigFile      `json:"spam" yaml:"spam"`
	Poke      *PokeConfigFile      `json:"poke" yaml:"poke"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path" yaml:"path"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	Host         string `json:"host" yaml:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	BufferSize   int    `json:"buffer_size" yaml:"buffer_size"`
}

type TierLimitConfigFile struct {
	Count    int    `json:"count" yaml:"count"`
	Window   string `json:"window" yaml:"window"`
	Cooldown string `json:"cooldown" yaml:"cooldown"`
}

type RateLimitConfigFile struct {
	Disabled            bool                           `json:"disabled" yaml:"disabled"`
	MessageTiers        map[string]TierLimitConfigFile `json:"message_tiers" yaml:"message_tiers"`
	AgentGlobalCooldown string                         `json:"agent_global_cooldown" yaml:"agent_global_cooldown"`
	AgentSessionLimit   int                            `json:"agent_session_limit" yaml:"agent_session_limit"`
	AgentSessionTTL     string                         `json:"agent_session_ttl" yaml:"agent_session_ttl"`
	PokeLimit           int                            `json:"poke_limit" yaml:"poke_limit"`
	PokeWindow          string                         `json:"poke_window" yaml:"poke_window"`
}

type SpamConfigFile struct {
	DuplicateTTL      string   `json:"duplicate_ttl" yaml:"duplicate_ttl"`
	CapsPercent       int      `json:"caps_percent" yaml:"caps_percent"`
	MaxURLs           int      `json:"max_urls" yaml:"max_urls"`
	RepeatedRunLength int      `json:"repeated_run_length" yaml:"repeated_run_length"`
	Profanity         []string `json:"profanity" yaml:"profanity"`
	MuteDuration      string   `json:"mute_duration" yaml:"mute_duration"`
}

type PokeConfigFile struct {
	Expiration    string `json:"expiration" yaml:"expiration"`
	MaxPerWindow  int    `json:"max_per_window" yaml:"max_per_window"`
	Window        string `json:"window" yaml:"window"`
	SweepInterval string `json:"sweep_interval" yaml:"sweep_interval"`
}

// LoadFromFile reads a JSON or YAML configuration file, chosen by
// extension, and overlays it on the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var configFile ConfigFile
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yaml.Unmarshal(data, &configFile)
	} else {
		err = json.Unmarshal(data, &configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := DefaultConfig()
	applyConfigFile(config, &configFile)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return config, nil
}

func applyConfigFile(config *Config, file *ConfigFile) {
	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		applyDuration(&config.Database.Timeout, file.Database.Timeout)
	}

	if file.HTTP != nil {
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		applyDuration(&config.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		applyDuration(&config.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}

	if file.WebSocket != nil {
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
		applyDuration(&config.WebSocket.PingInterval, file.WebSocket.PingInterval)
		applyDuration(&config.WebSocket.ReadTimeout, file.WebSocket.ReadTimeout)
		applyDuration(&config.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout)
	}

	if file.Redis != nil {
		config.Redis = file.Redis
	}

	if file.RateLimit != nil {
		config.RateLimit.Disabled = file.RateLimit.Disabled
		if len(file.RateLimit.MessageTiers) > 0 {
			tiers := make(map[string]TierLimitConfig, len(file.RateLimit.MessageTiers))
			for tier, limit := range file.RateLimit.MessageTiers {
				entry := TierLimitConfig{Count: limit.Count, Window: time.Minute}
				applyDuration(&entry.Window, limit.Window)
				applyDuration(&entry.Cooldown, limit.Cooldown)
				tiers[tier] = entry
			}
			config.RateLimit.MessageTiers = tiers
		}
		applyDuration(&config.RateLimit.AgentGlobalCooldown, file.RateLimit.AgentGlobalCooldown)
		if file.RateLimit.AgentSessionLimit > 0 {
			config.RateLimit.AgentSessionLimit = file.RateLimit.AgentSessionLimit
		}
		applyDuration(&config.RateLimit.AgentSessionTTL, file.RateLimit.AgentSessionTTL)
		if file.RateLimit.PokeLimit > 0 {
			config.RateLimit.PokeLimit = file.RateLimit.PokeLimit
		}
		applyDuration(&config.RateLimit.PokeWindow, file.RateLimit.PokeWindow)
	}

	if file.Spam != nil {
		applyDuration(&config.Spam.DuplicateTTL, file.Spam.DuplicateTTL)
		if file.Spam.CapsPercent > 0 {
			config.Spam.CapsPercent = file.Spam.CapsPercent
		}
		if file.Spam.MaxURLs > 0 {
			config.Spam.MaxURLs = file.Spam.MaxURLs
		}
		if file.Spam.RepeatedRunLength > 0 {
			config.Spam.RepeatedRunLength = file.Spam.RepeatedRunLength
		}
		if file.Spam.Profanity != nil {
			config.Spam.Profanity = file.Spam.Profanity
		}
		applyDuration(&config.Spam.MuteDuration, file.Spam.MuteDuration)
	}

	if file.Poke != nil {
		applyDuration(&config.Poke.Expiration, file.Poke.Expiration)
		if file.Poke.MaxPerWindow > 0 {
			config.Poke.MaxPerWindow = file.Poke.MaxPerWindow
		}
		applyDuration(&config.Poke.Window, file.Poke.Window)
		applyDuration(&config.Poke.SweepInterval, file.Poke.SweepInterval)
	}
}

func applyDuration(dst *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*dst = d
	}
}

// LoadConfigWithPrecedence builds the effective configuration:
// file > environment > defaults. File errors are ignored so a bad or
// missing file still leaves a working environment-based setup.
func LoadConfigWithPrecedence(path string) *Config {
	config := LoadFromEnv()

	if path != "" {
		if fileConfig, err := LoadFromFile(path); err == nil {
			config = fileConfig
		}
	}

	return config
}
