// Package config loads the butler configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/notify/whatsapp"
	"github.com/noble1911/butler/internal/ratelimit"
	"github.com/noble1911/butler/internal/tools/homeassistant"
	"github.com/noble1911/butler/internal/tools/weather"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      auth.Config     `yaml:"auth"`
	Agent     AgentConfig     `yaml:"agent"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AgentConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxRounds    int    `yaml:"max_rounds"`
	MaxTokens    int    `yaml:"max_tokens"`
	HistoryLimit int    `yaml:"history_limit"`
}

type RateLimitConfig struct {
	Categories []ratelimit.Category `yaml:"categories"`
	Fallback   ratelimit.Category   `yaml:"fallback"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Push     PushConfig     `yaml:"push"`
}

type WhatsAppConfig struct {
	Enabled bool `yaml:"enabled"`
	whatsapp.Config `yaml:",inline"`
}

type PushConfig struct {
	Enabled bool `yaml:"enabled"`
	// VAPID keys identify this server to browser push services.
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"`
}

type ToolsConfig struct {
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Weather       WeatherConfig       `yaml:"weather"`
}

type HomeAssistantConfig struct {
	Enabled bool `yaml:"enabled"`
	homeassistant.Config `yaml:",inline"`
}

type WeatherConfig struct {
	Enabled bool `yaml:"enabled"`
	weather.Config `yaml:",inline"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file, expanding ${VAR}
// references from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "butler.db"
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Agent.MaxRounds == 0 {
		cfg.Agent.MaxRounds = 5
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.Agent.HistoryLimit == 0 {
		cfg.Agent.HistoryLimit = 40
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = time.Minute
	}
	if len(cfg.RateLimit.Categories) == 0 {
		cfg.RateLimit.Categories = []ratelimit.Category{
			{Name: "auth", Prefix: "/api/auth/", MaxRequests: 10, Window: time.Minute},
			{Name: "chat", Prefix: "/api/chat", MaxRequests: 20, Window: time.Minute},
		}
	}
	if cfg.RateLimit.Fallback.Name == "" {
		cfg.RateLimit.Fallback = ratelimit.Category{
			Name: "default", MaxRequests: 60, Window: time.Minute,
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Agent.APIKey == "" {
		return fmt.Errorf("agent.api_key is required")
	}
	if c.Auth.Secret == "" && len(c.Auth.Users) > 0 {
		return fmt.Errorf("auth.secret is required when users are configured")
	}
	for _, cat := range c.RateLimit.Categories {
		if cat.MaxRequests <= 0 || cat.Window <= 0 {
			return fmt.Errorf("rate_limit category %q needs positive max_requests and window", cat.Name)
		}
	}
	return nil
}
