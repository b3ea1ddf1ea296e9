package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the assistant gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Assistant AssistantConfig `yaml:"assistant"`
	Content   ContentConfig   `yaml:"content"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ContentConfig defines the platform content API settings, the
// boundary to the durable document store.
type ContentConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// GetTimeout returns the content API timeout as a time.Duration.
func (c *ContentConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// RedisConfig defines the shared key-value store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AssistantConfig defines the external assistant API settings.
type AssistantConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	CoachAssistantID  string `yaml:"coach_assistant_id"`
	MentorAssistantID string `yaml:"mentor_assistant_id"`
	Timeout           string `yaml:"timeout"`
}

// GetTimeout returns the assistant HTTP timeout as a time.Duration.
func (a *AssistantConfig) GetTimeout() time.Duration {
	if a.Timeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// CacheConfig defines TTL overrides for the caching layer.
type CacheConfig struct {
	ThreadTTL  string `yaml:"thread_ttl"`
	ContextTTL string `yaml:"context_ttl"`
	SearchTTL  string `yaml:"search_ttl"`
}

// ThreadTTLDuration returns the thread mapping TTL (default 7 days).
func (c *CacheConfig) ThreadTTLDuration() time.Duration {
	return parseDurationOr(c.ThreadTTL, 7*24*time.Hour)
}

// ContextTTLDuration returns the context blob TTL (default 1 hour).
func (c *CacheConfig) ContextTTLDuration() time.Duration {
	return parseDurationOr(c.ContextTTL, time.Hour)
}

// SearchTTLDuration returns the search result TTL (default 30 minutes).
func (c *CacheConfig) SearchTTLDuration() time.Duration {
	return parseDurationOr(c.SearchTTL, 30*time.Minute)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from a YAML file with environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.Port)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if key := os.Getenv("ASSISTANT_API_KEY"); key != "" {
		c.Assistant.APIKey = key
	}
	if u := os.Getenv("CONTENT_API_URL"); u != "" {
		c.Content.BaseURL = u
	}
	if id := os.Getenv("COACH_ASSISTANT_ID"); id != "" {
		c.Assistant.CoachAssistantID = id
	}
	if id := os.Getenv("MENTOR_ASSISTANT_ID"); id != "" {
		c.Assistant.MentorAssistantID = id
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.Assistant.BaseURL == "" {
		return fmt.Errorf("assistant base URL is required")
	}
	if c.Content.BaseURL == "" {
		return fmt.Errorf("content API base URL is required")
	}
	if c.Assistant.APIKey == "" {
		return fmt.Errorf("assistant API key is required")
	}
	if c.Assistant.CoachAssistantID == "" && c.Assistant.MentorAssistantID == "" {
		return fmt.Errorf("at least one assistant ID is required")
	}
	return nil
}
