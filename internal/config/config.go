package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"agencyhub/internal/domain"
)

// MinLookbackDays is the longest density window; a shorter lookback would
// under-count it.
const MinLookbackDays = 30

// Config models agency.yml.
type Config struct {
	Eligibility struct {
		Roles    []string `yaml:"roles" json:"roles"`
		Statuses []string `yaml:"statuses" json:"statuses"`
	} `yaml:"eligibility" json:"eligibility"`
	Rhythm struct {
		LookbackDays int    `yaml:"lookback_days" json:"lookback_days"`
		Timezone     string `yaml:"timezone" json:"timezone"`
	} `yaml:"rhythm" json:"rhythm"`
	Logging struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"logging" json:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url" json:"url"`
	Events  []string `yaml:"events" json:"events,omitempty"`
	Secret  string   `yaml:"secret" json:"-"`
	Enabled *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with agency config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Eligibility.Roles) == 0 {
		return fmt.Errorf("config.eligibility.roles is required")
	}
	for _, role := range c.Eligibility.Roles {
		if !domain.ValidRole(role) {
			return fmt.Errorf("config.eligibility.roles contains unknown role %q", role)
		}
	}
	if len(c.Eligibility.Statuses) == 0 {
		return fmt.Errorf("config.eligibility.statuses is required")
	}
	for _, status := range c.Eligibility.Statuses {
		if !domain.ValidStatus(status) {
			return fmt.Errorf("config.eligibility.statuses contains unknown status %q", status)
		}
	}
	if c.Rhythm.LookbackDays < MinLookbackDays {
		return fmt.Errorf("config.rhythm.lookback_days must be at least %d", MinLookbackDays)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Location resolves rhythm.timezone; empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Rhythm.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Rhythm.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config.rhythm.timezone invalid: %w", err)
	}
	return loc, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agency.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Eligibility.Roles = nil
	cfg.Eligibility.Statuses = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Eligibility.Roles == nil {
		cfg.Eligibility.Roles = Default().Eligibility.Roles
	}
	if cfg.Eligibility.Statuses == nil {
		cfg.Eligibility.Statuses = Default().Eligibility.Statuses
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `eligibility:
  # Only these roles receive a rhythm state.
  roles: [agent, recruit]
  statuses: [onboarding, active]

rhythm:
  lookback_days: 30
  timezone: UTC

logging:
  level: info
  format: console

webhooks: []
`
