package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config models leadline.yml.
type Config struct {
	Organization struct {
		ID       string `yaml:"id" json:"id"`
		Timezone string `yaml:"timezone" json:"timezone"`
	} `yaml:"organization" json:"organization"`
	States        []StateSeed   `yaml:"states" json:"states"`
	Dashboard     Dashboard     `yaml:"dashboard" json:"dashboard"`
	Notifications Notifications `yaml:"notifications" json:"notifications"`
	Logging       Logging       `yaml:"logging" json:"logging"`
	Sentry        Sentry        `yaml:"sentry" json:"sentry"`
}

// StateSeed is a lead state created on bootstrap if absent. Tracked only
// seeds the overdue policy; later admin edits win.
type StateSeed struct {
	Name     string `yaml:"name" json:"name"`
	Label    string `yaml:"label" json:"label"`
	Color    string `yaml:"color,omitempty" json:"color,omitempty"`
	Terminal bool   `yaml:"terminal" json:"terminal"`
	Tracked  bool   `yaml:"tracked" json:"tracked"`
}

type Dashboard struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	CacheTTL        time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	Top             int           `yaml:"top" json:"top"`
	Redis           Redis         `yaml:"redis" json:"redis"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

type Notifications struct {
	OverdueEnabled bool `yaml:"overdue_enabled" json:"overdue_enabled"`
}

type Logging struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type Sentry struct {
	DSN         string `yaml:"dsn" json:"-"`
	Environment string `yaml:"environment" json:"environment"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ll init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Organization.ID == "" {
		return fmt.Errorf("config.organization.id is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.organization.timezone invalid: %w", err)
	}
	seen := map[string]bool{}
	for i, s := range c.States {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("config.states[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("config.states has duplicate state %s", s.Name)
		}
		seen[s.Name] = true
		if s.Terminal && s.Tracked {
			return fmt.Errorf("state %s cannot be both terminal and tracked", s.Name)
		}
	}
	if c.Dashboard.RefreshInterval < 0 || c.Dashboard.CacheTTL < 0 {
		return fmt.Errorf("config.dashboard intervals must not be negative")
	}
	if c.Dashboard.Top < 0 {
		return fmt.Errorf("config.dashboard.top must not be negative")
	}
	if c.Dashboard.Redis.Enabled && c.Dashboard.Redis.Address == "" {
		return fmt.Errorf("config.dashboard.redis.address is required when redis is enabled")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.logging.format must be text or json")
	}
	return nil
}

// Location is the single reference zone for "today". Empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Organization.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Organization.Timezone)
}

// TerminalStates lists seeded states marked terminal.
func (c *Config) TerminalStates() []string {
	var out []string
	for _, s := range c.States {
		if s.Terminal {
			out = append(out, s.Name)
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "leadline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default("default-org"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config for an organization.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(orgID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
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

const defaultTemplate = `organization:
  id: %s
  timezone: UTC

states:
  - {name: open, label: Open, color: "#3b82f6", tracked: true}
  - {name: follow_up, label: Follow Up, color: "#f59e0b", tracked: true}
  - {name: closed, label: Closed, color: "#22c55e", terminal: true}
  - {name: junk, label: Junk, color: "#6b7280", terminal: true}
  - {name: future, label: Future, color: "#8b5cf6"}
  - {name: others, label: Others, color: "#94a3b8"}

dashboard:
  refresh_interval: 30s
  cache_ttl: 15s
  top: 5
  redis:
    enabled: false
    address: 127.0.0.1:6379
    db: 0

notifications:
  overdue_enabled: true

logging:
  level: info
  format: text

sentry:
  dsn: ""
  environment: development
`
