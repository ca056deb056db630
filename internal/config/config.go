package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models bops.yml, the per-tenant configuration.
type Config struct {
	Tenant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"tenant"`
	Requests struct {
		Categories map[string]CategoryPolicy `yaml:"categories"`
	} `yaml:"requests"`
	Calendar struct {
		Holidays []string `yaml:"holidays"`
	} `yaml:"calendar"`
	ApplicationTypes map[string]ApplicationType `yaml:"application_types"`
	Notifications    Notifications              `yaml:"notifications"`
	Sweep            Sweep                      `yaml:"sweep"`
}

// CategoryPolicy controls the response window of one validation request category.
type CategoryPolicy struct {
	DeadlineDays int  `yaml:"deadline_days"`
	AutoClose    bool `yaml:"auto_close"`
}

type ApplicationType struct {
	Description string   `yaml:"description"`
	Features    []string `yaml:"features"`
}

type Notifications struct {
	Driver              string  `yaml:"driver"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	MaxAttempts         int     `yaml:"max_attempts"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	RatePerSecond       float64 `yaml:"rate_per_second"`
	Webhook             struct {
		URL    string `yaml:"url"`
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

type Sweep struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	RedisAddr       string `yaml:"redis_addr"`
	LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
}

// Features known to the task list definitions.
var knownFeatures = map[string]bool{
	"considerations": true,
	"conditions":     true,
	"informatives":   true,
	"heads_of_terms": true,
}

var knownCategories = map[string]bool{
	"description_change":         true,
	"additional_document":        true,
	"red_line_boundary_change":   true,
	"ownership_certificate":      true,
	"pre_commencement_condition": true,
	"fee_change":                 true,
	"time_extension":             true,
	"heads_of_terms":             true,
	"other_change":               true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bops config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	if len(c.Requests.Categories) == 0 {
		return fmt.Errorf("config.requests.categories is required")
	}
	for name, policy := range c.Requests.Categories {
		if !knownCategories[name] {
			return fmt.Errorf("unknown request category %s", name)
		}
		if policy.DeadlineDays <= 0 {
			return fmt.Errorf("request category %s needs deadline_days > 0", name)
		}
	}
	for _, day := range c.Calendar.Holidays {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			return fmt.Errorf("holiday %q is not a YYYY-MM-DD date", day)
		}
	}
	for name, at := range c.ApplicationTypes {
		if name == "" {
			return fmt.Errorf("config.application_types contains empty name")
		}
		for _, f := range at.Features {
			if !knownFeatures[f] {
				return fmt.Errorf("application type %s has unknown feature %s", name, f)
			}
		}
	}
	switch c.Notifications.Driver {
	case "", "log":
	case "webhook":
		if c.Notifications.Webhook.URL == "" {
			return fmt.Errorf("config.notifications.webhook.url is required for the webhook driver")
		}
	case "kafka":
		if len(c.Notifications.Kafka.Brokers) == 0 || c.Notifications.Kafka.Topic == "" {
			return fmt.Errorf("config.notifications.kafka needs brokers and topic")
		}
	default:
		return fmt.Errorf("unknown notifications driver %s", c.Notifications.Driver)
	}
	if c.Notifications.MaxAttempts < 0 || c.Notifications.TimeoutSeconds < 0 {
		return fmt.Errorf("config.notifications limits must not be negative")
	}
	return nil
}

// DeadlineDays returns the business-day response window for a request category.
func (c *Config) DeadlineDays(category string) int {
	if p, ok := c.Requests.Categories[category]; ok && p.DeadlineDays > 0 {
		return p.DeadlineDays
	}
	return 15
}

// AutoCloses reports whether open requests of the category close themselves at the deadline.
func (c *Config) AutoCloses(category string) bool {
	return c.Requests.Categories[category].AutoClose
}

// HasFeature reports whether an application type enables the named feature.
func (c *Config) HasFeature(applicationType, feature string) bool {
	at, ok := c.ApplicationTypes[applicationType]
	if !ok {
		return false
	}
	for _, f := range at.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// NotificationTimeout is the per-message delivery bound.
func (c *Config) NotificationTimeout() time.Duration {
	if c.Notifications.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Notifications.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bops.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a tenant.
func Default(tenantID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(tenantID))).Decode(&cfg)
	cfg.Tenant.ID = tenantID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tenant:
  id: %s
  name: Local Planning Authority

requests:
  categories:
    description_change:
      deadline_days: 5
      auto_close: true
    additional_document:
      deadline_days: 15
    red_line_boundary_change:
      deadline_days: 5
      auto_close: true
    ownership_certificate:
      deadline_days: 15
    pre_commencement_condition:
      deadline_days: 10
      auto_close: true
    fee_change:
      deadline_days: 15
    time_extension:
      deadline_days: 5
      auto_close: true
    heads_of_terms:
      deadline_days: 10
      auto_close: true
    other_change:
      deadline_days: 15

calendar:
  holidays:
    - "2025-12-25"
    - "2025-12-26"
    - "2026-01-01"
    - "2026-04-03"
    - "2026-04-06"
    - "2026-05-04"
    - "2026-05-25"
    - "2026-08-31"
    - "2026-12-25"
    - "2026-12-28"
    - "2027-01-01"

application_types:
  full:
    description: "Full planning permission"
    features: [considerations, conditions, informatives, heads_of_terms]
  householder:
    description: "Householder planning permission"
    features: [considerations, conditions, informatives]
  prior_approval:
    description: "Prior approval"
    features: [conditions]
  lawfulness_certificate:
    description: "Lawful development certificate"
    features: []
  pre_application:
    description: "Pre-application advice"
    features: [considerations]

notifications:
  driver: log
  timeout_seconds: 10
  max_attempts: 5
  poll_interval_seconds: 5
  rate_per_second: 5

sweep:
  interval_seconds: 3600
  lock_ttl_seconds: 300
`
