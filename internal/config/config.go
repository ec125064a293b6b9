// Package config loads the daemon configuration from YAML with environment
// variable expansion and sane defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the jobdeck daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Assistant AssistantConfig `yaml:"assistant"`
	Tools     ToolsConfig     `yaml:"tools"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything
	// in-process, which is what the tests use.
	Path string `yaml:"path"`
}

type LLMConfig struct {
	// DefaultProvider is tried first; remaining configured providers form
	// the failover chain in FailoverOrder.
	DefaultProvider string                       `yaml:"default_provider"`
	FailoverOrder   []string                     `yaml:"failover_order"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	BaseURL      string        `yaml:"base_url"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

type AssistantConfig struct {
	// SystemPrompt is prepended to every provider call.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxFollowupIterations caps the continuation loop per turn.
	MaxFollowupIterations int `yaml:"max_followup_iterations"`

	// ContextWindowMessages bounds how much history is replayed to
	// stateless providers. Zero replays everything.
	ContextWindowMessages int `yaml:"context_window_messages"`
}

type ToolsConfig struct {
	// DefaultTimeout applies to tools without an explicit timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// Disabled lists tool keys to disable without code changes.
	Disabled []string `yaml:"disabled"`

	// ForceConfirmation lists tool keys gated on user approval regardless
	// of their declared risk.
	ForceConfirmation []string `yaml:"force_confirmation"`

	// PageContexts narrows the advertised tool surface per UI surface.
	// Contexts without an entry see every enabled tool.
	PageContexts map[string][]string `yaml:"page_contexts"`
}

type JobsConfig struct {
	// Workers is the number of background job workers.
	Workers int `yaml:"workers"`

	// MaxAttempts bounds at-least-once retries per job.
	MaxAttempts int `yaml:"max_attempts"`

	// RetentionDays is how long finished job rows are kept before the
	// janitor prunes them.
	RetentionDays int `yaml:"retention_days"`

	// ApprovalTTLHours is how long a tool execution may wait for user
	// approval before the janitor expires it.
	ApprovalTTLHours int `yaml:"approval_ttl_hours"`

	// JanitorSchedule is a cron expression for the retention sweep.
	JanitorSchedule string `yaml:"janitor_schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}

// Load reads and parses the configuration file. Environment variables in the
// file are expanded before parsing, so api_key: ${ANTHROPIC_API_KEY} works.
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no
// providers configured.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "jobdeck.db"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Assistant.MaxFollowupIterations == 0 {
		cfg.Assistant.MaxFollowupIterations = 3
	}
	if cfg.Tools.DefaultTimeout == 0 {
		cfg.Tools.DefaultTimeout = 30 * time.Second
	}
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = 4
	}
	if cfg.Jobs.MaxAttempts == 0 {
		cfg.Jobs.MaxAttempts = 3
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = 7
	}
	if cfg.Jobs.ApprovalTTLHours == 0 {
		cfg.Jobs.ApprovalTTLHours = 24
	}
	if cfg.Jobs.JanitorSchedule == "" {
		cfg.Jobs.JanitorSchedule = "0 3 * * *"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	for name, p := range cfg.LLM.Providers {
		if p.Timeout == 0 {
			p.Timeout = 60 * time.Second
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 4096
		}
		cfg.LLM.Providers[name] = p
	}
}

// Validate checks cross-field constraints that zero-default filling cannot.
func (c *Config) Validate() error {
	if len(c.LLM.Providers) > 0 {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q is not configured", c.LLM.DefaultProvider)
		}
		for _, name := range c.LLM.FailoverOrder {
			if _, ok := c.LLM.Providers[name]; !ok {
				return fmt.Errorf("failover_order references unknown provider %q", name)
			}
		}
	}
	if c.Assistant.MaxFollowupIterations < 1 {
		return fmt.Errorf("max_followup_iterations must be at least 1")
	}
	if c.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("jobs.max_attempts must be at least 1")
	}
	return nil
}

// ProviderChain returns the ordered list of providers to try: the default
// first, then the failover order with the default filtered out.
func (c *Config) ProviderChain() []string {
	chain := []string{c.LLM.DefaultProvider}
	for _, name := range c.LLM.FailoverOrder {
		if name != c.LLM.DefaultProvider {
			chain = append(chain, name)
		}
	}
	return chain
}
