// Package config provides configuration types and utilities for the
// collaboration engine. This file contains the main unified configuration
// entry point.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// MAIN UNIFIED CONFIGURATION
// ============================================================================

// Config is the complete configuration: the single entry point for workers,
// server, audit storage, synthesis and defaults.
type Config struct {
	Name string `yaml:"name,omitempty"`

	// Workers maps worker identifiers to their capability configuration.
	Workers map[string]WorkerConfig `yaml:"workers,omitempty"`

	Server    ServerConfig    `yaml:"server,omitempty"`
	Audit     AuditConfig     `yaml:"audit,omitempty"`
	Synthesis SynthesisConfig `yaml:"synthesis,omitempty"`
	Defaults  DefaultsConfig  `yaml:"defaults,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// Validate implements validation for Config
func (c *Config) Validate() error {
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker must be configured")
	}
	for name, w := range c.Workers {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("worker '%s' validation failed: %w", name, err)
		}
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit config validation failed: %w", err)
	}
	if err := c.Synthesis.Validate(c.Workers); err != nil {
		return fmt.Errorf("synthesis config validation failed: %w", err)
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	return nil
}

// SetDefaults implements defaulting for Config
func (c *Config) SetDefaults() {
	if c.Workers == nil {
		c.Workers = make(map[string]WorkerConfig)
	}
	for name := range c.Workers {
		w := c.Workers[name]
		w.SetDefaults()
		c.Workers[name] = w
	}
	c.Server.SetDefaults()
	c.Audit.SetDefaults()
	c.Defaults.SetDefaults()
	c.Logging.SetDefaults()
}

// ============================================================================
// WORKER CONFIGURATION
// ============================================================================

// Worker types.
const (
	WorkerTypeHTTP = "http"
	WorkerTypeEcho = "echo"
)

// WorkerConfig configures one worker capability. Type "http" invokes a remote
// endpoint; type "echo" answers with its own input and exists for smoke tests
// and dry runs.
type WorkerConfig struct {
	Type        string `yaml:"type,omitempty"`
	Description string `yaml:"description,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`

	// TimeoutSeconds bounds one invocation. Zero uses the built-in default.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// Validate validates a worker configuration
func (c *WorkerConfig) Validate() error {
	switch c.Type {
	case WorkerTypeHTTP:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for http workers")
		}
	case WorkerTypeEcho:
		// No further requirements
	default:
		return fmt.Errorf("unsupported worker type: %s (supported: http, echo)", c.Type)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds cannot be negative")
	}
	return nil
}

// SetDefaults sets default values for a worker configuration
func (c *WorkerConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = WorkerTypeHTTP
	}
}

// ============================================================================
// SERVER CONFIGURATION
// ============================================================================

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// SetDefaults sets default values for the server configuration
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// Address returns the listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ============================================================================
// AUDIT CONFIGURATION
// ============================================================================

// AuditConfig configures the step audit-trail store.
type AuditConfig struct {
	// Backend is "memory", "sqlite", "postgres" or "mysql".
	Backend string `yaml:"backend,omitempty"`

	// DSN is the database connection string for SQL backends.
	DSN string `yaml:"dsn,omitempty"`
}

// Validate validates the audit configuration
func (c *AuditConfig) Validate() error {
	switch c.Backend {
	case "memory":
		// No DSN needed
	case "sqlite", "postgres", "mysql":
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for backend %s", c.Backend)
		}
	default:
		return fmt.Errorf("unsupported audit backend: %s (supported: memory, sqlite, postgres, mysql)", c.Backend)
	}
	return nil
}

// SetDefaults sets default values for the audit configuration
func (c *AuditConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

// ============================================================================
// SYNTHESIS CONFIGURATION
// ============================================================================

// SynthesisConfig names the worker used to merge divergent outputs. Empty
// means divergent outputs fall back to the raw labeled block.
type SynthesisConfig struct {
	Worker string `yaml:"worker,omitempty"`
}

// Validate checks that the synthesis worker, when set, is a configured worker.
func (c *SynthesisConfig) Validate(workers map[string]WorkerConfig) error {
	if c.Worker == "" {
		return nil
	}
	if _, ok := workers[c.Worker]; !ok {
		return fmt.Errorf("synthesis worker '%s' is not a configured worker", c.Worker)
	}
	return nil
}

// ============================================================================
// TOPOLOGY DEFAULTS
// ============================================================================

// DefaultsConfig carries the topology parameter defaults applied when a
// submission does not set them.
type DefaultsConfig struct {
	Rounds     int `yaml:"rounds,omitempty"`
	Iterations int `yaml:"iterations,omitempty"`
}

// Validate validates the defaults
func (c *DefaultsConfig) Validate() error {
	if c.Rounds < 1 {
		return fmt.Errorf("rounds must be at least 1")
	}
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1")
	}
	return nil
}

// SetDefaults sets default values for the defaults
func (c *DefaultsConfig) SetDefaults() {
	if c.Rounds == 0 {
		c.Rounds = 2
	}
	if c.Iterations == 0 {
		c.Iterations = 1
	}
}

// ============================================================================
// LOGGING CONFIGURATION
// ============================================================================

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json".
	Format string `yaml:"format,omitempty"`

	// File is an optional log file path; empty logs to stderr.
	File string `yaml:"file,omitempty"`
}

// Validate validates the logging configuration
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (supported: text, json)", c.Format)
	}
	return nil
}

// SetDefaults sets default values for the logging configuration
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// ============================================================================
// CONFIGURATION LOADING
// ============================================================================

// LoadConfig loads the complete configuration from a YAML file. Environment
// variables referenced in the file are expanded before decoding, so secrets
// and endpoints never need to live in the file itself.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes loads configuration from YAML content.
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded, err := yaml.Marshal(ExpandEnvVarsInData(normalizeKeys(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(expanded, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &config, nil
}

// normalizeKeys rewrites map[interface{}]interface{} trees into
// map[string]interface{} so env expansion can walk them.
func normalizeKeys(data interface{}) interface{} {
	switch v := data.(type) {
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			result[fmt.Sprintf("%v", key)] = normalizeKeys(value)
		}
		return result
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			result[key] = normalizeKeys(value)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = normalizeKeys(item)
		}
		return result
	default:
		return v
	}
}
