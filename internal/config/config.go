// Package config provides configuration loading for spec-bot.
//
// Configuration comes from an optional YAML file overlaid with SPECBOT_*
// environment variables. See LoadWithFile for precedence rules.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete spec-bot configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	LLM       LLMConfig       `koanf:"llm"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Files     FilesConfig     `koanf:"files"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	NATS      NATSConfig      `koanf:"nats"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	CORSOrigins     string   `koanf:"cors_origins"`
}

// Origins splits CORSOrigins on commas, dropping blanks.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider     string   `koanf:"provider"` // openai | anthropic | ollama
	Model        string   `koanf:"model"`
	MaxTokens    int      `koanf:"max_tokens"`
	Temperature  float64  `koanf:"temperature"`
	Timeout      Duration `koanf:"timeout"`
	OpenAIKey    Secret   `koanf:"openai_api_key"`
	AnthropicKey Secret   `koanf:"anthropic_api_key"`
	BaseURL      string   `koanf:"base_url"`
}

// WorkflowConfig holds orchestrator settings.
type WorkflowConfig struct {
	MaxRetries             int      `koanf:"max_retries"`
	ApprovalTimeout        Duration `koanf:"approval_timeout"`
	EnforceApprovalTimeout bool     `koanf:"enforce_approval_timeout"`
	SweepInterval          Duration `koanf:"sweep_interval"`
	EnableResearch         bool     `koanf:"enable_research"`
	Workers                int      `koanf:"workers"`
	QueueSize              int      `koanf:"queue_size"`
}

// FilesConfig controls where final documents are written.
type FilesConfig struct {
	OutputDir  string `koanf:"output_dir"`
	BackupDir  string `koanf:"backup_dir"`
	BackupDays int    `koanf:"backup_days"`
}

// SecretsConfig controls secret redaction of prompts and documents.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
	// WatchAllowlist reloads the allowlist file when it changes.
	WatchAllowlist bool `koanf:"watch_allowlist"`
}

// NATSConfig controls best-effort lifecycle event publishing.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"` // grpc | http/protobuf
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			CORSOrigins:     "http://localhost:3000,http://localhost:5173",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4.1",
			MaxTokens:   4000,
			Temperature: 0.7,
			Timeout:     Duration(120 * time.Second),
		},
		Workflow: WorkflowConfig{
			MaxRetries:      3,
			ApprovalTimeout: Duration(time.Hour),
			SweepInterval:   Duration(time.Minute),
			EnableResearch:  true,
			Workers:         4,
			QueueSize:       64,
		},
		Files: FilesConfig{
			OutputDir:  ".specbot/specs",
			BackupDir:  ".specbot/backups",
			BackupDays: 30,
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "specbot",
		},
		Telemetry: TelemetryConfig{
			Endpoint:     "localhost:4317",
			Protocol:     "grpc",
			Insecure:     true,
			SamplingRate: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// APIKey returns the key for the configured provider.
func (c LLMConfig) APIKey() Secret {
	switch c.Provider {
	case "anthropic":
		return c.AnthropicKey
	case "openai":
		return c.OpenAIKey
	}
	return ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unsupported llm provider %q (expected openai, anthropic or ollama)", c.LLM.Provider)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be within [0, 2], got %v", c.LLM.Temperature)
	}

	if c.Workflow.MaxRetries < 0 {
		return fmt.Errorf("workflow max_retries must be >= 0, got %d", c.Workflow.MaxRetries)
	}
	if c.Workflow.Workers < 1 {
		return fmt.Errorf("workflow workers must be >= 1, got %d", c.Workflow.Workers)
	}
	if c.Workflow.QueueSize < 1 {
		return fmt.Errorf("workflow queue_size must be >= 1, got %d", c.Workflow.QueueSize)
	}
	if c.Workflow.EnforceApprovalTimeout && c.Workflow.ApprovalTimeout <= 0 {
		return errors.New("approval_timeout must be positive when enforcement is enabled")
	}

	if c.Files.OutputDir == "" || c.Files.BackupDir == "" {
		return errors.New("files output_dir and backup_dir are required")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint required when telemetry is enabled")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	return nil
}
