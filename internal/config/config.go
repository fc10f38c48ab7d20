package config

import (
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/dodochat/internal/models"
	"github.com/ChamsBouzaiene/dodochat/internal/session"
)

// Defaults for keys the configuration may leave unset.
const (
	DefaultContextSize  = 10
	DefaultSystemPrompt = "You are a helpful AI assistant."
	DefaultServerAddr   = "0.0.0.0:7860"
	DefaultLogFile      = "chatbot.log"
	DefaultLegacyModel  = "gpt-4o"
	DefaultLegacyURL    = "https://api.openai.com/v1"
)

// ModelConfig is one configured model endpoint.
type ModelConfig struct {
	ID                string `mapstructure:"id" json:"id"`
	Provider          string `mapstructure:"provider" json:"provider,omitempty"`
	Endpoint          string `mapstructure:"endpoint" json:"endpoint"`
	Credential        string `mapstructure:"credential" json:"credential"`
	CredentialEnv     string `mapstructure:"credential_env" json:"credential_env,omitempty"` // env var holding the credential
	SupportsReasoning bool   `mapstructure:"supports_reasoning" json:"supports_reasoning"`
	ReasoningBudget   int    `mapstructure:"reasoning_budget" json:"reasoning_budget,omitempty"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

type AdmissionConfig struct {
	MaxInFlight int `mapstructure:"max_in_flight" json:"max_in_flight"`
	MaxBacklog  int `mapstructure:"max_backlog" json:"max_backlog"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	File   string `mapstructure:"file" json:"file"`
	Format string `mapstructure:"format" json:"format"` // text | json
}

// Config holds everything the process needs at startup.
type Config struct {
	Models              []ModelConfig   `mapstructure:"models" json:"models"`
	DefaultModel        string          `mapstructure:"default_model" json:"default_model,omitempty"`
	DefaultContextSize  int             `mapstructure:"default_context_size" json:"default_context_size"`
	DefaultSystemPrompt string          `mapstructure:"default_system_prompt" json:"default_system_prompt"`
	Server              ServerConfig    `mapstructure:"server" json:"server"`
	Admission           AdmissionConfig `mapstructure:"admission" json:"admission"`
	Log                 LogConfig       `mapstructure:"log" json:"log"`

	// Path is the file the configuration was read from, empty when it came
	// from the environment only.
	Path string `mapstructure:"-" json:"-"`
}

// ConfigError reports every problem found in a configuration. It is fatal at
// startup.
type ConfigError struct {
	Path     string
	Problems []string
}

func (e *ConfigError) Error() string {
	src := e.Path
	if src == "" {
		src = "environment"
	}
	return fmt.Sprintf("invalid configuration (%s): %s", src, strings.Join(e.Problems, "; "))
}

// Profiles converts the model list into registry profiles, default model first.
func (c *Config) Profiles() []models.Profile {
	out := make([]models.Profile, 0, len(c.Models))
	for _, m := range c.Models {
		p := models.Profile{
			ID:                m.ID,
			Provider:          models.Provider(strings.ToLower(m.Provider)),
			Endpoint:          m.Endpoint,
			Credential:        m.Credential,
			SupportsReasoning: m.SupportsReasoning,
			ReasoningBudget:   m.ReasoningBudget,
		}
		if m.ID == c.DefaultModel && len(out) > 0 {
			out = append([]models.Profile{p}, out...)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Registry builds the model registry.
func (c *Config) Registry() (*models.Registry, error) {
	reg, err := models.NewRegistry(c.Profiles())
	if err != nil {
		return nil, &ConfigError{Path: c.Path, Problems: []string{err.Error()}}
	}
	return reg, nil
}

// SessionDefaults returns the settings new sessions start with.
func (c *Config) SessionDefaults() session.Defaults {
	return session.Defaults{
		ContextTurns: c.DefaultContextSize,
		SystemPrompt: c.DefaultSystemPrompt,
	}
}
