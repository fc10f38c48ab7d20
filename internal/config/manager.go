package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// EnvPrefix is the prefix of environment overrides, e.g. DODOCHAT_SERVER_ADDR.
const EnvPrefix = "DODOCHAT"

// Manager locates, loads and writes the configuration file.
type Manager struct {
	configDir string
	explicit  string
}

// NewManager creates a manager searching the user config dir. A non-empty
// path pins the file instead; it must then exist.
func NewManager(path string) (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return &Manager{
		configDir: filepath.Join(configDir, "dodochat"),
		explicit:  path,
	}, nil
}

// GetConfigPath returns the file Save writes and the first place Load looks.
func (m *Manager) GetConfigPath() string {
	if m.explicit != "" {
		return m.explicit
	}
	return filepath.Join(m.configDir, "config.json")
}

// LoadDotEnv reads a .env file from the working directory when present.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads the configuration: file, then DODOCHAT_* overrides, then the
// legacy single-model variables when no model list is configured. The result
// is validated; every violation is reported in one *ConfigError.
func (m *Manager) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("default_context_size", EnvPrefix+"_DEFAULT_CONTEXT_SIZE", "DEFAULT_CONTEXT_SIZE")
	_ = v.BindEnv("default_system_prompt", EnvPrefix+"_DEFAULT_SYSTEM_PROMPT", "DEFAULT_SYSTEM_PROMPT")

	if m.explicit != "" {
		v.SetConfigFile(m.explicit)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(m.configDir)
		v.AddConfigPath(".")
	}

	var path string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if m.explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		path = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Path = path

	if len(cfg.Models) == 0 {
		legacy, err := legacyModel()
		if err != nil {
			return nil, &ConfigError{Path: path, Problems: []string{err.Error()}}
		}
		cfg.Models = []ModelConfig{legacy}
	}
	for i := range cfg.Models {
		mc := &cfg.Models[i]
		if mc.Credential == "" && mc.CredentialEnv != "" {
			mc.Credential = os.Getenv(mc.CredentialEnv)
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_model", "")
	v.SetDefault("default_context_size", DefaultContextSize)
	v.SetDefault("default_system_prompt", DefaultSystemPrompt)
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("admission.max_in_flight", 0)
	v.SetDefault("admission.max_backlog", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.format", "text")
}

// legacyModel builds the single model described by MODEL_ID, API_KEY,
// BASE_URL and SUPPORTS_REASONING.
func legacyModel() (ModelConfig, error) {
	mc := ModelConfig{
		ID:                envOr("MODEL_ID", DefaultLegacyModel),
		Provider:          "openai",
		Endpoint:          envOr("BASE_URL", DefaultLegacyURL),
		Credential:        os.Getenv("API_KEY"),
		SupportsReasoning: true,
	}
	if raw := os.Getenv("SUPPORTS_REASONING"); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			return mc, fmt.Errorf("SUPPORTS_REASONING: %q is not a boolean", raw)
		}
		mc.SupportsReasoning = on
	}
	return mc, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Validate checks cfg against the embedded schema and the cross-field rules
// the schema cannot express.
func Validate(cfg *Config) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(cfg),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	seen := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		if m.ID != "" && seen[m.ID] {
			problems = append(problems, fmt.Sprintf("models: duplicate id %q", m.ID))
		}
		seen[m.ID] = true
	}
	if cfg.DefaultModel != "" && !seen[cfg.DefaultModel] {
		problems = append(problems, fmt.Sprintf("default_model: %q is not a configured model", cfg.DefaultModel))
	}

	if len(problems) > 0 {
		return &ConfigError{Path: cfg.Path, Problems: problems}
	}
	return nil
}

// Save writes cfg as JSON with owner-only permissions.
func (m *Manager) Save(cfg *Config) error {
	path := m.GetConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Sample returns a starter configuration with one model per provider.
func Sample() *Config {
	return &Config{
		Models: []ModelConfig{
			{
				ID:                "gpt-4o",
				Provider:          "openai",
				Endpoint:          DefaultLegacyURL,
				CredentialEnv:     "OPENAI_API_KEY",
				SupportsReasoning: false,
			},
			{
				ID:                "claude-sonnet-4-20250514",
				Provider:          "anthropic",
				Endpoint:          "https://api.anthropic.com/v1",
				CredentialEnv:     "ANTHROPIC_API_KEY",
				SupportsReasoning: true,
				ReasoningBudget:   2048,
			},
		},
		DefaultContextSize:  DefaultContextSize,
		DefaultSystemPrompt: DefaultSystemPrompt,
		Server:              ServerConfig{Addr: DefaultServerAddr},
		Log:                 LogConfig{Level: "info", File: DefaultLogFile, Format: "text"},
	}
}
