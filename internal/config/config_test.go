package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config search at an empty dir and clears legacy vars.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"MODEL_ID", "API_KEY", "BASE_URL", "SUPPORTS_REASONING", "DEFAULT_CONTEXT_SIZE", "DEFAULT_SYSTEM_PROMPT"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

const twoModels = `{
  "models": [
    {"id": "fast", "endpoint": "https://a.example/v1", "credential": "k1"},
    {"id": "deep", "provider": "anthropic", "endpoint": "https://b.example/v1", "credential": "k2", "supports_reasoning": true, "reasoning_budget": 2048}
  ],
  "default_model": "deep",
  "default_context_size": 4
}`

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := writeFile(t, t.TempDir(), "chat.json", twoModels)

	m, err := NewManager(path)
	require.NoError(t, err)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 4, cfg.DefaultContextSize)
	assert.Equal(t, DefaultSystemPrompt, cfg.DefaultSystemPrompt)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultLogFile, cfg.Log.File)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, "deep", reg.Default().ID)
	assert.Equal(t, 2048, reg.Default().ReasoningBudget)
	assert.Equal(t, []string{"deep", "fast"}, []string{reg.List()[0].ID, reg.List()[1].ID})

	d := cfg.SessionDefaults()
	assert.Equal(t, 4, d.ContextTurns)
	assert.Equal(t, DefaultSystemPrompt, d.SystemPrompt)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	path := writeFile(t, t.TempDir(), "chat.json", twoModels)
	t.Setenv("DODOCHAT_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("DEFAULT_CONTEXT_SIZE", "7")
	t.Setenv("DEFAULT_SYSTEM_PROMPT", "Be brief.")

	m, err := NewManager(path)
	require.NoError(t, err)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.DefaultContextSize)
	assert.Equal(t, "Be brief.", cfg.DefaultSystemPrompt)
}

func TestLoad_LegacyEnv(t *testing.T) {
	isolate(t)
	t.Setenv("API_KEY", "sk-test")
	t.Setenv("MODEL_ID", "deepseek-reasoner")
	t.Setenv("BASE_URL", "https://api.deepseek.com/v1")

	m, err := NewManager("")
	require.NoError(t, err)
	cfg, err := m.Load()
	require.NoError(t, err)

	require.Len(t, cfg.Models, 1)
	got := cfg.Models[0]
	assert.Equal(t, "deepseek-reasoner", got.ID)
	assert.Equal(t, "https://api.deepseek.com/v1", got.Endpoint)
	assert.Equal(t, "sk-test", got.Credential)
	assert.True(t, got.SupportsReasoning)
	assert.Empty(t, cfg.Path)
	assert.Equal(t, DefaultContextSize, cfg.DefaultContextSize)
}

func TestLoad_LegacyDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("API_KEY", "sk-test")
	t.Setenv("SUPPORTS_REASONING", "false")

	m, err := NewManager("")
	require.NoError(t, err)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultLegacyModel, cfg.Models[0].ID)
	assert.Equal(t, DefaultLegacyURL, cfg.Models[0].Endpoint)
	assert.False(t, cfg.Models[0].SupportsReasoning)
}

func TestLoad_LegacyBadBool(t *testing.T) {
	isolate(t)
	t.Setenv("API_KEY", "sk-test")
	t.Setenv("SUPPORTS_REASONING", "maybe")

	m, err := NewManager("")
	require.NoError(t, err)
	_, err = m.Load()

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "SUPPORTS_REASONING")
}

func TestLoad_MissingCredential(t *testing.T) {
	isolate(t)

	m, err := NewManager("")
	require.NoError(t, err)
	_, err = m.Load()

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "credential")
	assert.Contains(t, cerr.Error(), "environment")
}

func TestLoad_CollectsAllProblems(t *testing.T) {
	isolate(t)
	path := writeFile(t, t.TempDir(), "bad.json", `{
  "models": [
    {"id": "a", "endpoint": "https://a.example", "credential": "k"},
    {"id": "a", "endpoint": "https://a.example", "credential": "k", "provider": "gemini"}
  ],
  "default_model": "zzz",
  "default_context_size": 0
}`)

	m, err := NewManager(path)
	require.NoError(t, err)
	_, err = m.Load()

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, path, cerr.Path)
	msg := cerr.Error()
	assert.Contains(t, msg, "duplicate id")
	assert.Contains(t, msg, "zzz")
	assert.Contains(t, msg, "default_context_size")
	assert.GreaterOrEqual(t, len(cerr.Problems), 4)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	isolate(t)
	m, err := NewManager(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	_, err = m.Load()
	require.Error(t, err)
	var cerr *ConfigError
	assert.False(t, errors.As(err, &cerr))
}

func TestLoad_CredentialEnv(t *testing.T) {
	isolate(t)
	t.Setenv("MY_KEY", "from-env")
	path := writeFile(t, t.TempDir(), "chat.json", `{
  "models": [{"id": "m", "endpoint": "https://a.example", "credential_env": "MY_KEY"}],
  "default_context_size": 3
}`)

	m, err := NewManager(path)
	require.NoError(t, err)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Models[0].Credential)
}

func TestSave_RoundTrip(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "k1")
	t.Setenv("ANTHROPIC_API_KEY", "k2")
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	m, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m.Save(Sample()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := m.Load()
	require.NoError(t, err)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, "k2", cfg.Models[1].Credential)
	assert.Equal(t, "anthropic", cfg.Models[1].Provider)
}

func TestWatcher_Reload(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "chat.json", twoModels)

	m, err := NewManager(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	log := logrus.New()
	log.SetOutput(os.Stderr)
	w, err := NewWatcher(m, path, func(c *Config) { reloaded <- c }, log)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// An invalid edit is rejected.
	writeFile(t, dir, "chat.json", `{"models": []}`)
	select {
	case <-reloaded:
		t.Fatal("invalid config must not reload")
	case <-time.After(1200 * time.Millisecond):
	}

	writeFile(t, dir, "chat.json", `{
  "models": [{"id": "only", "endpoint": "https://a.example", "credential": "k"}],
  "default_context_size": 9
}`)
	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.DefaultContextSize)
		assert.Equal(t, "only", cfg.Models[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestNewWatcher_NoPath(t *testing.T) {
	m := &Manager{}
	_, err := NewWatcher(m, "", nil, logrus.New())
	assert.Error(t, err)
}
