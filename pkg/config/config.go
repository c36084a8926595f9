// Package config loads and persists myagent's settings file, applies
// environment-variable overrides, and masks secrets for display.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultPort is the health/RPC port used when no port is configured.
const DefaultPort = 17890

// ConfigDir is ~/.myagent, the root of all persisted myagent state.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".myagent")
}

// DefaultConfigPath is ~/.myagent/settings.json.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

// PIDFilePath is ~/.myagent/myagent.pid.
func PIDFilePath() string {
	return filepath.Join(ConfigDir(), "myagent.pid")
}

// LogDir is ~/.myagent/logs.
func LogDir() string {
	return filepath.Join(ConfigDir(), "logs")
}

// AgentConfig holds the environment variables configured for one agent
// type ("myagent", "claude", "openai", "gemini" or "ollama").
type AgentConfig struct {
	Env map[string]string `json:"env"`
}

// FeishuConfig is the credential pair for the Feishu (Lark) chat channel.
type FeishuConfig struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

// TelegramConfig is the credential for the Telegram chat channel.
type TelegramConfig struct {
	Token string `json:"token"`
}

// ChannelsConfig holds per-channel credentials; a nil field means the
// channel is not configured and should not be started.
type ChannelsConfig struct {
	Feishu   *FeishuConfig   `json:"feishu,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// AppConfig is the settings.json document under ~/.myagent.
type AppConfig struct {
	Version      int                    `json:"version"`
	Port         int                    `json:"port"`
	Workspace    string                 `json:"workspace,omitempty"`
	DefaultAgent string                 `json:"default_agent"`
	Agents       map[string]AgentConfig `json:"agents"`
	Channels     ChannelsConfig         `json:"channels"`
}

// Default returns a freshly initialized AppConfig with the documented
// defaults: version 1, the default port, "myagent" as the default agent.
func Default() *AppConfig {
	return &AppConfig{
		Version:      1,
		Port:         DefaultPort,
		DefaultAgent: "myagent",
		Agents:       make(map[string]AgentConfig),
	}
}

// Load reads and parses the settings file at path.
func Load(path string) (*AppConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Agents == nil {
		cfg.Agents = make(map[string]AgentConfig)
	}
	return cfg, nil
}

// Save writes cfg to path as pretty-printed JSON, creating parent
// directories as needed.
func (c *AppConfig) Save(path string) error {
	if parent := filepath.Dir(path); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// SetAgentEnv sets one env var on the named agent's config, creating the
// agent entry if it does not exist yet.
func (c *AppConfig) SetAgentEnv(agent, key, value string) {
	if c.Agents == nil {
		c.Agents = make(map[string]AgentConfig)
	}
	a, ok := c.Agents[agent]
	if !ok || a.Env == nil {
		a = AgentConfig{Env: make(map[string]string)}
	}
	a.Env[key] = value
	c.Agents[agent] = a
}

func agentEnv(c *AppConfig, agent, key string) string {
	if a, ok := c.Agents[agent]; ok {
		return a.Env[key]
	}
	return ""
}

// MyAgentEnv is the typed view of agents.myagent.env used by AiAgent.
type MyAgentEnv struct {
	APIKey  string
	BaseURL string
	Model   string
}

// MyAgentEnv extracts the native agent's configuration, applying the
// documented defaults when unset.
func (c *AppConfig) MyAgentEnv() MyAgentEnv {
	baseURL := agentEnv(c, "myagent", "MYAGENT_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := agentEnv(c, "myagent", "MYAGENT_MODEL")
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return MyAgentEnv{
		APIKey:  agentEnv(c, "myagent", "MYAGENT_API_KEY"),
		BaseURL: baseURL,
		Model:   model,
	}
}

// ClaudeEnv is the typed view of agents.claude.env used by
// ClaudeSubprocessAgent.
type ClaudeEnv struct {
	BaseURL   string
	APIKey    string
	AuthToken string
}

// ClaudeEnv extracts the subprocess agent's configuration.
func (c *AppConfig) ClaudeEnv() ClaudeEnv {
	return ClaudeEnv{
		BaseURL:   agentEnv(c, "claude", "ANTHROPIC_BASE_URL"),
		APIKey:    agentEnv(c, "claude", "ANTHROPIC_API_KEY"),
		AuthToken: agentEnv(c, "claude", "ANTHROPIC_AUTH_TOKEN"),
	}
}

// OpenAIEnv is the typed view of agents.openai.env, an optional fallback
// backend alongside the primary Anthropic-shaped MyAgentEnv.
type OpenAIEnv struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIEnv extracts the openai-go fallback backend's configuration. APIKey
// empty means the backend is not configured.
func (c *AppConfig) OpenAIEnv() OpenAIEnv {
	return OpenAIEnv{
		APIKey:  agentEnv(c, "openai", "OPENAI_API_KEY"),
		BaseURL: agentEnv(c, "openai", "OPENAI_BASE_URL"),
		Model:   agentEnv(c, "openai", "OPENAI_MODEL"),
	}
}

// GeminiEnv is the typed view of agents.gemini.env, an optional fallback
// backend.
type GeminiEnv struct {
	APIKey string
	Model  string
}

// GeminiEnv extracts the genai fallback backend's configuration. APIKey
// empty means the backend is not configured.
func (c *AppConfig) GeminiEnv() GeminiEnv {
	return GeminiEnv{
		APIKey: agentEnv(c, "gemini", "GEMINI_API_KEY"),
		Model:  agentEnv(c, "gemini", "GEMINI_MODEL"),
	}
}

// OllamaEnv is the typed view of agents.ollama.env, an optional local
// fallback backend.
type OllamaEnv struct {
	BaseURL string
	Model   string
}

// OllamaEnv extracts the Ollama fallback backend's configuration. BaseURL
// and Model both empty means the backend is not configured (New falls back
// to OLLAMA_HOST from the environment, which this spec treats as "unset").
func (c *AppConfig) OllamaEnv() OllamaEnv {
	return OllamaEnv{
		BaseURL: agentEnv(c, "ollama", "OLLAMA_BASE_URL"),
		Model:   agentEnv(c, "ollama", "OLLAMA_MODEL"),
	}
}

// ResolveWorkspace returns the configured workspace, or
// ~/.myagent/workspace when unset (serve mode; CLI mode uses the cwd
// instead, which callers handle before reaching here).
func (c *AppConfig) ResolveWorkspace() string {
	if c.Workspace != "" {
		return c.Workspace
	}
	return filepath.Join(ConfigDir(), "workspace")
}

// envOverrides lists the (agent, key) pairs an environment variable may
// override, taking priority over the config file.
var envOverrides = []struct{ agent, key string }{
	{"myagent", "MYAGENT_API_KEY"},
	{"myagent", "MYAGENT_BASE_URL"},
	{"myagent", "MYAGENT_MODEL"},
	{"claude", "ANTHROPIC_BASE_URL"},
	{"claude", "ANTHROPIC_API_KEY"},
	{"claude", "ANTHROPIC_AUTH_TOKEN"},
}

// WithEnvOverrides returns a copy of c with any set environment variable
// from envOverrides applied on top of the file-loaded values.
func (c *AppConfig) WithEnvOverrides() *AppConfig {
	out := *c
	out.Agents = make(map[string]AgentConfig, len(c.Agents))
	for k, v := range c.Agents {
		env := make(map[string]string, len(v.Env))
		for ek, ev := range v.Env {
			env[ek] = ev
		}
		out.Agents[k] = AgentConfig{Env: env}
	}
	for _, m := range envOverrides {
		if v, ok := os.LookupEnv(m.key); ok {
			out.SetAgentEnv(m.agent, m.key, v)
		}
	}
	return &out
}

// isSecretKey reports whether key's name suggests it carries a credential
// that should be masked on display.
func isSecretKey(key string) bool {
	u := strings.ToUpper(key)
	return strings.Contains(u, "KEY") || strings.Contains(u, "SECRET") || strings.Contains(u, "TOKEN")
}

// MaskSecret masks val if key looks like a secret: "<first4>...<last4>",
// or "***" when val is 8 characters or shorter.
func MaskSecret(key, val string) string {
	if !isSecretKey(key) {
		return val
	}
	return maskString(val)
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// MaskedAgents returns a copy of c.Agents with every secret-looking env
// value masked, for display by `config show`.
func (c *AppConfig) MaskedAgents() map[string]AgentConfig {
	out := make(map[string]AgentConfig, len(c.Agents))
	for agent, a := range c.Agents {
		env := make(map[string]string, len(a.Env))
		for k, v := range a.Env {
			env[k] = MaskSecret(k, v)
		}
		out[agent] = AgentConfig{Env: env}
	}
	return out
}
