package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	cfg := Default()
	cfg.Port = 12345
	cfg.SetAgentEnv("myagent", "MYAGENT_API_KEY", "sk-test-1234567890")
	cfg.Channels.Feishu = &FeishuConfig{AppID: "cli_x", AppSecret: "shh"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 12345, loaded.Port)
	require.Equal(t, "sk-test-1234567890", loaded.Agents["myagent"].Env["MYAGENT_API_KEY"])
	require.NotNil(t, loaded.Channels.Feishu)
	require.Equal(t, "cli_x", loaded.Channels.Feishu.AppID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvOverridesWin(t *testing.T) {
	cfg := Default()
	cfg.SetAgentEnv("myagent", "MYAGENT_API_KEY", "from-file")
	cfg.SetAgentEnv("myagent", "MYAGENT_MODEL", "file-model")

	t.Setenv("MYAGENT_API_KEY", "from-env")

	out := cfg.WithEnvOverrides()
	require.Equal(t, "from-env", out.Agents["myagent"].Env["MYAGENT_API_KEY"])
	require.Equal(t, "file-model", out.Agents["myagent"].Env["MYAGENT_MODEL"])

	// The original is untouched.
	require.Equal(t, "from-file", cfg.Agents["myagent"].Env["MYAGENT_API_KEY"])
}

func TestEnvOverridesClaudeKeys(t *testing.T) {
	cfg := Default()
	t.Setenv("ANTHROPIC_BASE_URL", "https://proxy.example.com")

	out := cfg.WithEnvOverrides()
	require.Equal(t, "https://proxy.example.com", out.ClaudeEnv().BaseURL)
}

func TestMyAgentEnvDefaults(t *testing.T) {
	cfg := Default()
	env := cfg.MyAgentEnv()
	require.Equal(t, "https://api.anthropic.com", env.BaseURL)
	require.NotEmpty(t, env.Model)
	require.Empty(t, env.APIKey)
}

func TestMaskSecret(t *testing.T) {
	require.Equal(t, "sk-a...wxyz", MaskSecret("MYAGENT_API_KEY", "sk-abcdefgwxyz"))
	require.Equal(t, "***", MaskSecret("APP_SECRET", "short"))
	require.Equal(t, "***", MaskSecret("TOKEN", "12345678"))
	require.Equal(t, "plain-value", MaskSecret("MYAGENT_BASE_URL", "plain-value"))
}

func TestMaskedAgents(t *testing.T) {
	cfg := Default()
	cfg.SetAgentEnv("myagent", "MYAGENT_API_KEY", "sk-abcdefgwxyz")
	cfg.SetAgentEnv("myagent", "MYAGENT_MODEL", "some-model")

	masked := cfg.MaskedAgents()
	require.Equal(t, "sk-a...wxyz", masked["myagent"].Env["MYAGENT_API_KEY"])
	require.Equal(t, "some-model", masked["myagent"].Env["MYAGENT_MODEL"])

	// Masking must not mutate the source config.
	require.Equal(t, "sk-abcdefgwxyz", cfg.Agents["myagent"].Env["MYAGENT_API_KEY"])
}

func TestResolveWorkspace(t *testing.T) {
	cfg := Default()
	cfg.Workspace = "/tmp/ws"
	require.Equal(t, "/tmp/ws", cfg.ResolveWorkspace())

	cfg.Workspace = ""
	require.Contains(t, cfg.ResolveWorkspace(), ".myagent")
}
