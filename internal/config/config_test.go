package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcphost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFull(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: fs
    command: mcp-server-filesystem
    args: ["--root", "/tmp/workspace"]
    env:
      DEBUG: "1"
  - id: git
    command: mcp-server-git

llm:
  provider: openai
  model: gpt-4o
  base_url: http://localhost:8080/v1
  max_tokens: 2048

chat:
  max_iterations: 5
  system_prompt: Be brief.

timeouts:
  call_seconds: 10
  handshake_seconds: 20

log:
  interactions: /tmp/interactions.jsonl
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, "fs", cfg.Servers[0].ID)
	assert.Equal(t, []string{"--root", "/tmp/workspace"}, cfg.Servers[0].Args)
	assert.Equal(t, "1", cfg.Servers[0].Env["DEBUG"])

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 2048, cfg.LLM.MaxTokens)

	assert.Equal(t, 5, cfg.Chat.MaxIterations)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout())
	assert.Equal(t, 20*time.Second, cfg.HandshakeTimeout())
	assert.Equal(t, "/tmp/interactions.jsonl", cfg.Log.Interactions)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, DefaultMaxIterations, cfg.Chat.MaxIterations)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout())
}

func TestLoadFindsConfigInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcphost.yaml"), []byte(`
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
servers:
  - id: fs
    command: mcp-server-filesystem
`), 0o644))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "fs", cfg.Servers[0].ID)
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown provider",
			yaml: `
llm:
  provider: gemini
  model: gemini-1.5-flash
`,
			wantErr: "unknown llm.provider",
		},
		{
			name: "missing model",
			yaml: `
llm:
  provider: anthropic
  model: ""
`,
			wantErr: "llm.model is required",
		},
		{
			name: "duplicate server id",
			yaml: `
llm:
  provider: anthropic
  model: m
servers:
  - id: fs
    command: a
  - id: fs
    command: b
`,
			wantErr: "duplicate server id",
		},
		{
			name: "server without command",
			yaml: `
llm:
  provider: anthropic
  model: m
servers:
  - id: fs
`,
			wantErr: "command is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestAPIKeyEnvDerivedFromProvider(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "openai without explicit key env",
			yaml: `
llm:
  provider: openai
  model: gpt-4o
`,
			want: "OPENAI_API_KEY",
		},
		{
			name: "anthropic without explicit key env",
			yaml: `
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
`,
			want: "ANTHROPIC_API_KEY",
		},
		{
			name: "explicit key env wins",
			yaml: `
llm:
  provider: openai
  model: gpt-4o
  api_key_env: MY_GATEWAY_KEY
`,
			want: "MY_GATEWAY_KEY",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadFrom(writeConfig(t, tc.yaml))
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.LLM.APIKeyEnv)
		})
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKeyEnv = "MCPHOST_TEST_KEY"
	t.Setenv("MCPHOST_TEST_KEY", "sk-test")
	assert.Equal(t, "sk-test", cfg.APIKey())
}
