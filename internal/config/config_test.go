package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndValidateFillsDefaults(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-env")
	t.Setenv("GEMINI_API_KEY", "")

	path := writeConfig(t, `
[server]
port = 8080

[gemini]
api_key = "gm-file"

[agent]
system_prompt = "Answer like a pirate."
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "dg-env", cfg.Deepgram.APIKey)
	require.Equal(t, "gm-file", cfg.Gemini.APIKey)
	require.Equal(t, "Answer like a pirate.", cfg.Agent.SystemPrompt)

	require.Equal(t, "nova-2", cfg.Deepgram.Listen.Model)
	require.Equal(t, 16000, cfg.Deepgram.Listen.SampleRate)
	require.Equal(t, 1000, cfg.Deepgram.Listen.BufferFrames)
	require.Equal(t, 5, cfg.Deepgram.Listen.ConnectTimeoutSecs)
	require.Equal(t, "aura-asteria-en", cfg.Deepgram.Speak.Model)
	require.Equal(t, 2, cfg.Agent.MinFinalChars)
	require.Equal(t, 10, cfg.Agent.HistoryExchanges)
	require.Equal(t, 50, cfg.Agent.SegmentMaxChars)
	require.Equal(t, 3, cfg.Agent.TopK)
	require.Equal(t, []string{"deepgram", "gemini"}, cfg.Agent.Synthesizers)
	require.Equal(t, 500, cfg.Retrieval.ChunkTargetChars)
	require.Equal(t, DefaultEmbeddingModels, cfg.Retrieval.EmbeddingModels)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }},
		{name: "duplicate additional port", mutate: func(c *Config) {
			c.Server.Port = 3000
			c.Server.AdditionalPorts = []int{3000}
		}},
		{name: "unknown synthesizer", mutate: func(c *Config) { c.Agent.Synthesizers = []string{"espeak"} }},
		{name: "negative retries", mutate: func(c *Config) { c.Deepgram.Listen.MaxRetries = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWithFallbackReportsSearchedPaths(t *testing.T) {
	_, err := LoadWithFallback(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing.toml")
}
