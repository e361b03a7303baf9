package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wintrouble/backend/internal/chunker"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 1000, cfg.Chunker.MaxChars)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, 50.0, cfg.Query.EscalationThreshold)
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, 4, cfg.Ingestion.Workers)
	assert.Equal(t, VectorMemory, cfg.Vector.Backend)
	assert.Equal(t, "./data/vectors.gob", cfg.Vector.MemoryPath)
	assert.False(t, cfg.Redis.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
vector:
  backend: qdrant
chunker:
  maxChars: 800
  overlap: 100
query:
  escalationThreshold: 60
`)
	t.Setenv("WINTROUBLE_QUERY_TOPK", "8")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, VectorQdrant, cfg.Vector.Backend)
	assert.Equal(t, 800, cfg.Chunker.MaxChars)
	assert.Equal(t, 100, cfg.Chunker.Overlap)
	assert.Equal(t, 60.0, cfg.Query.EscalationThreshold)
	assert.Equal(t, 8, cfg.Query.TopK)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "./data/wintrouble.db", cfg.SQLite.Path)
}

func TestLoadRejectsOverlapNotSmallerThanChunk(t *testing.T) {
	path := writeConfig(t, `
chunker:
  maxChars: 200
  overlap: 200
`)
	_, err := Load(path)
	assert.ErrorIs(t, err, chunker.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown vector backend", func(c *Config) { c.Vector.Backend = "chroma" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "llama" }},
		{"threshold above 100", func(c *Config) { c.Query.EscalationThreshold = 120 }},
		{"negative threshold", func(c *Config) { c.Query.EscalationThreshold = -1 }},
		{"source with colon", func(c *Config) { c.Ingestion.Source = "drive:shared" }},
		{"empty source", func(c *Config) { c.Ingestion.Source = "" }},
		{"zero embedding dim", func(c *Config) { c.LLM.EmbeddingDim = 0 }},
		{"missing sqlite path", func(c *Config) { c.SQLite.Path = "" }},
		{"negative overlap", func(c *Config) { c.Chunker.Overlap = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
