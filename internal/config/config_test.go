package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ASSISTANT_CONFIG", "")
	t.Setenv("LLM_API_KEY", "gsk-test")
	t.Setenv("MEMORY_BACKEND", "memory")
	t.Setenv("LLM_MODEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "meta-llama/llama-4-scout-17b-16e-instruct", cfg.LLM.Model)
	require.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	require.Equal(t, 4, cfg.Retrieval.TopK)
	require.Equal(t, 1000, cfg.Retrieval.ChunkSize)
	require.Equal(t, 100, cfg.Retrieval.ChunkOverlap)
	require.Equal(t, MemoryBackendInMemory, cfg.Memory.Backend)
	require.False(t, cfg.NeedsAWS())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /srv/docs
llm:
  model: file-model
  api_key: from-file
retrieval:
  top_k: 8
`), 0o600))

	t.Setenv("ASSISTANT_CONFIG", path)
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("RETRIEVAL_TOP_K", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/srv/docs", cfg.DataDir)
	require.Equal(t, "env-model", cfg.LLM.Model)
	require.Equal(t, "from-file", cfg.LLM.APIKey)
	require.Equal(t, 8, cfg.Retrieval.TopK)
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("ASSISTANT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.LLM.APIKey = "k"
		return c
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no credentials", func(c *Config) { c.LLM.APIKey = "" }, "LLM_API_KEY"},
		{"overlap too large", func(c *Config) { c.Retrieval.ChunkOverlap = c.Retrieval.ChunkSize }, "CHUNK_OVERLAP"},
		{"top k", func(c *Config) { c.Retrieval.TopK = 0 }, "RETRIEVAL_TOP_K"},
		{"unknown backend", func(c *Config) { c.Memory.Backend = "redis" }, "MEMORY_BACKEND"},
		{"dynamodb without table", func(c *Config) { c.Memory.Backend = MemoryBackendDynamoDB }, "STATE_TABLE"},
		{"postgres without url", func(c *Config) { c.Memory.Backend = MemoryBackendPostgres }, "DATABASE_URL"},
		{"genai without key", func(c *Config) { c.Embedding.Provider = EmbeddingProviderGenAI }, "GENAI_API_KEY"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "hf" }, "EMBEDDING_PROVIDER"},
		{"empty data dir", func(c *Config) { c.DataDir = " " }, "DATA_DIR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	require.NoError(t, valid().Validate())
}

func TestNeedsAWS(t *testing.T) {
	c := Default()
	c.LLM.ParamPrefix = "/assistant"
	require.True(t, c.NeedsAWS())

	c.LLM.APIKey = "k"
	require.False(t, c.NeedsAWS())

	c.Memory.Backend = MemoryBackendDynamoDB
	require.True(t, c.NeedsAWS())
}
