// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	MemoryBackendInMemory = "memory"
	MemoryBackendDynamoDB = "dynamodb"
	MemoryBackendPostgres = "postgres"

	// IndexInMemory as INDEX_PATH keeps the vector index in process memory.
	IndexInMemory = ":memory:"

	EmbeddingProviderOllama = "ollama"
	EmbeddingProviderGenAI  = "genai"
)

// Config holds all application configuration.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	IndexPath string `yaml:"index_path"`
	Port      string `yaml:"port"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Memory    MemoryConfig    `yaml:"memory"`

	SummaryConcurrency int    `yaml:"summary_concurrency"`
	QuizQuestions      int    `yaml:"quiz_questions"`
	MaxQuestionLength  int    `yaml:"max_question_length"`
	MetricsNamespace   string `yaml:"metrics_namespace"`
	WatchDocuments     bool   `yaml:"watch_documents"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	APIKey      string  `yaml:"api_key"`
	ParamPrefix string  `yaml:"param_prefix"`
}

type EmbeddingConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	GenAIAPIKey string `yaml:"genai_api_key"`
}

type RetrievalConfig struct {
	TopK         int `yaml:"top_k"`
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// MemoryConfig selects where conversation turns live.
type MemoryConfig struct {
	Backend     string `yaml:"backend"`
	StateTable  string `yaml:"state_table"`
	DatabaseURL string `yaml:"database_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:   "./data",
		IndexPath: "./index/vectors.db",
		Port:      "8080",
		LLM: LLMConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "meta-llama/llama-4-scout-17b-16e-instruct",
			Temperature: 0.3,
		},
		Embedding: EmbeddingConfig{
			Provider:  EmbeddingProviderOllama,
			OllamaURL: "http://localhost:11434",
		},
		Retrieval: RetrievalConfig{
			TopK:         4,
			ChunkSize:    1000,
			ChunkOverlap: 100,
		},
		Memory:             MemoryConfig{Backend: MemoryBackendInMemory},
		SummaryConcurrency: 4,
		QuizQuestions:      10,
		MaxQuestionLength:  2000,
		MetricsNamespace:   "academic_assistant",
		WatchDocuments:     true,
	}
}

// Load reads configuration from an optional YAML file named by
// ASSISTANT_CONFIG and then from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("ASSISTANT_CONFIG")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.IndexPath = getEnv("INDEX_PATH", c.IndexPath)
	c.Port = getEnv("PORT", c.Port)

	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.ParamPrefix = strings.TrimRight(getEnv("PARAM_PREFIX", c.LLM.ParamPrefix), "/")

	c.Embedding.Provider = strings.ToLower(getEnv("EMBEDDING_PROVIDER", c.Embedding.Provider))
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.OllamaURL = getEnv("OLLAMA_URL", c.Embedding.OllamaURL)
	c.Embedding.GenAIAPIKey = getEnv("GENAI_API_KEY", c.Embedding.GenAIAPIKey)

	c.Retrieval.TopK = getEnvInt("RETRIEVAL_TOP_K", c.Retrieval.TopK)
	c.Retrieval.ChunkSize = getEnvInt("CHUNK_SIZE", c.Retrieval.ChunkSize)
	c.Retrieval.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", c.Retrieval.ChunkOverlap)

	c.Memory.Backend = strings.ToLower(getEnv("MEMORY_BACKEND", c.Memory.Backend))
	c.Memory.StateTable = getEnv("STATE_TABLE", c.Memory.StateTable)
	c.Memory.DatabaseURL = getEnv("DATABASE_URL", c.Memory.DatabaseURL)

	c.SummaryConcurrency = getEnvInt("SUMMARY_CONCURRENCY", c.SummaryConcurrency)
	c.QuizQuestions = getEnvInt("QUIZ_QUESTIONS", c.QuizQuestions)
	c.MaxQuestionLength = getEnvInt("MAX_QUESTION_LENGTH", c.MaxQuestionLength)
	c.MetricsNamespace = getEnv("METRICS_NAMESPACE", c.MetricsNamespace)
	c.WatchDocuments = getEnvBool("WATCH_DOCUMENTS", c.WatchDocuments)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	if strings.TrimSpace(c.IndexPath) == "" {
		return fmt.Errorf("INDEX_PATH cannot be empty")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.LLM.APIKey == "" && c.LLM.ParamPrefix == "" {
		return fmt.Errorf("one of LLM_API_KEY or PARAM_PREFIX must be set")
	}
	switch c.Embedding.Provider {
	case EmbeddingProviderOllama:
	case EmbeddingProviderGenAI:
		if c.Embedding.GenAIAPIKey == "" {
			return fmt.Errorf("GENAI_API_KEY is required for the genai embedding provider")
		}
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be > 0")
	}
	if c.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be > 0")
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be >= 0 and < CHUNK_SIZE")
	}
	switch c.Memory.Backend {
	case MemoryBackendInMemory:
	case MemoryBackendDynamoDB:
		if c.Memory.StateTable == "" {
			return fmt.Errorf("STATE_TABLE is required for the dynamodb memory backend")
		}
	case MemoryBackendPostgres:
		if c.Memory.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres memory backend")
		}
	default:
		return fmt.Errorf("unknown MEMORY_BACKEND %q", c.Memory.Backend)
	}
	if c.SummaryConcurrency <= 0 {
		return fmt.Errorf("SUMMARY_CONCURRENCY must be > 0")
	}
	if c.QuizQuestions <= 0 {
		return fmt.Errorf("QUIZ_QUESTIONS must be > 0")
	}
	return nil
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.Memory.Backend == MemoryBackendDynamoDB || (c.LLM.APIKey == "" && c.LLM.ParamPrefix != "")
}

// getEnv treats an empty variable as unset so it never blanks a file value.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}
