// Package app builds the assistant and its collaborators from configuration.
// The Lambda, HTTP server and CLI binaries all start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"academic-assistant/internal/config"
	"academic-assistant/internal/documents"
	"academic-assistant/internal/domain"
	"academic-assistant/internal/integrations/embedding"
	"academic-assistant/internal/integrations/openai"
	"academic-assistant/internal/integrations/paramstore"
	"academic-assistant/internal/integrations/pdf"
	"academic-assistant/internal/llm"
	"academic-assistant/internal/memory"
	"academic-assistant/internal/observability"
	"academic-assistant/internal/quiz"
	"academic-assistant/internal/rag"
	"academic-assistant/internal/repository"
	"academic-assistant/internal/router"
	"academic-assistant/internal/session"
	"academic-assistant/internal/summary"
	"academic-assistant/internal/usecase"
	"academic-assistant/internal/vectorstore"
)

const paramCacheTTL = 15 * time.Minute

// App holds the wired assistant plus the pieces the binaries drive directly.
type App struct {
	Config    *config.Config
	Assistant *usecase.Assistant
	Documents *documents.Store
	Sessions  *session.Manager
	Metrics   *observability.Metrics

	closers []func() error
}

type vectorIndex interface {
	rag.Index
	Close() error
}

// newIndex opens the SQLite index at path, or a process-local one for
// config.IndexInMemory.
func newIndex(path string) (vectorIndex, error) {
	if path == config.IndexInMemory {
		return vectorstore.NewMemoryStore(), nil
	}
	store, err := vectorstore.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Build wires every component. reg receives the Prometheus instruments.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}

	chat, err := newChatClient(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	generators, err := newGenerators(chat, cfg.LLM)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	index, err := newIndex(cfg.IndexPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, index.Close)

	docs, err := documents.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.Documents = docs

	splitter, err := rag.NewSplitter(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	indexer, err := rag.NewIndexer(docs, pdf.NewReader(), embedder, index, splitter, logger)
	if err != nil {
		return nil, err
	}
	retriever, err := rag.NewRetriever(generators.answer, generators.condense, embedder, index, cfg.Retrieval.TopK)
	if err != nil {
		return nil, err
	}
	turnRouter, err := router.New(generators.explain, retriever)
	if err != nil {
		return nil, err
	}

	summarizer, err := summary.New(generators.summary, splitter, cfg.SummaryConcurrency)
	if err != nil {
		return nil, err
	}
	quizGen, err := quiz.NewGenerator(generators.quiz, cfg.QuizQuestions)
	if err != nil {
		return nil, err
	}

	mem, err := a.newMemoryStore(ctx, cfg.Memory, awsCfg)
	if err != nil {
		return nil, err
	}

	a.Sessions = session.NewManager(domain.ModeExplain)
	a.Metrics = observability.NewMetrics(cfg.MetricsNamespace, reg)

	a.Assistant, err = usecase.NewAssistant(usecase.Deps{
		Router:            turnRouter,
		Memory:            mem,
		Sessions:          a.Sessions,
		Documents:         docs,
		Index:             indexer,
		Summarizer:        summarizer,
		Quiz:              quizGen,
		Metrics:           a.Metrics,
		Logger:            logger,
		MaxQuestionLength: cfg.MaxQuestionLength,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("assistant ready",
		"model", cfg.LLM.Model,
		"embedding_provider", embedder.Name(),
		"memory_backend", cfg.Memory.Backend,
		"data_dir", cfg.DataDir,
		"index_path", cfg.IndexPath,
	)
	ok = true
	return a, nil
}

// Close releases stores in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newChatClient(cfg *config.Config, awsCfg aws.Config) (*openai.Client, error) {
	opts := []openai.Option{openai.WithBaseURL(cfg.LLM.BaseURL)}
	if cfg.LLM.APIKey != "" {
		opts = append(opts, openai.WithAPIKey(cfg.LLM.APIKey))
	} else {
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		opts = append(opts, openai.WithParamStore(params, cfg.LLM.ParamPrefix))
	}
	client, err := openai.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create chat client: %w", err)
	}
	return client, nil
}

type generatorSet struct {
	explain  *llm.Generator
	answer   *llm.Generator
	condense *llm.Generator
	summary  *llm.Generator
	quiz     *llm.Generator
}

func newGenerators(chat llm.ChatClient, cfg config.LLMConfig) (generatorSet, error) {
	base, err := llm.New(chat, cfg.Model, llm.WithTemperature(cfg.Temperature))
	if err != nil {
		return generatorSet{}, fmt.Errorf("app: create generator: %w", err)
	}
	return generatorSet{
		explain:  base.With(llm.WithSystemPrompt(router.ExplainSystemPrompt)),
		answer:   base.With(llm.WithSystemPrompt(rag.AnswerSystemPrompt)),
		condense: base.With(llm.WithTemperature(0)),
		summary:  base,
		quiz:     base,
	}, nil
}

func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Engine, error) {
	switch cfg.Provider {
	case config.EmbeddingProviderGenAI:
		e, err := embedding.NewGenAIEngine(ctx, cfg.GenAIAPIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.EmbeddingProviderOllama:
		return embedding.NewOllamaEngine(cfg.OllamaURL, cfg.Model, nil), nil
	default:
		return nil, fmt.Errorf("app: unknown embedding provider %q", cfg.Provider)
	}
}

func (a *App) newMemoryStore(ctx context.Context, cfg config.MemoryConfig, awsCfg aws.Config) (usecase.ConversationStore, error) {
	switch cfg.Backend {
	case config.MemoryBackendDynamoDB:
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return store, nil
	case config.MemoryBackendPostgres:
		store, err := memory.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	case config.MemoryBackendInMemory:
		return memory.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("app: unknown memory backend %q", cfg.Backend)
	}
}
