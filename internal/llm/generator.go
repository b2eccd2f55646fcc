// Package llm adapts a chat completions client to the single-prompt
// generation contract used by the explain, retrieval, summary and quiz paths.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"academic-assistant/internal/domain"
	"academic-assistant/internal/integrations/openai"
)

// ChatClient is satisfied by *openai.Client.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, opts ...openai.CallOption) (string, error)
}

// Generator sends one system prompt plus one user prompt per call.
type Generator struct {
	chat        ChatClient
	model       string
	system      string
	temperature *float64
}

type Option func(*Generator)

func WithSystemPrompt(prompt string) Option {
	return func(g *Generator) { g.system = strings.TrimSpace(prompt) }
}

func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = &t }
}

func New(chat ChatClient, model string, opts ...Option) (*Generator, error) {
	if chat == nil {
		return nil, errors.New("llm: chat client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("llm: model must not be empty")
	}
	g := &Generator{chat: chat, model: model}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// With returns a copy of g with extra options applied.
func (g *Generator) With(opts ...Option) *Generator {
	cp := *g
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]domain.ChatMessage, 0, 2)
	if g.system != "" {
		messages = append(messages, domain.ChatMessage{Role: "system", Content: g.system})
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: prompt})

	var callOpts []openai.CallOption
	if g.temperature != nil {
		callOpts = append(callOpts, openai.WithTemperature(*g.temperature))
	}

	out, err := g.chat.Chat(ctx, g.model, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("llm: generate: empty completion")
	}
	return out, nil
}
