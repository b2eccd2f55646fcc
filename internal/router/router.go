// Package router dispatches one user turn to the explain or the
// document-grounded answer path.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"academic-assistant/internal/domain"
)

// ExplainSystemPrompt is the system prompt of the explain path's generator.
const ExplainSystemPrompt = "You are an academic assistant. Use the previous conversation to inform your response."

var ErrUnknownMode = errors.New("router: unknown mode")

// Generator produces free text from a prompt context.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever answers a question grounded in indexed documents.
type Retriever interface {
	RetrieveAndAnswer(ctx context.Context, query string, history []domain.Turn) (domain.GroundedAnswer, error)
}

// Result is what the interaction loop appends as the assistant turn.
type Result struct {
	Answer    string
	Citations []domain.Citation
}

type Router struct {
	explainer Generator
	retriever Retriever
}

func New(explainer Generator, retriever Retriever) (*Router, error) {
	if explainer == nil {
		return nil, errors.New("router: explainer must not be nil")
	}
	if retriever == nil {
		return nil, errors.New("router: retriever must not be nil")
	}
	return &Router{explainer: explainer, retriever: retriever}, nil
}

// Route calls exactly one collaborator and never retries. Collaborator errors
// are returned to the caller.
func (r *Router) Route(ctx context.Context, query string, mode domain.Mode, history []domain.Turn) (Result, error) {
	switch mode {
	case domain.ModeExplain:
		answer, err := r.explainer.Generate(ctx, ExplainContext(history, query))
		if err != nil {
			return Result{}, fmt.Errorf("router: explain: %w", err)
		}
		return Result{Answer: answer}, nil

	case domain.ModeQA:
		grounded, err := r.retriever.RetrieveAndAnswer(ctx, query, history)
		if err != nil {
			return Result{}, fmt.Errorf("router: qa: %w", err)
		}
		citations := DedupeCitations(grounded.Citations)
		return Result{Answer: FormatAnswer(grounded.Text, citations), Citations: citations}, nil

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// ExplainContext renders the history transcript followed by the new query.
func ExplainContext(history []domain.Turn, query string) string {
	return domain.Transcript(history) + "\n\nUser: " + query + "\nAI:"
}

// DedupeCitations keeps the first occurrence of each (filename, page).
func DedupeCitations(in []domain.Citation) []domain.Citation {
	seen := make(map[domain.Citation]struct{}, len(in))
	out := make([]domain.Citation, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// FormatAnswer appends one citation line per source after a blank line.
func FormatAnswer(answer string, citations []domain.Citation) string {
	if len(citations) == 0 {
		return answer
	}
	lines := make([]string, len(citations))
	for i, c := range citations {
		lines[i] = c.String()
	}
	return answer + "\n\n" + strings.Join(lines, "\n")
}
