// Package summary condenses a document with a map-reduce pass over its chunks.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"academic-assistant/internal/domain"
)

var ErrNoContent = errors.New("summary: nothing to summarize")

const defaultConcurrency = 4

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Splitter cuts page text into chunks.
type Splitter interface {
	Split(text string) []string
}

type Summarizer struct {
	gen         Generator
	splitter    Splitter
	concurrency int
}

func New(gen Generator, splitter Splitter, concurrency int) (*Summarizer, error) {
	if gen == nil {
		return nil, errors.New("summary: generator must not be nil")
	}
	if splitter == nil {
		return nil, errors.New("summary: splitter must not be nil")
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Summarizer{gen: gen, splitter: splitter, concurrency: concurrency}, nil
}

// Prompt is used for both the map and the reduce step.
func Prompt(text string) string {
	return "Write a concise summary of the following:\n\n\"" + text + "\"\n\nCONCISE SUMMARY:"
}

// Summarize summarizes each chunk concurrently and then summarizes the
// partial summaries, in chunk order. A single chunk skips the reduce call.
func (s *Summarizer) Summarize(ctx context.Context, chunks []string) (string, error) {
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			texts = append(texts, c)
		}
	}
	if len(texts) == 0 {
		return "", ErrNoContent
	}

	partials := make([]string, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			out, err := s.gen.Generate(gctx, Prompt(text))
			if err != nil {
				return fmt.Errorf("summary: map chunk %d: %w", i, err)
			}
			partials[i] = strings.TrimSpace(out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if len(partials) == 1 {
		return partials[0], nil
	}
	out, err := s.gen.Generate(ctx, Prompt(strings.Join(partials, "\n\n")))
	if err != nil {
		return "", fmt.Errorf("summary: reduce: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// SummarizeDocument splits the pages and summarizes the resulting chunks.
func (s *Summarizer) SummarizeDocument(ctx context.Context, pages []domain.Page) (string, error) {
	var chunks []string
	for _, p := range pages {
		chunks = append(chunks, s.splitter.Split(p.Text)...)
	}
	return s.Summarize(ctx, chunks)
}
