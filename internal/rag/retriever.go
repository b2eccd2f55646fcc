package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"academic-assistant/internal/domain"
)

// AnswerSystemPrompt is the system prompt of the answering generator.
const AnswerSystemPrompt = "You are an academic assistant. Use the following chat history and retrieved documents to answer the user's new question."

const noContext = "No relevant passages were found in the indexed documents."

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]domain.ScoredChunk, error)
}

// Retriever condenses a follow-up into a standalone question, searches the
// index with it and answers from the retrieved chunks.
type Retriever struct {
	answerer  Generator
	condenser Generator
	embedder  QueryEmbedder
	index     Searcher
	topK      int
}

func NewRetriever(answerer, condenser Generator, embedder QueryEmbedder, index Searcher, topK int) (*Retriever, error) {
	if answerer == nil {
		return nil, errors.New("rag: answer generator must not be nil")
	}
	if condenser == nil {
		return nil, errors.New("rag: condense generator must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, errors.New("rag: index must not be nil")
	}
	if topK <= 0 {
		return nil, errors.New("rag: top-K must be positive")
	}
	return &Retriever{answerer: answerer, condenser: condenser, embedder: embedder, index: index, topK: topK}, nil
}

// RetrieveAndAnswer returns the answer and one citation per retrieved chunk,
// in rank order. Citations are not deduplicated here.
func (r *Retriever) RetrieveAndAnswer(ctx context.Context, query string, history []domain.Turn) (domain.GroundedAnswer, error) {
	question := query
	if len(history) > 0 {
		standalone, err := r.condenser.Generate(ctx, CondensePrompt(history, query))
		if err != nil {
			return domain.GroundedAnswer{}, fmt.Errorf("rag: condense question: %w", err)
		}
		if s := strings.TrimSpace(standalone); s != "" {
			question = s
		}
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return domain.GroundedAnswer{}, fmt.Errorf("rag: embed question: %w", err)
	}
	hits, err := r.index.Search(ctx, vec, r.topK)
	if err != nil {
		return domain.GroundedAnswer{}, fmt.Errorf("rag: search: %w", err)
	}

	answer, err := r.answerer.Generate(ctx, AnswerPrompt(history, question, hits))
	if err != nil {
		return domain.GroundedAnswer{}, fmt.Errorf("rag: answer: %w", err)
	}

	citations := make([]domain.Citation, 0, len(hits))
	for _, h := range hits {
		citations = append(citations, domain.Citation{Filename: h.Source, Page: h.Page})
	}
	return domain.GroundedAnswer{Text: answer, Citations: citations}, nil
}

func CondensePrompt(history []domain.Turn, query string) string {
	var b strings.Builder
	b.WriteString("Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.\n\n")
	b.WriteString("Chat History:\n")
	b.WriteString(domain.Transcript(history))
	b.WriteString("\nFollow Up Input: ")
	b.WriteString(query)
	b.WriteString("\nStandalone question:")
	return b.String()
}

func AnswerPrompt(history []domain.Turn, question string, hits []domain.ScoredChunk) string {
	var b strings.Builder
	if transcript := domain.Transcript(history); transcript != "" {
		b.WriteString("Chat History:\n")
		b.WriteString(transcript)
		b.WriteString("\n\n")
	}
	b.WriteString("Context:\n")
	if len(hits) == 0 {
		b.WriteString(noContext)
		b.WriteString("\n")
	}
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s, page %d\n%s\n\n", i+1, h.Source, h.Page, h.Text)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}
