// Package quiz generates multiple-choice quizzes from document text and
// grades a learner's answers.
package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"academic-assistant/internal/domain"
)

const (
	DefaultQuestions = 10
	OptionsPerItem   = 4

	// PlaceholderQuestion marks the single item returned when generation fails.
	PlaceholderQuestion = "Quiz generation failed."

	defaultMaxContentRunes = 24000
)

var ErrEmptyQuiz = errors.New("quiz: generator returned no questions")

type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Generator struct {
	llm       LLM
	questions int
	maxRunes  int
}

func NewGenerator(llm LLM, questions int) (*Generator, error) {
	if llm == nil {
		return nil, errors.New("quiz: llm must not be nil")
	}
	if questions <= 0 {
		questions = DefaultQuestions
	}
	return &Generator{llm: llm, questions: questions, maxRunes: defaultMaxContentRunes}, nil
}

func Prompt(content string, questions int) string {
	var b strings.Builder
	b.WriteString("You are a quiz generator.\n\n")
	fmt.Fprintf(&b, "Your task is to generate exactly %d multiple-choice questions based on the following document content.\n", questions)
	fmt.Fprintf(&b, "Each question must have %d answer options and only one correct answer.\n", OptionsPerItem)
	b.WriteString("The answer must be copied exactly from the options.\n\n")
	b.WriteString("Return the result strictly as a valid JSON array like this:\n\n")
	b.WriteString(`[
  {
    "question": "What is select() used for?",
    "options": ["To read input", "To monitor multiple descriptors", "To send signals", "To fork a process"],
    "answer": "To monitor multiple descriptors"
  }
]`)
	b.WriteString("\n\nDo not include any explanations or markdown. Just the JSON array only.\n\nContent:\n")
	b.WriteString(content)
	return b.String()
}

// Generate asks the model for a quiz and decodes it. Content beyond the
// generator's budget is cut off.
func (g *Generator) Generate(ctx context.Context, documentText string) ([]domain.QuizItem, error) {
	content := strings.TrimSpace(documentText)
	if content == "" {
		return nil, errors.New("quiz: document has no text")
	}
	if r := []rune(content); len(r) > g.maxRunes {
		content = string(r[:g.maxRunes])
	}

	raw, err := g.llm.Generate(ctx, Prompt(content, g.questions))
	if err != nil {
		return nil, fmt.Errorf("quiz: generate: %w", err)
	}
	items, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyQuiz
	}
	return items, nil
}

// Parse decodes exactly one JSON array of quiz items, tolerating a
// surrounding markdown code fence.
func Parse(raw string) ([]domain.QuizItem, error) {
	var items []domain.QuizItem
	dec := json.NewDecoder(bytes.NewBufferString(stripFence(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("quiz: decode quiz: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("quiz: decode quiz: multiple JSON values")
		}
		return nil, fmt.Errorf("quiz: decode quiz trailing data: %w", err)
	}
	for i := range items {
		if items[i].Options == nil {
			items[i].Options = []string{}
		}
	}
	return items, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Placeholder is the item that stands in for a failed quiz.
func Placeholder(err error) domain.QuizItem {
	detail := "unknown error"
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		detail = err.Error()
	}
	return domain.QuizItem{Question: PlaceholderQuestion, Options: []string{}, Answer: detail}
}

// IsPlaceholder reports whether items is the single failure placeholder.
func IsPlaceholder(items []domain.QuizItem) bool {
	return len(items) == 1 && items[0].Question == PlaceholderQuestion && len(items[0].Options) == 0
}

// Source produces quiz items from document text.
type Source interface {
	Generate(ctx context.Context, documentText string) ([]domain.QuizItem, error)
}

// GenerateQuiz never fails. Errors, malformed output and empty quizzes all
// yield a single placeholder item whose answer carries the detail.
func GenerateQuiz(ctx context.Context, src Source, documentText string) []domain.QuizItem {
	if src == nil {
		return []domain.QuizItem{Placeholder(errors.New("quiz: no generator configured"))}
	}
	items, err := src.Generate(ctx, documentText)
	if err != nil {
		return []domain.QuizItem{Placeholder(err)}
	}
	if len(items) == 0 {
		return []domain.QuizItem{Placeholder(ErrEmptyQuiz)}
	}
	return items
}
