package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"academic-assistant/internal/domain"
	"academic-assistant/internal/quiz"
	"academic-assistant/internal/summary"
)

type DocumentInput struct {
	SessionID string
	// Document defaults to the session's selected document.
	Document string
}

type SummaryOutput struct {
	Document string
	Summary  string
}

func (a *Assistant) Summarize(ctx context.Context, in DocumentInput) (SummaryOutput, error) {
	name, pages, err := a.documentPages(ctx, in)
	if err != nil {
		return SummaryOutput{}, err
	}

	start := time.Now()
	text, err := a.summarizer.SummarizeDocument(ctx, pages)
	a.metrics.ObserveCollaborator("summary", time.Since(start))
	if err != nil {
		if errors.Is(err, summary.ErrNoContent) {
			return SummaryOutput{}, newNotice("no_text", "The document has no extractable text.", err)
		}
		return SummaryOutput{}, upstreamError("summary", err)
	}
	return SummaryOutput{Document: name, Summary: text}, nil
}

type QuizOutput struct {
	Document string
	Items    []domain.QuizItem
	Issues   []quiz.Issue
	// Failed is set when Items is the single failure placeholder.
	Failed bool
}

// GenerateQuiz builds a quiz for the document and stores it in the session.
// Generation failures do not return an error; they yield the placeholder item.
func (a *Assistant) GenerateQuiz(ctx context.Context, in DocumentInput) (QuizOutput, error) {
	name, pages, err := a.documentPages(ctx, in)
	if err != nil {
		return QuizOutput{}, err
	}

	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		texts = append(texts, p.Text)
	}

	start := time.Now()
	items := quiz.GenerateQuiz(ctx, a.quiz, strings.Join(texts, "\n"))
	a.metrics.ObserveCollaborator("quiz", time.Since(start))

	failed := quiz.IsPlaceholder(items)
	if failed {
		a.metrics.ObserveQuizFallback()
		a.logger.Warn("quiz generation failed", "session_id", in.SessionID, "document", name, "detail", items[0].Answer)
	}

	issues := quiz.Validate(items)
	a.sessions.SetQuiz(strings.TrimSpace(in.SessionID), items)
	return QuizOutput{Document: name, Items: items, Issues: issues, Failed: failed}, nil
}

type ScoreInput struct {
	SessionID string
	Answers   map[int]string
}

type ScoreOutput struct {
	quiz.Grading
	Message string
}

func (a *Assistant) ScoreQuiz(_ context.Context, in ScoreInput) (ScoreOutput, error) {
	sessionID, err := requireSession(in.SessionID)
	if err != nil {
		return ScoreOutput{}, err
	}
	items := a.sessions.Get(sessionID).Quiz
	if items == nil {
		return ScoreOutput{}, newError(ErrorInvalidInput, "no_quiz", nil)
	}
	g := quiz.Grade(items, in.Answers)
	return ScoreOutput{Grading: g, Message: quiz.ResultMessage(g.Result)}, nil
}

// documentPages resolves the target document and reads its pages.
func (a *Assistant) documentPages(ctx context.Context, in DocumentInput) (string, []domain.Page, error) {
	sessionID, err := requireSession(in.SessionID)
	if err != nil {
		return "", nil, err
	}
	name := strings.TrimSpace(in.Document)
	if name == "" {
		name = a.sessions.Get(sessionID).Document
	}
	if name == "" {
		return "", nil, newError(ErrorInvalidInput, "no_document", nil)
	}
	doc, err := a.docs.Stat(name)
	if err != nil {
		return "", nil, documentLookupError(err)
	}
	pages, err := a.index.Pages(ctx, doc.Name)
	if err != nil {
		return "", nil, newNotice("document_read_error", "The document could not be read.", err)
	}
	return doc.Name, pages, nil
}
