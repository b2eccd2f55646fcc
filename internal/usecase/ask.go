package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"academic-assistant/internal/domain"
	"academic-assistant/internal/observability"
	"academic-assistant/internal/quiz"
	"academic-assistant/internal/router"
	"academic-assistant/internal/session"
)

const defaultMaxQuestion = 2000

type Router interface {
	Route(ctx context.Context, query string, mode domain.Mode, history []domain.Turn) (router.Result, error)
}

type ConversationStore interface {
	Append(ctx context.Context, sessionID string, turn domain.Turn) error
	Snapshot(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Clear(ctx context.Context, sessionID string) error
}

type SessionStore interface {
	Get(id string) session.State
	SetMode(id string, mode domain.Mode) session.State
	SetDocument(id, name string) session.State
	SetQuiz(id string, items []domain.QuizItem) session.State
	Touch(id string) session.State
	ForgetDocument(name string)
	Sweep(ttl time.Duration) []string
	Len() int
}

type DocumentStore interface {
	Add(ctx context.Context, name string, r io.Reader) (domain.Document, error)
	List(ctx context.Context) ([]domain.Document, error)
	Delete(ctx context.Context, name string) error
	Stat(name string) (domain.Document, error)
}

type DocumentIndex interface {
	Index(ctx context.Context, name string) (int, error)
	Count(ctx context.Context, name string) (int, error)
	Pages(ctx context.Context, name string) ([]domain.Page, error)
	Purge(ctx context.Context, name string) error
	Reset(ctx context.Context) error
}

type Summarizer interface {
	SummarizeDocument(ctx context.Context, pages []domain.Page) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Deps lists the collaborators of an Assistant. Metrics and Logger are optional.
type Deps struct {
	Router            Router
	Memory            ConversationStore
	Sessions          SessionStore
	Documents         DocumentStore
	Index             DocumentIndex
	Summarizer        Summarizer
	Quiz              quiz.Source
	Metrics           *observability.Metrics
	Logger            *slog.Logger
	MaxQuestionLength int
}

// Assistant is the interaction loop. It owns the conversation memory and the
// session state; collaborators only see snapshots. Turns of one session run
// one at a time within a process; deployments sharing a remote memory store
// across processes rely on clients not overlapping turns of a session.
type Assistant struct {
	router     Router
	memory     ConversationStore
	sessions   SessionStore
	docs       DocumentStore
	index      DocumentIndex
	summarizer Summarizer
	quiz       quiz.Source
	metrics    *observability.Metrics
	logger     *slog.Logger
	maxQuery   int
	turns      *sessionLocks
}

type AskInput struct {
	SessionID string
	Query     string
	Mode      string
}

type AskOutput struct {
	Answer    string
	SessionID string
	Mode      domain.Mode
	Citations []domain.Citation
}

func NewAssistant(d Deps) (*Assistant, error) {
	switch {
	case d.Router == nil:
		return nil, errors.New("usecase: router must not be nil")
	case d.Memory == nil:
		return nil, errors.New("usecase: memory store must not be nil")
	case d.Sessions == nil:
		return nil, errors.New("usecase: session store must not be nil")
	case d.Documents == nil:
		return nil, errors.New("usecase: document store must not be nil")
	case d.Index == nil:
		return nil, errors.New("usecase: document index must not be nil")
	case d.Summarizer == nil:
		return nil, errors.New("usecase: summarizer must not be nil")
	case d.Quiz == nil:
		return nil, errors.New("usecase: quiz generator must not be nil")
	}
	if d.MaxQuestionLength <= 0 {
		d.MaxQuestionLength = defaultMaxQuestion
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Assistant{
		router:     d.Router,
		memory:     d.Memory,
		sessions:   d.Sessions,
		docs:       d.Documents,
		index:      d.Index,
		summarizer: d.Summarizer,
		quiz:       d.Quiz,
		metrics:    d.Metrics,
		logger:     d.Logger,
		maxQuery:   d.MaxQuestionLength,
		turns:      newSessionLocks(),
	}, nil
}

// Ask runs one turn. The user turn is recorded before routing and is kept
// when routing fails, so the user can retry.
func (a *Assistant) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	if utf8.RuneCountInString(query) > a.maxQuery {
		return AskOutput{}, newError(ErrorInvalidInput, "query_too_long", nil)
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}

	var requested domain.Mode
	if strings.TrimSpace(in.Mode) != "" {
		parsed, err := domain.ParseMode(in.Mode)
		if err != nil {
			return AskOutput{}, newError(ErrorInvalidInput, "unknown_mode", err)
		}
		requested = parsed
	}

	unlock := a.turns.lock(sessionID)
	defer unlock()

	mode := a.sessions.Touch(sessionID).Mode
	if requested != "" {
		mode = requested
	}

	history, err := a.memory.Snapshot(ctx, sessionID)
	if err != nil {
		return AskOutput{}, newError(ErrorInternal, "memory_read_error", err)
	}
	if err := a.memory.Append(ctx, sessionID, domain.UserTurn(query)); err != nil {
		return AskOutput{}, newError(ErrorInternal, "memory_write_error", err)
	}

	start := time.Now()
	res, err := a.router.Route(ctx, query, mode, history)
	a.metrics.ObserveCollaborator(string(mode), time.Since(start))
	a.metrics.ObserveTurn(string(mode), err)
	if err != nil {
		a.logger.Warn("turn failed", "session_id", sessionID, "mode", mode, "err", err)
		if errors.Is(err, router.ErrUnknownMode) {
			return AskOutput{}, newError(ErrorInvalidInput, "unknown_mode", err)
		}
		return AskOutput{}, upstreamError(string(mode), err)
	}

	if err := a.memory.Append(ctx, sessionID, domain.AssistantTurn(res.Answer)); err != nil {
		return AskOutput{}, newError(ErrorInternal, "memory_write_error", err)
	}
	a.sessions.SetMode(sessionID, mode)
	a.metrics.SetActiveSessions(a.sessions.Len())

	return AskOutput{
		Answer:    res.Answer,
		SessionID: sessionID,
		Mode:      mode,
		Citations: res.Citations,
	}, nil
}

type HistoryOutput struct {
	SessionID string
	Turns     []domain.Turn
}

func (a *Assistant) History(ctx context.Context, sessionID string) (HistoryOutput, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return HistoryOutput{}, err
	}
	turns, err := a.memory.Snapshot(ctx, sessionID)
	if err != nil {
		return HistoryOutput{}, newError(ErrorInternal, "memory_read_error", err)
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return HistoryOutput{SessionID: sessionID, Turns: turns}, nil
}

// ClearHistory empties the whole conversation log of the session. Mode and
// document selection are kept.
func (a *Assistant) ClearHistory(ctx context.Context, sessionID string) error {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return err
	}
	unlock := a.turns.lock(sessionID)
	defer unlock()
	if err := a.memory.Clear(ctx, sessionID); err != nil {
		return newError(ErrorInternal, "memory_clear_error", err)
	}
	a.logger.Info("history cleared", "session_id", sessionID)
	return nil
}

// ExpireSessions drops sessions idle for longer than ttl together with their
// conversation logs and returns how many were dropped.
func (a *Assistant) ExpireSessions(ctx context.Context, ttl time.Duration) (int, error) {
	dropped := a.sessions.Sweep(ttl)
	var errs []error
	for _, id := range dropped {
		unlock := a.turns.lock(id)
		if err := a.memory.Clear(ctx, id); err != nil {
			errs = append(errs, err)
		}
		unlock()
	}
	a.metrics.SetActiveSessions(a.sessions.Len())
	if len(dropped) > 0 {
		a.logger.Info("idle sessions dropped", "count", len(dropped))
	}
	if err := errors.Join(errs...); err != nil {
		return len(dropped), newError(ErrorInternal, "memory_clear_error", err)
	}
	return len(dropped), nil
}

func (a *Assistant) Session(_ context.Context, sessionID string) (session.State, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return session.State{}, err
	}
	return a.sessions.Get(sessionID), nil
}

func (a *Assistant) SelectMode(_ context.Context, sessionID, mode string) (session.State, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return session.State{}, err
	}
	parsed, err := domain.ParseMode(mode)
	if err != nil {
		return session.State{}, newError(ErrorInvalidInput, "unknown_mode", err)
	}
	return a.sessions.SetMode(sessionID, parsed), nil
}

func requireSession(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", newError(ErrorInvalidInput, "missing_session", nil)
	}
	return id, nil
}

// upstreamError maps a collaborator failure to RATE_LIMITED or UPSTREAM_ERROR.
func upstreamError(collaborator string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, collaborator+"_rate_limited", err)
	}
	return newError(ErrorUpstream, collaborator+"_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
