package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"academic-assistant/internal/documents"
	"academic-assistant/internal/domain"
	"academic-assistant/internal/integrations/openai"
	"academic-assistant/internal/memory"
	"academic-assistant/internal/observability"
	"academic-assistant/internal/rag"
	"academic-assistant/internal/router"
	"academic-assistant/internal/session"
)

type fakeRouter struct {
	result  router.Result
	err     error
	calls   int
	query   string
	mode    domain.Mode
	history []domain.Turn
}

func (f *fakeRouter) Route(_ context.Context, query string, mode domain.Mode, history []domain.Turn) (router.Result, error) {
	f.calls++
	f.query = query
	f.mode = mode
	f.history = history
	return f.result, f.err
}

type fakeIndex struct {
	chunks   map[string]int
	pages    []domain.Page
	indexErr error
	pagesErr error
	purgeErr error
	resetErr error
	indexed  []string
	purged   []string
	resets   int
}

func (f *fakeIndex) Index(_ context.Context, name string) (int, error) {
	f.indexed = append(f.indexed, name)
	if f.indexErr != nil {
		return 0, f.indexErr
	}
	if f.chunks == nil {
		f.chunks = map[string]int{}
	}
	f.chunks[name] = 3
	return 3, nil
}

func (f *fakeIndex) Count(_ context.Context, name string) (int, error) {
	return f.chunks[name], nil
}

func (f *fakeIndex) Pages(_ context.Context, _ string) ([]domain.Page, error) {
	return f.pages, f.pagesErr
}

func (f *fakeIndex) Purge(_ context.Context, name string) error {
	f.purged = append(f.purged, name)
	return f.purgeErr
}

func (f *fakeIndex) Reset(context.Context) error {
	f.resets++
	return f.resetErr
}

type fakeSummarizer struct {
	out   string
	err   error
	pages []domain.Page
}

func (f *fakeSummarizer) SummarizeDocument(_ context.Context, pages []domain.Page) (string, error) {
	f.pages = pages
	return f.out, f.err
}

type fakeQuiz struct {
	items []domain.QuizItem
	err   error
	text  string
}

func (f *fakeQuiz) Generate(_ context.Context, text string) ([]domain.QuizItem, error) {
	f.text = text
	return f.items, f.err
}

type failingMemory struct {
	memory.Store
	appendErr error
}

func (f failingMemory) Append(ctx context.Context, id string, t domain.Turn) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Store.Append(ctx, id, t)
}

type fixture struct {
	assistant *Assistant
	router    *fakeRouter
	memory    *memory.InMemoryStore
	sessions  *session.Manager
	docs      *documents.Store
	index     *fakeIndex
	summary   *fakeSummarizer
	quiz      *fakeQuiz
	metrics   *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs, err := documents.NewStore(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		router:   &fakeRouter{result: router.Result{Answer: "answer"}},
		memory:   memory.NewInMemoryStore(),
		sessions: session.NewManager(domain.ModeExplain),
		docs:     docs,
		index:    &fakeIndex{pages: []domain.Page{{Source: "notes.pdf", Number: 1, Text: "page one"}, {Source: "notes.pdf", Number: 2, Text: "page two"}}},
		summary:  &fakeSummarizer{out: "short summary"},
		quiz:     &fakeQuiz{items: []domain.QuizItem{{Question: "Q1", Options: []string{"A", "B", "C", "D"}, Answer: "A"}}},
		metrics:  observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	f.assistant = f.build(t, f.memory)
	return f
}

func (f *fixture) build(t *testing.T, mem ConversationStore) *Assistant {
	t.Helper()
	a, err := NewAssistant(Deps{
		Router:            f.router,
		Memory:            mem,
		Sessions:          f.sessions,
		Documents:         f.docs,
		Index:             f.index,
		Summarizer:        f.summary,
		Quiz:              f.quiz,
		Metrics:           f.metrics,
		MaxQuestionLength: 50,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) addDocument(t *testing.T, name string) {
	t.Helper()
	_, err := f.docs.Add(context.Background(), name, strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
}

func requireCode(t *testing.T, err error, code ErrorCode, reason string) *Error {
	t.Helper()
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, code, uerr.Code)
	if reason != "" {
		require.Equal(t, reason, uerr.Reason)
	}
	return uerr
}

func TestNewAssistant_ValidatesDependencies(t *testing.T) {
	f := newFixture(t)
	full := Deps{Router: f.router, Memory: f.memory, Sessions: f.sessions, Documents: f.docs, Index: f.index, Summarizer: f.summary, Quiz: f.quiz}

	mutations := []func(*Deps){
		func(d *Deps) { d.Router = nil },
		func(d *Deps) { d.Memory = nil },
		func(d *Deps) { d.Sessions = nil },
		func(d *Deps) { d.Documents = nil },
		func(d *Deps) { d.Index = nil },
		func(d *Deps) { d.Summarizer = nil },
		func(d *Deps) { d.Quiz = nil },
	}
	for _, mutate := range mutations {
		d := full
		mutate(&d)
		_, err := NewAssistant(d)
		require.Error(t, err)
	}

	a, err := NewAssistant(full)
	require.NoError(t, err)
	require.Equal(t, defaultMaxQuestion, a.maxQuery)
}

func TestAsk_HappyPathRecordsBothTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: "  Explain TCP slow start  "})
	require.NoError(t, err)
	require.Equal(t, AskOutput{Answer: "answer", SessionID: "s1", Mode: domain.ModeExplain}, out)

	require.Equal(t, 1, f.router.calls)
	require.Equal(t, "Explain TCP slow start", f.router.query)
	require.Equal(t, domain.ModeExplain, f.router.mode)
	require.Empty(t, f.router.history)

	turns, err := f.memory.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, []domain.Turn{domain.UserTurn("Explain TCP slow start"), domain.AssistantTurn("answer")}, turns)

	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.Turns.WithLabelValues("explain", "ok")), 0)
}

func TestAsk_RouterSeesPriorHistoryOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: "first"})
	require.NoError(t, err)
	_, err = f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: "second", Mode: "QA"})
	require.NoError(t, err)

	require.Equal(t, "second", f.router.query)
	require.Equal(t, domain.ModeQA, f.router.mode)
	require.Equal(t, []domain.Turn{domain.UserTurn("first"), domain.AssistantTurn("answer")}, f.router.history)

	// the mode used sticks to the session
	_, err = f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: "third"})
	require.NoError(t, err)
	require.Equal(t, domain.ModeQA, f.router.mode)
}

func TestAsk_ReturnsCitations(t *testing.T) {
	f := newFixture(t)
	f.router.result = router.Result{Answer: "grounded", Citations: []domain.Citation{{Filename: "a.pdf", Page: 2}}}

	out, err := f.assistant.Ask(context.Background(), AskInput{SessionID: "s1", Query: "q", Mode: "qa"})
	require.NoError(t, err)
	require.Equal(t, []domain.Citation{{Filename: "a.pdf", Page: 2}}, out.Citations)
}

func TestAsk_GeneratesSessionID(t *testing.T) {
	f := newFixture(t)
	orig := newUUID
	newUUID = func() string { return "generated-id" }
	t.Cleanup(func() { newUUID = orig })

	out, err := f.assistant.Ask(context.Background(), AskInput{Query: "hello"})
	require.NoError(t, err)
	require.Equal(t, "generated-id", out.SessionID)
}

func TestAsk_ValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: " \n "})
	requireCode(t, err, ErrorInvalidInput, "empty_query")

	_, err = f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: strings.Repeat("é", 51)})
	requireCode(t, err, ErrorInvalidInput, "query_too_long")

	_, err = f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: "q", Mode: "summarize"})
	requireCode(t, err, ErrorInvalidInput, "unknown_mode")

	require.Zero(t, f.router.calls)
	turns, err := f.memory.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestAsk_FailureKeepsUserTurn(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   ErrorCode
		reason string
	}{
		{name: "upstream", err: errors.New("connection reset"), code: ErrorUpstream, reason: "qa_error"},
		{name: "rate limited", err: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}, code: ErrorRateLimited, reason: "qa_rate_limited"},
		{name: "server error", err: &openai.HTTPStatusError{StatusCode: http.StatusInternalServerError}, code: ErrorUpstream, reason: "qa_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.router.err = tc.err

			_, err := f.assistant.Ask(context.Background(), AskInput{SessionID: "s1", Query: "why?", Mode: "qa"})
			requireCode(t, err, tc.code, tc.reason)
			require.ErrorIs(t, err, tc.err)

			turns, err := f.memory.Snapshot(context.Background(), "s1")
			require.NoError(t, err)
			require.Equal(t, []domain.Turn{domain.UserTurn("why?")}, turns)
			require.InDelta(t, 1, testutil.ToFloat64(f.metrics.Turns.WithLabelValues("qa", "error")), 0)
		})
	}
}

func TestAsk_MemoryFailure(t *testing.T) {
	f := newFixture(t)
	a := f.build(t, failingMemory{Store: f.memory, appendErr: errors.New("table missing")})

	_, err := a.Ask(context.Background(), AskInput{SessionID: "s1", Query: "q"})
	requireCode(t, err, ErrorInternal, "memory_write_error")
	require.Zero(t, f.router.calls)
}

func TestHistoryAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.assistant.History(ctx, " ")
	requireCode(t, err, ErrorInvalidInput, "missing_session")

	out, err := f.assistant.History(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, out.Turns)
	require.Empty(t, out.Turns)

	_, err = f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: "hello"})
	require.NoError(t, err)
	f.sessions.SetDocument("s1", "notes.pdf")

	out, err = f.assistant.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, out.Turns, 2)

	require.NoError(t, f.assistant.ClearHistory(ctx, "s1"))
	out, err = f.assistant.History(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, out.Turns)
	require.Equal(t, "notes.pdf", f.sessions.Get("s1").Document)
}

func TestSessionsAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.assistant.Ask(ctx, AskInput{SessionID: "alice", Query: "alice question", Mode: "qa"})
	require.NoError(t, err)
	_, err = f.assistant.Ask(ctx, AskInput{SessionID: "bob", Query: "bob question"})
	require.NoError(t, err)

	require.Empty(t, f.router.history)
	require.Equal(t, domain.ModeExplain, f.router.mode)

	alice, err := f.assistant.Session(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.ModeQA, alice.Mode)
	bob, err := f.assistant.Session(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, domain.ModeExplain, bob.Mode)
}

func TestSelectMode(t *testing.T) {
	f := newFixture(t)
	state, err := f.assistant.SelectMode(context.Background(), "s1", "qa")
	require.NoError(t, err)
	require.Equal(t, domain.ModeQA, state.Mode)

	_, err = f.assistant.SelectMode(context.Background(), "s1", "chat")
	requireCode(t, err, ErrorInvalidInput, "unknown_mode")
}

func TestSelectDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDocument(t, "notes.pdf")

	out, err := f.assistant.SelectDocument(ctx, SelectInput{SessionID: "s1", Name: "notes.pdf"})
	require.NoError(t, err)
	require.Equal(t, 3, out.Chunks)
	require.Equal(t, "notes.pdf", out.Session.Document)
	require.Equal(t, []string{"notes.pdf"}, f.index.indexed)

	// already indexed: no second embedding pass
	_, err = f.assistant.SelectDocument(ctx, SelectInput{SessionID: "s2", Name: "notes.pdf"})
	require.NoError(t, err)
	require.Len(t, f.index.indexed, 1)

	_, err = f.assistant.SelectDocument(ctx, SelectInput{SessionID: "s2", Name: "notes.pdf", Reindex: true})
	require.NoError(t, err)
	require.Len(t, f.index.indexed, 2)

	_, err = f.assistant.SelectDocument(ctx, SelectInput{SessionID: "s1", Name: "missing.pdf"})
	requireCode(t, err, ErrorNotFound, "document_not_found")

	_, err = f.assistant.SelectDocument(ctx, SelectInput{SessionID: "s1", Name: "../etc/passwd"})
	requireCode(t, err, ErrorInvalidInput, "invalid_document_name")

	state, err := f.assistant.ClearDocument(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, state.Document)
}

func TestSelectDocument_IndexFailures(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "scan.pdf")

	f.index.indexErr = rag.ErrNoText
	_, err := f.assistant.SelectDocument(context.Background(), SelectInput{SessionID: "s1", Name: "scan.pdf"})
	uerr := requireCode(t, err, ErrorDocument, "no_text")
	require.NotEmpty(t, uerr.Notice)
	require.Empty(t, f.sessions.Get("s1").Document)

	f.index.indexErr = &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}
	_, err = f.assistant.SelectDocument(context.Background(), SelectInput{SessionID: "s1", Name: "scan.pdf"})
	requireCode(t, err, ErrorRateLimited, "embedding_rate_limited")
}

func TestUploadDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.assistant.UploadDocument(ctx, UploadInput{Name: "lecture.pdf", Body: strings.NewReader("%PDF")})
	require.NoError(t, err)
	require.Equal(t, "lecture.pdf", out.Document.Name)
	require.Equal(t, 3, out.Chunks)

	_, err = f.assistant.UploadDocument(ctx, UploadInput{Name: "lecture.exe", Body: strings.NewReader("x")})
	requireCode(t, err, ErrorInvalidInput, "invalid_document_name")

	_, err = f.assistant.UploadDocument(ctx, UploadInput{Name: "lecture.pdf"})
	requireCode(t, err, ErrorInvalidInput, "empty_body")

	f.index.indexErr = &openai.HTTPStatusError{StatusCode: http.StatusBadGateway}
	out, err = f.assistant.UploadDocument(ctx, UploadInput{Name: "other.pdf", Body: strings.NewReader("%PDF")})
	uerr := requireCode(t, err, ErrorDocument, "embedding_error")
	require.Contains(t, uerr.Notice, "saved")
	require.Equal(t, "other.pdf", out.Document.Name)

	docs, err := f.assistant.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDocument(t, "notes.pdf")
	f.sessions.SetDocument("s1", "notes.pdf")
	_, err := f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: "hello"})
	require.NoError(t, err)

	require.NoError(t, f.assistant.DeleteDocument(ctx, "notes.pdf"))
	require.Equal(t, []string{"notes.pdf"}, f.index.purged)
	require.Empty(t, f.sessions.Get("s1").Document)

	history, err := f.assistant.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history.Turns, 2)

	err = f.assistant.DeleteDocument(ctx, "notes.pdf")
	requireCode(t, err, ErrorNotFound, "document_not_found")
}

func TestDeleteDocument_PurgeFailureIsNotice(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "notes.pdf")
	f.index.purgeErr = errors.New("database is locked")

	err := f.assistant.DeleteDocument(context.Background(), "notes.pdf")
	uerr := requireCode(t, err, ErrorDocument, "index_purge_error")
	require.NotEmpty(t, uerr.Notice)

	_, statErr := f.docs.Stat("notes.pdf")
	require.ErrorIs(t, statErr, documents.ErrNotFound)
}

func TestResetIndex(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.assistant.ResetIndex(context.Background()))
	require.Equal(t, 1, f.index.resets)

	f.index.resetErr = errors.New("read-only filesystem")
	err := f.assistant.ResetIndex(context.Background())
	requireCode(t, err, ErrorDocument, "index_reset_error")
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.DocumentOps.WithLabelValues("reset", "error")), 0)
}

func TestReindexAndForget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDocument(t, "notes.pdf")

	n, err := f.assistant.Reindex(ctx, "notes.pdf")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = f.assistant.Reindex(ctx, "gone.pdf")
	requireCode(t, err, ErrorNotFound, "")

	f.sessions.SetDocument("s1", "gone.pdf")
	require.NoError(t, f.assistant.Forget(ctx, "gone.pdf"))
	require.Empty(t, f.sessions.Get("s1").Document)
}

// pairingRouter records every history it is handed.
type pairingRouter struct {
	mu        sync.Mutex
	histories [][]domain.Turn
}

func (p *pairingRouter) Route(_ context.Context, query string, _ domain.Mode, history []domain.Turn) (router.Result, error) {
	p.mu.Lock()
	p.histories = append(p.histories, history)
	p.mu.Unlock()
	time.Sleep(time.Millisecond)
	return router.Result{Answer: "re: " + query}, nil
}

func TestAsk_ConcurrentTurnsInOneSessionStayPaired(t *testing.T) {
	f := newFixture(t)
	pr := &pairingRouter{}
	a, err := NewAssistant(Deps{
		Router: pr, Memory: f.memory, Sessions: f.sessions, Documents: f.docs,
		Index: f.index, Summarizer: f.summary, Quiz: f.quiz,
	})
	require.NoError(t, err)

	const turns = 20
	errs := make(chan error, turns)
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.Ask(context.Background(), AskInput{SessionID: "s1", Query: fmt.Sprintf("q%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, h := range pr.histories {
		require.Zero(t, len(h)%2, "router saw a half-finished turn")
	}
	entries, err := f.memory.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2*turns)
	for i := 0; i < len(entries); i += 2 {
		require.Equal(t, domain.RoleUser, entries[i].Role)
		require.Equal(t, domain.RoleAssistant, entries[i+1].Role)
		require.Equal(t, "re: "+entries[i].Text, entries[i+1].Text)
	}
	require.Zero(t, a.turns.len())
}

func TestExpireSessions_DropsStateAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: "hello", Mode: "qa"})
	require.NoError(t, err)
	require.Equal(t, 1, f.memory.Len())

	n, err := f.assistant.ExpireSessions(ctx, time.Hour)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = f.assistant.ExpireSessions(ctx, -time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	hist, err := f.assistant.History(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, hist.Turns)
	require.Zero(t, f.memory.Len())
	require.Equal(t, domain.ModeExplain, f.sessions.Get("s1").Mode)
	require.InDelta(t, 0, testutil.ToFloat64(f.metrics.ActiveSessions), 0)
}

func TestExpireSessions_CoversFailedTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.router.err = errors.New("boom")

	_, err := f.assistant.Ask(ctx, AskInput{SessionID: "s1", Query: "hello"})
	require.Error(t, err)
	require.Equal(t, 1, f.memory.Len())

	n, err := f.assistant.ExpireSessions(ctx, -time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, f.memory.Len())
}
