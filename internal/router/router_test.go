package router

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"academic-assistant/internal/domain"
)

type fakeGenerator struct {
	out    string
	err    error
	calls  int
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.out, f.err
}

type fakeRetriever struct {
	out     domain.GroundedAnswer
	err     error
	calls   int
	query   string
	history []domain.Turn
}

func (f *fakeRetriever) RetrieveAndAnswer(_ context.Context, query string, history []domain.Turn) (domain.GroundedAnswer, error) {
	f.calls++
	f.query = query
	f.history = history
	return f.out, f.err
}

func newRouter(t *testing.T, g *fakeGenerator, r *fakeRetriever) *Router {
	t.Helper()
	rt, err := New(g, r)
	require.NoError(t, err)
	return rt
}

func TestNew_ValidatesDependencies(t *testing.T) {
	_, err := New(nil, &fakeRetriever{})
	require.Error(t, err)
	_, err = New(&fakeGenerator{}, nil)
	require.Error(t, err)
}

func TestRoute_ExplainEmptyHistory(t *testing.T) {
	g := &fakeGenerator{out: "Slow start doubles the congestion window each RTT."}
	r := &fakeRetriever{}
	rt := newRouter(t, g, r)

	res, err := rt.Route(context.Background(), "Explain TCP slow start", domain.ModeExplain, nil)
	require.NoError(t, err)
	require.Equal(t, "Slow start doubles the congestion window each RTT.", res.Answer)
	require.Equal(t, "\n\nUser: Explain TCP slow start\nAI:", g.prompt)
	require.Equal(t, 1, g.calls)
	require.Equal(t, 0, r.calls)
}

func TestRoute_ExplainUsesTranscript(t *testing.T) {
	g := &fakeGenerator{out: "ok"}
	rt := newRouter(t, g, &fakeRetriever{})

	history := []domain.Turn{domain.UserTurn("What is TCP?"), domain.AssistantTurn("A protocol.")}
	_, err := rt.Route(context.Background(), "And slow start?", domain.ModeExplain, history)
	require.NoError(t, err)
	require.Equal(t, "User: What is TCP?\nAI: A protocol.\n\nUser: And slow start?\nAI:", g.prompt)
}

func TestRoute_QAAlwaysUsesRetriever(t *testing.T) {
	histories := [][]domain.Turn{
		nil,
		{domain.UserTurn("q"), domain.AssistantTurn("a")},
	}
	for _, h := range histories {
		g := &fakeGenerator{}
		r := &fakeRetriever{out: domain.GroundedAnswer{Text: "answer"}}
		rt := newRouter(t, g, r)

		res, err := rt.Route(context.Background(), "What does chapter 2 say?", domain.ModeQA, h)
		require.NoError(t, err)
		require.Equal(t, "answer", res.Answer)
		require.Equal(t, 1, r.calls)
		require.Equal(t, 0, g.calls)
		require.Equal(t, "What does chapter 2 say?", r.query)
		require.Equal(t, h, r.history)
	}
}

func TestRoute_QAAppendsDedupedCitations(t *testing.T) {
	r := &fakeRetriever{out: domain.GroundedAnswer{
		Text: "Entropy measures disorder.",
		Citations: []domain.Citation{
			{Filename: "thermo.pdf", Page: 3},
			{Filename: "thermo.pdf", Page: 1},
			{Filename: "thermo.pdf", Page: 3},
			{Filename: "notes.pdf", Page: 3},
		},
	}}
	rt := newRouter(t, &fakeGenerator{}, r)

	res, err := rt.Route(context.Background(), "What is entropy?", domain.ModeQA, nil)
	require.NoError(t, err)
	require.Equal(t, "Entropy measures disorder.\n\n"+
		"📄 **thermo.pdf** (Page 3)\n"+
		"📄 **thermo.pdf** (Page 1)\n"+
		"📄 **notes.pdf** (Page 3)", res.Answer)
	require.Len(t, res.Citations, 3)
}

func TestRoute_PropagatesCollaboratorErrors(t *testing.T) {
	boom := errors.New("boom")

	rt := newRouter(t, &fakeGenerator{err: boom}, &fakeRetriever{})
	_, err := rt.Route(context.Background(), "q", domain.ModeExplain, nil)
	require.ErrorIs(t, err, boom)

	r := &fakeRetriever{err: boom}
	rt = newRouter(t, &fakeGenerator{}, r)
	_, err = rt.Route(context.Background(), "q", domain.ModeQA, nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, r.calls)
}

func TestRoute_UnknownMode(t *testing.T) {
	g := &fakeGenerator{}
	r := &fakeRetriever{}
	rt := newRouter(t, g, r)

	_, err := rt.Route(context.Background(), "q", domain.Mode("summary"), nil)
	require.ErrorIs(t, err, ErrUnknownMode)
	require.Equal(t, 0, g.calls)
	require.Equal(t, 0, r.calls)
}

func TestDedupeCitations(t *testing.T) {
	cases := []struct {
		name string
		in   []domain.Citation
		want []domain.Citation
	}{
		{name: "empty", in: nil, want: []domain.Citation{}},
		{name: "keeps first seen order", in: []domain.Citation{{Filename: "b.pdf", Page: 2}, {Filename: "a.pdf", Page: 1}, {Filename: "b.pdf", Page: 2}}, want: []domain.Citation{{Filename: "b.pdf", Page: 2}, {Filename: "a.pdf", Page: 1}}},
		{name: "same file other page", in: []domain.Citation{{Filename: "a.pdf", Page: 1}, {Filename: "a.pdf", Page: 2}}, want: []domain.Citation{{Filename: "a.pdf", Page: 1}, {Filename: "a.pdf", Page: 2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, DedupeCitations(tc.in)); diff != "" {
				t.Errorf("DedupeCitations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatAnswer_NoCitations(t *testing.T) {
	require.Equal(t, "plain", FormatAnswer("plain", nil))
}
