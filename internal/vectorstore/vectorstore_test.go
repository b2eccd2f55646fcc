package vectorstore

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"academic-assistant/internal/domain"
)

type store interface {
	ReplaceSource(ctx context.Context, source string, chunks []domain.Chunk) error
	Search(ctx context.Context, query []float32, k int) ([]domain.ScoredChunk, error)
	Count(ctx context.Context, source string) (int, error)
	DeleteSource(ctx context.Context, source string) error
	Reset(ctx context.Context) error
	Close() error
}

func stores(t *testing.T) map[string]store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "index", "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func fixtures() []domain.Chunk {
	return []domain.Chunk{
		{ID: "a-1", Source: "a.pdf", Page: 1, Index: 0, Text: "slow start", Embedding: []float32{1, 0, 0}},
		{ID: "a-2", Source: "a.pdf", Page: 2, Index: 0, Text: "congestion avoidance", Embedding: []float32{0.8, 0.2, 0}},
		{ID: "b-1", Source: "b.pdf", Page: 1, Index: 0, Text: "photosynthesis", Embedding: []float32{0, 0, 1}},
	}
}

// load stores fixtures grouped by source.
func load(t *testing.T, s store) {
	t.Helper()
	bySource := map[string][]domain.Chunk{}
	for _, c := range fixtures() {
		bySource[c.Source] = append(bySource[c.Source], c)
	}
	for source, chunks := range bySource {
		require.NoError(t, s.ReplaceSource(context.Background(), source, chunks))
	}
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	require.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	require.Zero(t, CosineSimilarity(nil, nil))
}

func TestStores_SearchRanksBySimilarity(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			load(t, s)

			hits, err := s.Search(ctx, []float32{1, 0, 0}, 2)
			require.NoError(t, err)
			require.Len(t, hits, 2)
			require.Equal(t, "a-1", hits[0].ID)
			require.Equal(t, "a-2", hits[1].ID)
			require.Equal(t, "a.pdf", hits[0].Source)
			require.Equal(t, 1, hits[0].Page)
			require.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
		})
	}
}

func TestStores_ReplaceSourceSwapsOneDocument(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			load(t, s)
			load(t, s)

			n, err := s.Count(ctx, "a.pdf")
			require.NoError(t, err)
			require.Equal(t, 2, n)

			fresh := []domain.Chunk{{ID: "a-9", Source: "a.pdf", Page: 7, Text: "fast retransmit", Embedding: []float32{1, 1, 0}}}
			require.NoError(t, s.ReplaceSource(ctx, "a.pdf", fresh))
			n, err = s.Count(ctx, "a.pdf")
			require.NoError(t, err)
			require.Equal(t, 1, n)
			n, err = s.Count(ctx, "b.pdf")
			require.NoError(t, err)
			require.Equal(t, 1, n)
		})
	}
}

func TestStores_ReplaceSourceRejectsForeignChunks(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			load(t, s)

			err := s.ReplaceSource(ctx, "a.pdf", fixtures())
			require.ErrorContains(t, err, "belongs to")
			n, err := s.Count(ctx, "a.pdf")
			require.NoError(t, err)
			require.Equal(t, 2, n)
		})
	}
}

func TestSQLiteStore_FailedReplaceKeepsPreviousChunks(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	load(t, s)

	broken := []domain.Chunk{
		{ID: "a-3", Source: "a.pdf", Page: 3, Text: "ok", Embedding: []float32{1, 0, 0}},
		{ID: "a-4", Source: "a.pdf", Page: 4, Text: "bad", Embedding: []float32{float32(math.NaN()), 0, 0}},
	}
	require.ErrorContains(t, s.ReplaceSource(ctx, "a.pdf", broken), "encode embedding")

	n, err := s.Count(ctx, "a.pdf")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	hits, err := s.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Equal(t, "a-1", hits[0].ID)
}

func TestStores_DeleteSourceAndReset(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			load(t, s)

			require.NoError(t, s.DeleteSource(ctx, "a.pdf"))
			n, err := s.Count(ctx, "a.pdf")
			require.NoError(t, err)
			require.Zero(t, n)
			n, err = s.Count(ctx, "b.pdf")
			require.NoError(t, err)
			require.Equal(t, 1, n)

			require.NoError(t, s.Reset(ctx))
			hits, err := s.Search(ctx, []float32{0, 0, 1}, 4)
			require.NoError(t, err)
			require.Empty(t, hits)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	load(t, s)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	hits, err := s.Search(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "photosynthesis", hits[0].Text)
	require.Equal(t, []float32{0, 0, 1}, hits[0].Embedding)
}
