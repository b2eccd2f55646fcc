package vectorstore

import (
	"context"
	"sync"

	"academic-assistant/internal/domain"
)

// MemoryStore is a process-local index, selected with INDEX_PATH=:memory:.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]domain.Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]domain.Chunk)}
}

// ReplaceSource swaps every chunk of source for chunks under one lock.
func (s *MemoryStore) ReplaceSource(_ context.Context, source string, chunks []domain.Chunk) error {
	if err := checkSource(source, chunks); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.Source == source {
			delete(s.chunks, id)
		}
	}
	for _, c := range chunks {
		c.Embedding = append([]float32(nil), c.Embedding...)
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, query []float32, k int) ([]domain.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]domain.ScoredChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		hits = append(hits, domain.ScoredChunk{Chunk: c, Score: CosineSimilarity(query, c.Embedding)})
	}
	return topK(hits, k), nil
}

func (s *MemoryStore) Count(_ context.Context, source string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.chunks {
		if c.Source == source {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteSource(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.Source == source {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	s.chunks = make(map[string]domain.Chunk)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
