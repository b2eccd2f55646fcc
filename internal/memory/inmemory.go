package memory

import (
	"context"
	"sync"

	"academic-assistant/internal/domain"
)

// InMemoryStore keeps session logs in process memory.
type InMemoryStore struct {
	mu   sync.Mutex
	logs map[string]*Log
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{logs: make(map[string]*Log)}
}

func (s *InMemoryStore) log(sessionID string) *Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[sessionID]
	if !ok {
		l = &Log{}
		s.logs[sessionID] = l
	}
	return l
}

func (s *InMemoryStore) Append(_ context.Context, sessionID string, turn domain.Turn) error {
	s.log(sessionID).Append(turn)
	return nil
}

func (s *InMemoryStore) Snapshot(_ context.Context, sessionID string) ([]domain.Turn, error) {
	s.mu.Lock()
	l, ok := s.logs[sessionID]
	s.mu.Unlock()
	if !ok {
		return []domain.Turn{}, nil
	}
	return l.Snapshot(), nil
}

// Clear drops the session's log entirely.
func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	l, ok := s.logs[sessionID]
	delete(s.logs, sessionID)
	s.mu.Unlock()
	if ok {
		l.Clear()
	}
	return nil
}

func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}
