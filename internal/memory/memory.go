// Package memory holds the conversation log and the per-session stores
// that keep it.
package memory

import (
	"context"
	"sync"

	"academic-assistant/internal/domain"
)

// Store keeps one ordered turn log per session.
type Store interface {
	Append(ctx context.Context, sessionID string, turn domain.Turn) error
	Snapshot(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Clear(ctx context.Context, sessionID string) error
}

// Log is an append-only turn log. The zero value is ready to use.
type Log struct {
	mu    sync.RWMutex
	turns []domain.Turn
}

func (l *Log) Append(turn domain.Turn) {
	l.mu.Lock()
	l.turns = append(l.turns, turn)
	l.mu.Unlock()
}

// Snapshot returns an independent copy of the log in append order.
func (l *Log) Snapshot() []domain.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.turns = nil
	l.mu.Unlock()
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
