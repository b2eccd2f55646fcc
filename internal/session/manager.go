// Package session keeps per-session selections that sit next to the
// conversation log: the active mode, the selected document and the last
// generated quiz.
package session

import (
	"sync"
	"time"

	"academic-assistant/internal/domain"
)

// State is a point-in-time copy of one session.
type State struct {
	ID        string            `json:"sessionId"`
	Mode      domain.Mode       `json:"mode"`
	Document  string            `json:"document,omitempty"`
	Quiz      []domain.QuizItem `json:"quiz,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*State
	defaultMode domain.Mode
	now         func() time.Time
}

func NewManager(defaultMode domain.Mode) *Manager {
	if !defaultMode.Valid() {
		defaultMode = domain.ModeExplain
	}
	return &Manager{
		sessions:    make(map[string]*State),
		defaultMode: defaultMode,
		now:         time.Now,
	}
}

// Get returns the session state, or a fresh default state for unknown ids.
func (m *Manager) Get(id string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return State{ID: id, Mode: m.defaultMode}
	}
	return s.clone()
}

// Update applies fn to the stored state and returns a copy of the result.
func (m *Manager) Update(id string, fn func(*State)) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = &State{ID: id, Mode: m.defaultMode}
		m.sessions[id] = s
	}
	fn(s)
	s.UpdatedAt = m.now().UTC()
	return s.clone()
}

// Touch marks the session active and returns its state.
func (m *Manager) Touch(id string) State {
	return m.Update(id, func(*State) {})
}

func (m *Manager) SetMode(id string, mode domain.Mode) State {
	return m.Update(id, func(s *State) { s.Mode = mode })
}

// SetDocument changes the selection and drops a quiz built from another document.
func (m *Manager) SetDocument(id, name string) State {
	return m.Update(id, func(s *State) {
		if s.Document != name {
			s.Quiz = nil
		}
		s.Document = name
	})
}

func (m *Manager) SetQuiz(id string, items []domain.QuizItem) State {
	return m.Update(id, func(s *State) { s.Quiz = cloneQuiz(items) })
}

// ForgetDocument clears the selection in every session that points at name.
func (m *Manager) ForgetDocument(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Document == name {
			s.Document = ""
			s.Quiz = nil
			s.UpdatedAt = m.now().UTC()
		}
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than ttl and returns their ids.
func (m *Manager) Sweep(ttl time.Duration) []string {
	cutoff := m.now().UTC().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	var dropped []string
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

func (s *State) clone() State {
	out := *s
	out.Quiz = cloneQuiz(s.Quiz)
	return out
}

func cloneQuiz(items []domain.QuizItem) []domain.QuizItem {
	if items == nil {
		return nil
	}
	out := make([]domain.QuizItem, len(items))
	for i, it := range items {
		opts := make([]string, len(it.Options))
		copy(opts, it.Options)
		out[i] = domain.QuizItem{Question: it.Question, Options: opts, Answer: it.Answer}
	}
	return out
}
