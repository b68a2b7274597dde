package repository

import (
	"context"
	"sync"
	"time"

	"quote-agent/internal/domain"
)

type memorySession struct {
	blob       []byte
	version    int
	transcript []domain.TranscriptEntry
}

// MemoryStore is a process-local Store for the CLI and tests. It encodes
// state the same way DynamoStore does so both round-trip identically.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession), now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	st, err := decodeState(s.blob)
	if err != nil {
		return Session{}, err
	}
	return Session{State: st, Version: s.version}, nil
}

func (m *MemoryStore) Save(_ context.Context, prev Session, next domain.ConversationState) (Session, error) {
	msgs, err := newMessages(prev.State, next, ttlValue(m.now()))
	if err != nil {
		return Session{}, err
	}
	blob, err := encodeState(next)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[next.SessionID]
	switch {
	case prev.Version == 0 && exists:
		return Session{}, ErrConflict
	case prev.Version != 0 && (!exists || s.version != prev.Version):
		return Session{}, ErrConflict
	}
	if !exists {
		s = &memorySession{}
		m.sessions[next.SessionID] = s
	}
	s.blob = blob
	s.version = prev.Version + 1
	s.transcript = append(s.transcript, msgs...)
	return Session{State: next, Version: s.version}, nil
}

func (m *MemoryStore) Transcript(_ context.Context, sessionID string, limit int) ([]domain.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return []domain.TranscriptEntry{}, nil
	}
	entries := s.transcript
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]domain.TranscriptEntry, len(entries))
	copy(out, entries)
	return out, nil
}
