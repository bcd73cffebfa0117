package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing
// and local runs. Sessions are deep-cloned on every Get/Save so callers
// can mutate their copy freely without racing the store's internal state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[models.SessionId]*models.Session
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[models.SessionId]*models.Session)}
}

// Create persists a brand new session.
func (m *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errNotFound{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = models.NewSessionId()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// Get loads a session by ID.
func (m *MemoryStore) Get(ctx context.Context, id models.SessionId) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

// Save persists the full current state of an existing session.
func (m *MemoryStore) Save(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errNotFound{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now()
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// Delete removes a session and its turn log.
func (m *MemoryStore) Delete(ctx context.Context, id models.SessionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// List returns known sessions, most recently updated first.
func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		return []*models.Session{}, nil
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

// cloneSession deep-copies a session, including its turn log, so the
// store's internal state is never aliased by a caller.
func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	clone.Turns = make([]*models.Turn, len(session.Turns))
	for i, t := range session.Turns {
		clone.Turns[i] = cloneTurn(t)
	}
	return &clone
}

func cloneTurn(t *models.Turn) *models.Turn {
	if t == nil {
		return nil
	}
	clone := *t
	if len(t.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall(nil), t.ToolCalls...)
	}
	if len(t.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolCallResult(nil), t.ToolResults...)
	}
	if t.AssistantResponse != nil {
		resp := *t.AssistantResponse
		clone.AssistantResponse = &resp
	}
	return &clone
}
