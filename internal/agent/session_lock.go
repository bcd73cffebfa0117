package agent

import (
	"strings"
	"sync"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// sessionLock is a refcounted mutex: it is held for the duration of one
// turn and reclaimed from the registry once no caller references it,
// so the lock table does not grow unboundedly across a long-lived
// runtime.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// SessionLeases grants each session an exclusive lease for the
// duration of one turn (§5: "a session's Turn slice is mutated under a
// single exclusive lease; no two goroutines may run ProcessTurn for the
// same session concurrently"). It is a distinct, independently
// reusable component from the Runtime itself.
type SessionLeases struct {
	mu    sync.Mutex
	locks map[models.SessionId]*sessionLock
}

// NewSessionLeases creates an empty lease table.
func NewSessionLeases() *SessionLeases {
	return &SessionLeases{locks: make(map[models.SessionId]*sessionLock)}
}

// Acquire blocks until the named session's lease is free, then returns
// a release function the caller must call exactly once. An empty
// session ID is treated as lockless (used by callers exercising the
// agent loop without a durable session, e.g. one-shot completions).
func (s *SessionLeases) Acquire(sessionID models.SessionId) func() {
	if strings.TrimSpace(string(sessionID)) == "" {
		return func() {}
	}

	s.mu.Lock()
	lock := s.locks[sessionID]
	if lock == nil {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
