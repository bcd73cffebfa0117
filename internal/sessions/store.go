// Package sessions persists the turn-oriented Session model (§3, §4.B)
// across process restarts. A Store holds the full append-only turn
// log; concurrency control for in-flight turns is the caller's
// responsibility (see internal/agent.SessionLeases).
package sessions

import (
	"context"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// Store is the interface for session persistence.
type Store interface {
	// Create persists a brand new session.
	Create(ctx context.Context, session *models.Session) error

	// Get loads a session by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id models.SessionId) (*models.Session, error)

	// Save persists the full current state of an existing session,
	// including its turn log. Callers pass the whole session on every
	// save since Turns is append-only and the diff is cheap to recompute.
	Save(ctx context.Context, session *models.Session) error

	// Delete removes a session and its turn log.
	Delete(ctx context.Context, id models.SessionId) error

	// List returns known session IDs, most recently updated first.
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// ErrNotFound is returned by Get/Delete when the session ID is unknown.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "session not found" }
