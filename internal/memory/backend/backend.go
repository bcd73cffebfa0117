// Package backend defines the storage contract the memory subsystem
// depends on (§4.I). Vector search and graph traversal live behind
// this interface; the agent runtime only ever depends on the contract,
// never on a concrete store. SQLite/vector/graph engines are external
// collaborators consumed behind this interface and are out of scope
// for this module (§1) — only the contract and an in-memory reference
// implementation are built here.
package backend

import (
	"context"
	"time"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// Backend is the storage contract for memory records (§4.I). Every
// method operates on models.MemoryRecord; a Backend implementation is
// free to back this with a vector store, a relational table, or an
// in-memory map, so long as it honors the ordering and uniqueness
// guarantees documented on each method.
type Backend interface {
	// Insert stores a new record, assigning CreatedAt/LastAccessAt if
	// unset. The record's ID must be unique; a duplicate ID is an
	// error.
	Insert(ctx context.Context, record *models.MemoryRecord) error

	// Get retrieves a record by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id models.MemoryId) (*models.MemoryRecord, error)

	// Update replaces a record's stored fields by ID. Returns
	// ErrNotFound if the record doesn't exist.
	Update(ctx context.Context, record *models.MemoryRecord) error

	// Delete removes a record by ID. Deleting an absent ID is not an
	// error (idempotent).
	Delete(ctx context.Context, id models.MemoryId) error

	// List returns records matching filter (nil matches everything),
	// newest-first, offset/limited.
	List(ctx context.Context, filter *models.MemoryFilter, limit, offset int) ([]*models.MemoryRecord, error)

	// Count returns the number of records matching filter.
	Count(ctx context.Context, filter *models.MemoryFilter) (int, error)

	// Touch increments a record's access counter and refreshes
	// LastAccessAt. Returns ErrNotFound if absent.
	Touch(ctx context.Context, id models.MemoryId) error

	// Dimension reports the fixed embedding width this backend
	// declares, or 0 if it does not vectorize records.
	Dimension() int
}

// Relation is one edge recorded by Supersede, kept so a superseded
// record's history can be traced.
type Relation struct {
	OldID     models.MemoryId `json:"old_id"`
	NewID     models.MemoryId `json:"new_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// ExtendedBackend is the optional extension contract (§4.I):
// contradiction detection and the supersede/reinforce lifecycle ops a
// distillation pipeline drives after each completed turn. A Backend
// that does not implement this interface only supports plain CRUD.
type ExtendedBackend interface {
	Backend

	// FindContradictions returns existing records sharing subject and
	// predicate — candidates a caller should reconcile (by calling
	// Supersede) before trusting new information on the same subject.
	FindContradictions(ctx context.Context, subject, predicate string) ([]*models.MemoryRecord, error)

	// Supersede marks oldID as superseded by newID, recording the
	// relation; the old record is retained (not deleted) so its
	// history remains inspectable.
	Supersede(ctx context.Context, oldID, newID models.MemoryId) error

	// Reinforce increments a record's confidence toward 1.0 and touches
	// it, used when independent evidence corroborates an existing
	// memory rather than contradicting it.
	Reinforce(ctx context.Context, id models.MemoryId) error
}
