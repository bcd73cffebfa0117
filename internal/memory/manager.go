// Package memory implements the durable-fact store described in §4.I:
// a validated CRUD contract plus a contradiction/supersede/reinforce
// extension, backed by a pluggable backend.Backend. Vector search and
// graph traversal are backend concerns; this package only ever talks
// to the backend.Backend contract.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/dylanbstorey/arawn-sub003/internal/memory/backend"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// Config controls manager-level behavior. The backend itself is
// supplied separately (NewManager takes a backend.Backend), matching
// the teacher's pattern of keeping storage config and storage wiring
// distinct.
type Config struct {
	// Enabled disables the manager entirely when false; Distill becomes
	// a silent no-op (mirrors the interaction log's disabled mode,
	// §4.K, applied to the memory pipeline).
	Enabled bool `yaml:"enabled"`

	// MinContentLength skips distillation of trivially short content.
	MinContentLength int `yaml:"min_content_length"`
}

// Manager is the runtime-facing façade over a backend.Backend,
// enforcing the validation rules the §4.I boundary specifies before
// any record reaches storage.
type Manager struct {
	backend backend.Backend
	config  Config
	logger  *slog.Logger
}

// NewManager wires a Manager over b. A nil logger uses slog.Default.
func NewManager(b backend.Backend, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 1
	}
	return &Manager{backend: b, config: cfg, logger: logger.With("component", "memory")}
}

// Insert validates and stores a new record, minting an ID if unset.
func (m *Manager) Insert(ctx context.Context, record *models.MemoryRecord) error {
	if record.ID == "" {
		record.ID = models.NewMemoryId()
	}
	if err := validate(record, m.backend.Dimension()); err != nil {
		return fmt.Errorf("memory: invalid record: %w", err)
	}
	return m.backend.Insert(ctx, record)
}

// Get retrieves a record by ID.
func (m *Manager) Get(ctx context.Context, id models.MemoryId) (*models.MemoryRecord, error) {
	return m.backend.Get(ctx, id)
}

// Update validates and replaces a record's stored fields.
func (m *Manager) Update(ctx context.Context, record *models.MemoryRecord) error {
	if err := validate(record, m.backend.Dimension()); err != nil {
		return fmt.Errorf("memory: invalid record: %w", err)
	}
	return m.backend.Update(ctx, record)
}

// Delete removes a record by ID.
func (m *Manager) Delete(ctx context.Context, id models.MemoryId) error {
	return m.backend.Delete(ctx, id)
}

// List returns records matching filter.
func (m *Manager) List(ctx context.Context, filter *models.MemoryFilter, limit, offset int) ([]*models.MemoryRecord, error) {
	return m.backend.List(ctx, filter, limit, offset)
}

// Count returns the number of records matching filter.
func (m *Manager) Count(ctx context.Context, filter *models.MemoryFilter) (int, error) {
	return m.backend.Count(ctx, filter)
}

// Touch increments a record's access counter.
func (m *Manager) Touch(ctx context.Context, id models.MemoryId) error {
	return m.backend.Touch(ctx, id)
}

// FindContradictions returns existing records asserting a different
// value for the same subject+predicate. Returns an empty slice,
// rather than an error, when the backend doesn't implement
// ExtendedBackend — callers treat "no contradiction support" the same
// as "no contradictions found".
func (m *Manager) FindContradictions(ctx context.Context, subject, predicate string) ([]*models.MemoryRecord, error) {
	ext, ok := m.backend.(backend.ExtendedBackend)
	if !ok {
		return nil, nil
	}
	return ext.FindContradictions(ctx, subject, predicate)
}

// Supersede marks oldID as superseded by newID. No-op (logged) if the
// backend lacks extension support.
func (m *Manager) Supersede(ctx context.Context, oldID, newID models.MemoryId) error {
	ext, ok := m.backend.(backend.ExtendedBackend)
	if !ok {
		m.logger.Warn("supersede requested on a backend without extension support")
		return nil
	}
	return ext.Supersede(ctx, oldID, newID)
}

// Reinforce strengthens a record's confidence. No-op (logged) if the
// backend lacks extension support.
func (m *Manager) Reinforce(ctx context.Context, id models.MemoryId) error {
	ext, ok := m.backend.(backend.ExtendedBackend)
	if !ok {
		m.logger.Warn("reinforce requested on a backend without extension support")
		return nil
	}
	return ext.Reinforce(ctx, id)
}

// Distill is the post-turn hook (§4.I: "on each completed turn the
// loop may asynchronously push a distilled record ... to the memory
// backend; failures are logged but never block or roll back the
// user-visible turn"). Callers should invoke this in its own
// goroutine; Distill itself does not spawn one, so the caller controls
// fire-and-forget semantics and can bound concurrency if needed.
func (m *Manager) Distill(ctx context.Context, record *models.MemoryRecord) {
	if !m.config.Enabled || m == nil {
		return
	}
	if len(strings.TrimSpace(record.Content)) < m.config.MinContentLength {
		return
	}
	if err := m.Insert(ctx, record); err != nil {
		m.logger.Error("distillation insert failed", "session_id", record.SessionID, "error", err)
	}
}

// validate enforces §4.I's validation contract: content non-empty and
// NUL-free, confidence in [0,1], embedding dimensions match the
// backend's declared dimension, embedding values finite, session ids
// valid UUID form.
func validate(record *models.MemoryRecord, dimension int) error {
	content := strings.TrimSpace(record.Content)
	if content == "" {
		return errEmptyContent
	}
	if strings.ContainsRune(record.Content, 0) {
		return errNulContent
	}
	if record.Confidence < 0 || record.Confidence > 1 {
		return fmt.Errorf("%w: %v", errConfidenceRange, record.Confidence)
	}
	if record.Embedding != nil {
		if dimension > 0 && len(record.Embedding) != dimension {
			return fmt.Errorf("%w: got %d want %d", errEmbeddingDimension, len(record.Embedding), dimension)
		}
		for _, v := range record.Embedding {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return errEmbeddingNotFinite
			}
		}
	}
	if record.SessionID != "" {
		if _, err := uuid.Parse(string(record.SessionID)); err != nil {
			return fmt.Errorf("%w: %v", errInvalidSessionID, err)
		}
	}
	return nil
}
