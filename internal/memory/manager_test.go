package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/dylanbstorey/arawn-sub003/internal/memory/backend"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

func newTestManager() *Manager {
	return NewManager(backend.NewMemStore(3), Config{Enabled: true}, nil)
}

func TestManager_InsertGet(t *testing.T) {
	m := newTestManager()
	rec := &models.MemoryRecord{Content: "the sky is blue", Confidence: 0.9}
	if err := m.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := m.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != rec.Content {
		t.Fatalf("content mismatch: %q", got.Content)
	}
}

func TestManager_Insert_RejectsEmptyContent(t *testing.T) {
	m := newTestManager()
	err := m.Insert(context.Background(), &models.MemoryRecord{Content: "   "})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestManager_Insert_RejectsBadConfidence(t *testing.T) {
	m := newTestManager()
	err := m.Insert(context.Background(), &models.MemoryRecord{Content: "x", Confidence: 1.5})
	if err == nil {
		t.Fatal("expected error for out-of-range confidence")
	}
}

func TestManager_Insert_RejectsEmbeddingDimensionMismatch(t *testing.T) {
	m := newTestManager()
	err := m.Insert(context.Background(), &models.MemoryRecord{Content: "x", Embedding: []float32{1, 2}})
	if err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
}

func TestManager_Insert_RejectsInvalidSessionID(t *testing.T) {
	m := newTestManager()
	err := m.Insert(context.Background(), &models.MemoryRecord{Content: "x", SessionID: "not-a-uuid"})
	if err == nil {
		t.Fatal("expected error for invalid session id")
	}
}

func TestManager_FindContradictions_SupersedeReinforce(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	sess := models.SessionId(uuid.NewString())

	old := &models.MemoryRecord{Content: "user prefers dark mode", Subject: "user.theme", Predicate: "prefers", SessionID: sess, Confidence: 0.6}
	if err := m.Insert(ctx, old); err != nil {
		t.Fatalf("insert old: %v", err)
	}

	found, err := m.FindContradictions(ctx, "user.theme", "prefers")
	if err != nil || len(found) != 1 {
		t.Fatalf("expected 1 contradiction candidate, got %d err=%v", len(found), err)
	}

	fresh := &models.MemoryRecord{Content: "user prefers light mode", Subject: "user.theme", Predicate: "prefers", SessionID: sess, Confidence: 0.8}
	if err := m.Insert(ctx, fresh); err != nil {
		t.Fatalf("insert new: %v", err)
	}
	if err := m.Supersede(ctx, old.ID, fresh.ID); err != nil {
		t.Fatalf("supersede: %v", err)
	}

	found, err = m.FindContradictions(ctx, "user.theme", "prefers")
	if err != nil || len(found) != 0 {
		t.Fatalf("expected 0 live candidates after supersede, got %d err=%v", len(found), err)
	}

	if err := m.Reinforce(ctx, fresh.ID); err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	got, _ := m.Get(ctx, fresh.ID)
	if got.Confidence <= 0.8 {
		t.Fatalf("expected confidence to increase, got %v", got.Confidence)
	}
}

func TestManager_Distill_NoopWhenDisabled(t *testing.T) {
	m := NewManager(backend.NewMemStore(0), Config{Enabled: false}, nil)
	m.Distill(context.Background(), &models.MemoryRecord{Content: "should not be stored"})
	n, _ := m.Count(context.Background(), nil)
	if n != 0 {
		t.Fatalf("expected no records stored, got %d", n)
	}
}

func TestManager_Distill_SkipsShortContent(t *testing.T) {
	m := NewManager(backend.NewMemStore(0), Config{Enabled: true, MinContentLength: 10}, nil)
	m.Distill(context.Background(), &models.MemoryRecord{Content: "short"})
	n, _ := m.Count(context.Background(), nil)
	if n != 0 {
		t.Fatalf("expected short content skipped, got %d records", n)
	}
}
