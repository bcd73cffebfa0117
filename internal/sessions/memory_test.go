package sessions

import (
	"context"
	"testing"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := models.NewSession()
	turn, err := session.StartTurn("hello")
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	turn.Complete("hi there")

	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Turns) != 1 || got.Turns[0].UserMessage != "hello" {
		t.Fatalf("unexpected turns: %+v", got.Turns)
	}
}

func TestMemoryStore_GetUnknownReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), models.NewSessionId())
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SaveIsIsolatedFromCallerMutation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := models.NewSession()
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	turn, _ := session.StartTurn("first")
	turn.Complete("reply")
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutate caller's copy after save; stored copy must be unaffected.
	session.Turns[0].UserMessage = "mutated"

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Turns[0].UserMessage != "first" {
		t.Errorf("store aliased caller's session: got %q", got.Turns[0].UserMessage)
	}
}

func TestMemoryStore_SaveUnknownSessionFails(t *testing.T) {
	store := NewMemoryStore()
	err := store.Save(context.Background(), models.NewSession())
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session := models.NewSession()
	_ = store.Create(ctx, session)

	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, session.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_ListOrdersByRecency(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := models.NewSession()
	_ = store.Create(ctx, first)
	second := models.NewSession()
	_ = store.Create(ctx, second)

	_, _ = second.StartTurn("bump updated_at")
	_ = store.Save(ctx, second)

	list, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != second.ID {
		t.Errorf("expected most recently updated session first, got %s", list[0].ID)
	}
}

func TestMemoryStore_ListRespectsLimitOffset(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = store.Create(ctx, models.NewSession())
	}

	list, err := store.List(ctx, ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(list))
	}
}
