package audit

import (
	"context"
	"errors"
	"testing"

	"loyaltydesk.org/internal/auth"
)

type stubStore struct {
	append func(ctx context.Context, e Entry) error
	calls  int
}

func (s *stubStore) Append(ctx context.Context, e Entry) error {
	s.calls++
	return s.append(ctx, e)
}

func (s *stubStore) List(context.Context, Filter) ([]Entry, error) { return nil, nil }

func TestRecordCapturesActor(t *testing.T) {
	store := NewInMemory()
	rec := NewRecorder(store, nil)
	ctx := auth.ContextWithSession(context.Background(), auth.Session{
		Principal: &auth.Principal{ID: "admin-1"},
		Role:      auth.RoleSuperAdmin,
		Ready:     true,
	})
	rec.Record(ctx, "course.created", "course", "c1", map[string]any{"title": "Go"})
	rec.Record(context.Background(), "import.completed", "import_batch", "b1", nil)

	entries, err := rec.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	byAction := map[string]Entry{}
	for _, e := range entries {
		byAction[e.Action] = e
	}
	if a := byAction["course.created"].ActorID; a == nil || *a != "admin-1" {
		t.Fatalf("expected actor admin-1, got %v", a)
	}
	if byAction["import.completed"].ActorID != nil {
		t.Fatal("system action must have nil actor")
	}

	filtered, _ := rec.List(context.Background(), Filter{EntityType: "course"})
	if len(filtered) != 1 {
		t.Fatalf("expected 1 filtered entry, got %d", len(filtered))
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &stubStore{append: func(context.Context, Entry) error { return errors.New("insert failed") }}
	rec := NewRecorder(store, nil)
	rec.Record(context.Background(), "role.changed", "user", "u1", nil)
	if store.calls != 1 {
		t.Fatalf("expected one append attempt, got %d", store.calls)
	}
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	store := &stubStore{append: func(context.Context, Entry) error { return nil }}
	NewRecorder(store, nil).Record(context.Background(), "  ", "user", "u1", nil)
	if store.calls != 0 {
		t.Fatal("empty action must not reach the store")
	}
}

func TestFilterLimit(t *testing.T) {
	cases := []struct{ in, want int }{{0, 100}, {-3, 100}, {20, 20}, {10000, 500}}
	for _, tc := range cases {
		if got := (Filter{Limit: tc.in}).limit(); got != tc.want {
			t.Fatalf("limit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
