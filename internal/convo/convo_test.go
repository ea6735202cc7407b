package convo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhalm/infergate/internal/convo"
	"github.com/nhalm/infergate/internal/store"
)

func newTestRepo(t *testing.T) (*convo.Repo, *time.Time) {
	t.Helper()

	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })

	now := time.Unix(1700000000, 0)
	repo := convo.NewRepo(st, convo.WithClock(func() time.Time { return now }))
	return repo, &now
}

func TestCreateAndGet(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "u1", "Trip planning", "llama-3-70b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID == "" {
		t.Error("expected generated id")
	}
	if created.UserID != "u1" {
		t.Errorf("expected user u1, got %s", created.UserID)
	}
	if len(created.Messages) != 0 {
		t.Errorf("expected empty history, got %d messages", len(created.Messages))
	}

	got, err := repo.Get(ctx, "u1", created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "Trip planning" || got.Model != "llama-3-70b" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.Get(context.Background(), "u1", "nope")
	if !errors.Is(err, convo.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "u1", "private", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Another user cannot see it, even with the right id.
	if _, err := repo.Get(ctx, "u2", created.ID); !errors.Is(err, convo.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign user, got %v", err)
	}
	if err := repo.Delete(ctx, "u2", created.ID); !errors.Is(err, convo.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign delete, got %v", err)
	}
}

func TestAppend(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	*now = now.Add(time.Minute)

	updated, err := repo.Append(ctx, "u1", created.ID, convo.Message{Role: "user", Content: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(updated.Messages))
	}
	if updated.Messages[0].Role != "user" || updated.Messages[0].Content != "hello" {
		t.Errorf("unexpected message: %+v", updated.Messages[0])
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Errorf("expected UpdatedAt to advance, got %v", updated.UpdatedAt)
	}

	if _, err := repo.Append(ctx, "u1", "nope", convo.Message{Role: "user", Content: "x"}); !errors.Is(err, convo.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrder(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	first, _ := repo.Create(ctx, "u1", "first", "")
	*now = now.Add(time.Minute)
	second, _ := repo.Create(ctx, "u1", "second", "")
	*now = now.Add(time.Minute)

	// Touching the first conversation moves it to the front.
	if _, err := repo.Append(ctx, "u1", first.ID, convo.Message{Role: "user", Content: "bump"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	convs, err := repo.List(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != first.ID || convs[1].ID != second.ID {
		t.Errorf("expected most recently updated first, got [%s %s]", convs[0].Title, convs[1].Title)
	}
}

func TestListLimit(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := repo.Create(ctx, "u1", "", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		*now = now.Add(time.Second)
	}

	convs, err := repo.List(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convs) != 3 {
		t.Errorf("expected 3 conversations, got %d", len(convs))
	}
}

func TestDelete(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	created, _ := repo.Create(ctx, "u1", "", "")

	if err := repo.Delete(ctx, "u1", created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.Get(ctx, "u1", created.ID); !errors.Is(err, convo.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	convs, err := repo.List(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convs) != 0 {
		t.Errorf("expected empty list after delete, got %d", len(convs))
	}
}
