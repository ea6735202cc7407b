package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryIncrement(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(time.Minute)

	for i := int64(1); i <= 3; i++ {
		count, err := m.Increment(ctx, "key1", expiresAt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != i {
			t.Errorf("increment %d: expected count %d, got %d", i, i, count)
		}
	}

	count, err := m.Increment(ctx, "key2", expiresAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("separate key: expected count 1, got %d", count)
	}
}

func TestMemoryIncrementExpired(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()

	if _, err := m.Increment(ctx, "key", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The previous counter is already past its expiry; a new increment
	// starts fresh at 1.
	count, err := m.Increment(ctx, "key", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected expired counter to restart at 1, got %d", count)
	}
}

func TestMemoryIncrementConcurrent(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(time.Minute)

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if _, err := m.Increment(ctx, "shared", expiresAt); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := m.Increment(ctx, "shared", expiresAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != goroutines+1 {
		t.Errorf("expected no lost updates, final count %d, got %d", goroutines+1, count)
	}
}

func TestMemoryRecords(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()

	if _, found, err := m.Get(ctx, "missing"); err != nil || found {
		t.Errorf("expected missing record, got found=%v err=%v", found, err)
	}

	if err := m.Set(ctx, "rec", []byte("hello"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, found, err := m.Get(ctx, "rec")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || string(val) != "hello" {
		t.Errorf("expected hello, got found=%v val=%q", found, val)
	}

	if err := m.Delete(ctx, "rec"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, found, _ := m.Get(ctx, "rec"); found {
		t.Error("expected record to be deleted")
	}
}

func TestMemoryRecordTTL(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()

	if err := m.Set(ctx, "rec", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, found, _ := m.Get(ctx, "rec"); found {
		t.Error("expected record to expire")
	}
}

func TestMemoryIndex(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()

	for member, score := range map[string]float64{"a": 1, "b": 3, "c": 2} {
		if err := m.IndexAdd(ctx, "idx", member, score); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	members, err := m.IndexScan(ctx, "idx", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"b", "c", "a"}
	if len(members) != len(expected) {
		t.Fatalf("expected %d members, got %d", len(expected), len(members))
	}
	for i, want := range expected {
		if members[i] != want {
			t.Errorf("position %d: expected %s, got %s", i, want, members[i])
		}
	}

	limited, err := m.IndexScan(ctx, "idx", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 2 || limited[0] != "b" || limited[1] != "c" {
		t.Errorf("expected top 2 [b c], got %v", limited)
	}

	if err := m.IndexRemove(ctx, "idx", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	members, _ = m.IndexScan(ctx, "idx", 10)
	if len(members) != 2 || members[0] != "c" {
		t.Errorf("expected [c a] after removal, got %v", members)
	}
}

func TestMemoryIndexScanMissing(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	members, err := m.IndexScan(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("expected empty scan, got %v", members)
	}
}
