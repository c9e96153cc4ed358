package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStoreInterfaceExists(t *testing.T) {
	var _ Store = (*InMemoryStore)(nil)
	var _ Store = (*PostgresStore)(nil)
}

func TestInMemoryStoreAdd(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	r := record("test-1", tagDaily)
	if err := store.Add(ctx, r); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	retrieved, err := store.Get(ctx, "test-1")
	if err != nil {
		t.Fatalf("Get() failed after Add(): %v", err)
	}
	if retrieved.ID != r.ID {
		t.Errorf("Retrieved ID = %s, want %s", retrieved.ID, r.ID)
	}
	if retrieved.Owner != testOwner {
		t.Errorf("Retrieved Owner = %v, want %v", retrieved.Owner, testOwner)
	}
	if string(retrieved.Definition) != tagDaily {
		t.Errorf("Retrieved Definition = %s, want %s", retrieved.Definition, tagDaily)
	}
}

func TestInMemoryStoreAddDuplicate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Add(ctx, record("dup", tagDaily)); err != nil {
		t.Fatalf("first Add() failed: %v", err)
	}

	err := store.Add(ctx, record("dup", inhibitPortmap))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	retrieved, _ := store.Get(ctx, "dup")
	if string(retrieved.Definition) != tagDaily {
		t.Error("duplicate Add() should not overwrite the original")
	}
}

func TestInMemoryStoreGetNotFound(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestInMemoryStoreCopies verifies callers cannot mutate stored records
func TestInMemoryStoreCopies(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	r := record("copy", tagDaily)
	if err := store.Add(ctx, r); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	r.Definition[0] = 'X'
	r.Active = false

	retrieved, _ := store.Get(ctx, "copy")
	if string(retrieved.Definition) != tagDaily || !retrieved.Active {
		t.Error("mutating the added record changed the stored copy")
	}

	retrieved.Active = false
	again, _ := store.Get(ctx, "copy")
	if !again.Active {
		t.Error("mutating a retrieved record changed the stored copy")
	}
}

func TestInMemoryStoreTimestamps(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	before := time.Now()
	r := record("ts", tagDaily)
	if err := store.Add(ctx, r); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	after := time.Now()

	retrieved, _ := store.Get(ctx, "ts")
	if retrieved.CreatedAt.Before(before) || retrieved.CreatedAt.After(after) {
		t.Errorf("CreatedAt %v not within [%v, %v]", retrieved.CreatedAt, before, after)
	}
	if !retrieved.UpdatedAt.Equal(retrieved.CreatedAt) {
		t.Error("UpdatedAt should equal CreatedAt on Add()")
	}

	time.Sleep(5 * time.Millisecond)

	update := record("ts", inhibitPortmap)
	if err := store.Update(ctx, update); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	updated, _ := store.Get(ctx, "ts")
	if !updated.CreatedAt.Equal(retrieved.CreatedAt) {
		t.Error("Update() should preserve CreatedAt")
	}
	if !updated.UpdatedAt.After(retrieved.UpdatedAt) {
		t.Error("Update() should advance UpdatedAt")
	}
}

func TestInMemoryStoreUpdate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Add(ctx, record("upd", tagDaily)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	update := record("upd", inhibitPortmap)
	update.Owner = Owner{Kind: OwnerContact, ID: "c-9"}
	update.Active = false
	if err := store.Update(ctx, update); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	updated, _ := store.Get(ctx, "upd")
	if string(updated.Definition) != inhibitPortmap {
		t.Errorf("Definition = %s, want %s", updated.Definition, inhibitPortmap)
	}
	if updated.Active {
		t.Error("Active should be false after update")
	}
	if updated.Owner != testOwner {
		t.Errorf("Update() should not move a record to another owner, got %v", updated.Owner)
	}
}

func TestInMemoryStoreUpdateNotFound(t *testing.T) {
	store := NewInMemoryStore()

	err := store.Update(context.Background(), record("missing", tagDaily))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStoreListActive(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	other := Owner{Kind: OwnerContact, ID: "c-1"}
	inactive := record("inactive", tagDaily)
	inactive.Active = false
	foreign := record("foreign", tagDaily)
	foreign.Owner = other

	for _, r := range []*Record{record("first", tagDaily), inactive, foreign, record("second", inhibitPortmap)} {
		if err := store.Add(ctx, r); err != nil {
			t.Fatalf("Add(%s) failed: %v", r.ID, err)
		}
		time.Sleep(time.Millisecond)
	}

	active, err := store.ListActive(ctx, testOwner)
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active records, got %d", len(active))
	}
	if active[0].ID != "first" || active[1].ID != "second" {
		t.Errorf("ListActive() order = [%s %s], want [first second]", active[0].ID, active[1].ID)
	}

	active, err = store.ListActive(ctx, Owner{Kind: OwnerOrganisation, ID: "nobody"})
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no records for unknown owner, got %d", len(active))
	}
}

func TestInMemoryStoreListOwners(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	contact := record("c", tagDaily)
	contact.Owner = Owner{Kind: OwnerContact, ID: "c-1"}
	for _, r := range []*Record{record("a", tagDaily), record("b", tagDaily), contact} {
		if err := store.Add(ctx, r); err != nil {
			t.Fatalf("Add(%s) failed: %v", r.ID, err)
		}
	}

	owners, err := store.ListOwners(ctx)
	if err != nil {
		t.Fatalf("ListOwners() failed: %v", err)
	}
	if len(owners) != 2 {
		t.Fatalf("expected 2 owners, got %v", owners)
	}
	if owners[0].Kind != OwnerContact || owners[1] != testOwner {
		t.Errorf("ListOwners() = %v, want sorted [contact:c-1 organisation:org-1]", owners)
	}
}

func TestInMemoryStoreDelete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Add(ctx, record("del", tagDaily)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := store.Delete(ctx, "del"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, "del"); !errors.Is(err, ErrNotFound) {
		t.Error("record should be gone after Delete()")
	}
	if err := store.Delete(ctx, "del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second Delete(), got %v", err)
	}
}

func TestInMemoryStoreConcurrentAdd(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := store.Add(ctx, record(fmt.Sprintf("rec-%d", n), tagDaily)); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Add() error: %v", err)
	}

	active, _ := store.ListActive(ctx, testOwner)
	if len(active) != 100 {
		t.Errorf("expected 100 records, got %d", len(active))
	}
}

func TestInMemoryStoreConcurrentReadWrite(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := store.Add(ctx, record(fmt.Sprintf("rec-%d", i), tagDaily)); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func(n int) {
			defer wg.Done()
			_, _ = store.Get(ctx, fmt.Sprintf("rec-%d", n))
		}(i)
		go func(n int) {
			defer wg.Done()
			_ = store.Update(ctx, record(fmt.Sprintf("rec-%d", n), inhibitPortmap))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = store.ListActive(ctx, testOwner)
		}()
	}
	wg.Wait()

	active, _ := store.ListActive(ctx, testOwner)
	if len(active) != 10 {
		t.Errorf("expected 10 records after concurrent access, got %d", len(active))
	}
}
