package ownerengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/liamcoop/annotations/annotations"
	"github.com/liamcoop/annotations/engine"
)

var (
	orgA     = engine.Owner{Kind: engine.OwnerOrganisation, ID: "org-a"}
	contactB = engine.Owner{Kind: engine.OwnerContact, ID: "contact-b"}
)

func addRecord(t *testing.T, store engine.Store, id string, owner engine.Owner, definition string) {
	t.Helper()
	err := store.Add(context.Background(), &engine.Record{
		ID:         id,
		Owner:      owner,
		Definition: json.RawMessage(definition),
		Active:     true,
	})
	if err != nil {
		t.Fatalf("Failed to add record %s: %v", id, err)
	}
}

// seededStore returns a store where org-a tags daily and inhibits openportmapper,
// and contact-b tags weekly and inhibits port 111
func seededStore(t *testing.T) *engine.InMemoryStore {
	store := engine.NewInMemoryStore()
	addRecord(t, store, "a-tag", orgA, `{"type": "tag", "value": "daily"}`)
	addRecord(t, store, "a-inhibit", orgA,
		`{"type": "inhibition", "condition": ["eq", ["event_field", "classification.identifier"], "openportmapper"]}`)
	addRecord(t, store, "b-tag", contactB, `{"type": "tag", "value": "weekly"}`)
	addRecord(t, store, "b-inhibit", contactB,
		`{"type": "inhibition", "condition": ["eq", ["event_field", "source.port"], 111]}`)
	return store
}

func TestManager_LoadAllOwners(t *testing.T) {
	manager := NewManager(seededStore(t))
	if err := manager.LoadAllOwners(context.Background()); err != nil {
		t.Fatalf("Failed to load owners: %v", err)
	}

	owners := manager.ListOwners()
	if len(owners) != 2 {
		t.Fatalf("Expected 2 owners, got %d", len(owners))
	}
	if owners[0] != contactB || owners[1] != orgA {
		t.Errorf("Expected sorted owners [%s %s], got %v", contactB, orgA, owners)
	}

	for _, owner := range owners {
		en, err := manager.GetEngine(owner)
		if err != nil {
			t.Errorf("Failed to get engine for %s: %v", owner, err)
			continue
		}
		if en.Owner() != owner {
			t.Errorf("Engine owner = %s, want %s", en.Owner(), owner)
		}
	}
}

func TestManager_CreateOwner(t *testing.T) {
	manager := NewManager(engine.NewInMemoryStore())
	ctx := context.Background()

	en, err := manager.CreateOwner(ctx, orgA)
	if err != nil {
		t.Fatalf("Failed to create owner: %v", err)
	}
	if en == nil {
		t.Fatal("CreateOwner() returned nil engine")
	}

	_, err = manager.CreateOwner(ctx, engine.Owner{Kind: "tenant", ID: "x"})
	if err == nil {
		t.Error("Expected error creating owner of unknown kind")
	}
}

func TestManager_GetEngineNotFound(t *testing.T) {
	manager := NewManager(engine.NewInMemoryStore())

	_, err := manager.GetEngine(orgA)
	if !errors.Is(err, ErrOwnerNotLoaded) {
		t.Errorf("Expected ErrOwnerNotLoaded, got %v", err)
	}
}

func TestManager_GetOrCreateEngine(t *testing.T) {
	manager := NewManager(engine.NewInMemoryStore())
	ctx := context.Background()

	first, err := manager.GetOrCreateEngine(ctx, orgA)
	if err != nil {
		t.Fatalf("GetOrCreateEngine() failed: %v", err)
	}
	second, err := manager.GetOrCreateEngine(ctx, orgA)
	if err != nil {
		t.Fatalf("GetOrCreateEngine() failed: %v", err)
	}
	if first != second {
		t.Error("GetOrCreateEngine() should return the existing engine")
	}

	if _, err := manager.GetOrCreateEngine(ctx, engine.Owner{Kind: engine.OwnerContact}); err == nil {
		t.Error("Expected error for owner without id")
	}
}

// TestManager_ReloadOwner verifies records written behind the engine's back are picked up by a reload
func TestManager_ReloadOwner(t *testing.T) {
	store := engine.NewInMemoryStore()
	manager := NewManager(store)
	ctx := context.Background()

	oldEngine, err := manager.CreateOwner(ctx, orgA)
	if err != nil {
		t.Fatalf("Failed to create owner: %v", err)
	}

	addRecord(t, store, "late", orgA, `{"type": "tag", "value": "daily"}`)

	if err := manager.ReloadOwner(ctx, orgA); err != nil {
		t.Fatalf("ReloadOwner() failed: %v", err)
	}

	newEngine, _ := manager.GetEngine(orgA)
	if newEngine == oldEngine {
		t.Error("ReloadOwner() should swap in a new engine")
	}

	decision, err := newEngine.EvaluateAll(ctx, annotations.Event{})
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if len(decision.Tags) != 1 || decision.Tags[0] != "daily" {
		t.Errorf("Expected reloaded engine to tag daily, got %v", decision.Tags)
	}

	if err := manager.ReloadOwner(ctx, contactB); !errors.Is(err, ErrOwnerNotLoaded) {
		t.Errorf("Expected ErrOwnerNotLoaded reloading unknown owner, got %v", err)
	}
}

func TestManager_DeleteOwner(t *testing.T) {
	store := seededStore(t)
	manager := NewManager(store)
	ctx := context.Background()

	if err := manager.LoadAllOwners(ctx); err != nil {
		t.Fatalf("Failed to load owners: %v", err)
	}
	if err := manager.DeleteOwner(orgA); err != nil {
		t.Fatalf("DeleteOwner() failed: %v", err)
	}

	if _, err := manager.GetEngine(orgA); !errors.Is(err, ErrOwnerNotLoaded) {
		t.Errorf("Expected ErrOwnerNotLoaded after delete, got %v", err)
	}
	if err := manager.DeleteOwner(orgA); !errors.Is(err, ErrOwnerNotLoaded) {
		t.Errorf("Expected ErrOwnerNotLoaded deleting twice, got %v", err)
	}

	// Records stay in the store
	records, _ := store.ListActive(ctx, orgA)
	if len(records) != 2 {
		t.Errorf("Expected records to remain in store, got %d", len(records))
	}
}

func TestManager_Decide(t *testing.T) {
	manager := NewManager(seededStore(t))
	ctx := context.Background()
	if err := manager.LoadAllOwners(ctx); err != nil {
		t.Fatalf("Failed to load owners: %v", err)
	}

	tests := []struct {
		name      string
		event     annotations.Event
		owners    []engine.Owner
		tags      []string
		inhibited bool
	}{
		{
			name:   "single owner not inhibited",
			event:  annotations.Event{"classification.identifier": "openmongodb", "source.port": 111},
			owners: []engine.Owner{orgA},
			tags:   []string{"daily"},
		},
		{
			name:      "second owner inhibits",
			event:     annotations.Event{"classification.identifier": "openmongodb", "source.port": 111},
			owners:    []engine.Owner{orgA, contactB},
			tags:      []string{"daily", "weekly"},
			inhibited: true,
		},
		{
			name:   "order of owners is kept",
			event:  annotations.Event{"source.port": 22},
			owners: []engine.Owner{contactB, orgA},
			tags:   []string{"weekly", "daily"},
		},
		{
			name:   "unknown owner contributes nothing",
			event:  annotations.Event{"source.port": 111},
			owners: []engine.Owner{{Kind: engine.OwnerContact, ID: "nobody"}},
			tags:   []string{},
		},
		{
			name:  "no owners",
			event: annotations.Event{},
			tags:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := manager.Decide(ctx, tt.event, tt.owners...)
			if err != nil {
				t.Fatalf("Decide() failed: %v", err)
			}
			if fmt.Sprint(decision.Tags) != fmt.Sprint(tt.tags) {
				t.Errorf("Tags = %v, want %v", decision.Tags, tt.tags)
			}
			if decision.Inhibited != tt.inhibited {
				t.Errorf("Inhibited = %v, want %v", decision.Inhibited, tt.inhibited)
			}
			if len(decision.Owners) != len(tt.owners) {
				t.Errorf("Owners = %v, want %v", decision.Owners, tt.owners)
			}
		})
	}
}

// TestManager_OwnerIsolation verifies one owner's annotations never affect another's decision
func TestManager_OwnerIsolation(t *testing.T) {
	manager := NewManager(seededStore(t))
	ctx := context.Background()
	if err := manager.LoadAllOwners(ctx); err != nil {
		t.Fatalf("Failed to load owners: %v", err)
	}

	event := annotations.Event{"classification.identifier": "openportmapper", "source.port": 22}

	decision, err := manager.Decide(ctx, event, contactB)
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if decision.Inhibited {
		t.Error("contact-b should not be inhibited by org-a's annotation")
	}

	decision, err = manager.Decide(ctx, event, orgA)
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if !decision.Inhibited {
		t.Error("org-a should be inhibited by its own annotation")
	}
}

func TestManager_Concurrency(t *testing.T) {
	store := seededStore(t)
	manager := NewManager(store)
	ctx := context.Background()
	if err := manager.LoadAllOwners(ctx); err != nil {
		t.Fatalf("Failed to load owners: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 200)

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			decision, err := manager.Decide(ctx, annotations.Event{"source.port": 111}, orgA, contactB)
			if err != nil {
				errs <- err
				return
			}
			if !decision.Inhibited {
				errs <- fmt.Errorf("expected decision to be inhibited")
			}
		}()
		go func(n int) {
			defer wg.Done()
			if n%10 == 0 {
				if err := manager.ReloadOwner(ctx, contactB); err != nil {
					errs <- err
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}
}
