package ownerengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/annotations/annotations"
	"github.com/liamcoop/annotations/engine"
	"github.com/liamcoop/annotations/internal/logger"
)

// ErrOwnerNotLoaded is returned when no engine is loaded for an owner.
var ErrOwnerNotLoaded = errors.New("owner not loaded")

// OwnerEngine wraps an engine.Engine with load metadata
type OwnerEngine struct {
	Owner    engine.Owner
	Engine   *engine.Engine
	LoadedAt time.Time
}

// Manager manages engines for all organisations and contacts
type Manager struct {
	engines map[engine.Owner]*OwnerEngine
	store   engine.Store
	opts    []engine.Option
	mu      sync.RWMutex
}

// NewManager creates a new manager. opts are applied to every engine it builds.
func NewManager(store engine.Store, opts ...engine.Option) *Manager {
	return &Manager{
		engines: make(map[engine.Owner]*OwnerEngine),
		store:   store,
		opts:    opts,
	}
}

// LoadAllOwners initializes an engine for every owner that has records in the store
func (m *Manager) LoadAllOwners(ctx context.Context) error {
	owners, err := m.store.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch owners: %w", err)
	}

	for _, owner := range owners {
		if _, err := m.CreateOwner(ctx, owner); err != nil {
			return fmt.Errorf("failed to initialize owner %s: %w", owner, err)
		}
	}

	logger.Info("owners loaded", "count", len(owners))
	return nil
}

// CreateOwner builds and registers an engine for owner, replacing any existing one
func (m *Manager) CreateOwner(ctx context.Context, owner engine.Owner) (*engine.Engine, error) {
	if err := ValidateOwner(owner); err != nil {
		return nil, err
	}

	en, err := engine.NewEngine(ctx, owner, m.store, m.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	m.mu.Lock()
	m.engines[owner] = &OwnerEngine{Owner: owner, Engine: en, LoadedAt: time.Now()}
	m.mu.Unlock()

	return en, nil
}

// GetEngine retrieves the engine for a specific owner
func (m *Manager) GetEngine(owner engine.Owner) (*engine.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	oe, exists := m.engines[owner]
	if !exists {
		return nil, fmt.Errorf("%s: %w", owner, ErrOwnerNotLoaded)
	}

	return oe.Engine, nil
}

// GetOrCreateEngine returns the owner's engine, creating it on first use
func (m *Manager) GetOrCreateEngine(ctx context.Context, owner engine.Owner) (*engine.Engine, error) {
	if en, err := m.GetEngine(owner); err == nil {
		return en, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have created it while we waited for the lock
	if oe, exists := m.engines[owner]; exists {
		return oe.Engine, nil
	}

	if err := ValidateOwner(owner); err != nil {
		return nil, err
	}
	en, err := engine.NewEngine(ctx, owner, m.store, m.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	m.engines[owner] = &OwnerEngine{Owner: owner, Engine: en, LoadedAt: time.Now()}

	return en, nil
}

// ReloadOwner re-reads the owner's records into a new engine and swaps it in.
// Evaluations in flight keep using the old engine until they finish.
func (m *Manager) ReloadOwner(ctx context.Context, owner engine.Owner) error {
	m.mu.RLock()
	_, exists := m.engines[owner]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%s: %w", owner, ErrOwnerNotLoaded)
	}

	// Build outside the lock so evaluations continue during the reload
	newEngine, err := engine.NewEngine(ctx, owner, m.store, m.opts...)
	if err != nil {
		return fmt.Errorf("failed to create new engine: %w", err)
	}

	m.mu.Lock()
	m.engines[owner] = &OwnerEngine{Owner: owner, Engine: newEngine, LoadedAt: time.Now()}
	m.mu.Unlock()

	logger.Info("owner reloaded",
		"owner", owner.String(),
		"rejected", len(newEngine.Rejected()))

	return nil
}

// ListOwners returns all loaded owners, sorted
func (m *Manager) ListOwners() []engine.Owner {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owners := make([]engine.Owner, 0, len(m.engines))
	for owner := range m.engines {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		return owners[i].String() < owners[j].String()
	})
	return owners
}

// DeleteOwner removes an owner's engine from the manager.
// Note: This does not delete the owner's records from the store
func (m *Manager) DeleteOwner(owner engine.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[owner]; !exists {
		return fmt.Errorf("%s: %w", owner, ErrOwnerNotLoaded)
	}

	delete(m.engines, owner)
	return nil
}

// Decide evaluates event against the annotations of every given owner and
// merges the results. An event concerning several owners is inhibited if
// any of them inhibits it. Owners without a loaded engine have no
// annotations and contribute nothing.
func (m *Manager) Decide(ctx context.Context, event annotations.Event, owners ...engine.Owner) (*engine.Decision, error) {
	decision := &engine.Decision{
		Owners:  []engine.Owner{},
		Tags:    []string{},
		Results: []*engine.EvaluationResult{},
	}

	for _, owner := range owners {
		en, err := m.GetEngine(owner)
		if errors.Is(err, ErrOwnerNotLoaded) {
			decision.Owners = append(decision.Owners, owner)
			continue
		}
		if err != nil {
			return nil, err
		}

		d, err := en.EvaluateAll(ctx, event)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %s: %w", owner, err)
		}
		decision.Merge(d)
	}

	return decision, nil
}
