package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("annotation not found")

	// ErrExists is returned when adding a record whose ID is taken.
	ErrExists = errors.New("annotation already exists")
)

// Store manages annotation record persistence and retrieval
type Store interface {
	// Add a new record
	Add(ctx context.Context, record *Record) error

	// Get a record by ID
	Get(ctx context.Context, id string) (*Record, error)

	// List the active records of one owner, oldest first
	ListActive(ctx context.Context, owner Owner) ([]*Record, error)

	// List every owner that has at least one record
	ListOwners(ctx context.Context) ([]Owner, error)

	// Update an existing record
	Update(ctx context.Context, record *Record) error

	// Delete a record
	Delete(ctx context.Context, id string) error
}

// InMemoryStore implements Store using an in-memory map
type InMemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
	}
}

// Add adds a new record and stamps its timestamps
func (s *InMemoryStore) Add(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("annotation %s: %w", record.ID, ErrExists)
	}

	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	s.records[record.ID] = copyRecord(record)
	return nil
}

// Get retrieves a record by ID
func (s *InMemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}
	return copyRecord(record), nil
}

// ListActive returns the active records of owner ordered by creation time
func (s *InMemoryStore) ListActive(_ context.Context, owner Owner) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Record
	for _, record := range s.records {
		if record.Active && record.Owner == owner {
			active = append(active, copyRecord(record))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// ListOwners returns every owner with at least one record
func (s *InMemoryStore) ListOwners(_ context.Context) ([]Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[Owner]bool)
	var owners []Owner
	for _, record := range s.records {
		if !seen[record.Owner] {
			seen[record.Owner] = true
			owners = append(owners, record.Owner)
		}
	}
	sort.Slice(owners, func(i, j int) bool {
		return owners[i].String() < owners[j].String()
	})
	return owners, nil
}

// Update replaces an existing record, preserving CreatedAt and owner
func (s *InMemoryStore) Update(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[record.ID]
	if !exists {
		return fmt.Errorf("annotation %s: %w", record.ID, ErrNotFound)
	}

	record.Owner = existing.Owner
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now()
	s.records[record.ID] = copyRecord(record)
	return nil
}

// Delete removes a record from the store
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}

	delete(s.records, id)
	return nil
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Definition = append([]byte(nil), r.Definition...)
	return &c
}
