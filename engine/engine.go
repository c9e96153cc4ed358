package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/annotations/annotations"
	"github.com/liamcoop/annotations/internal/logger"
)

// Engine holds the parsed annotations of one owner and evaluates events
// against them. Thread-safe: parsed annotations are immutable and the maps
// that index them are guarded by an RWMutex.
type Engine struct {
	owner    Owner
	parser   *annotations.Parser
	store    Store
	cache    Cache
	metrics  MetricsRecorder
	compiled map[string]compiled // recordID -> parsed annotation
	rejected map[string]rejected // recordID -> parse failure
	mu       sync.RWMutex
}

// compiled is a parsed annotation together with the definition it came
// from. A record whose stored definition differs is parsed again.
type compiled struct {
	annotation annotations.Annotation
	definition []byte
}

type rejected struct {
	err        error
	definition []byte
}

// Option configures an Engine.
type Option func(*Engine)

// WithParser sets the parser, e.g. one built on a custom registry.
func WithParser(p *annotations.Parser) Option {
	return func(en *Engine) { en.parser = p }
}

// WithCache sets the active-record cache.
func WithCache(c Cache) Option {
	return func(en *Engine) { en.cache = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(en *Engine) { en.metrics = m }
}

// NewEngine creates an engine for owner and parses all of its active records.
// Records that fail to parse are logged and skipped, see Rejected.
func NewEngine(ctx context.Context, owner Owner, store Store, opts ...Option) (*Engine, error) {
	en := &Engine{
		owner:    owner,
		parser:   annotations.NewParser(nil),
		store:    store,
		cache:    NewInMemoryCache(DefaultCacheConfig()),
		metrics:  NoopMetrics{},
		compiled: make(map[string]compiled),
		rejected: make(map[string]rejected),
	}
	for _, opt := range opts {
		opt(en)
	}

	if err := en.CompileAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to compile annotations: %w", err)
	}

	return en, nil
}

// Owner returns the owner this engine serves.
func (en *Engine) Owner() Owner {
	return en.owner
}

// CompileRecord parses a record and caches the result under its ID.
func (en *Engine) CompileRecord(record *Record) error {
	a, err := en.parser.ParseJSON(record.Definition)
	if err != nil {
		return err
	}

	en.mu.Lock()
	en.compiled[record.ID] = compiled{annotation: a, definition: record.Definition}
	delete(en.rejected, record.ID)
	en.mu.Unlock()

	return nil
}

// CompileAll re-parses every active record of the owner from the store
// and repopulates the cache.
func (en *Engine) CompileAll(ctx context.Context) error {
	records, err := en.store.ListActive(ctx, en.owner)
	if err != nil {
		return err
	}

	parsed := make(map[string]compiled, len(records))
	failed := make(map[string]rejected)
	for _, record := range records {
		a, err := en.parser.ParseJSON(record.Definition)
		if err != nil {
			en.reject(ctx, record, err)
			failed[record.ID] = rejected{err: err, definition: record.Definition}
			continue
		}
		parsed[record.ID] = compiled{annotation: a, definition: record.Definition}
	}

	en.mu.Lock()
	en.compiled = parsed
	en.rejected = failed
	en.mu.Unlock()

	en.cache.Set(ctx, en.owner, records)

	return nil
}

func (en *Engine) reject(ctx context.Context, record *Record, err error) {
	logger.RejectedAnnotations.Add(1)
	en.metrics.RecordRejected(ctx, en.owner, annotations.KindOf(err))
	logger.Warn("skipping invalid annotation",
		"owner", en.owner.String(),
		"annotation_id", record.ID,
		"error", err)
}

// Rejected returns the parse failures of records skipped by CompileAll.
func (en *Engine) Rejected() map[string]error {
	en.mu.RLock()
	defer en.mu.RUnlock()

	out := make(map[string]error, len(en.rejected))
	for id, r := range en.rejected {
		out[id] = r.err
	}
	return out
}

// AddRecord validates a record, stores it and makes it available for evaluation.
// A missing ID is filled with a new UUID; a missing owner with the engine's owner.
func (en *Engine) AddRecord(ctx context.Context, r *Record) error {
	if err := en.claim(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	// Check for an existing record before compiling so its program is not overwritten
	if _, err := en.store.Get(ctx, r.ID); err == nil {
		return fmt.Errorf("annotation %s: %w", r.ID, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	a, err := en.parser.ParseJSON(r.Definition)
	if err != nil {
		return fmt.Errorf("annotation validation failed: %w", err)
	}

	if err := en.store.Add(ctx, r); err != nil {
		return err
	}

	if r.Active {
		en.mu.Lock()
		en.compiled[r.ID] = compiled{annotation: a, definition: r.Definition}
		en.mu.Unlock()
	}

	en.cache.Invalidate(ctx, en.owner)

	return nil
}

// UpdateRecord validates the new definition, stores it and swaps the parsed annotation.
func (en *Engine) UpdateRecord(ctx context.Context, r *Record) error {
	existing, err := en.store.Get(ctx, r.ID)
	if err != nil {
		return err
	}
	if existing.Owner != en.owner {
		return fmt.Errorf("annotation %s: %w", r.ID, ErrNotFound)
	}
	r.Owner = existing.Owner
	r.CreatedAt = existing.CreatedAt

	a, err := en.parser.ParseJSON(r.Definition)
	if err != nil {
		return fmt.Errorf("annotation validation failed: %w", err)
	}

	if err := en.store.Update(ctx, r); err != nil {
		return err
	}

	en.mu.Lock()
	if r.Active {
		en.compiled[r.ID] = compiled{annotation: a, definition: r.Definition}
	} else {
		delete(en.compiled, r.ID)
	}
	delete(en.rejected, r.ID)
	en.mu.Unlock()

	en.cache.Invalidate(ctx, en.owner)

	return nil
}

// DeleteRecord removes a record from the store and the parsed set.
func (en *Engine) DeleteRecord(ctx context.Context, id string) error {
	existing, err := en.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.Owner != en.owner {
		return fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}

	if err := en.store.Delete(ctx, id); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.compiled, id)
	delete(en.rejected, id)
	en.mu.Unlock()

	en.cache.Invalidate(ctx, en.owner)

	return nil
}

// ListRecords returns the owner's active records, from cache when possible.
func (en *Engine) ListRecords(ctx context.Context) ([]*Record, error) {
	records := en.cache.Get(ctx, en.owner)
	if records != nil {
		return records, nil
	}

	records, err := en.store.ListActive(ctx, en.owner)
	if err != nil {
		return nil, err
	}
	en.cache.Set(ctx, en.owner, records)
	return records, nil
}

// Evaluate evaluates a single annotation against event.
func (en *Engine) Evaluate(recordID string, event annotations.Event) (*EvaluationResult, error) {
	en.mu.RLock()
	c, exists := en.compiled[recordID]
	en.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("annotation %s is not compiled", recordID)
	}

	result := evaluateOne(recordID, c.annotation, event)
	return result, result.Error
}

// EvaluateAll evaluates every active annotation of the owner against event.
// A failing annotation is reported in its result and does not stop the others.
func (en *Engine) EvaluateAll(ctx context.Context, event annotations.Event) (*Decision, error) {
	start := time.Now()

	records, err := en.ListRecords(ctx)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Owners:  []Owner{en.owner},
		Tags:    []string{},
		Results: make([]*EvaluationResult, 0, len(records)),
	}

	failures := 0
	for _, record := range records {
		a, ok := en.lookup(ctx, record)
		if !ok {
			continue
		}

		result := evaluateOne(record.ID, a, event)
		decision.Results = append(decision.Results, result)

		switch {
		case result.Error != nil:
			failures++
			logger.EvaluationFailures.Add(1)
			logger.Error("annotation evaluation failed",
				"owner", en.owner.String(),
				"annotation_id", record.ID,
				"error", result.Error)
		case result.Type == annotations.TypeTag:
			decision.Tags = appendUnique(decision.Tags, result.Tag)
		case result.Matched:
			decision.Inhibited = true
			decision.InhibitedBy = append(decision.InhibitedBy, record.ID)
		}
	}

	en.metrics.RecordEvaluation(ctx, en.owner, decision.Inhibited, failures, time.Since(start))

	return decision, nil
}

// lookup returns the parsed annotation for record. Records that another
// process added or changed since they were last parsed here are parsed
// again, so an entry is only reused while its definition is unchanged.
func (en *Engine) lookup(ctx context.Context, record *Record) (annotations.Annotation, bool) {
	en.mu.RLock()
	c, ok := en.compiled[record.ID]
	r, rejectedBefore := en.rejected[record.ID]
	en.mu.RUnlock()

	if ok && bytes.Equal(c.definition, record.Definition) {
		return c.annotation, true
	}
	if rejectedBefore && bytes.Equal(r.definition, record.Definition) {
		return nil, false
	}

	a, err := en.parser.ParseJSON(record.Definition)

	en.mu.Lock()
	if err != nil {
		delete(en.compiled, record.ID)
		en.rejected[record.ID] = rejected{err: err, definition: record.Definition}
	} else {
		delete(en.rejected, record.ID)
		en.compiled[record.ID] = compiled{annotation: a, definition: record.Definition}
	}
	en.mu.Unlock()

	if err != nil {
		en.reject(ctx, record, err)
		return nil, false
	}
	return a, true
}

func (en *Engine) claim(r *Record) error {
	if r.Owner == (Owner{}) {
		r.Owner = en.owner
		return nil
	}
	if r.Owner != en.owner {
		return fmt.Errorf("annotation owned by %s cannot be added to %s", r.Owner, en.owner)
	}
	return nil
}

func evaluateOne(recordID string, a annotations.Annotation, event annotations.Event) *EvaluationResult {
	result := &EvaluationResult{
		RecordID: recordID,
		Type:     a.Type(),
	}

	switch ann := a.(type) {
	case annotations.Tag:
		// Tags apply to every event of their owner
		result.Matched = true
		result.Tag = ann.Value()
	case annotations.Inhibition:
		result.Matched, result.Error = ann.Matches(event)
	}

	return result
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
