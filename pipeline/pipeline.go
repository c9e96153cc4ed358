// Package pipeline annotates a stream of events. Each inbound Envelope is
// decided against the annotations of its owners and written out as a Result.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/annotations/annotations"
	"github.com/liamcoop/annotations/engine"
	"github.com/liamcoop/annotations/internal/logger"
)

// Message is a transport-neutral stream message.
type Message struct {
	Key   []byte
	Value []byte

	// Partition and Offset locate the message in its source. Messages of one
	// partition are handled and committed in order.
	Partition int
	Offset    int64

	// raw is the transport's own message, handed back to Commit.
	raw any
}

// Source delivers inbound messages. Committing a message acknowledges it
// and every earlier message of its partition.
type Source interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

// Sink receives outbound messages.
type Sink interface {
	Write(ctx context.Context, msg Message) error
	Close() error
}

// Decider decides an event for a set of owners. *ownerengine.Manager implements it.
type Decider interface {
	Decide(ctx context.Context, event annotations.Event, owners ...engine.Owner) (*engine.Decision, error)
}

// Processor moves messages from a Source through a Decider to a Sink
// using a fixed pool of workers. Each partition is served by exactly one
// worker, so commits within a partition never overtake an unfinished message.
type Processor struct {
	source  Source
	sink    Sink
	decider Decider
	workers int
}

// NewProcessor creates a processor. workers below 1 is treated as 1.
func NewProcessor(source Source, sink Sink, decider Decider, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		source:  source,
		sink:    sink,
		decider: decider,
		workers: workers,
	}
}

// Run processes messages until ctx is cancelled or processing fails.
// Cancellation is not an error. A message that cannot be decided or written
// stops the processor with that message and every later one of its
// partition uncommitted, so they are delivered again after a restart.
func (p *Processor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	queues := make([]chan Message, p.workers)
	for i := range queues {
		queues[i] = make(chan Message, 1)
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			msg, err := p.source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to fetch message: %w", err)
			}

			select {
			case queues[p.shard(msg.Partition)] <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	})

	for _, q := range queues {
		g.Go(func() error {
			for msg := range q {
				if ctx.Err() != nil {
					return nil
				}
				if err := p.Handle(ctx, msg); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.Error("failed to process message",
						"partition", msg.Partition,
						"offset", msg.Offset,
						"key", string(msg.Key),
						"error", err)
					return fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func (p *Processor) shard(partition int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % p.workers
}

// Handle decides one message, writes the result and commits the message.
// Malformed messages are logged, counted and committed without output.
// A message whose decision or write fails is not committed and the error
// is returned; the caller must not commit later messages of the partition.
func (p *Processor) Handle(ctx context.Context, msg Message) error {
	env, err := DecodeEnvelope(msg.Value)
	if err != nil {
		logger.DroppedMessages.Add(1)
		logger.Warn("dropping malformed message", "key", string(msg.Key), "error", err)
		return p.source.Commit(ctx, msg)
	}

	decision, err := p.decider.Decide(ctx, env.Event, env.Owners...)
	if err != nil {
		return fmt.Errorf("failed to decide: %w", err)
	}

	value, err := json.Marshal(Result{Event: env.Event, Decision: decision})
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if err := p.sink.Write(ctx, Message{Key: msg.Key, Value: value}); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	logger.Debug("message annotated",
		"key", string(msg.Key),
		"tags", decision.Tags,
		"inhibited", decision.Inhibited)

	return p.source.Commit(ctx, msg)
}

// ErrClosed is returned by channel sources and sinks after Close.
var ErrClosed = errors.New("pipeline: closed")
