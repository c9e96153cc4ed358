package pipeline

import (
	"context"
	"sync"
)

// ChanSource is a Source fed from a channel. It records committed messages.
type ChanSource struct {
	ch        chan Message
	mu        sync.Mutex
	committed []Message
	closeOnce sync.Once
	done      chan struct{}
}

// NewChanSource creates a source with the given buffer size.
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{
		ch:   make(chan Message, buffer),
		done: make(chan struct{}),
	}
}

// Send queues a message for Fetch.
func (s *ChanSource) Send(ctx context.Context, msg Message) error {
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChanSource) Fetch(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *ChanSource) Commit(_ context.Context, msg Message) error {
	s.mu.Lock()
	s.committed = append(s.committed, msg)
	s.mu.Unlock()
	return nil
}

// Committed returns the messages committed so far.
func (s *ChanSource) Committed() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.committed...)
}

func (s *ChanSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// ChanSink is a Sink that delivers messages to a channel.
type ChanSink struct {
	C chan Message
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{C: make(chan Message, buffer)}
}

func (s *ChanSink) Write(ctx context.Context, msg Message) error {
	select {
	case s.C <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChanSink) Close() error {
	return nil
}
