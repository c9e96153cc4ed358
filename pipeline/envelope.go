package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/liamcoop/annotations/annotations"
	"github.com/liamcoop/annotations/engine"
	"github.com/liamcoop/annotations/ownerengine"
)

// Envelope is one inbound message: an event and the owners it concerns.
type Envelope struct {
	Owners []engine.Owner    `json:"owners"`
	Event  annotations.Event `json:"event"`
}

// Result is one outbound message: the event with the decision of its owners.
type Result struct {
	Event    annotations.Event `json:"event"`
	Decision *engine.Decision  `json:"decision"`
}

// DecodeEnvelope decodes and validates an inbound message.
// Numbers are kept as json.Number so integer fields survive unchanged.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid envelope: trailing data")
	}

	if env.Event == nil {
		return nil, errors.New("invalid envelope: event is required")
	}
	if len(env.Owners) == 0 {
		return nil, errors.New("invalid envelope: at least one owner is required")
	}
	for _, owner := range env.Owners {
		if err := ownerengine.ValidateOwner(owner); err != nil {
			return nil, fmt.Errorf("invalid envelope: %w", err)
		}
	}
	if err := ownerengine.ValidateEvent(env.Event); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	return &env, nil
}
