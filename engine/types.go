package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// OwnerKind distinguishes the two record types annotations attach to.
type OwnerKind string

const (
	OwnerOrganisation OwnerKind = "organisation"
	OwnerContact      OwnerKind = "contact"
)

// Owner identifies the organisation or contact an annotation belongs to.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// String renders the owner as "kind:id".
func (o Owner) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}

// Record is a stored annotation definition.
// Definition holds the raw JSON document; it is parsed by the Engine.
type Record struct {
	ID         string          `json:"id"`
	Owner      Owner           `json:"owner"`
	Definition json.RawMessage `json:"definition"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// EvaluationResult is the outcome of one annotation for one event.
type EvaluationResult struct {
	RecordID string `json:"recordId"`
	Type     string `json:"type"`
	Matched  bool   `json:"matched"`
	Tag      string `json:"tag,omitempty"`
	Error    error  `json:"-"`
}

// MarshalJSON adds the error message, which error values do not encode.
func (r EvaluationResult) MarshalJSON() ([]byte, error) {
	type alias EvaluationResult
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return json.Marshal(out)
}

// Decision is what the annotations of one or more owners say about an event.
type Decision struct {
	Owners      []Owner             `json:"owners"`
	Tags        []string            `json:"tags"`
	Inhibited   bool                `json:"inhibited"`
	InhibitedBy []string            `json:"inhibitedBy,omitempty"`
	Results     []*EvaluationResult `json:"results"`
}

// Merge folds other into d. Tags keep first-seen order without duplicates.
func (d *Decision) Merge(other *Decision) {
	d.Owners = append(d.Owners, other.Owners...)
	seen := make(map[string]bool, len(d.Tags))
	for _, tag := range d.Tags {
		seen[tag] = true
	}
	for _, tag := range other.Tags {
		if !seen[tag] {
			seen[tag] = true
			d.Tags = append(d.Tags, tag)
		}
	}
	d.Inhibited = d.Inhibited || other.Inhibited
	d.InhibitedBy = append(d.InhibitedBy, other.InhibitedBy...)
	d.Results = append(d.Results, other.Results...)
}
