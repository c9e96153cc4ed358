package ownerengine

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/liamcoop/annotations/annotations"
	"github.com/liamcoop/annotations/engine"
)

const (
	maxOwnerIDLength   = 100
	maxFieldNameLength = 100
	maxEventFields     = 500
)

var (
	ownerIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]*$`)
	fieldNamePattern = regexp.MustCompile(`^[^\s\p{Cc}.]+(\.[^\s\p{Cc}.]+)*$`)
)

// ValidateOwner checks that owner names a known kind and a well-formed ID
func ValidateOwner(owner engine.Owner) error {
	switch owner.Kind {
	case engine.OwnerOrganisation, engine.OwnerContact:
	default:
		return fmt.Errorf("unknown owner kind %q (must be %q or %q)", owner.Kind, engine.OwnerOrganisation, engine.OwnerContact)
	}

	if len(owner.ID) == 0 {
		return fmt.Errorf("owner id cannot be empty")
	}
	if len(owner.ID) > maxOwnerIDLength {
		return fmt.Errorf("owner id length %d exceeds maximum of %d characters", len(owner.ID), maxOwnerIDLength)
	}
	if !ownerIDPattern.MatchString(owner.ID) {
		return fmt.Errorf("owner id %q must match pattern %s", owner.ID, ownerIDPattern)
	}

	return nil
}

// ValidateEvent checks an event received from outside the process.
// Field names are dot-separated, e.g. "classification.identifier" or
// "extra.cert-bund.id". Segments may hold any characters except whitespace
// and control characters, as free-form extra.* keys do. Values must be
// scalars.
func ValidateEvent(event annotations.Event) error {
	if len(event) > maxEventFields {
		return fmt.Errorf("event contains %d fields, maximum allowed is %d", len(event), maxEventFields)
	}

	for name, value := range event {
		if err := validateFieldName(name); err != nil {
			return fmt.Errorf("invalid field name %q: %w", name, err)
		}
		if !isScalar(value) {
			return fmt.Errorf("field %q has non-scalar value of type %T", name, value)
		}
	}

	return nil
}

func validateFieldName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("field name cannot be empty")
	}
	if len(name) > maxFieldNameLength {
		return fmt.Errorf("field name length %d exceeds maximum of %d characters", len(name), maxFieldNameLength)
	}
	if !fieldNamePattern.MatchString(name) {
		return fmt.Errorf("must be non-empty dot-separated segments without whitespace or control characters")
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}
