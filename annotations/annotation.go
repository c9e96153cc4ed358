package annotations

import "encoding/json"

// Annotation type names as they appear in the "type" field.
const (
	TypeTag        = "tag"
	TypeInhibition = "inhibition"
)

// Annotation is a parsed annotation. Only Tag and Inhibition implement it.
type Annotation interface {
	annotation() // Sealed

	// Type returns TypeTag or TypeInhibition.
	Type() string
}

// Tag labels matching events with a fixed string.
type Tag struct {
	value string
}

func (Tag) annotation() {}

// Type implements Annotation.
func (Tag) Type() string { return TypeTag }

// Value returns the label.
func (t Tag) Value() string {
	return t.value
}

// MarshalJSON renders {"type":"tag","value":...}.
func (t Tag) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{TypeTag, t.value})
}

// Inhibition suppresses notifications for events matching its condition.
type Inhibition struct {
	condition Expression
}

func (Inhibition) annotation() {}

// Type implements Annotation.
func (Inhibition) Type() string { return TypeInhibition }

// Condition returns the validated condition.
func (i Inhibition) Condition() Expression {
	return i.condition
}

// Matches reports whether the condition holds for event.
func (i Inhibition) Matches(event Event) (bool, error) {
	return Matches(i, event)
}

// MarshalJSON renders {"type":"inhibition","condition":...}.
func (i Inhibition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string     `json:"type"`
		Condition Expression `json:"condition"`
	}{TypeInhibition, i.condition})
}
