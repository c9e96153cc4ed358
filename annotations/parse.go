package annotations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxDepth bounds the nesting of condition arrays.
const MaxDepth = 64

// Parser turns decoded JSON values into annotations using a registry.
// A Parser holds no mutable state and may be used concurrently.
type Parser struct {
	registry *Registry
}

// NewParser creates a parser for the given registry.
// A nil registry selects DefaultRegistry.
func NewParser(registry *Registry) *Parser {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Parser{registry: registry}
}

// Registry returns the registry the parser validates against.
func (p *Parser) Registry() *Registry {
	return p.registry
}

// FromStructured parses v with the default registry.
func FromStructured(v any) (Annotation, error) {
	return NewParser(nil).Parse(v)
}

// FromJSON decodes data and parses it with the default registry.
func FromJSON(data []byte) (Annotation, error) {
	return NewParser(nil).ParseJSON(data)
}

// ParseJSON decodes data and parses the result.
func (p *Parser) ParseJSON(data []byte) (Annotation, error) {
	v, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	return p.Parse(v)
}

// DecodeJSON decodes a single JSON document keeping numbers as json.Number.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode annotation: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode annotation: trailing data after JSON value")
	}
	return v, nil
}

// Parse validates v, the decoded form of one annotation document.
func (p *Parser) Parse(v any) (Annotation, error) {
	obj, ok := asObject(v)
	if !ok {
		return nil, &AnnotationError{
			Kind:    KindInvalidFieldType,
			Message: fmt.Sprintf("annotation must be an object, got %s", describe(v)),
		}
	}

	rawType, ok := obj["type"]
	if !ok {
		return nil, missingField("type")
	}
	typ, ok := rawType.(string)
	if !ok {
		return nil, invalidFieldType("type", "string", rawType)
	}

	switch typ {
	case TypeTag:
		rawValue, ok := obj["value"]
		if !ok {
			return nil, missingField("value")
		}
		value, ok := rawValue.(string)
		if !ok {
			return nil, invalidFieldType("value", "string", rawValue)
		}
		return Tag{value: value}, nil

	case TypeInhibition:
		rawCondition, ok := obj["condition"]
		if !ok {
			return nil, missingField("condition")
		}
		condition, err := p.ParseExpression(rawCondition)
		if err != nil {
			return nil, err
		}
		return Inhibition{condition: condition}, nil

	default:
		return nil, &AnnotationError{
			Kind:    KindUnknownAnnotationType,
			Message: fmt.Sprintf("unknown annotation type %q", typ),
			Field:   "type",
		}
	}
}

// ParseExpression validates one condition node and its children.
func (p *Parser) ParseExpression(v any) (Expression, error) {
	return p.parseExpression(v, 0)
}

func (p *Parser) parseExpression(v any, depth int) (Expression, error) {
	if depth >= MaxDepth {
		return nil, invalidExpression("condition nested deeper than %d levels", MaxDepth)
	}

	if isScalar(v) {
		if f, ok := normalizeNumber(v); ok {
			return Literal{value: f}, nil
		}
		return Literal{value: v}, nil
	}

	items, ok := asArray(v)
	if !ok {
		return nil, invalidExpression("expression must be a scalar or an array, got %s", describe(v))
	}
	if len(items) == 0 {
		return nil, invalidExpression("empty array is not a valid expression")
	}

	name, ok := items[0].(string)
	if !ok {
		return nil, invalidExpression("first element of a call must be a function name, got %s", describe(items[0]))
	}

	fn, ok := p.registry.Lookup(name)
	if !ok {
		return nil, &AnnotationError{
			Kind:     KindUnknownFunction,
			Message:  fmt.Sprintf("unknown function %q", name),
			Function: name,
		}
	}

	rawArgs := items[1:]
	if len(rawArgs) != fn.Arity {
		return nil, &AnnotationError{
			Kind:     KindWrongArity,
			Message:  fmt.Sprintf("%s expects %d argument(s), got %d", name, fn.Arity, len(rawArgs)),
			Function: name,
		}
	}

	args := make([]Expression, 0, len(rawArgs))
	for _, raw := range rawArgs {
		arg, err := p.parseExpression(raw, depth+1)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	if fn.Check != nil {
		if err := fn.Check(args); err != nil {
			return nil, functionError(name, err)
		}
	}

	call := Call{fn: fn, args: args}
	if fn.Bind != nil {
		eval, err := fn.Bind(args)
		if err != nil {
			return nil, functionError(name, err)
		}
		call.eval = eval
	}

	return call, nil
}

// functionError reports a Check or Bind failure of function name.
func functionError(name string, err error) *AnnotationError {
	var ae *AnnotationError
	if errors.As(err, &ae) {
		if ae.Function == "" {
			ae.Function = name
		}
		return ae
	}
	return &AnnotationError{
		Kind:     KindInvalidExpression,
		Message:  err.Error(),
		Function: name,
	}
}

// asObject accepts the map shapes produced by encoding/json and yaml.v3.
func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	}
	return nil, false
}

func asArray(v any) ([]any, bool) {
	items, ok := v.([]any)
	return items, ok
}
