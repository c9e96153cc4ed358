package annotations

import "fmt"

// Builtins returns the functions of the default registry. Callers building
// their own registry append to this slice.
func Builtins() []Function {
	return []Function{
		{
			Name:  "event_field",
			Arity: 1,
			Check: requireStringLiteral("event_field"),
			Eval: func(event Event, args []Value) (Value, error) {
				name, ok := args[0].(string)
				if !ok {
					return nil, fmt.Errorf("field name must be a string, got %s", describe(args[0]))
				}
				return event.Field(name), nil
			},
		},
		{
			Name:  "eq",
			Arity: 2,
			Eval: func(_ Event, args []Value) (Value, error) {
				return valuesEqual(args[0], args[1]), nil
			},
		},
		{
			Name:  "not",
			Arity: 1,
			Eval: func(_ Event, args []Value) (Value, error) {
				b, err := asBool(args[0])
				if err != nil {
					return nil, err
				}
				return !b, nil
			},
		},
		{
			Name:  "and",
			Arity: 2,
			Eval: func(_ Event, args []Value) (Value, error) {
				lhs, rhs, err := boolPair(args)
				if err != nil {
					return nil, err
				}
				return lhs && rhs, nil
			},
		},
		{
			Name:  "or",
			Arity: 2,
			Eval: func(_ Event, args []Value) (Value, error) {
				lhs, rhs, err := boolPair(args)
				if err != nil {
					return nil, err
				}
				return lhs || rhs, nil
			},
		},
		CELFunction(),
	}
}

// requireStringLiteral returns a Check that accepts a single string literal.
func requireStringLiteral(name string) func([]Expression) error {
	return func(args []Expression) error {
		lit, ok := args[0].(Literal)
		if !ok {
			return invalidExpression("%s expects a string literal argument, got %s", name, args[0])
		}
		if _, ok := lit.Value().(string); !ok {
			return invalidExpression("%s expects a string literal argument, got %s", name, describe(lit.Value()))
		}
		return nil
	}
}

func asBool(v Value) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected boolean operand, got %s", describe(v))
	}
	return b, nil
}

func boolPair(args []Value) (bool, bool, error) {
	lhs, err := asBool(args[0])
	if err != nil {
		return false, false, err
	}
	rhs, err := asBool(args[1])
	if err != nil {
		return false, false, err
	}
	return lhs, rhs, nil
}
