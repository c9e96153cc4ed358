package annotations

import "fmt"

// Evaluate computes the value of expr for event.
// It has no side effects; equal inputs give equal results.
func Evaluate(expr Expression, event Event) (Value, error) {
	switch e := expr.(type) {
	case Literal:
		return e.value, nil
	case Call:
		args := make([]Value, len(e.args))
		for i, arg := range e.args {
			v, err := Evaluate(arg, event)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		eval := e.fn.Eval
		if e.eval != nil {
			eval = e.eval
		}
		out, err := eval(event, args)
		if err != nil {
			return nil, &EvaluationError{Function: e.fn.Name, Err: err}
		}
		return out, nil
	case nil:
		return nil, &EvaluationError{Err: fmt.Errorf("nil expression")}
	default:
		return nil, &EvaluationError{Err: fmt.Errorf("unsupported expression %T", expr)}
	}
}

// Matches evaluates the inhibition's condition for event. A condition that
// yields anything but a boolean is an error wrapping ErrNonBooleanCondition.
func Matches(inhibition Inhibition, event Event) (bool, error) {
	out, err := Evaluate(inhibition.condition, event)
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	if !ok {
		return false, &EvaluationError{
			Err: fmt.Errorf("%w: got %s from %s", ErrNonBooleanCondition, describe(out), inhibition.condition),
		}
	}
	return matched, nil
}
