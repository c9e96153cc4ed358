package annotations

import (
	"encoding/json"
	"strings"
)

// Expression is a node of a parsed condition: a Literal or a Call.
// Only the parser creates Calls, so every reachable Call names a
// registered function with the right number of arguments.
type Expression interface {
	expression() // Sealed

	// String renders the node in its JSON form.
	String() string
}

// Literal is a scalar used as-is: nil, bool, float64 or string.
type Literal struct {
	value Value
}

func (Literal) expression() {}

// Value returns the literal value.
func (l Literal) Value() Value {
	return l.value
}

// String implements Expression.
func (l Literal) String() string {
	data, err := json.Marshal(l.value)
	if err != nil {
		return "<invalid>"
	}
	return string(data)
}

// MarshalJSON renders the literal value.
func (l Literal) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.value)
}

// Call applies a registered function to argument expressions.
type Call struct {
	fn   Function
	args []Expression
	eval func(event Event, args []Value) (Value, error) // from Function.Bind, or nil
}

func (Call) expression() {}

// Name returns the called function's name.
func (c Call) Name() string {
	return c.fn.Name
}

// Args returns a copy of the argument expressions.
func (c Call) Args() []Expression {
	args := make([]Expression, len(c.args))
	copy(args, c.args)
	return args
}

// String implements Expression.
func (c Call) String() string {
	var b strings.Builder
	b.WriteString("[")
	name, _ := json.Marshal(c.fn.Name)
	b.Write(name)
	for _, arg := range c.args {
		b.WriteString(", ")
		b.WriteString(arg.String())
	}
	b.WriteString("]")
	return b.String()
}

// MarshalJSON renders the call as [name, args...].
func (c Call) MarshalJSON() ([]byte, error) {
	out := make([]any, 0, len(c.args)+1)
	out = append(out, c.fn.Name)
	for _, arg := range c.args {
		out = append(out, arg)
	}
	return json.Marshal(out)
}
