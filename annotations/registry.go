package annotations

import (
	"fmt"
	"sort"
	"sync"
)

// Function is a named operation usable inside conditions.
type Function struct {
	// Name is the identifier used in call position, e.g. "eq".
	Name string

	// Arity is the exact number of arguments a call must supply.
	Arity int

	// Check optionally validates the parsed arguments at parse time.
	// A returned *AnnotationError is reported as-is; other errors are
	// wrapped as KindInvalidExpression.
	Check func(args []Expression) error

	// Eval computes the result from already-evaluated arguments.
	Eval func(event Event, args []Value) (Value, error)

	// Bind optionally runs once per call at parse time, after Check, and
	// returns the evaluator that call uses in place of Eval. Work done here,
	// such as compiling, lives exactly as long as the parsed annotation.
	// Errors are reported like Check errors.
	Bind func(args []Expression) (func(event Event, args []Value) (Value, error), error)
}

// Registry maps function names to functions. It is never modified after
// NewRegistry returns, so it can be shared freely between goroutines.
type Registry struct {
	funcs map[string]Function
}

// NewRegistry builds a registry from the given functions.
// Duplicate or malformed entries are rejected.
func NewRegistry(fns ...Function) (*Registry, error) {
	r := &Registry{funcs: make(map[string]Function, len(fns))}
	for _, fn := range fns {
		if fn.Name == "" {
			return nil, fmt.Errorf("function name cannot be empty")
		}
		if fn.Arity < 0 {
			return nil, fmt.Errorf("function %s has negative arity %d", fn.Name, fn.Arity)
		}
		if fn.Eval == nil {
			return nil, fmt.Errorf("function %s has no Eval", fn.Name)
		}
		if _, exists := r.funcs[fn.Name]; exists {
			return nil, fmt.Errorf("function %s registered twice", fn.Name)
		}
		r.funcs[fn.Name] = fn
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(fns ...Function) *Registry {
	r, err := NewRegistry(fns...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Function, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Functions returns all registered functions sorted by name.
func (r *Registry) Functions() []Function {
	fns := make([]Function, 0, len(r.funcs))
	for _, fn := range r.funcs {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].Name < fns[j].Name })
	return fns
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry holding Builtins.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = MustRegistry(Builtins()...)
	})
	return defaultRegistry
}
