package annotations

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// celCostLimit bounds the work a single cel condition may perform.
const celCostLimit = 1000000

var (
	celEnv     *cel.Env
	celEnvOnce sync.Once
	celEnvErr  error
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		)
		if celEnvErr != nil {
			celEnvErr = fmt.Errorf("failed to create CEL environment: %w", celEnvErr)
		}
	})
	return celEnv, celEnvErr
}

// compileCEL type-checks src and builds its program.
func compileCEL(src string) (cel.Program, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression has type %s, want bool", out)
	}

	prog, err := env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

func runCEL(prog cel.Program, event Event) (Value, error) {
	out, _, err := prog.Eval(map[string]any{"event": celEvent(event)})
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

// CELFunction returns the "cel" function. Its single argument is a CEL
// expression over the variable event, a map from field name to value:
//
//	["cel", "'source.port' in event && event['source.port'] == 111"]
//
// Indexing a field the event lacks is an evaluation error, not a non-match,
// so guard optional fields with `in` or use event_field instead.
//
// The program is compiled once when the condition is parsed and is kept
// with the parsed call.
func CELFunction() Function {
	return Function{
		Name:  "cel",
		Arity: 1,
		Check: requireStringLiteral("cel"),
		Bind: func(args []Expression) (func(Event, []Value) (Value, error), error) {
			src := args[0].(Literal).Value().(string)
			prog, err := compileCEL(src)
			if err != nil {
				return nil, invalidExpression("invalid cel expression %q: %v", src, err)
			}
			return func(event Event, _ []Value) (Value, error) {
				return runCEL(prog, event)
			}, nil
		},
		// Eval serves calls built without Bind and compiles on every use.
		Eval: func(event Event, args []Value) (Value, error) {
			src, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("cel source must be a string, got %s", describe(args[0]))
			}
			prog, err := compileCEL(src)
			if err != nil {
				return nil, err
			}
			return runCEL(prog, event)
		},
	}
}

// celEvent copies event into a map the CEL runtime can adapt.
// json.Number has no CEL counterpart, so it becomes int64 or float64.
func celEvent(event Event) map[string]any {
	out := make(map[string]any, len(event))
	for k, v := range event {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				out[k] = i
				continue
			}
			f, _ := n.Float64()
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out
}
