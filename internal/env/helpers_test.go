package env

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"toolenv/internal/tool"
)

var addSchema = tool.Object(map[string]*jsonschema.Schema{
	"a": tool.Integer("first operand"),
	"b": tool.Integer("second operand"),
}, "a", "b")

// adder is a stateless tool with a native batch path. Negative operands
// fault on the single-call path.
type adder struct {
	name string

	mu      sync.Mutex
	batches [][]map[string]any
	singles int

	batchErr   error
	dropResult bool
}

func newAdder(name string) *adder {
	return &adder{name: name}
}

func (t *adder) Name() string                   { return t.name }
func (t *adder) Description() string            { return "Add two integers" }
func (t *adder) Parameters() *jsonschema.Schema { return addSchema }

func (t *adder) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	t.mu.Lock()
	t.singles++
	t.mu.Unlock()
	return t.add(args)
}

func (t *adder) add(args map[string]any) (*tool.Result, error) {
	a, b := args["a"].(float64), args["b"].(float64)
	if a < 0 || b < 0 {
		return nil, errors.New("negative operand")
	}
	return &tool.Result{Success: true, Output: fmt.Sprintf("%g", a+b)}, nil
}

func (t *adder) BatchExecute(ctx context.Context, argsList []map[string]any) ([]*tool.Result, error) {
	t.mu.Lock()
	t.batches = append(t.batches, argsList)
	t.mu.Unlock()

	if t.batchErr != nil {
		return nil, t.batchErr
	}

	results := make([]*tool.Result, 0, len(argsList))
	for _, args := range argsList {
		r, err := t.add(args)
		if err != nil {
			r = &tool.Result{Success: false, Error: err.Error()}
		}
		results = append(results, r)
	}
	if t.dropResult {
		results = results[:len(results)-1]
	}
	return results, nil
}

func (t *adder) Reward(args map[string]any, result *tool.Result) float64 {
	if result.Success {
		return 0.2
	}
	return 0
}

// faulty always fails at runtime.
type faulty struct{}

func (faulty) Name() string                   { return "faulty" }
func (faulty) Description() string            { return "Always fails" }
func (faulty) Parameters() *jsonschema.Schema { return nil }
func (faulty) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	return nil, errors.New("kaput")
}
func (faulty) Reward(args map[string]any, result *tool.Result) float64 { return 1 }

// panicky panics inside Execute.
type panicky struct{ faulty }

func (panicky) Name() string { return "panicky" }
func (panicky) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	panic("unexpected")
}

// journal is a stateful batch tool that remembers every argument it saw.
type journal struct {
	seen []map[string]any
}

func (t *journal) Name() string                   { return "journal" }
func (t *journal) Description() string            { return "Remember entries" }
func (t *journal) Parameters() *jsonschema.Schema { return nil }
func (t *journal) NewInstance() tool.Tool         { return &journal{} }

func (t *journal) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	t.seen = append(t.seen, args)
	return &tool.Result{Success: true, Output: fmt.Sprintf("%d entries", len(t.seen))}, nil
}

func (t *journal) BatchExecute(ctx context.Context, argsList []map[string]any) ([]*tool.Result, error) {
	results := make([]*tool.Result, len(argsList))
	for i, args := range argsList {
		results[i], _ = t.Execute(ctx, args)
	}
	return results, nil
}

func (t *journal) Reward(args map[string]any, result *tool.Result) float64 { return 0.1 }

func call(name, args string) string {
	return fmt.Sprintf(`<tool_call>{"name": %q, "arguments": %s}</tool_call>`, name, args)
}
