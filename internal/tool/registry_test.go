package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"toolenv/internal/jsonx"

	"github.com/google/jsonschema-go/jsonschema"
)

// MockTool is a configurable stateless tool
type MockTool struct {
	name    string
	schema  *jsonschema.Schema
	execute func(args map[string]any) (*Result, error)
}

func (t *MockTool) Name() string {
	return t.name
}

func (t *MockTool) Description() string {
	return "A mock tool <for> tests"
}

func (t *MockTool) Parameters() *jsonschema.Schema {
	return t.schema
}

func (t *MockTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	if t.execute != nil {
		return t.execute(args)
	}
	return &Result{Success: true, Output: "mock output"}, nil
}

func (t *MockTool) Reward(args map[string]any, result *Result) float64 {
	return 0.5
}

// MockStatefulTool counts its own calls
type MockStatefulTool struct {
	MockTool
	calls int
}

func (t *MockStatefulTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	t.calls++
	return &Result{Success: true}, nil
}

func (t *MockStatefulTool) NewInstance() Tool {
	return &MockStatefulTool{MockTool: t.MockTool}
}

var querySchema = Object(map[string]*jsonschema.Schema{
	"query": String("What to look for"),
	"limit": Integer("Maximum number of hits"),
}, "query")

func TestRegistry_RegisterDuplicate(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&MockTool{name: "a"}); err != nil {
		t.Fatalf("Failed to register tool: %v", err)
	}

	if err := registry.Register(&MockTool{name: "a"}); err == nil {
		t.Error("Expected error when registering a duplicate name")
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("missing")
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Expected ErrToolNotFound, got: %v", err)
	}
	if registry.Has("missing") {
		t.Error("Has should be false for an unregistered tool")
	}
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	names := []string{"zeta", "alpha", "mid"}

	for _, name := range names {
		if err := registry.Register(&MockTool{name: name}); err != nil {
			t.Fatalf("Failed to register %s: %v", name, err)
		}
	}

	tools := registry.List()
	if len(tools) != len(names) || registry.Len() != len(names) {
		t.Fatalf("Expected %d tools, got %d", len(names), len(tools))
	}
	for i, tl := range tools {
		if tl.Name() != names[i] {
			t.Errorf("Position %d: expected %s, got %s", i, names[i], tl.Name())
		}
	}
}

func TestRegistry_GetToolDefinitions(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&MockTool{name: "search", schema: querySchema}); err != nil {
		t.Fatalf("Failed to register tool: %v", err)
	}

	defs := registry.GetToolDefinitions()
	if len(defs) != 1 {
		t.Fatalf("Expected 1 definition, got %d", len(defs))
	}

	encoded, err := jsonx.MarshalString(defs[0])
	if err != nil {
		t.Fatalf("Failed to encode definition: %v", err)
	}

	for _, want := range []string{`"type":"function"`, `"name":"search"`, `"required":["query"]`, "<for>"} {
		if !strings.Contains(encoded, want) {
			t.Errorf("Definition should contain %s, got: %s", want, encoded)
		}
	}
}

func TestValidate_Schema(t *testing.T) {
	tl := &MockTool{name: "search", schema: querySchema}

	if err := Validate(tl, map[string]any{"query": "go", "limit": float64(3)}); err != nil {
		t.Errorf("Expected valid args, got: %v", err)
	}

	if err := Validate(tl, map[string]any{"limit": float64(3)}); err == nil {
		t.Error("Expected error for missing required argument")
	}

	if err := Validate(tl, map[string]any{"query": 42.0}); err == nil {
		t.Error("Expected error for wrong argument type")
	}

	if err := Validate(&MockTool{name: "free"}, nil); err != nil {
		t.Errorf("Nil schema should accept anything, got: %v", err)
	}
}

func TestFresh(t *testing.T) {
	stateless := &MockTool{name: "calc"}
	if Fresh(stateless) != Tool(stateless) {
		t.Error("Fresh should return stateless tools unchanged")
	}
	if IsStateful(stateless) {
		t.Error("MockTool should not be stateful")
	}

	stateful := &MockStatefulTool{MockTool: MockTool{name: "counter"}}
	stateful.calls = 3

	fresh, ok := Fresh(stateful).(*MockStatefulTool)
	if !ok {
		t.Fatalf("Fresh should return a *MockStatefulTool")
	}
	if fresh == stateful {
		t.Error("Fresh should return a new instance for stateful tools")
	}
	if fresh.calls != 0 {
		t.Errorf("Fresh instance should start empty, got %d calls", fresh.calls)
	}
	if fresh.Name() != "counter" {
		t.Errorf("Fresh instance should keep the name, got %s", fresh.Name())
	}
}

func TestResult_Observation(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
		want   string
	}{
		{"output", &Result{Success: true, Output: "42", Error: "ignored"}, "42"},
		{"error only", &Result{Success: false, Error: "boom"}, "boom"},
		{"empty", &Result{Success: true}, EmptyOutputPlaceholder},
		{"nil", nil, EmptyOutputPlaceholder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Observation(); got != tt.want {
				t.Errorf("Observation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResult_CloneIsDeep(t *testing.T) {
	original := &Result{Success: true, Data: map[string]any{"hits": []any{"a"}}}

	clone := original.Clone()
	clone.Data["hits"].([]any)[0] = "changed"

	if original.Data["hits"].([]any)[0] != "a" {
		t.Error("Mutating a clone must not change the original")
	}
}
