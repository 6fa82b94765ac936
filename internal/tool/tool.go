package tool

import (
	"context"
	"errors"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mohae/deepcopy"
)

// Tool defines the interface that all tools must implement
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a brief description of what this tool does
	Description() string

	// Parameters returns the JSON schema for the tool's arguments. It should
	// return the same schema on every call; resolved schemas are cached by
	// pointer.
	Parameters() *jsonschema.Schema

	// Execute runs the tool with the given arguments. A returned error is a
	// runtime fault; problems the tool can describe belong in the Result.
	Execute(ctx context.Context, args map[string]any) (*Result, error)

	// Reward scores one call from its arguments and result
	Reward(args map[string]any, result *Result) float64
}

// Validator is implemented by tools that check arguments beyond their schema.
type Validator interface {
	Validate(args map[string]any) error
}

// BatchExecutor is implemented by tools whose cost amortizes across calls.
// Results must match args positionally, one per input.
type BatchExecutor interface {
	BatchExecute(ctx context.Context, args []map[string]any) ([]*Result, error)
}

// Stateful marks a tool that keeps execution context between calls.
// NewInstance returns a fresh tool of the same kind with empty context.
type Stateful interface {
	Tool
	NewInstance() Tool
}

var (
	ErrToolNotFound = errors.New("tool not found")
	ErrBatchLength  = errors.New("batch result count does not match argument count")
	ErrNilResult    = errors.New("tool returned a nil result")
)

// EmptyOutputPlaceholder is the observation for a call that produced no output.
const EmptyOutputPlaceholder = "(Tool executed successfully with no output)"

type Result struct {
	Success bool           `json:"success"`
	Output  string         `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Observation is the text fed back to the model for this result.
func (r *Result) Observation() string {
	switch {
	case r == nil:
		return EmptyOutputPlaceholder
	case r.Output != "":
		return r.Output
	case r.Error != "":
		return r.Error
	default:
		return EmptyOutputPlaceholder
	}
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	if r.Data != nil {
		out.Data = deepcopy.Copy(r.Data).(map[string]any)
	}
	return &out
}

// IsStateful reports whether t carries per-instance execution context.
func IsStateful(t Tool) bool {
	_, ok := t.(Stateful)
	return ok
}

// Fresh returns a new instance for stateful tools and t itself otherwise.
func Fresh(t Tool) Tool {
	if s, ok := t.(Stateful); ok {
		return s.NewInstance()
	}
	return t
}
