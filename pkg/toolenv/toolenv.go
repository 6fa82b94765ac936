// Package toolenv is the public API of the tool-calling environment.
//
// An Env turns raw model output into tool executions, observations and
// rewards one step at a time. Env.Clone forks an episode with fresh stateful
// tools, and StepBatch advances many episodes at once, grouping their calls
// so that tools with a batched path run once per group.
package toolenv

import (
	"context"

	"toolenv/internal/env"
	"toolenv/internal/parser"
	"toolenv/internal/tool"
	"toolenv/internal/tool/builtin"
)

type (
	Env            = env.Env
	Config         = env.Config
	StepResult     = env.StepResult
	Info           = env.Info
	Tracking       = env.Tracking
	ToolCallRecord = env.ToolCallRecord
	Dispatcher     = env.Dispatcher
	Policy         = env.Policy
	BatchError     = env.BatchError

	Tool          = tool.Tool
	Result        = tool.Result
	Validator     = tool.Validator
	BatchExecutor = tool.BatchExecutor
	Stateful      = tool.Stateful

	Action = parser.Action

	ToolsetOptions = builtin.Options
)

const (
	PolicyFail     = env.PolicyFail
	PolicyPerIndex = env.PolicyPerIndex
)

var (
	ErrLengthMismatch = env.ErrLengthMismatch
	ErrBatchLength    = tool.ErrBatchLength
	ErrNilResult      = tool.ErrNilResult
)

// New creates an episode over tools.
func New(tools []Tool, cfg Config) (*Env, error) {
	return env.New(tools, cfg)
}

// DefaultConfig returns the default turn limit and penalties.
func DefaultConfig() Config {
	return env.DefaultConfig()
}

// StepBatch steps envs[i] with texts[i] using the default dispatcher.
func StepBatch(ctx context.Context, envs []*Env, texts []string) ([]StepResult, error) {
	return env.StepBatch(ctx, envs, texts)
}

// ParseAction extracts the first tool call from model output.
func ParseAction(text string) Action {
	return parser.Extract(text)
}

// Toolset builds built-in tools by name; "all" and "none" select every tool
// or none.
func Toolset(names []string, opts ToolsetOptions) ([]Tool, error) {
	return builtin.Toolset(names, opts)
}
