package env

import (
	"github.com/mohae/deepcopy"

	"toolenv/internal/parser"
	"toolenv/internal/tool"
)

// Tracking is a snapshot of an episode's trace. Rewards, ActionsRaw,
// ActionsValid and ActionsEffective have one entry per attempted turn.
// A nil slot in ActionsValid or ActionsEffective marks a turn that was not
// valid or not effective.
type Tracking struct {
	Rewards          []float64        `json:"rewards"`
	TotalReward      float64          `json:"total_reward"`
	StepsTaken       int              `json:"steps_taken"`
	History          []ToolCallRecord `json:"tool_history"`
	ActionsRaw       []string         `json:"actions"`
	ActionsValid     []*parser.Action `json:"actions_valid"`
	ActionsEffective []*parser.Action `json:"actions_effective"`
}

// Tracking returns a deep copy of the episode's trace.
func (e *Env) Tracking() Tracking {
	t := Tracking{
		Rewards:          append([]float64(nil), e.rewards...),
		StepsTaken:       e.steps,
		History:          copyHistory(e.history),
		ActionsRaw:       append([]string(nil), e.actionsRaw...),
		ActionsValid:     copyActions(e.actionsValid),
		ActionsEffective: copyActions(e.actionsEffective),
	}
	for _, r := range e.rewards {
		t.TotalReward += r
	}
	return t
}

// History returns a deep copy of the successful tool calls so far.
func (e *Env) History() []ToolCallRecord {
	return copyHistory(e.history)
}

// ResetTracking clears the trace and the step counter. Tool state is kept.
func (e *Env) ResetTracking() {
	e.history = []ToolCallRecord{}
	e.rewards = []float64{}
	e.steps = 0
	e.actionsRaw = []string{}
	e.actionsValid = []*parser.Action{}
	e.actionsEffective = []*parser.Action{}
	e.done = false
}

// Clone returns an independent episode with the same trace. Stateful tools
// get fresh instances with empty context; stateless tools are shared.
func (e *Env) Clone() *Env {
	registry := tool.NewRegistry()
	for _, t := range e.tools.List() {
		// Names were unique in the source registry.
		_ = registry.Register(tool.Fresh(t))
	}

	return &Env{
		id:               e.id,
		cfg:              e.cfg,
		tools:            registry,
		log:              e.log,
		hooks:            e.hooks,
		metrics:          e.metrics,
		history:          copyHistory(e.history),
		rewards:          append([]float64{}, e.rewards...),
		steps:            e.steps,
		actionsRaw:       append([]string{}, e.actionsRaw...),
		actionsValid:     copyActions(e.actionsValid),
		actionsEffective: copyActions(e.actionsEffective),
		done:             e.done,
	}
}

func copyArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	return deepcopy.Copy(args).(map[string]any)
}

func copyHistory(history []ToolCallRecord) []ToolCallRecord {
	out := make([]ToolCallRecord, len(history))
	for i, rec := range history {
		out[i] = ToolCallRecord{
			Tool:   rec.Tool,
			Args:   copyArgs(rec.Args),
			Result: rec.Result.Clone(),
		}
	}
	return out
}

// copyActions deep-copies a slot list, keeping nil slots.
func copyActions(actions []*parser.Action) []*parser.Action {
	out := make([]*parser.Action, len(actions))
	for i, a := range actions {
		if a == nil {
			continue
		}
		c := *a
		c.Args = copyArgs(a.Args)
		out[i] = &c
	}
	return out
}
