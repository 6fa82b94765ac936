package env

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"toolenv/internal/hook"
	"toolenv/internal/logger"
	"toolenv/internal/metrics"
	"toolenv/internal/parser"
	"toolenv/internal/tool"
)

// InvalidFormatMessage is the observation for a turn without a well-formed tool call.
const InvalidFormatMessage = `Invalid tool call format. Please use <tool_call>{"name": "tool_name", "arguments": {params_json}}</tool_call> format.`

const (
	DefaultMaxTurns           = 10
	DefaultPenaltyInvalid     = -0.1
	DefaultPenaltyIneffective = -0.05
)

// Config bounds an episode and sets the penalties for failed turns.
type Config struct {
	MaxTurns           int
	PenaltyInvalid     float64
	PenaltyIneffective float64
}

// DefaultConfig returns the standard turn limit and penalties.
func DefaultConfig() Config {
	return Config{
		MaxTurns:           DefaultMaxTurns,
		PenaltyInvalid:     DefaultPenaltyInvalid,
		PenaltyIneffective: DefaultPenaltyIneffective,
	}
}

// Info reports how a turn was classified.
type Info struct {
	ActionIsValid     bool `json:"action_is_valid"`
	ActionIsEffective bool `json:"action_is_effective"`
}

// StepResult is the outcome of one transition.
type StepResult struct {
	Observation string  `json:"observation"`
	Reward      float64 `json:"reward"`
	Done        bool    `json:"done"`
	Info        Info    `json:"info"`
}

// ToolCallRecord logs one successful tool execution.
type ToolCallRecord struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result *tool.Result   `json:"result"`
}

// Env is one episode: a tool set plus the trace of every turn taken against
// it. Stateful tools are owned by the Env; stateless tools may be shared.
//
// An Env must not be stepped concurrently. Distinct Envs may be.
type Env struct {
	id      int
	cfg     Config
	tools   *tool.Registry
	log     *logger.Logger
	hooks   *hook.Manager
	metrics *metrics.Metrics

	history          []ToolCallRecord
	rewards          []float64
	steps            int
	actionsRaw       []string
	actionsValid     []*parser.Action
	actionsEffective []*parser.Action
	done             bool
}

// New creates an episode over tools. Stateful tools become owned by the
// episode. Tool names must be unique.
func New(tools []tool.Tool, cfg Config) (*Env, error) {
	if cfg.MaxTurns < 1 {
		return nil, fmt.Errorf("max turns must be positive, got %d", cfg.MaxTurns)
	}

	registry := tool.NewRegistry()
	for _, t := range tools {
		if t == nil {
			return nil, errors.New("nil tool")
		}
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	e := &Env{
		cfg:   cfg,
		tools: registry,
		log:   logger.Nop(),
	}
	e.ResetTracking()
	return e, nil
}

// SetID labels the episode in logs and hooks.
func (e *Env) SetID(id int) { e.id = id }

// ID returns the episode label.
func (e *Env) ID() int { return e.id }

// SetLogger sets the logger. A nil logger discards output.
func (e *Env) SetLogger(l *logger.Logger) {
	if l == nil {
		l = logger.Nop()
	}
	e.log = l
}

// SetHookManager sets the hooks consulted around tool execution. Without
// one, a manager carried by the step context is used.
func (e *Env) SetHookManager(m *hook.Manager) { e.hooks = m }

// SetMetrics sets the metrics recorder. nil disables metrics.
func (e *Env) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// Config returns the episode configuration.
func (e *Env) Config() Config { return e.cfg }

// Tools returns the episode's tools in registration order.
func (e *Env) Tools() []tool.Tool { return e.tools.List() }

// Steps returns the number of transitions attempted so far.
func (e *Env) Steps() int { return e.steps }

// Done reports whether a successful turn has reached the turn limit.
func (e *Env) Done() bool { return e.done }

// Step processes one model turn. Every failure the model can cause is
// scored and reported in the result; none is returned as an error.
func (e *Env) Step(ctx context.Context, text string) StepResult {
	action := parser.Extract(text)

	t, resolved := e.admit(ctx, text, action)
	if resolved != nil {
		return *resolved
	}

	result, err := e.execute(ctx, t, action.Args)
	if err != nil {
		return e.fault(text, action, err)
	}
	return e.succeed(ctx, text, action, t, result)
}

// admit runs every check that precedes execution. When the call cannot run,
// the turn is recorded and its result returned.
func (e *Env) admit(ctx context.Context, text string, action parser.Action) (tool.Tool, *StepResult) {
	if !action.IsCall() {
		e.log.Debug("episode %d: invalid tool call format", e.id)
		r := e.fail(text, action, metrics.OutcomeInvalid, InvalidFormatMessage, e.cfg.PenaltyInvalid)
		return nil, &r
	}

	t, err := e.tools.Get(action.Name)
	if err != nil {
		e.log.Warn("episode %d: unknown tool %q", e.id, action.Name)
		r := e.fail(text, action, metrics.OutcomeUnknownTool, "Unknown tool: "+action.Name, e.cfg.PenaltyIneffective)
		return nil, &r
	}

	if err := tool.Validate(t, action.Args); err != nil {
		e.log.Warn("episode %d: invalid arguments for tool %q: %v", e.id, action.Name, err)
		r := e.fail(text, action, metrics.OutcomeInvalidArgs,
			fmt.Sprintf("Invalid arguments for tool '%s': %v", action.Name, err), e.cfg.PenaltyIneffective)
		return nil, &r
	}

	if err := e.beforeExecution(ctx, action); err != nil {
		r := e.fault(text, action, err)
		return nil, &r
	}

	return t, nil
}

func (e *Env) beforeExecution(ctx context.Context, action parser.Action) error {
	hooks := e.hookManager(ctx)
	if !hooks.HasHandlers(hook.BeforeToolExecution) {
		return nil
	}

	data := hook.NewHookData(hook.BeforeToolExecution, action.Name).
		Set(hook.KeyArgs, action.Args).
		Set(hook.KeyEpisode, e.id)
	feedback, err := hooks.Trigger(ctx, data)
	if err != nil {
		return fmt.Errorf("hook: %w", err)
	}
	if !feedback.Allow {
		if feedback.Message == "" {
			return errors.New("execution denied by hook")
		}
		return errors.New(feedback.Message)
	}
	return nil
}

func (e *Env) afterExecution(ctx context.Context, name string, args map[string]any, result *tool.Result, reward float64) {
	hooks := e.hookManager(ctx)
	if !hooks.HasHandlers(hook.AfterToolExecution) {
		return
	}

	data := hook.NewHookData(hook.AfterToolExecution, name).
		Set(hook.KeyArgs, args).
		Set(hook.KeyResult, result).
		Set(hook.KeyEpisode, e.id).
		Set(hook.KeyReward, reward)
	if _, err := hooks.Trigger(ctx, data); err != nil {
		e.log.Warn("episode %d: after-execution hook failed: %v", e.id, err)
	}
}

func (e *Env) hookManager(ctx context.Context) *hook.Manager {
	if e.hooks != nil {
		return e.hooks
	}
	return hook.FromContext(ctx)
}

func (e *Env) execute(ctx context.Context, t tool.Tool, args map[string]any) (*tool.Result, error) {
	e.log.ToolCall(e.id, t.Name(), args)

	start := time.Now()
	result, err := tool.SafeExecute(ctx, t, args)
	duration := time.Since(start)
	e.metrics.ObserveToolDuration(t.Name(), "single", duration)

	if err != nil {
		e.log.ToolResult(e.id, t.Name(), false, err.Error(), duration)
		return nil, err
	}
	e.log.ToolResult(e.id, t.Name(), result.Success, result.Observation(), duration)
	return result, nil
}

// fault records a runtime fault for a call that passed validation.
func (e *Env) fault(text string, action parser.Action, err error) StepResult {
	e.log.Warn("episode %d: error executing tool %q: %v", e.id, action.Name, err)
	return e.fail(text, action, metrics.OutcomeFault,
		fmt.Sprintf("Error executing tool '%s': %v", action.Name, err), e.cfg.PenaltyIneffective)
}

// fail records a turn that did not execute. It never ends the episode.
func (e *Env) fail(text string, action parser.Action, outcome, observation string, reward float64) StepResult {
	valid := action.IsCall()
	e.record(text, action, valid, false, reward)
	e.metrics.ObserveStep(action.Name, outcome, reward)

	r := StepResult{
		Observation: observation,
		Reward:      reward,
		Info:        Info{ActionIsValid: valid},
	}
	e.log.Step(e.id, e.steps, r.Reward, valid, false, false)
	return r
}

// succeed records an executed call and scores it with the tool's reward.
func (e *Env) succeed(ctx context.Context, text string, action parser.Action, t tool.Tool, result *tool.Result) StepResult {
	reward := t.Reward(action.Args, result)

	e.record(text, action, true, true, reward)
	e.history = append(e.history, ToolCallRecord{
		Tool:   action.Name,
		Args:   action.Args,
		Result: result,
	})
	e.metrics.ObserveStep(action.Name, metrics.OutcomeEffective, reward)

	done := e.steps >= e.cfg.MaxTurns
	if done && !e.done {
		e.metrics.IncEpisodeDone()
	}
	e.done = e.done || done

	e.afterExecution(ctx, action.Name, action.Args, result, reward)
	e.log.Step(e.id, e.steps, reward, true, true, done)

	return StepResult{
		Observation: result.Observation(),
		Reward:      reward,
		Done:        done,
		Info:        Info{ActionIsValid: true, ActionIsEffective: true},
	}
}

func (e *Env) record(text string, action parser.Action, valid, effective bool, reward float64) {
	e.steps++
	e.rewards = append(e.rewards, reward)
	e.actionsRaw = append(e.actionsRaw, text)

	var validSlot, effectiveSlot *parser.Action
	if valid {
		a := action
		validSlot = &a
		if effective {
			effectiveSlot = &a
		}
	}
	e.actionsValid = append(e.actionsValid, validSlot)
	e.actionsEffective = append(e.actionsEffective, effectiveSlot)
}

// Close releases resources held by the episode's owned stateful tools.
// Shared stateless tools are left open.
func (e *Env) Close() error {
	var errs []error
	for _, t := range e.tools.List() {
		if !tool.IsStateful(t) {
			continue
		}
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", t.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
