package env

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolenv/internal/hook"
	"toolenv/internal/hook/handlers"
	"toolenv/internal/jsonx"
	"toolenv/internal/tool"
	"toolenv/internal/tool/builtin"
)

func newEnv(t *testing.T, maxTurns int, tools ...tool.Tool) *Env {
	t.Helper()

	cfg := DefaultConfig()
	cfg.MaxTurns = maxTurns
	e, err := New(tools, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func assertTrackingConsistent(t *testing.T, e *Env) {
	t.Helper()

	tr := e.Tracking()
	assert.Len(t, tr.Rewards, tr.StepsTaken)
	assert.Len(t, tr.ActionsRaw, tr.StepsTaken)
	assert.Len(t, tr.ActionsValid, tr.StepsTaken)
	assert.Len(t, tr.ActionsEffective, tr.StepsTaken)
	for i := range tr.ActionsEffective {
		if tr.ActionsEffective[i] != nil {
			assert.NotNil(t, tr.ActionsValid[i], "effective turn %d must be valid", i)
		}
	}
}

func TestStep_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 10, builtin.NewCalculatorTool(builtin.SandboxOptions{}))

	r := e.Step(ctx, "no tool call at all")
	assert.Equal(t, StepResult{
		Observation: InvalidFormatMessage,
		Reward:      -0.1,
		Info:        Info{ActionIsValid: false, ActionIsEffective: false},
	}, r)
	assert.Equal(t, 1, e.Steps())

	r = e.Step(ctx, call("foo", `{}`))
	assert.Equal(t, StepResult{
		Observation: "Unknown tool: foo",
		Reward:      -0.05,
		Info:        Info{ActionIsValid: true, ActionIsEffective: false},
	}, r)
	assert.Equal(t, 2, e.Steps())

	r = e.Step(ctx, call("calculator", `{"expr": "1 + 1"}`))
	assert.True(t, strings.HasPrefix(r.Observation, "Invalid arguments for tool 'calculator': "), r.Observation)
	assert.Equal(t, -0.05, r.Reward)
	assert.Equal(t, Info{ActionIsValid: true}, r.Info)

	r = e.Step(ctx, "Let me compute.\n"+call("calculator", `{"expression": "2 + 2"}`))
	assert.Equal(t, StepResult{
		Observation: `{"result":"4"}`,
		Reward:      0.1,
		Done:        false,
		Info:        Info{ActionIsValid: true, ActionIsEffective: true},
	}, r)

	tr := e.Tracking()
	assert.Equal(t, 4, tr.StepsTaken)
	assert.InDelta(t, -0.1-0.05-0.05+0.1, tr.TotalReward, 1e-9)
	require.Len(t, tr.History, 1)
	assert.Equal(t, "calculator", tr.History[0].Tool)
	assert.Equal(t, map[string]any{"expression": "2 + 2"}, tr.History[0].Args)
	assert.Nil(t, tr.ActionsValid[0])
	assert.NotNil(t, tr.ActionsValid[1])
	assert.Nil(t, tr.ActionsEffective[1])
	assert.NotNil(t, tr.ActionsEffective[3])
	assertTrackingConsistent(t, e)
}

func TestStep_RuntimeFault(t *testing.T) {
	e := newEnv(t, 10, faulty{}, panicky{})

	r := e.Step(context.Background(), call("faulty", `{}`))
	assert.Equal(t, "Error executing tool 'faulty': kaput", r.Observation)
	assert.Equal(t, -0.05, r.Reward)
	assert.False(t, r.Done)
	assert.Equal(t, Info{ActionIsValid: true}, r.Info)

	r = e.Step(context.Background(), call("panicky", `{}`))
	assert.True(t, strings.HasPrefix(r.Observation, "Error executing tool 'panicky': panic: unexpected"), r.Observation)
	assert.Equal(t, -0.05, r.Reward)

	assert.Empty(t, e.History())
	assertTrackingConsistent(t, e)
}

func TestStep_DoneOnlyOnSuccessPath(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 2, newAdder("add"), faulty{})

	for _, text := range []string{"nothing", call("missing", `{}`), call("faulty", `{}`)} {
		r := e.Step(ctx, text)
		assert.False(t, r.Done, "failed turns never end the episode")
	}
	assert.Equal(t, 3, e.Steps())
	assert.False(t, e.Done())

	r := e.Step(ctx, call("add", `{"a": 1, "b": 2}`))
	assert.True(t, r.Done)
	assert.Equal(t, "3", r.Observation)
	assert.True(t, e.Done())

	// A failed turn after the limit still reports not done.
	r = e.Step(ctx, "nothing")
	assert.False(t, r.Done)
}

func TestStep_DoneExactlyAtLimit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 3, newAdder("add"))

	for i := 1; i <= 3; i++ {
		r := e.Step(ctx, call("add", `{"a": 1, "b": 1}`))
		assert.Equal(t, i >= 3, r.Done, "step %d", i)
	}
}

func TestStep_TrackingInvariants(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 100, newAdder("add"), faulty{})

	texts := []string{
		"plain text",
		call("add", `{"a": 1, "b": 2}`),
		"<tool_call>{not json}</tool_call>",
		call("add", `{"a": "x"}`),
		call("faulty", `{}`),
		`<tool_call>{"arguments": {}}</tool_call>`,
		call("add", `{"a": 5, "b": 5}`),
	}
	for k, text := range texts {
		e.Step(ctx, text)
		assert.Equal(t, k+1, e.Steps())
		assertTrackingConsistent(t, e)
	}
	assert.Len(t, e.History(), 2)
	assert.Equal(t, texts, e.Tracking().ActionsRaw)
}

func TestStep_HookDenialIsRuntimeFault(t *testing.T) {
	manager := hook.NewManager()
	manager.Register(handlers.NewDenyToolsHandler("add"))

	e := newEnv(t, 10, newAdder("add"))
	e.SetHookManager(manager)

	r := e.Step(context.Background(), call("add", `{"a": 1, "b": 2}`))
	assert.Equal(t, "Error executing tool 'add': tool 'add' is disabled", r.Observation)
	assert.Equal(t, -0.05, r.Reward)
	assert.Equal(t, Info{ActionIsValid: true}, r.Info)

	// A manager carried by the context applies when none is set.
	other := newEnv(t, 10, newAdder("add"))
	r = other.Step(hook.WithManager(context.Background(), manager), call("add", `{"a": 1, "b": 2}`))
	assert.False(t, r.Info.ActionIsEffective)
}

func TestNew_Errors(t *testing.T) {
	_, err := New([]tool.Tool{newAdder("x"), newAdder("x")}, DefaultConfig())
	assert.Error(t, err)

	_, err = New(nil, Config{MaxTurns: 0})
	assert.Error(t, err)

	_, err = New([]tool.Tool{nil}, DefaultConfig())
	assert.Error(t, err)
}

func TestTracking_IsSnapshot(t *testing.T) {
	e := newEnv(t, 10, newAdder("add"))
	e.Step(context.Background(), call("add", `{"a": 1, "b": 2}`))

	tr := e.Tracking()
	tr.History[0].Args["a"] = 99.0
	tr.Rewards[0] = 7
	tr.ActionsValid[0].Args["b"] = 99.0

	again := e.Tracking()
	assert.Equal(t, 1.0, again.History[0].Args["a"])
	assert.Equal(t, 0.2, again.Rewards[0])
	assert.Equal(t, 2.0, again.ActionsValid[0].Args["b"])
}

func TestTracking_JSONKeys(t *testing.T) {
	e := newEnv(t, 10, newAdder("add"))
	r := e.Step(context.Background(), call("add", `{"a": 1, "b": 2}`))

	out, err := jsonx.MarshalString(r)
	require.NoError(t, err)
	assert.Contains(t, out, `"action_is_valid":true`)
	assert.Contains(t, out, `"action_is_effective":true`)

	out, err = jsonx.MarshalString(e.Tracking())
	require.NoError(t, err)
	for _, key := range []string{"rewards", "total_reward", "steps_taken", "tool_history", "actions", "actions_valid", "actions_effective"} {
		assert.Contains(t, out, `"`+key+`"`)
	}
}

func TestResetTracking(t *testing.T) {
	e := newEnv(t, 1, newAdder("add"))
	e.Step(context.Background(), call("add", `{"a": 1, "b": 2}`))
	require.True(t, e.Done())

	e.ResetTracking()
	tr := e.Tracking()
	assert.Zero(t, tr.StepsTaken)
	assert.Empty(t, tr.Rewards)
	assert.Empty(t, tr.History)
	assert.False(t, e.Done())
}

func TestClone_StatefulIsolation(t *testing.T) {
	ctx := context.Background()
	base := newEnv(t, 10, builtin.NewLuaTool(builtin.SandboxOptions{}), builtin.NewCalculatorTool(builtin.SandboxOptions{}))

	r := base.Step(ctx, call("lua", `{"code": "x = 1"}`))
	require.True(t, r.Info.ActionIsEffective)

	e1 := base.Clone()
	e2 := base.Clone()
	t.Cleanup(func() { _ = e1.Close(); _ = e2.Close() })

	for e, v := range map[*Env]string{base: "42", e1: "100", e2: "200"} {
		r := e.Step(ctx, call("lua", `{"code": "x = `+v+`"}`))
		require.True(t, r.Info.ActionIsEffective)
	}

	for e, want := range map[*Env]string{base: "42\n", e1: "100\n", e2: "200\n"} {
		r := e.Step(ctx, call("lua", `{"code": "print(x)"}`))
		var out map[string]string
		require.NoError(t, jsonx.Unmarshal([]byte(r.Observation), &out))
		assert.Equal(t, want, out["stdout"])
	}

	assert.Equal(t, 3, base.Steps())
	assert.Equal(t, 3, e1.Steps(), "clone starts from the source trace")
}

func TestClone_SharesStatelessAndCopiesTrace(t *testing.T) {
	ctx := context.Background()
	add := newAdder("add")
	lua := builtin.NewLuaTool(builtin.SandboxOptions{})
	base := newEnv(t, 10, add, lua)
	base.Step(ctx, call("add", `{"a": 1, "b": 2}`))

	clone := base.Clone()
	t.Cleanup(func() { _ = clone.Close() })

	tools := clone.Tools()
	require.Len(t, tools, 2)
	assert.Same(t, add, tools[0])
	assert.NotSame(t, lua, tools[1])

	assert.Equal(t, base.Tracking(), clone.Tracking())

	clone.Step(ctx, "diverge")
	assert.Equal(t, 1, base.Steps())
	assert.Equal(t, 2, clone.Steps())
	assert.Len(t, base.Tracking().ActionsRaw, 1)
}

func TestClose_ReleasesOwnedTools(t *testing.T) {
	e, err := New([]tool.Tool{builtin.NewLuaTool(builtin.SandboxOptions{})}, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	r := e.Step(context.Background(), call("lua", `{"code": "print(1)"}`))
	assert.Equal(t, "Error executing tool 'lua': lua interpreter is closed", r.Observation)
}

func TestPrompts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 10, builtin.NewCalculatorTool(builtin.SandboxOptions{}), newAdder("add"))

	prompt, err := e.ToolsPrompt()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "# Tools\n\nYou may call one or more functions"))
	assert.Contains(t, prompt, "<tools>\n{\"type\":\"function\",\"function\":{\"name\":\"calculator\"")
	assert.Contains(t, prompt, "\n{\"type\":\"function\",\"function\":{\"name\":\"add\"")
	assert.True(t, strings.HasSuffix(prompt, "<tool_call>\n{\"name\": <function-name>, \"arguments\": <args-json-object>}\n</tool_call>"))

	desc := e.ToolsDescription()
	assert.True(t, strings.HasPrefix(desc, "Available tools:\n\nTool: calculator\n"))
	assert.Contains(t, desc, "\n\nTool: add\nDescription: Add two integers\nParameters: ")

	empty := newEnv(t, 10)
	assert.Equal(t, "No tools available.", empty.ToolsDescription())

	assert.Equal(t, "No tool call history yet.", e.HistoryContext())
	e.Step(ctx, call("add", `{"a": 1, "b": 2}`))
	assert.Equal(t, "Tool call history:\n1. Tool: add\n   Arguments: {\"a\":1,\"b\":2}\n   Result: 3\n\n", e.HistoryContext())
}
