package env

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolenv/internal/hook"
	"toolenv/internal/jsonx"
	"toolenv/internal/logger"
	"toolenv/internal/tool"
	"toolenv/internal/tool/builtin"
)

func newEnvs(t *testing.T, n int, tools func() []tool.Tool) []*Env {
	t.Helper()

	envs := make([]*Env, n)
	for i := range envs {
		envs[i] = newEnv(t, 10, tools()...)
		envs[i].SetID(i)
	}
	return envs
}

func TestStepBatch_Scenario(t *testing.T) {
	calc := newAdder("calc")
	envs := newEnvs(t, 3, func() []tool.Tool { return []tool.Tool{calc} })

	results, err := StepBatch(context.Background(), envs, []string{
		call("calc", `{"a": 1, "b": 2}`),
		"malformed <tool_call>{oops</tool_call>",
		call("calc", `{"a": 10, "b": 20}`),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Len(t, calc.batches, 1, "calc is invoked once")
	assert.Len(t, calc.batches[0], 2)
	assert.Zero(t, calc.singles)

	assert.Equal(t, StepResult{Observation: "3", Reward: 0.2, Info: Info{true, true}}, results[0])
	assert.Equal(t, StepResult{Observation: InvalidFormatMessage, Reward: -0.1}, results[1])
	assert.Equal(t, StepResult{Observation: "30", Reward: 0.2, Info: Info{true, true}}, results[2])

	for _, e := range envs {
		assert.Equal(t, 1, e.Steps())
		assertTrackingConsistent(t, e)
	}
	assert.Len(t, envs[0].History(), 1)
	assert.Empty(t, envs[1].History())
}

func TestStepBatch_LengthMismatch(t *testing.T) {
	envs := newEnvs(t, 2, func() []tool.Tool { return []tool.Tool{newAdder("calc")} })

	_, err := StepBatch(context.Background(), envs, []string{"only one"})
	assert.ErrorIs(t, err, ErrLengthMismatch)
	for _, e := range envs {
		assert.Zero(t, e.Steps())
	}
}

func TestStepBatch_MatchesSingleStep(t *testing.T) {
	ctx := context.Background()
	texts := []string{
		call("calc", `{"a": 1, "b": 2}`),
		call("calc", `{"a": 3}`),
		call("nope", `{}`),
		call("faulty", `{}`),
		call("calculator", `{"expression": "6 * 7"}`),
		call("calc", `{"a": 4, "b": 4}`),
		"text",
	}
	tools := func() []tool.Tool {
		return []tool.Tool{newAdder("calc"), faulty{}, builtin.NewCalculatorTool(builtin.SandboxOptions{})}
	}

	batched := newEnvs(t, len(texts), tools)
	single := newEnvs(t, len(texts), tools)

	results, err := StepBatch(ctx, batched, texts)
	require.NoError(t, err)

	for i, text := range texts {
		want := single[i].Step(ctx, text)
		assert.Equal(t, want, results[i], "index %d", i)
		assert.Equal(t, single[i].Tracking(), batched[i].Tracking(), "index %d", i)
	}
}

func TestStepBatch_DistinctStatelessInstancesDoNotShareGroups(t *testing.T) {
	ctx := context.Background()
	corpus := func(name string) string {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("alpha\n"), 0o644))
		return root
	}
	rootA, rootB := corpus("a.txt"), corpus("b.txt")

	build := func() []*Env {
		return []*Env{
			newEnv(t, 10, builtin.NewSearchTool(rootA, 0)),
			newEnv(t, 10, builtin.NewSearchTool(rootB, 0)),
		}
	}
	texts := []string{call("search", `{"pattern": "alpha"}`), call("search", `{"pattern": "alpha"}`)}

	batched, err := StepBatch(ctx, build(), texts)
	require.NoError(t, err)

	for i, e := range build() {
		assert.Equal(t, e.Step(ctx, texts[i]), batched[i], "index %d", i)
	}
	assert.Contains(t, batched[0].Observation, "a.txt:1:alpha")
	assert.Contains(t, batched[1].Observation, "b.txt:1:alpha")
	assert.NotContains(t, batched[1].Observation, "a.txt")
}

func TestStepBatch_StatefulGroupsPerEpisode(t *testing.T) {
	ctx := context.Background()
	envs := newEnvs(t, 3, func() []tool.Tool {
		return []tool.Tool{&journal{}, builtin.NewLuaTool(builtin.SandboxOptions{})}
	})

	_, err := StepBatch(ctx, envs, []string{
		call("journal", `{"entry": 0}`),
		call("journal", `{"entry": 1}`),
		call("journal", `{"entry": 2}`),
	})
	require.NoError(t, err)

	for i, e := range envs {
		j := e.Tools()[0].(*journal)
		require.Len(t, j.seen, 1)
		assert.Equal(t, float64(i), j.seen[0]["entry"])
	}

	_, err = StepBatch(ctx, envs, []string{
		call("lua", `{"code": "x = 42"}`),
		call("lua", `{"code": "x = 100"}`),
		call("lua", `{"code": "x = 200"}`),
	})
	require.NoError(t, err)

	results, err := StepBatch(ctx, envs, []string{
		call("lua", `{"code": "print(x)"}`),
		call("lua", `{"code": "print(x)"}`),
		call("lua", `{"code": "print(x)"}`),
	})
	require.NoError(t, err)

	for i, want := range []string{"42\n", "100\n", "200\n"} {
		var out map[string]string
		require.NoError(t, jsonx.Unmarshal([]byte(results[i].Observation), &out))
		assert.Equal(t, want, out["stdout"])
	}
}

func TestStepBatch_PolicyFail(t *testing.T) {
	ctx := context.Background()
	calc := newAdder("calc")
	calc.batchErr = errors.New("backend down")
	other := newAdder("other")

	envs := newEnvs(t, 4, func() []tool.Tool { return []tool.Tool{calc, other} })

	results, err := StepBatch(ctx, envs, []string{
		call("calc", `{"a": 1, "b": 2}`),
		call("other", `{"a": 1, "b": 1}`),
		call("calc", `{"a": 3, "b": 4}`),
		"invalid",
	})

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, "calc", batchErr.Tool)
	assert.Equal(t, []int{0, 2}, batchErr.Indices)
	assert.EqualError(t, batchErr.Unwrap(), "backend down")

	// Failed indices are untouched.
	assert.Zero(t, envs[0].Steps())
	assert.Zero(t, envs[2].Steps())
	assert.Equal(t, StepResult{}, results[0])

	// Everything else is resolved.
	assert.Equal(t, "2", results[1].Observation)
	assert.Equal(t, 1, envs[1].Steps())
	assert.Equal(t, InvalidFormatMessage, results[3].Observation)
	assert.Equal(t, 1, envs[3].Steps())
}

func TestStepBatch_PolicyPerIndex(t *testing.T) {
	ctx := context.Background()
	calc := newAdder("calc")
	calc.batchErr = errors.New("backend down")

	envs := newEnvs(t, 2, func() []tool.Tool { return []tool.Tool{calc} })
	d := &Dispatcher{Policy: PolicyPerIndex}

	results, err := d.StepBatch(ctx, envs, []string{
		call("calc", `{"a": 1, "b": 2}`),
		call("calc", `{"a": -1, "b": 2}`),
	})
	require.NoError(t, err)

	assert.Equal(t, StepResult{Observation: "3", Reward: 0.2, Info: Info{true, true}}, results[0])
	assert.Equal(t, StepResult{Observation: "Error executing tool 'calc': negative operand", Reward: -0.05, Info: Info{ActionIsValid: true}}, results[1])
	assert.Equal(t, 2, calc.singles)
	for _, e := range envs {
		assert.Equal(t, 1, e.Steps())
	}
}

func TestStepBatch_ContractViolationIsAlwaysFatal(t *testing.T) {
	calc := newAdder("calc")
	calc.dropResult = true

	envs := newEnvs(t, 2, func() []tool.Tool { return []tool.Tool{calc} })
	d := &Dispatcher{Policy: PolicyPerIndex}

	_, err := d.StepBatch(context.Background(), envs, []string{
		call("calc", `{"a": 1, "b": 2}`),
		call("calc", `{"a": 1, "b": 2}`),
	})

	assert.ErrorIs(t, err, tool.ErrBatchLength)
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Zero(t, calc.singles)
	for _, e := range envs {
		assert.Zero(t, e.Steps())
	}
}

func TestStepBatch_PolicyFailStillRanBeforeHooks(t *testing.T) {
	calc := newAdder("calc")
	calc.batchErr = errors.New("backend down")

	var seen atomic.Int32
	hooks := hook.NewManager()
	hooks.Register(hook.Observer("count", func(context.Context, *hook.HookData) {
		seen.Add(1)
	}, hook.BeforeToolExecution))

	envs := newEnvs(t, 2, func() []tool.Tool { return []tool.Tool{calc} })
	for _, e := range envs {
		e.SetHookManager(hooks)
	}

	_, err := StepBatch(context.Background(), envs, []string{
		call("calc", `{"a": 1, "b": 2}`),
		call("calc", `{"a": 3, "b": 4}`),
	})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)

	assert.EqualValues(t, 2, seen.Load())
	for _, e := range envs {
		assert.Zero(t, e.Steps())
	}
}

func TestStepBatch_LogsEachEpisodeCall(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewLogger(&buf, logger.LevelTool)
	l.SetColorMode(false)

	calc := newAdder("calc")
	envs := newEnvs(t, 2, func() []tool.Tool { return []tool.Tool{calc} })
	for _, e := range envs {
		e.SetLogger(l)
	}

	_, err := StepBatch(context.Background(), envs, []string{
		call("calc", `{"a": 1, "b": 2}`),
		call("calc", `{"a": 3, "b": 4}`),
	})
	require.NoError(t, err)
	require.Len(t, calc.batches, 1)

	out := buf.String()
	assert.Contains(t, out, "[BATCH] tool=calc calls=2")
	for _, want := range []string{
		"Tool Call: calc (episode 0)",
		"Tool Call: calc (episode 1)",
		"Tool Result: calc (episode 0)",
		"Tool Result: calc (episode 1)",
	} {
		assert.Contains(t, out, want)
	}
}

func TestStepBatch_Concurrency(t *testing.T) {
	a, b := newAdder("a"), newAdder("b")
	envs := newEnvs(t, 4, func() []tool.Tool { return []tool.Tool{a, b} })
	d := &Dispatcher{Concurrency: 1}

	results, err := d.StepBatch(context.Background(), envs, []string{
		call("b", `{"a": 1, "b": 1}`),
		call("a", `{"a": 2, "b": 2}`),
		call("b", `{"a": 3, "b": 3}`),
		call("a", `{"a": 4, "b": 4}`),
	})
	require.NoError(t, err)

	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.Observation
	}
	assert.Equal(t, []string{"2", "4", "6", "8"}, got)
	assert.Len(t, a.batches, 1)
	assert.Len(t, b.batches, 1)
}

func TestParsePolicy(t *testing.T) {
	for name, want := range map[string]Policy{"": PolicyFail, "fail": PolicyFail, "per_index": PolicyPerIndex, "PER-INDEX": PolicyPerIndex} {
		got, err := ParsePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEmpty(t, got.String())
	}

	_, err := ParsePolicy("retry")
	assert.Error(t, err)
}
