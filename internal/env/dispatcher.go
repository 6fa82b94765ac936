package env

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"toolenv/internal/logger"
	"toolenv/internal/metrics"
	"toolenv/internal/parser"
	"toolenv/internal/tool"
)

// ErrLengthMismatch is returned when a batch has a different number of
// episodes and texts.
var ErrLengthMismatch = errors.New("episode and text counts differ")

// Policy decides what happens when a batched tool invocation fails as a whole.
type Policy int

const (
	// PolicyFail reports the failure as a *BatchError. The failing group's
	// episodes record no step; every other index is still resolved.
	PolicyFail Policy = iota

	// PolicyPerIndex retries the failing group one call at a time, so each
	// episode gets its own result or runtime-fault penalty.
	PolicyPerIndex
)

func (p Policy) String() string {
	switch p {
	case PolicyFail:
		return "fail"
	case PolicyPerIndex:
		return "per_index"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "fail":
		return PolicyFail, nil
	case "per_index", "per-index":
		return PolicyPerIndex, nil
	default:
		return PolicyFail, fmt.Errorf("unknown batch fault policy %q", name)
	}
}

// BatchError reports a batched invocation that failed as a whole.
type BatchError struct {
	Tool    string
	Indices []int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch execution of tool %s failed for indices %v: %v", e.Tool, e.Indices, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Dispatcher steps many episodes through one round, giving each tool a
// single batched call for all the episodes that chose it.
type Dispatcher struct {
	Policy Policy

	// Concurrency caps the tool groups executing at once. Zero or less
	// means no limit.
	Concurrency int

	// Logger and Metrics default to those of the first episode in a group.
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// StepBatch steps envs[i] with texts[i] using the default Dispatcher.
func StepBatch(ctx context.Context, envs []*Env, texts []string) ([]StepResult, error) {
	var d Dispatcher
	return d.StepBatch(ctx, envs, texts)
}

type pendingCall struct {
	index  int
	action parser.Action
}

type callGroup struct {
	tool  tool.Tool
	calls []pendingCall

	// batched is set when the tool has a native batch path
	batched  bool
	results  []*tool.Result
	err      error
	duration time.Duration

	// per-call outcomes for tools without a batch path
	errs []error
}

// groupKey identifies the instance a group runs on. Clones share their
// stateless instances, so episodes cloned from one template batch together.
type groupKey struct {
	name  string
	inst  tool.Tool
	owner *Env
}

// StepBatch processes one turn for every episode and returns the results in
// input order. Turns that cannot run are resolved first, one by one. The
// remaining calls are grouped by tool: stateless tools get one group per
// shared instance; stateful tools get one group per owning episode. Groups
// execute concurrently and results are applied in order of first appearance.
//
// Turns are admitted before any group runs, so BeforeToolExecution hooks
// have fired for every executing index, including indices of a group that
// later fails under PolicyFail.
//
// A returned error is either ErrLengthMismatch, with nothing mutated, or
// one or more *BatchError values. In the latter case every index outside
// the failed groups is still resolved, while failed indices keep a zero
// StepResult and an unchanged episode.
func (d *Dispatcher) StepBatch(ctx context.Context, envs []*Env, texts []string) ([]StepResult, error) {
	if len(envs) != len(texts) {
		return nil, fmt.Errorf("%w: %d episodes, %d texts", ErrLengthMismatch, len(envs), len(texts))
	}

	results := make([]StepResult, len(envs))
	groups := d.admit(ctx, envs, texts, results)

	g := new(errgroup.Group)
	if d.Concurrency > 0 {
		g.SetLimit(d.Concurrency)
	}
	for _, grp := range groups {
		g.Go(func() error {
			d.run(ctx, envs, grp)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, grp := range groups {
		if err := d.apply(ctx, envs, texts, grp, results); err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// admit resolves every turn that cannot run and groups the rest.
func (d *Dispatcher) admit(ctx context.Context, envs []*Env, texts []string, results []StepResult) []*callGroup {
	var groups []*callGroup
	index := make(map[groupKey]*callGroup)

	for i, e := range envs {
		action := parser.Extract(texts[i])
		t, resolved := e.admit(ctx, texts[i], action)
		if resolved != nil {
			results[i] = *resolved
			continue
		}

		key := groupKey{name: action.Name, inst: t}
		if tool.IsStateful(t) {
			key.owner = e
		}
		grp, ok := index[key]
		if !ok {
			grp = &callGroup{tool: t}
			_, grp.batched = t.(tool.BatchExecutor)
			index[key] = grp
			groups = append(groups, grp)
		}
		grp.calls = append(grp.calls, pendingCall{index: i, action: action})
	}
	return groups
}

// run executes one group. It touches no episode state.
func (d *Dispatcher) run(ctx context.Context, envs []*Env, grp *callGroup) {
	first := envs[grp.calls[0].index]

	if !grp.batched {
		grp.results = make([]*tool.Result, len(grp.calls))
		grp.errs = make([]error, len(grp.calls))
		for k, c := range grp.calls {
			grp.results[k], grp.errs[k] = envs[c.index].execute(ctx, grp.tool, c.action.Args)
		}
		return
	}

	argsList := make([]map[string]any, len(grp.calls))
	for k, c := range grp.calls {
		argsList[k] = c.action.Args
	}

	d.metrics(first).ObserveBatch(grp.tool.Name(), len(argsList))

	start := time.Now()
	grp.results, grp.err = tool.BatchExecute(ctx, grp.tool, argsList)
	grp.duration = time.Since(start)
	d.metrics(first).ObserveToolDuration(grp.tool.Name(), "batch", grp.duration)
	d.logger(first).Batch(grp.tool.Name(), len(argsList), grp.duration)
}

// apply writes a group's outcome into its episodes.
func (d *Dispatcher) apply(ctx context.Context, envs []*Env, texts []string, grp *callGroup, results []StepResult) error {
	first := envs[grp.calls[0].index]
	name := grp.tool.Name()

	if grp.err != nil {
		contract := errors.Is(grp.err, tool.ErrBatchLength) || errors.Is(grp.err, tool.ErrNilResult)
		if d.Policy != PolicyPerIndex || contract {
			d.metrics(first).IncBatchFault(name, PolicyFail.String())
			batchErr := &BatchError{Tool: name, Err: grp.err}
			for _, c := range grp.calls {
				batchErr.Indices = append(batchErr.Indices, c.index)
			}
			d.logger(first).Error("%v", batchErr)
			return batchErr
		}

		d.metrics(first).IncBatchFault(name, PolicyPerIndex.String())
		d.logger(first).Warn("batch execution of tool %q failed, retrying %d calls one at a time: %v", name, len(grp.calls), grp.err)
		for _, c := range grp.calls {
			e := envs[c.index]
			result, err := e.execute(ctx, grp.tool, c.action.Args)
			if err != nil {
				results[c.index] = e.fault(texts[c.index], c.action, err)
				continue
			}
			results[c.index] = e.succeed(ctx, texts[c.index], c.action, grp.tool, result)
		}
		return nil
	}

	for k, c := range grp.calls {
		e := envs[c.index]
		if grp.batched {
			// single calls log inside execute; batched ones share the group's duration
			e.log.ToolCall(e.id, name, c.action.Args)
			e.log.ToolResult(e.id, name, grp.results[k].Success, grp.results[k].Observation(), grp.duration)
		}
		if grp.errs != nil && grp.errs[k] != nil {
			results[c.index] = e.fault(texts[c.index], c.action, grp.errs[k])
			continue
		}
		results[c.index] = e.succeed(ctx, texts[c.index], c.action, grp.tool, grp.results[k])
	}
	return nil
}

func (d *Dispatcher) logger(fallback *Env) *logger.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return fallback.log
}

func (d *Dispatcher) metrics(fallback *Env) *metrics.Metrics {
	if d.Metrics != nil {
		return d.Metrics
	}
	return fallback.metrics
}
