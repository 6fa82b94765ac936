package tool

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// SafeExecute runs t.Execute and turns a panic into an error, so that a
// misbehaving tool surfaces as a runtime fault instead of a crash.
func SafeExecute(ctx context.Context, t Tool, args map[string]any) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	result, err = t.Execute(ctx, args)
	if err == nil && result == nil {
		err = ErrNilResult
	}
	return result, err
}

// BatchExecute runs one batched call for argsList. Tools without a batched
// path are called once per entry, in order. The returned slice always matches
// argsList positionally; any deviation from that contract is an error.
func BatchExecute(ctx context.Context, t Tool, argsList []map[string]any) (results []*Result, err error) {
	if len(argsList) == 0 {
		return nil, nil
	}

	be, ok := t.(BatchExecutor)
	if !ok {
		return ExecuteSequential(ctx, t, argsList)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
		results, err = be.BatchExecute(ctx, argsList)
	}()
	if err != nil {
		return nil, err
	}

	if len(results) != len(argsList) {
		return nil, fmt.Errorf("%w: tool %s returned %d results for %d calls", ErrBatchLength, t.Name(), len(results), len(argsList))
	}
	for i, r := range results {
		if r == nil {
			return nil, fmt.Errorf("%w: tool %s, position %d", ErrNilResult, t.Name(), i)
		}
	}

	return results, nil
}

// ExecuteSequential executes the calls one by one in order and stops at the
// first fault.
func ExecuteSequential(ctx context.Context, t Tool, argsList []map[string]any) ([]*Result, error) {
	results := make([]*Result, len(argsList))

	for i, args := range argsList {
		result, err := SafeExecute(ctx, t, args)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		results[i] = result
	}

	return results, nil
}

// ExecuteParallel executes the calls concurrently, at most limit at a time
// (unbounded when limit <= 0). Results keep the input order.
func ExecuteParallel(ctx context.Context, t Tool, argsList []map[string]any, limit int) ([]*Result, error) {
	results := make([]*Result, len(argsList))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, args := range argsList {
		g.Go(func() error {
			result, err := SafeExecute(gctx, t, args)
			if err != nil {
				return fmt.Errorf("call %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
