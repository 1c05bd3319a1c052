package dispatch

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DispatchBatch runs calls concurrently and returns results in call
// order. One failing call never affects the others.
func (d *Dispatcher) DispatchBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, c := range calls {
		g.Go(func() error {
			results[i] = d.Dispatch(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SurfaceToolErrors renders one "❌ <tool>: <error>" line per failed
// result. The bool is false when nothing failed.
func SurfaceToolErrors(results []Result) (string, bool) {
	var lines []string
	for _, r := range results {
		if r.OK {
			continue
		}
		msg := r.Error
		if r.Refused && r.Reason != "" {
			msg = fmt.Sprintf("%s (%s)", r.Error, r.Reason)
		}
		lines = append(lines, fmt.Sprintf("❌ %s: %s", r.Tool, msg))
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}
