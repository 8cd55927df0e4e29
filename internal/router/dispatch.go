package router

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
)

// dispatch sends cmd to every target concurrently and collects exactly one
// CommandResult per target. Transport faults become error-shaped response
// documents rather than aborting the call, and no target's failure cancels
// the others: the reclaim path needs to see every cursor that was opened, so
// the call is a barrier that waits for all targets regardless of outcome.
//
// Result order matches target order, which keeps the result↔target pairing
// unambiguous. A single attempt is made per target; retries are the caller's
// concern.
func (e *Executor) dispatch(ctx context.Context, targets []cluster.ShardTarget, db string, cmd document.Doc) []cluster.CommandResult {
	results := make([]cluster.CommandResult, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			resp, err := e.comm.RunCommand(ctx, t, db, cmd)
			if err != nil {
				resp = cluster.ErrorResponse(codeHostUnreachable, err.Error())
			}
			results[i] = cluster.CommandResult{Target: t, Response: resp}
			return nil
		})
	}
	// Workers never return errors; failures are folded into results.
	_ = g.Wait()

	return results
}
