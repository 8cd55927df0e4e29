package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
	"github.com/dreamware/strata/internal/pipeline"
)

// collectCursors validates every shard response and extracts one CursorRef
// per shard. On any failure it reclaims cursors already opened on the other
// shards before propagating, so a bad response from one shard never leaks
// live cursors on the rest.
func (e *Executor) collectCursors(ctx context.Context, ectx *pipeline.ExecutionContext, results []cluster.CommandResult) ([]pipeline.CursorRef, error) {
	refs, err := parseCursors(results, ectx.Namespace())
	if err != nil {
		e.killAllCursors(ctx, ectx, results)
		return nil, err
	}
	return refs, nil
}

// parseCursors walks results in target order, enforcing the shard-phase
// response contract: ok status, empty first batch (the router always
// dispatches with batchSize 0), non-zero cursor id, and the requested
// namespace. The first violation stops the walk.
func parseCursors(results []cluster.CommandResult, ns string) ([]pipeline.CursorRef, error) {
	refs := make([]pipeline.CursorRef, 0, len(results))

	for _, r := range results {
		if !r.Response.Ok() {
			code := uniqueErrorCode(results)
			if code == 0 {
				code = CodeShardFailed
			}
			return nil, &ShardPipelineError{
				Code:    code,
				Shard:   r.Target.Name(),
				Message: r.Response.String(),
			}
		}

		cursor := r.Response.Doc("cursor")
		if cursor == nil {
			return nil, &ProtocolError{
				Code:    CodeZeroCursorID,
				Shard:   r.Target.Name(),
				Message: "returned no cursor",
			}
		}
		if len(cursor.Array("firstBatch")) != 0 {
			return nil, &ProtocolError{
				Code:    CodeNonEmptyFirstBatch,
				Shard:   r.Target.Name(),
				Message: "returned non-empty first batch",
			}
		}
		id := cursor.Int64("id")
		if id == 0 {
			return nil, &ProtocolError{
				Code:    CodeZeroCursorID,
				Shard:   r.Target.Name(),
				Message: "returned cursor id 0",
			}
		}
		if got := cursor.Str("ns"); got != ns {
			return nil, &ProtocolError{
				Code:    CodeNamespaceMismatch,
				Shard:   r.Target.Name(),
				Message: fmt.Sprintf("returned different ns: %s", got),
			}
		}

		refs = append(refs, pipeline.CursorRef{Target: r.Target, ID: id})
	}

	return refs, nil
}

// uniqueErrorCode reduces the failed results to a single representative
// error code: the code every failure agrees on, or 0 when they disagree (or
// none carries a code).
func uniqueErrorCode(results []cluster.CommandResult) int {
	code := 0
	for _, r := range results {
		if r.Response.Ok() {
			continue
		}
		c := r.Response.Code()
		if c == 0 {
			continue
		}
		if code == 0 {
			code = c
		} else if code != c {
			return 0
		}
	}
	return code
}

// killAllCursors issues a best-effort kill for every cursor the results show
// as opened. It must never fail its caller: each attempt is isolated,
// failures are logged and skipped, and cursors it misses expire on the
// owning node after the idle timeout anyway.
func (e *Executor) killAllCursors(ctx context.Context, ectx *pipeline.ExecutionContext, results []cluster.CommandResult) {
	for _, r := range results {
		if !r.Response.Ok() {
			continue
		}
		id := r.Response.Doc("cursor").Int64("id")
		if id == 0 {
			continue
		}

		cmd := document.Doc{"killCursors": ectx.Collection, "cursors": []any{id}}
		resp, err := e.comm.RunCommand(ctx, r.Target, ectx.Database, cmd)
		switch {
		case err != nil:
			e.log.Warn("could not kill aggregation cursor on shard",
				zap.Stringer("target", r.Target), zap.Int64("cursor", id), zap.Error(err))
		case !resp.Ok():
			e.log.Warn("kill cursor rejected by shard",
				zap.Stringer("target", r.Target), zap.Int64("cursor", id),
				zap.String("errmsg", resp.ErrMsg()))
		}
	}
}
