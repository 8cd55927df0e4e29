package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
	"github.com/dreamware/strata/internal/pipeline"
)

// buildShardCommand renders the shard-phase command: the serialized shard
// half, the fromRouter marker telling nodes to produce mergeable output, and
// the request options passed through verbatim. withCursor attaches the
// batchSize-0 cursor request; explain and no-cursor dispatches leave it off.
func buildShardCommand(shardP *pipeline.Pipeline, cmd document.Doc, withCursor bool) document.Doc {
	out := shardP.Command()
	out["fromRouter"] = true

	if qo, ok := cmd["$queryOptions"]; ok {
		out["$queryOptions"] = qo
	}
	if withCursor {
		out["cursor"] = map[string]any{"batchSize": 0}
	}
	if mt, ok := cmd["maxTimeMS"]; ok {
		out["maxTimeMS"] = mt
	}
	return out
}

// buildMergeCommand renders the merge-phase command from the merge half
// (whose head is the $mergeCursors source) plus the original request's
// cursor, query-option and time-limit fields.
func buildMergeCommand(mergeP *pipeline.Pipeline, cmd document.Doc) document.Doc {
	out := mergeP.Command()

	if c, ok := cmd["cursor"]; ok {
		out["cursor"] = c
	}
	if qo, ok := cmd["$queryOptions"]; ok {
		out["$queryOptions"] = qo
	}
	if mt, ok := cmd["maxTimeMS"]; ok {
		out["maxTimeMS"] = mt
	}
	return out
}

// merge runs the merge half against the primary target for the namespace.
// An ok response is returned verbatim, produced cursor included. A failure
// carrying the merge-stage compatibility marker downgrades to an in-process
// merge; any other failure propagates as-is with its code and message.
func (e *Executor) merge(ctx context.Context, ectx *pipeline.ExecutionContext, mergeP *pipeline.Pipeline, cmd document.Doc) (document.Doc, error) {
	mergeCmd := buildMergeCommand(mergeP, cmd)

	primary, ok := e.catalog.Primary(ectx.Database)
	if !ok {
		return nil, &RoutingError{Message: "no primary target for database " + ectx.Database}
	}

	resp, err := e.comm.RunCommand(ctx, primary, ectx.Database, mergeCmd)
	if err != nil {
		return nil, err
	}

	if !resp.Ok() && !mergeCursorsSupported(resp) {
		// Cursors exist on every shard holding data, but the primary cannot
		// multiplex them. Merge here instead when the request allows it.
		if derr := assertCanMergeOnRouter(mergeP, cmd); derr != nil {
			return nil, derr
		}
		e.log.Info("primary lacks merge-stage support, merging in-process",
			zap.Stringer("primary", primary), zap.String("request", ectx.RequestID))
		return e.runMergeLocally(ctx, ectx, mergeP)
	}

	return resp, nil
}

// runMergeLocally executes the merge half inside the router process. The
// $mergeCursors source, when present, drains the shard cursors through
// getMore commands; the no-cursor fallback's raw-results source needs no
// transport at all.
func (e *Executor) runMergeLocally(ctx context.Context, ectx *pipeline.ExecutionContext, mergeP *pipeline.Pipeline) (document.Doc, error) {
	mergeP.BindCursorFetcher(e.cursorFetcher(ectx))

	docs, err := mergeP.Run(ctx, nil)
	if err != nil {
		return nil, err
	}

	result := make([]any, 0, len(docs))
	for _, d := range docs {
		result = append(result, map[string]any(d))
	}
	return document.Doc{"ok": true, "result": result}, nil
}

// cursorFetcher returns the getMore transport hook for in-process merges.
func (e *Executor) cursorFetcher(ectx *pipeline.ExecutionContext) pipeline.CursorFetcher {
	return func(ctx context.Context, target cluster.ShardTarget, id int64) ([]document.Doc, bool, error) {
		cmd := document.Doc{"getMore": id, "collection": ectx.Collection}
		resp, err := e.comm.RunCommand(ctx, target, ectx.Database, cmd)
		if err != nil {
			return nil, false, err
		}
		if !resp.Ok() {
			return nil, false, &ShardPipelineError{
				Code:    resp.Code(),
				Shard:   target.Name(),
				Message: resp.String(),
			}
		}
		cursor := resp.Doc("cursor")
		batch := cursor.Docs("nextBatch")
		done := cursor.Int64("id") == 0
		return batch, done, nil
	}
}
