package router

import (
	"context"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
	"github.com/dreamware/strata/internal/pipeline"
)

// Legacy protocol signatures. Both are matched exactly, never as prefixes or
// substrings: any other error text means a genuine failure that must surface
// normally instead of triggering a fallback.
const (
	// legacyNoCursorMarker is what an old node answers when asked for a
	// cursor it cannot produce. The unbalanced quote is part of the marker.
	legacyNoCursorMarker = `unrecognized field "cursor`

	// legacyMergeUnsupportedMarker is what an old node answers when handed a
	// $mergeCursors stage it does not know.
	legacyMergeUnsupportedMarker = "exception: Unrecognized pipeline stage name: '$mergeCursors'"
)

// anyShardLacksCursors detects the no-cursor legacy signature among the
// shard results. One legacy shard forces the no-cursor path for the whole
// request; mixing cursor and raw-result shards in one merge is not
// supported. All other errors are handled by the cursor collector.
func anyShardLacksCursors(results []cluster.CommandResult) bool {
	for _, r := range results {
		if r.Response.ErrMsg() == legacyNoCursorMarker {
			return true
		}
	}
	return false
}

// mergeCursorsSupported reports whether a failed merge response indicates
// anything other than the merge-stage compatibility gap. Failures for
// unrelated reasons return true and are surfaced normally.
func mergeCursorsSupported(resp document.Doc) bool {
	return resp.ErrMsg() != legacyMergeUnsupportedMarker
}

// assertCanMergeOnRouter checks the two preconditions for downgrading a
// merge into the router process: the request must not have demanded a
// cursor-style reply, and the merge half must be runnable without
// node-local resources.
func assertCanMergeOnRouter(mergeP *pipeline.Pipeline, cmd document.Doc) error {
	if cmd.Has("cursor") {
		return &CannotDowngradeError{
			Code:    CodeCannotAcceptCursor,
			Message: "all shards must support cursors to get a cursor back from aggregation",
		}
	}
	if !mergeP.CanRunOnRouter() {
		return &CannotDowngradeError{
			Code:    CodeCannotMergeOnRouter,
			Message: "all shards must support cursors to support new features in aggregation",
		}
	}
	return nil
}

// noCursorFallback re-executes the shard phase without requesting cursors
// and merges the raw per-shard results in-process. Used when any shard
// answered with the legacy no-cursor signature; a cursor-free merge cannot
// be dispatched to a remote node, so the merge always runs here.
func (e *Executor) noCursorFallback(ctx context.Context, ectx *pipeline.ExecutionContext, shardP, mergeP *pipeline.Pipeline, cmd document.Doc) (document.Doc, error) {
	if err := assertCanMergeOnRouter(mergeP, cmd); err != nil {
		return nil, err
	}

	shardCmd := buildShardCommand(shardP, cmd, false)
	targets := e.catalog.Targets(ectx.Namespace(), shardP.InitialQuery())
	results := e.dispatch(ctx, targets, ectx.Database, shardCmd)

	mergeP.AddInitialSource(&pipeline.CommandResultsStage{Results: results})
	return e.runMergeLocally(ctx, ectx, mergeP)
}
