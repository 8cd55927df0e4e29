package router

import (
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
	"github.com/dreamware/strata/internal/pipeline"
)

// explainReport builds the combined plan report for an explain-only request:
// how the pipeline was split, plus each shard's own reported stages. Nothing
// executes on this path.
//
// Explain has no partial mode: every shard must have answered ok with a
// stages field, and the check runs to completion before any of the report is
// assembled so a failing shard never yields a half-built reply.
func explainReport(shardP, mergeP *pipeline.Pipeline, results []cluster.CommandResult) (document.Doc, error) {
	for _, r := range results {
		if !r.Response.Ok() {
			return nil, &ExplainError{
				Code:    CodeExplainShardFailed,
				Shard:   r.Target.Name(),
				Message: "failed: " + r.Response.String(),
			}
		}
		if !r.Response.Has("stages") {
			return nil, &ExplainError{
				Code:    CodeExplainUnsupported,
				Shard:   r.Target.Name(),
				Message: "does not support explain",
			}
		}
	}

	shards := document.Doc{}
	for _, r := range results {
		shards[r.Target.Name()] = map[string]any{
			"host":   r.Target.Addr,
			"stages": r.Response["stages"],
		}
	}

	return document.Doc{
		"ok": true,
		"splitPipeline": map[string]any{
			"shardsPart": shardP.ExplainOps(),
			"mergerPart": mergeP.ExplainOps(),
		},
		"shards": shards,
	}, nil
}
