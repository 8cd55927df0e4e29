package pipeline

import (
	"context"
	"fmt"

	"github.com/dreamware/strata/internal/document"
)

// ExecutionContext carries per-request state shared read-only by every
// pipeline derived from one aggregate request. It is created once when the
// request is parsed and never mutated afterwards.
type ExecutionContext struct {
	Database   string
	Collection string

	// InRouter marks executions that originate at the router. Router-side
	// execution suppresses node-local side effects such as temp spill files,
	// which is why stages like $out refuse to run when it is set.
	InRouter bool

	// Explain marks a dry-run request: collect plans, execute nothing.
	Explain bool

	// RequestID correlates log lines across dispatch, merge and cleanup.
	RequestID string
}

// Namespace returns the fully qualified "db.collection" name.
func (c *ExecutionContext) Namespace() string {
	return c.Database + "." + c.Collection
}

// Pipeline is an ordered stage sequence bound to an execution context. A
// pipeline is owned by the request that created it; Split hands ownership of
// the stages to the two halves it returns, after which the original must not
// be used.
type Pipeline struct {
	ctx    *ExecutionContext
	stages []Stage
}

// New builds a pipeline over an already-parsed stage sequence.
func New(ctx *ExecutionContext, stages []Stage) *Pipeline {
	return &Pipeline{ctx: ctx, stages: stages}
}

// Context returns the shared execution context.
func (p *Pipeline) Context() *ExecutionContext { return p.ctx }

// Stages returns the stage sequence. Callers must not mutate it.
func (p *Pipeline) Stages() []Stage { return p.stages }

// Empty reports whether the pipeline has no stages (a pass-through).
func (p *Pipeline) Empty() bool { return len(p.stages) == 0 }

// AddInitialSource prepends a synthetic input stage, e.g. the $mergeCursors
// multiplexer or the raw command-results source.
func (p *Pipeline) AddInitialSource(st Stage) {
	p.stages = append([]Stage{st}, p.stages...)
}

// Serialize renders the stage sequence as its wire array form.
func (p *Pipeline) Serialize() []any {
	out := make([]any, 0, len(p.stages))
	for _, st := range p.stages {
		out = append(out, map[string]any(st.Serialize()))
	}
	return out
}

// Command renders the pipeline as a complete aggregate command document.
func (p *Pipeline) Command() document.Doc {
	cmd := document.Doc{
		"aggregate": p.ctx.Collection,
		"pipeline":  p.Serialize(),
	}
	if p.ctx.Explain {
		cmd["explain"] = true
	}
	return cmd
}

// ExplainOps renders the per-stage explain documents.
func (p *Pipeline) ExplainOps() []any {
	out := make([]any, 0, len(p.stages))
	for _, st := range p.stages {
		if ex, ok := st.(explainer); ok {
			out = append(out, map[string]any(ex.Explain()))
			continue
		}
		out = append(out, map[string]any(st.Serialize()))
	}
	return out
}

// Split divides the pipeline into a shard half and a merge half such that
// running the shard half on every shard and feeding the concatenated outputs
// into the merge half is equivalent to running the whole pipeline over the
// union of all shard data.
//
// Stages are inspected in order: the longest prefix of shard-safe stages
// goes to the shard half. The first stage that must see the merged stream
// either splits itself across both halves (splittable stages like $sort and
// $limit) or starts the merge half; everything after it belongs to the merge
// half. Every sequence is splittable, possibly trivially with an empty shard
// half. Split consumes the receiver.
func (p *Pipeline) Split() (shard, merge *Pipeline) {
	var shardStages, mergeStages []Stage

	i := 0
	for ; i < len(p.stages); i++ {
		st := p.stages[i]
		if st.Distribution() == RunOnShards {
			shardStages = append(shardStages, st)
			continue
		}
		if sp, ok := st.(splittable); ok {
			s, m := sp.SplitForShards()
			if s != nil {
				shardStages = append(shardStages, s)
			}
			if m != nil {
				mergeStages = append(mergeStages, m)
			}
			i++
		}
		break
	}
	mergeStages = append(mergeStages, p.stages[i:]...)

	p.stages = nil
	return New(p.ctx, shardStages), New(p.ctx, mergeStages)
}

// InitialQuery returns the leading $match predicate, used to pre-filter
// which shards are contacted. Pipelines that do not start with a match
// return an empty predicate, meaning every shard owning the namespace.
func (p *Pipeline) InitialQuery() document.Doc {
	if len(p.stages) == 0 {
		return document.Doc{}
	}
	if m, ok := p.stages[0].(*MatchStage); ok {
		return m.Predicate
	}
	return document.Doc{}
}

// CanRunOnRouter reports whether every stage is safe to execute inside the
// router process. Output stages need node-local storage and disqualify the
// pipeline.
func (p *Pipeline) CanRunOnRouter() bool {
	for _, st := range p.stages {
		if _, ok := st.(outputStage); ok {
			return false
		}
	}
	return true
}

// OutputCollection returns the collection named by a trailing $out stage,
// or "" when the pipeline returns its results.
func (p *Pipeline) OutputCollection() string {
	if len(p.stages) == 0 {
		return ""
	}
	if out, ok := p.stages[len(p.stages)-1].(outputStage); ok {
		return out.OutputCollection()
	}
	return ""
}

// BindOutputWriter attaches a storage hook to any $out stage so a
// storage-backed executor can run the pipeline to completion.
func (p *Pipeline) BindOutputWriter(w func(collection string, docs []document.Doc) error) {
	for _, st := range p.stages {
		if out, ok := st.(*OutStage); ok {
			out.BindWriter(w)
		}
	}
}

// BindCursorFetcher attaches a transport hook to a leading $mergeCursors
// source, if present.
func (p *Pipeline) BindCursorFetcher(f CursorFetcher) {
	for _, st := range p.stages {
		if mc, ok := st.(*MergeCursorsStage); ok {
			mc.BindFetcher(f)
		}
	}
}

// Run executes the pipeline in-process over the given input batch. Synthetic
// input sources at the head of the sequence ignore the input and produce
// their own stream.
func (p *Pipeline) Run(ctx context.Context, in []document.Doc) ([]document.Doc, error) {
	docs := in
	for _, st := range p.stages {
		var err error
		docs, err = st.Run(ctx, docs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.Name(), err)
		}
	}
	return docs, nil
}
