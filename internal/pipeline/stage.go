package pipeline

import (
	"context"

	"github.com/dreamware/strata/internal/document"
)

// Distribution describes where a stage may run when a pipeline is split
// between shard nodes and the merging process.
type Distribution int

const (
	// RunOnShards marks a stage that can run independently on every shard
	// before results are merged.
	RunOnShards Distribution = iota

	// RunOnMerger marks a stage that must see the full merged stream.
	RunOnMerger
)

// Stage is one unit of an aggregation pipeline. Stages are polymorphic over
// a small capability set: they serialize themselves to a wire document,
// declare where they may run when the pipeline is split, and can execute
// in-process over a batch of documents.
type Stage interface {
	// Name returns the stage's operator name, e.g. "$match".
	Name() string

	// Serialize renders the stage as its wire document, e.g.
	// {"$match": {...}}.
	Serialize() document.Doc

	// Distribution reports whether the stage is safe to run shard-side.
	Distribution() Distribution

	// Run applies the stage to a batch of documents in-process.
	Run(ctx context.Context, in []document.Doc) ([]document.Doc, error)
}

// splittable is implemented by stages that can contribute work to both
// halves of a split pipeline (for example $sort: each shard sorts its own
// partition, the merger re-sorts the concatenated stream).
type splittable interface {
	// SplitForShards returns the shard-side and merger-side parts. Either
	// may be nil when the stage contributes nothing to that half.
	SplitForShards() (shard Stage, merge Stage)
}

// explainer is implemented by stages whose explain rendering differs from
// their serialized form. Stages without it explain as they serialize.
type explainer interface {
	Explain() document.Doc
}

// outputStage is implemented by terminal stages that write the pipeline's
// result somewhere instead of returning it (the $out stage). Such stages
// cannot run inside the router process.
type outputStage interface {
	OutputCollection() string
}
