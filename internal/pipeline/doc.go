// Package pipeline models aggregation pipelines: an ordered, polymorphic
// sequence of stages that can serialize itself to wire documents, split
// itself into a shard half and a merge half, and execute in-process.
//
// Stages declare their own distribution rules (see Stage and the splittable
// capability); Split applies them without central per-kind knowledge.
// Synthetic input sources ($mergeCursors multiplexing remote cursors, and
// the raw command-results source used by the no-cursor fallback) are
// ordinary stages prepended to a merge half.
//
// The in-process runner is deliberately batch-oriented: merge halves are
// small post-aggregation streams, and the router only runs them locally on
// compatibility fallback paths.
package pipeline
