// Package router implements distributed execution of aggregation pipelines
// across a horizontally partitioned cluster.
//
// # Overview
//
// A request arrives as an aggregate command document. The executor parses it
// into a stage sequence, decides how much of the pipeline can run close to
// the data, and orchestrates the rest:
//
//	Parse → Split → Dispatch (all owning shards, concurrently)
//	      → Explain report                    (explain requests stop here)
//	      → Collect cursors → Merge on primary → result
//	      → No-cursor fallback → merge in-process (legacy shards)
//
// # Split
//
// The shard half of the pipeline runs independently on every shard owning
// relevant data; the merge half runs once over the concatenated outputs.
// Stage-specific rules decide where the boundary falls; the executor only
// applies them.
//
// # Failure semantics
//
// Shard dispatch is a barrier: every target is awaited, and every target
// contributes exactly one result, error-shaped if the node was unreachable.
// When any result fails validation, cursors already opened on other shards
// are reclaimed best-effort before the error propagates. Reclaim never
// raises; cursors it misses expire on the owning node after an idle timeout.
//
// Legacy protocol signatures (a shard that cannot produce cursors, a merge
// node that cannot consume them) are not failures: they reroute execution
// through cursor-free paths, subject to the downgrade preconditions in
// fallback.go.
//
// # Collaborators
//
// Routing metadata (Catalog) and node transport (cluster.Commander) are
// injected; the executor holds no process-wide state and one Executor may
// serve concurrent requests.
package router
