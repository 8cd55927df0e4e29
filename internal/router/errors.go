package router

import "fmt"

// Numeric condition codes carried by raised errors. These are part of the
// wire contract of the aggregation protocol and are kept stable.
const (
	// CodeCannotAcceptCursor: the request demanded a cursor-style reply but
	// not every shard can produce cursors.
	CodeCannotAcceptCursor = 17020

	// CodeCannotMergeOnRouter: the merge half of the pipeline uses features
	// that cannot run inside the router process.
	CodeCannotMergeOnRouter = 17021

	// CodeShardFailed: generic shard-phase failure, used when the failed
	// shards disagree on an error code.
	CodeShardFailed = 17022

	// CodeNonEmptyFirstBatch, CodeZeroCursorID, CodeNamespaceMismatch:
	// protocol invariant violations in a shard's cursor response.
	CodeNonEmptyFirstBatch = 17023
	CodeZeroCursorID       = 17024
	CodeNamespaceMismatch  = 17025

	// CodeExplainShardFailed, CodeExplainUnsupported: explain-mode failures.
	CodeExplainShardFailed = 17403
	CodeExplainUnsupported = 17404

	// codeHostUnreachable shapes transport faults as command failures.
	codeHostUnreachable = 6
)

// ShardPipelineError reports that at least one shard's command failed. Code
// is the single representative code reduced across all failed shards; Shard
// names the first failed target in response order. Raising it is always
// preceded by a best-effort reclaim of cursors opened on the other shards.
type ShardPipelineError struct {
	Code    int
	Shard   string
	Message string
}

func (e *ShardPipelineError) Error() string {
	return fmt.Sprintf("sharded pipeline failed on shard %s: %s", e.Shard, e.Message)
}

// ProtocolError reports a shard response that violates a mandatory
// structural guarantee (non-empty first batch, zero cursor id, mismatched
// namespace). It indicates a protocol mismatch between router and shard, not
// a normal command failure, and is never retried.
type ProtocolError struct {
	Code    int
	Shard   string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("shard %s: %s", e.Shard, e.Message)
}

// CannotDowngradeError reports that a node lacks cursor or merge-stage
// support and the request cannot be safely satisfied without it.
type CannotDowngradeError struct {
	Code    int
	Message string
}

func (e *CannotDowngradeError) Error() string { return e.Message }

// ExplainError reports a shard that failed to produce an explain plan.
// Explain has no partial mode, so one bad shard fails the whole request.
type ExplainError struct {
	Code    int
	Shard   string
	Message string
}

func (e *ExplainError) Error() string {
	return fmt.Sprintf("shard %s: %s", e.Shard, e.Message)
}

// RoutingError reports a request that could not be routed at all: malformed
// namespace, no primary for the database. No dispatch is attempted.
type RoutingError struct {
	Message string
}

func (e *RoutingError) Error() string { return e.Message }
