// Package shard implements the node-side aggregation engine: executing the
// shard-local half of a pipeline over local storage, serving results either
// directly or through cursors, and managing cursor lifetime.
//
// Cursors are created by aggregate commands that request them (the router
// always asks with batchSize 0, so the first batch is empty and the whole
// result streams through getMore), destroyed by killCursors, and reclaimed
// by an idle-expiry sweep when a router crashes without consuming or
// killing them.
package shard
