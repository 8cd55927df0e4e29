package cluster

import (
	"fmt"

	"github.com/dreamware/strata/internal/document"
)

// ShardTarget identifies a physical node holding one partition of a sharded
// namespace: the logical shard name plus the address commands are sent to.
// Targets are immutable values; the dispatch layer produces them and every
// later phase (cursor collection, reclaim, merge) carries them through so a
// result can always be attributed to the node it came from.
type ShardTarget struct {
	ShardID string `json:"shard_id"`
	Addr    string `json:"addr"`
}

// Name returns the logical shard identifier, used in error messages.
func (t ShardTarget) Name() string {
	return t.ShardID
}

func (t ShardTarget) String() string {
	if t.ShardID == "" {
		return t.Addr
	}
	return fmt.Sprintf("%s(%s)", t.ShardID, t.Addr)
}

// CommandResult pairs one contacted target with the response document it
// produced. A dispatch call yields exactly one CommandResult per target;
// transport failures are folded into an error-shaped response document so
// that no target's outcome is ever dropped.
type CommandResult struct {
	Target   ShardTarget
	Response document.Doc
}

// RegisterRequest is sent by a node to the router on startup to announce the
// shard it serves: its target identity, the sharded namespaces it owns a
// partition of, and the databases it is the primary for.
type RegisterRequest struct {
	Target     ShardTarget `json:"target"`
	Namespaces []string    `json:"namespaces,omitempty"`
	PrimaryFor []string    `json:"primary_for,omitempty"`
}

// ErrorResponse builds an error-shaped response document for a target that
// could not be reached or answered garbage. The shape mirrors a node-side
// command failure so downstream consumers have a single format to inspect.
func ErrorResponse(code int, msg string) document.Doc {
	return document.Doc{"ok": false, "code": code, "errmsg": msg}
}
