package pipeline

import (
	"context"
	"fmt"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
)

// CursorRef points at one live cursor on a shard node. A ref never carries
// id 0; zero ids mean "no cursor" and are filtered out before refs are built.
type CursorRef struct {
	Target cluster.ShardTarget
	ID     int64
}

// CursorFetcher retrieves the next batch of a remote cursor. done reports
// cursor exhaustion (the node closed it server-side).
type CursorFetcher func(ctx context.Context, target cluster.ShardTarget, id int64) (batch []document.Doc, done bool, err error)

// MergeCursorsStage is the synthetic input source attached to the front of a
// merge pipeline. It multiplexes the per-shard cursors opened by the shard
// phase, draining each in turn. Serialized as $mergeCursors so the merge can
// also be dispatched to a node that understands the stage.
type MergeCursorsStage struct {
	Cursors []CursorRef
	fetch   CursorFetcher
}

func (s *MergeCursorsStage) Name() string               { return "$mergeCursors" }
func (s *MergeCursorsStage) Distribution() Distribution { return RunOnMerger }

// BindFetcher attaches the transport hook used to drain the cursors. Both
// the router (in-process merge) and a node engine (remote merge) bind their
// own fetcher before running the stage.
func (s *MergeCursorsStage) BindFetcher(f CursorFetcher) {
	s.fetch = f
}

func (s *MergeCursorsStage) Serialize() document.Doc {
	refs := make([]any, 0, len(s.Cursors))
	for _, c := range s.Cursors {
		refs = append(refs, map[string]any{
			"shard_id": c.Target.ShardID,
			"addr":     c.Target.Addr,
			"id":       c.ID,
		})
	}
	return document.Doc{"$mergeCursors": refs}
}

func (s *MergeCursorsStage) Run(ctx context.Context, _ []document.Doc) ([]document.Doc, error) {
	if s.fetch == nil {
		return nil, fmt.Errorf("$mergeCursors has no cursor fetcher bound")
	}
	var out []document.Doc
	for _, c := range s.Cursors {
		for {
			batch, done, err := s.fetch(ctx, c.Target, c.ID)
			if err != nil {
				return nil, fmt.Errorf("draining cursor %d on %s: %w", c.ID, c.Target, err)
			}
			out = append(out, batch...)
			if done {
				break
			}
		}
	}
	return out, nil
}

// CommandResultsStage is the input source used by the no-cursor fallback: it
// feeds the raw per-shard result documents straight into the merge pipeline.
// Any shard-level failure surfaces when the stage runs, since the fallback
// path has no earlier validation step.
type CommandResultsStage struct {
	Results []cluster.CommandResult
}

func (s *CommandResultsStage) Name() string               { return "$commandResults" }
func (s *CommandResultsStage) Distribution() Distribution { return RunOnMerger }

func (s *CommandResultsStage) Serialize() document.Doc {
	hosts := make([]any, 0, len(s.Results))
	for _, r := range s.Results {
		hosts = append(hosts, r.Target.String())
	}
	return document.Doc{"$commandResults": hosts}
}

func (s *CommandResultsStage) Run(_ context.Context, _ []document.Doc) ([]document.Doc, error) {
	var out []document.Doc
	for _, r := range s.Results {
		if !r.Response.Ok() {
			return nil, fmt.Errorf("shard %s failed: %s", r.Target.Name(), r.Response)
		}
		out = append(out, r.Response.Docs("result")...)
	}
	return out, nil
}
