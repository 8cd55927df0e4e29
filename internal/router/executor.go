package router

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
	"github.com/dreamware/strata/internal/pipeline"
)

// Catalog resolves routing metadata for the executor. Implementations are
// external collaborators (the config cache); the executor only ever reads
// through this interface and holds no ambient routing state of its own.
type Catalog interface {
	// HasDatabase reports whether the database exists at all.
	HasDatabase(db string) bool

	// IsSharded reports whether the namespace is horizontally partitioned.
	IsSharded(ns string) bool

	// Targets returns the shards owning data for the namespace that can
	// match the given base query. An empty query means all owners.
	Targets(ns string, query document.Doc) []cluster.ShardTarget

	// Primary returns the node designated to run post-merge work for the
	// database.
	Primary(db string) (cluster.ShardTarget, bool)
}

// Executor orchestrates distributed execution of aggregation pipelines: it
// splits the request's stage sequence into a shard half and a merge half,
// fans the shard half out to every owning shard, collects the per-shard
// cursors, and runs the merge half on the primary target or, when protocol
// compatibility demands it, inside this process.
type Executor struct {
	catalog Catalog
	comm    cluster.Commander
	log     *zap.Logger
}

// NewExecutor wires an executor to its collaborators. A nil logger disables
// logging.
func NewExecutor(catalog Catalog, comm cluster.Commander, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{catalog: catalog, comm: comm, log: log}
}

// ExecutePipeline runs one aggregate command end to end and returns the
// result document. Command-level failures from nodes propagate inside the
// returned document; raised errors are this process's own conditions
// (routing, protocol invariants, downgrade refusals, explain failures).
func (e *Executor) ExecutePipeline(ctx context.Context, db string, cmd document.Doc) (document.Doc, error) {
	coll := cmd.Str("aggregate")
	if coll == "" {
		return nil, &RoutingError{Message: "aggregate command missing collection name"}
	}

	ectx := &pipeline.ExecutionContext{
		Database:   db,
		Collection: coll,
		InRouter:   true,
		Explain:    cmd.Bool("explain"),
		RequestID:  uuid.NewString(),
	}
	ns := ectx.Namespace()

	p, err := pipeline.ParseCommand(ectx, cmd)
	if err != nil {
		return nil, err
	}

	if !e.catalog.HasDatabase(db) {
		return emptyResultSet(ns), nil
	}
	if !e.catalog.IsSharded(ns) {
		return e.passthrough(ctx, db, cmd)
	}

	shardP, mergeP := p.Split()

	// Explain skips the cursor request; old nodes reject it with a worse
	// error than the one explain would otherwise produce.
	shardCmd := buildShardCommand(shardP, cmd, !ectx.Explain)
	targets := e.catalog.Targets(ns, shardP.InitialQuery())

	e.log.Debug("dispatching shard phase",
		zap.String("request", ectx.RequestID),
		zap.String("ns", ns),
		zap.Int("targets", len(targets)),
		zap.Bool("explain", ectx.Explain))

	results := e.dispatch(ctx, targets, db, shardCmd)

	if ectx.Explain {
		return explainReport(shardP, mergeP, results)
	}

	if anyShardLacksCursors(results) {
		// Shards that did honor the cursor request opened cursors we will
		// never consume on this path. Reclaim them before re-dispatching.
		e.killAllCursors(ctx, ectx, results)
		return e.noCursorFallback(ctx, ectx, shardP, mergeP, cmd)
	}

	refs, err := e.collectCursors(ctx, ectx, results)
	if err != nil {
		return nil, err
	}

	mergeP.AddInitialSource(&pipeline.MergeCursorsStage{Cursors: refs})
	return e.merge(ctx, ectx, mergeP, cmd)
}

// passthrough runs the whole command on the database's primary target when
// the namespace is not sharded. The response is copied through verbatim.
func (e *Executor) passthrough(ctx context.Context, db string, cmd document.Doc) (document.Doc, error) {
	primary, ok := e.catalog.Primary(db)
	if !ok {
		return nil, &RoutingError{Message: "no primary target for database " + db}
	}
	resp, err := e.comm.RunCommand(ctx, primary, db, cmd)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// emptyResultSet is the reply for a namespace whose database does not exist:
// an ok response with nothing in it rather than an error.
func emptyResultSet(ns string) document.Doc {
	return document.Doc{
		"ok":     true,
		"result": []any{},
		"cursor": map[string]any{"id": int64(0), "ns": ns, "firstBatch": []any{}},
	}
}
