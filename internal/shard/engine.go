package shard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/document"
	"github.com/dreamware/strata/internal/pipeline"
	"github.com/dreamware/strata/internal/storage"
)

// Command-level error codes returned by the engine.
const (
	codeBadCommand     = 9
	codeUnknownError   = 8
	codeCursorNotFound = 43
	codeNoSuchCommand  = 59
)

// defaultGetMoreBatch caps how many documents one getMore returns.
const defaultGetMoreBatch = 100

// defaultFirstBatch is the first-batch size when a cursor is requested
// without an explicit batchSize. The router always asks for 0.
const defaultFirstBatch = 101

// Engine executes commands against one shard's local data: aggregate (with
// cursor, explain and $out support), getMore and killCursors. Command-level
// failures are returned as error-shaped response documents, never as Go
// errors; the transport layer above only fails when no response exists.
type Engine struct {
	id      string
	store   storage.Store
	cursors *CursorManager
	log     *zap.Logger

	peers  func(db, coll string) pipeline.CursorFetcher
	legacy bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPeerFetcher lets the engine drain cursors on peer nodes, enabling it
// to run a dispatched merge pipeline whose head is $mergeCursors. The source
// is invoked with each aggregate command's namespace.
func WithPeerFetcher(source func(db, coll string) pipeline.CursorFetcher) Option {
	return func(e *Engine) { e.peers = source }
}

// WithLegacyProtocol makes the engine answer like a pre-cursor node: cursor
// requests and $mergeCursors stages are rejected with the legacy error
// signatures. Used to exercise the router's compatibility fallbacks against
// live nodes in mixed-version cluster tests.
func WithLegacyProtocol() Option {
	return func(e *Engine) { e.legacy = true }
}

// NewEngine creates an engine over the given store. The cursor manager's
// expiry sweep is not started; callers that serve traffic should call
// Cursors().Start().
func NewEngine(id string, store storage.Store, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		id:      id,
		store:   store,
		cursors: NewCursorManager(0, log),
		log:     log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cursors exposes the engine's cursor manager.
func (e *Engine) Cursors() *CursorManager { return e.cursors }

// Store exposes the engine's document store.
func (e *Engine) Store() storage.Store { return e.store }

// RunCommand executes one command document and returns the response
// document. The command name is the document's distinguishing field.
func (e *Engine) RunCommand(ctx context.Context, db string, cmd document.Doc) document.Doc {
	switch {
	case cmd.Has("aggregate"):
		return e.aggregate(ctx, db, cmd)
	case cmd.Has("getMore"):
		return e.getMore(db, cmd)
	case cmd.Has("killCursors"):
		return e.killCursors(cmd)
	default:
		return errResp(codeNoSuchCommand, "no such command")
	}
}

func (e *Engine) aggregate(ctx context.Context, db string, cmd document.Doc) document.Doc {
	coll := cmd.Str("aggregate")
	if coll == "" {
		return errResp(codeBadCommand, "aggregate command missing collection name")
	}

	if e.legacy {
		if cmd.Has("cursor") {
			return errResp(codeBadCommand, `unrecognized field "cursor`)
		}
		if hasStage(cmd, "$mergeCursors") {
			return errResp(codeUnknownError,
				"exception: Unrecognized pipeline stage name: '$mergeCursors'")
		}
	}

	ectx := &pipeline.ExecutionContext{
		Database:   db,
		Collection: coll,
		Explain:    cmd.Bool("explain"),
	}
	p, err := pipeline.ParseCommand(ectx, cmd)
	if err != nil {
		return errResp(codeBadCommand, err.Error())
	}

	if ectx.Explain {
		return document.Doc{"ok": true, "stages": p.ExplainOps()}
	}

	p.BindOutputWriter(e.store.Replace)
	if e.peers != nil {
		p.BindCursorFetcher(e.peers(db, coll))
	}

	docs, err := p.Run(ctx, e.store.Scan(coll))
	if err != nil {
		return errResp(codeUnknownError, err.Error())
	}

	if cmd.Has("cursor") {
		return e.cursorReply(db, coll, cmd.Doc("cursor"), docs)
	}
	return document.Doc{"ok": true, "result": docsToAny(docs)}
}

// cursorReply serves the first batch and registers a cursor over the rest.
// A batchSize of 0 always opens a cursor, even over an empty result, so the
// returned id is never 0 on that path; a positive batchSize that covers the
// whole result closes the stream immediately with id 0.
func (e *Engine) cursorReply(db, coll string, spec document.Doc, docs []document.Doc) document.Doc {
	batchSize := defaultFirstBatch
	if spec != nil && spec.Has("batchSize") {
		batchSize = int(spec.Int64("batchSize"))
	}

	ns := db + "." + coll
	var first []document.Doc
	var id int64

	if batchSize == 0 {
		id = e.cursors.Register(coll, docs)
	} else if batchSize >= len(docs) {
		first = docs
	} else {
		first = docs[:batchSize]
		id = e.cursors.Register(coll, docs[batchSize:])
	}

	return document.Doc{
		"ok": true,
		"cursor": map[string]any{
			"id":         id,
			"ns":         ns,
			"firstBatch": docsToAny(first),
		},
	}
}

func (e *Engine) getMore(db string, cmd document.Doc) document.Doc {
	id := cmd.Int64("getMore")
	if id == 0 {
		return errResp(codeBadCommand, "getMore requires a non-zero cursor id")
	}
	coll := cmd.Str("collection")

	batch, done, ok := e.cursors.Fetch(id, defaultGetMoreBatch)
	if !ok {
		return errResp(codeCursorNotFound, fmt.Sprintf("cursor id %d not found", id))
	}

	respID := id
	if done {
		respID = 0
	}
	return document.Doc{
		"ok": true,
		"cursor": map[string]any{
			"id":        respID,
			"ns":        db + "." + coll,
			"nextBatch": docsToAny(batch),
		},
	}
}

// killCursors closes the named cursors. Unknown ids are reported, not
// failed: the router's reclaim path may race normal consumption and a
// second kill must stay benign.
func (e *Engine) killCursors(cmd document.Doc) document.Doc {
	var killed, notFound []any
	for _, v := range cmd.Array("cursors") {
		id := document.AsInt64(v)
		if id != 0 && e.cursors.Kill(id) {
			killed = append(killed, id)
		} else {
			notFound = append(notFound, v)
		}
	}
	if killed == nil {
		killed = []any{}
	}
	if notFound == nil {
		notFound = []any{}
	}
	return document.Doc{"ok": true, "cursorsKilled": killed, "cursorsNotFound": notFound}
}

func hasStage(cmd document.Doc, name string) bool {
	for _, e := range cmd.Array("pipeline") {
		sd, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if _, present := sd[name]; present {
			return true
		}
	}
	return false
}

func docsToAny(docs []document.Doc) []any {
	out := make([]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]any(d))
	}
	return out
}

func errResp(code int, msg string) document.Doc {
	return document.Doc{"ok": false, "code": code, "errmsg": msg}
}
