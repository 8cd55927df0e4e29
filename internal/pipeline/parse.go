package pipeline

import (
	"fmt"
	"sort"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
)

// ParseCommand builds a pipeline from an aggregate command document. The
// command's "pipeline" field is an array of single-operator stage documents.
func ParseCommand(ctx *ExecutionContext, cmd document.Doc) (*Pipeline, error) {
	raw := cmd.Array("pipeline")
	if raw == nil {
		return nil, fmt.Errorf("aggregate command has no pipeline array")
	}

	stages := make([]Stage, 0, len(raw))
	for i, e := range raw {
		sd := asDoc(e)
		if sd == nil {
			return nil, fmt.Errorf("pipeline element %d is not a document", i)
		}
		st, err := parseStage(sd)
		if err != nil {
			return nil, fmt.Errorf("pipeline element %d: %w", i, err)
		}
		stages = append(stages, st)
	}

	// A terminal $out anywhere but last is a request error.
	for i, st := range stages {
		if _, ok := st.(outputStage); ok && i != len(stages)-1 {
			return nil, fmt.Errorf("%s must be the last pipeline stage", st.Name())
		}
	}

	return New(ctx, stages), nil
}

func asDoc(v any) document.Doc {
	switch d := v.(type) {
	case document.Doc:
		return d
	case map[string]any:
		return document.Doc(d)
	default:
		return nil
	}
}

func parseStage(sd document.Doc) (Stage, error) {
	if len(sd) != 1 {
		return nil, fmt.Errorf("stage document must have exactly one operator, got %d fields", len(sd))
	}
	var name string
	var arg any
	for k, v := range sd {
		name, arg = k, v
	}

	switch name {
	case "$match":
		pred := asDoc(arg)
		if pred == nil {
			return nil, fmt.Errorf("$match requires a document argument")
		}
		return &MatchStage{Predicate: pred}, nil

	case "$project":
		spec := asDoc(arg)
		if spec == nil {
			return nil, fmt.Errorf("$project requires a document argument")
		}
		return &ProjectStage{Spec: spec}, nil

	case "$unwind":
		path, ok := arg.(string)
		if !ok || len(path) < 2 || path[0] != '$' {
			return nil, fmt.Errorf("$unwind requires a $-prefixed field path")
		}
		return &UnwindStage{Path: path}, nil

	case "$sort":
		return parseSort(arg)

	case "$limit":
		n, ok := asFloat(arg)
		if !ok || n < 0 {
			return nil, fmt.Errorf("$limit requires a non-negative number")
		}
		return &LimitStage{N: int64(n)}, nil

	case "$skip":
		n, ok := asFloat(arg)
		if !ok || n < 0 {
			return nil, fmt.Errorf("$skip requires a non-negative number")
		}
		return &SkipStage{N: int64(n)}, nil

	case "$group":
		return parseGroup(arg)

	case "$out":
		coll, ok := arg.(string)
		if !ok || coll == "" {
			return nil, fmt.Errorf("$out requires a collection name")
		}
		return &OutStage{Collection: coll}, nil

	case "$mergeCursors":
		return parseMergeCursors(arg)

	default:
		return nil, fmt.Errorf("unrecognized pipeline stage name: '%s'", name)
	}
}

func parseSort(arg any) (Stage, error) {
	spec := asDoc(arg)
	if spec == nil || len(spec) == 0 {
		return nil, fmt.Errorf("$sort requires a non-empty document argument")
	}

	// JSON objects do not preserve field order, so multi-key sort priority is
	// fixed by sorting the key names. Single-key sorts, the common case, are
	// unaffected.
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dirs := make([]int, len(keys))
	for i, k := range keys {
		d, ok := asFloat(spec[k])
		if !ok || (d != 1 && d != -1) {
			return nil, fmt.Errorf("$sort direction for %q must be 1 or -1", k)
		}
		dirs[i] = int(d)
	}
	return &SortStage{Keys: keys, Dirs: dirs}, nil
}

func parseGroup(arg any) (Stage, error) {
	spec := asDoc(arg)
	if spec == nil {
		return nil, fmt.Errorf("$group requires a document argument")
	}
	idExpr, ok := spec["_id"]
	if !ok {
		return nil, fmt.Errorf("$group requires an _id expression")
	}

	accs := make(map[string]Accumulator)
	for field, v := range spec {
		if field == "_id" {
			continue
		}
		accDoc := asDoc(v)
		if accDoc == nil || len(accDoc) != 1 {
			return nil, fmt.Errorf("$group field %q must be a single-operator accumulator", field)
		}
		for op, expr := range accDoc {
			accs[field] = Accumulator{Op: op, Expr: expr}
		}
	}
	return &GroupStage{IDExpr: idExpr, Accumulators: accs}, nil
}

func parseMergeCursors(arg any) (Stage, error) {
	arr, ok := arg.([]any)
	if !ok {
		return nil, fmt.Errorf("$mergeCursors requires an array argument")
	}
	refs := make([]CursorRef, 0, len(arr))
	for i, e := range arr {
		rd := asDoc(e)
		if rd == nil {
			return nil, fmt.Errorf("$mergeCursors element %d is not a document", i)
		}
		id := rd.Int64("id")
		if id == 0 {
			return nil, fmt.Errorf("$mergeCursors element %d has cursor id 0", i)
		}
		refs = append(refs, CursorRef{
			Target: cluster.ShardTarget{ShardID: rd.Str("shard_id"), Addr: rd.Str("addr")},
			ID:     id,
		})
	}
	return &MergeCursorsStage{Cursors: refs}, nil
}
