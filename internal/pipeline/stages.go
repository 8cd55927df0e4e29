package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dreamware/strata/internal/document"
)

// MatchStage filters documents by a predicate document. Equality by default,
// with the comparison operators $eq, $ne, $gt, $gte, $lt, $lte and $in.
type MatchStage struct {
	Predicate document.Doc
}

func (s *MatchStage) Name() string               { return "$match" }
func (s *MatchStage) Distribution() Distribution { return RunOnShards }

func (s *MatchStage) Serialize() document.Doc {
	return document.Doc{"$match": s.Predicate}
}

func (s *MatchStage) Run(_ context.Context, in []document.Doc) ([]document.Doc, error) {
	var out []document.Doc
	for _, d := range in {
		ok, err := s.matches(d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MatchStage) matches(d document.Doc) (bool, error) {
	for field, cond := range s.Predicate {
		v, _ := fieldPath(d, field)
		condDoc, isDoc := cond.(map[string]any)
		if !isDoc {
			if cd, ok := cond.(document.Doc); ok {
				condDoc, isDoc = map[string]any(cd), true
			}
		}
		if !isDoc {
			if !valuesEqual(v, cond) {
				return false, nil
			}
			continue
		}
		for op, arg := range condDoc {
			ok, err := applyOperator(op, v, arg)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func applyOperator(op string, v, arg any) (bool, error) {
	switch op {
	case "$eq":
		return valuesEqual(v, arg), nil
	case "$ne":
		return !valuesEqual(v, arg), nil
	case "$gt":
		return compareValues(v, arg) > 0, nil
	case "$gte":
		return compareValues(v, arg) >= 0, nil
	case "$lt":
		return compareValues(v, arg) < 0, nil
	case "$lte":
		return compareValues(v, arg) <= 0, nil
	case "$in":
		arr, ok := arg.([]any)
		if !ok {
			return false, fmt.Errorf("$in requires an array argument")
		}
		for _, e := range arr {
			if valuesEqual(v, e) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown match operator %q", op)
	}
}

// ProjectStage reshapes documents by including or excluding fields. A spec of
// {a:1, b:1} keeps only a, b (and _id unless excluded); {a:0} drops a.
type ProjectStage struct {
	Spec document.Doc
}

func (s *ProjectStage) Name() string               { return "$project" }
func (s *ProjectStage) Distribution() Distribution { return RunOnShards }

func (s *ProjectStage) Serialize() document.Doc {
	return document.Doc{"$project": s.Spec}
}

func (s *ProjectStage) Run(_ context.Context, in []document.Doc) ([]document.Doc, error) {
	inclusion := false
	for field, v := range s.Spec {
		if field == "_id" {
			continue
		}
		if truthy(v) {
			inclusion = true
		}
	}

	out := make([]document.Doc, 0, len(in))
	for _, d := range in {
		nd := document.Doc{}
		if inclusion {
			if id, ok := d["_id"]; ok && !explicitlyExcluded(s.Spec, "_id") {
				nd["_id"] = id
			}
			for field, v := range s.Spec {
				if !truthy(v) {
					continue
				}
				if val, ok := fieldPath(d, field); ok {
					nd[field] = val
				}
			}
		} else {
			nd = d.Clone()
			for field, v := range s.Spec {
				if !truthy(v) {
					delete(nd, field)
				}
			}
		}
		out = append(out, nd)
	}
	return out, nil
}

func truthy(v any) bool {
	f, ok := asFloat(v)
	if ok {
		return f != 0
	}
	b, isBool := v.(bool)
	return isBool && b
}

func explicitlyExcluded(spec document.Doc, field string) bool {
	v, ok := spec[field]
	return ok && !truthy(v)
}

// UnwindStage expands an array field, emitting one document per element.
// Documents without the field, or with an empty array, emit nothing.
type UnwindStage struct {
	Path string // field path including the leading "$"
}

func (s *UnwindStage) Name() string               { return "$unwind" }
func (s *UnwindStage) Distribution() Distribution { return RunOnShards }

func (s *UnwindStage) Serialize() document.Doc {
	return document.Doc{"$unwind": s.Path}
}

func (s *UnwindStage) Run(_ context.Context, in []document.Doc) ([]document.Doc, error) {
	field := strings.TrimPrefix(s.Path, "$")
	var out []document.Doc
	for _, d := range in {
		v, ok := fieldPath(d, field)
		if !ok {
			continue
		}
		arr, isArr := v.([]any)
		if !isArr {
			return nil, fmt.Errorf("$unwind: field %q is not an array", field)
		}
		for _, e := range arr {
			nd := d.Clone()
			nd[field] = e
			out = append(out, nd)
		}
	}
	return out, nil
}

// SortStage orders documents by one or more fields. When split, each shard
// sorts its own partition and the merger re-sorts the concatenated stream.
type SortStage struct {
	// Keys holds field names in sort priority order; Dirs holds 1 or -1 per
	// key. Kept as parallel slices because the wire spec's field order is
	// significant and Doc iteration order is not.
	Keys []string
	Dirs []int
}

func (s *SortStage) Name() string               { return "$sort" }
func (s *SortStage) Distribution() Distribution { return RunOnMerger }

func (s *SortStage) Serialize() document.Doc {
	spec := document.Doc{}
	for i, k := range s.Keys {
		spec[k] = s.Dirs[i]
	}
	return document.Doc{"$sort": spec}
}

func (s *SortStage) SplitForShards() (Stage, Stage) {
	shard := &SortStage{Keys: s.Keys, Dirs: s.Dirs}
	merge := &SortStage{Keys: s.Keys, Dirs: s.Dirs}
	return shard, merge
}

func (s *SortStage) Run(_ context.Context, in []document.Doc) ([]document.Doc, error) {
	out := make([]document.Doc, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		for k, key := range s.Keys {
			a, _ := fieldPath(out[i], key)
			b, _ := fieldPath(out[j], key)
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if s.Dirs[k] < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out, nil
}

// LimitStage truncates the stream. When split, the limit applies on each
// shard and again on the merged stream.
type LimitStage struct {
	N int64
}

func (s *LimitStage) Name() string               { return "$limit" }
func (s *LimitStage) Distribution() Distribution { return RunOnMerger }

func (s *LimitStage) Serialize() document.Doc {
	return document.Doc{"$limit": s.N}
}

func (s *LimitStage) SplitForShards() (Stage, Stage) {
	return &LimitStage{N: s.N}, &LimitStage{N: s.N}
}

func (s *LimitStage) Run(_ context.Context, in []document.Doc) ([]document.Doc, error) {
	if int64(len(in)) <= s.N {
		return in, nil
	}
	return in[:s.N], nil
}

// SkipStage drops the first N documents. Skipping must happen after the
// merge, so the stage never runs shard-side.
type SkipStage struct {
	N int64
}

func (s *SkipStage) Name() string               { return "$skip" }
func (s *SkipStage) Distribution() Distribution { return RunOnMerger }

func (s *SkipStage) Serialize() document.Doc {
	return document.Doc{"$skip": s.N}
}

func (s *SkipStage) Run(_ context.Context, in []document.Doc) ([]document.Doc, error) {
	if int64(len(in)) <= s.N {
		return nil, nil
	}
	return in[s.N:], nil
}

// GroupStage groups documents by an _id expression and computes accumulator
// fields ($sum, $min, $max, $avg). Grouping must see the whole stream, so
// the stage runs merger-side only.
type GroupStage struct {
	IDExpr       any
	Accumulators map[string]Accumulator
}

// Accumulator is one {"$op": expr} accumulator spec.
type Accumulator struct {
	Op   string
	Expr any
}

func (s *GroupStage) Name() string               { return "$group" }
func (s *GroupStage) Distribution() Distribution { return RunOnMerger }

func (s *GroupStage) Serialize() document.Doc {
	spec := document.Doc{"_id": s.IDExpr}
	for field, acc := range s.Accumulators {
		spec[field] = map[string]any{acc.Op: acc.Expr}
	}
	return document.Doc{"$group": spec}
}

type groupState struct {
	id     any
	sums   map[string]float64
	counts map[string]int64
	mins   map[string]any
	maxs   map[string]any
}

func (s *GroupStage) Run(_ context.Context, in []document.Doc) ([]document.Doc, error) {
	groups := map[string]*groupState{}
	var order []string

	for _, d := range in {
		id := resolveExpr(d, s.IDExpr)
		key := groupKey(id)
		g, ok := groups[key]
		if !ok {
			g = &groupState{
				id:     id,
				sums:   map[string]float64{},
				counts: map[string]int64{},
				mins:   map[string]any{},
				maxs:   map[string]any{},
			}
			groups[key] = g
			order = append(order, key)
		}

		for field, acc := range s.Accumulators {
			v := resolveExpr(d, acc.Expr)
			switch acc.Op {
			case "$sum", "$avg":
				if f, ok := asFloat(v); ok {
					g.sums[field] += f
				}
				g.counts[field]++
			case "$min":
				cur, seen := g.mins[field]
				if !seen || compareValues(v, cur) < 0 {
					g.mins[field] = v
				}
			case "$max":
				cur, seen := g.maxs[field]
				if !seen || compareValues(v, cur) > 0 {
					g.maxs[field] = v
				}
			default:
				return nil, fmt.Errorf("unknown accumulator %q", acc.Op)
			}
		}
	}

	out := make([]document.Doc, 0, len(order))
	for _, key := range order {
		g := groups[key]
		d := document.Doc{"_id": g.id}
		for field, acc := range s.Accumulators {
			switch acc.Op {
			case "$sum":
				d[field] = g.sums[field]
			case "$avg":
				if g.counts[field] > 0 {
					d[field] = g.sums[field] / float64(g.counts[field])
				}
			case "$min":
				d[field] = g.mins[field]
			case "$max":
				d[field] = g.maxs[field]
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// OutStage writes the pipeline's output to a collection instead of returning
// it. It is terminal, must run where storage lives, and therefore makes a
// pipeline unsafe to run inside the router process.
type OutStage struct {
	Collection string

	// writer is bound by a storage-backed executor before Run is reachable.
	writer func(collection string, docs []document.Doc) error
}

func (s *OutStage) Name() string               { return "$out" }
func (s *OutStage) Distribution() Distribution { return RunOnMerger }
func (s *OutStage) OutputCollection() string   { return s.Collection }

func (s *OutStage) Serialize() document.Doc {
	return document.Doc{"$out": s.Collection}
}

// BindWriter attaches the storage hook that Run needs. Only node-side
// executors call this; the router never runs $out in-process.
func (s *OutStage) BindWriter(w func(collection string, docs []document.Doc) error) {
	s.writer = w
}

func (s *OutStage) Run(_ context.Context, in []document.Doc) ([]document.Doc, error) {
	if s.writer == nil {
		return nil, fmt.Errorf("$out requires a storage-backed executor")
	}
	if err := s.writer(s.Collection, in); err != nil {
		return nil, err
	}
	return nil, nil
}
