package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strata/internal/document"
)

func testCtx() *ExecutionContext {
	return &ExecutionContext{Database: "db", Collection: "coll"}
}

func stageNames(p *Pipeline) []string {
	var out []string
	for _, st := range p.Stages() {
		out = append(out, st.Name())
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		stages    []Stage
		wantShard []string
		wantMerge []string
	}{
		{
			name:      "empty pipeline",
			stages:    nil,
			wantShard: nil,
			wantMerge: nil,
		},
		{
			name:      "all shard-safe",
			stages:    []Stage{&MatchStage{}, &ProjectStage{}, &UnwindStage{Path: "$a"}},
			wantShard: []string{"$match", "$project", "$unwind"},
			wantMerge: nil,
		},
		{
			name:      "group starts the merge half",
			stages:    []Stage{&MatchStage{}, &GroupStage{IDExpr: "$k"}},
			wantShard: []string{"$match"},
			wantMerge: []string{"$group"},
		},
		{
			name:      "sort runs on both halves",
			stages:    []Stage{&MatchStage{}, &SortStage{Keys: []string{"a"}, Dirs: []int{1}}},
			wantShard: []string{"$match", "$sort"},
			wantMerge: []string{"$sort"},
		},
		{
			name:      "limit runs on both halves",
			stages:    []Stage{&LimitStage{N: 5}},
			wantShard: []string{"$limit"},
			wantMerge: []string{"$limit"},
		},
		{
			name:      "skip is merge-only",
			stages:    []Stage{&SkipStage{N: 5}, &ProjectStage{}},
			wantShard: nil,
			wantMerge: []string{"$skip", "$project"},
		},
		{
			name:      "nothing shard-safe after the boundary",
			stages:    []Stage{&GroupStage{IDExpr: "$k"}, &MatchStage{}, &ProjectStage{}},
			wantShard: nil,
			wantMerge: []string{"$group", "$match", "$project"},
		},
		{
			name: "sort then group",
			stages: []Stage{
				&MatchStage{},
				&SortStage{Keys: []string{"a"}, Dirs: []int{1}},
				&GroupStage{IDExpr: "$k"},
			},
			wantShard: []string{"$match", "$sort"},
			wantMerge: []string{"$sort", "$group"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(testCtx(), tt.stages)
			shardP, mergeP := p.Split()
			assert.Equal(t, tt.wantShard, stageNames(shardP), "shard half")
			assert.Equal(t, tt.wantMerge, stageNames(mergeP), "merge half")
		})
	}
}

func TestSplitConsumesOriginal(t *testing.T) {
	p := New(testCtx(), []Stage{&MatchStage{}})
	p.Split()
	assert.Empty(t, p.Stages(), "split must leave the original without stages")
}

// Running the two halves over a partitioned input must agree with running the
// whole pipeline over the union.
func TestSplitEquivalence(t *testing.T) {
	partA := docs(
		document.Doc{"team": "red", "score": 10},
		document.Doc{"team": "blue", "score": 7},
	)
	partB := docs(
		document.Doc{"team": "red", "score": 5},
		document.Doc{"team": "green", "score": 2},
	)

	build := func() []Stage {
		return []Stage{
			&MatchStage{Predicate: document.Doc{"score": map[string]any{"$gt": 3.0}}},
			&GroupStage{
				IDExpr:       "$team",
				Accumulators: map[string]Accumulator{"total": {Op: "$sum", Expr: "$score"}},
			},
			&SortStage{Keys: []string{"_id"}, Dirs: []int{1}},
		}
	}

	whole := New(testCtx(), build())
	union := append(append([]document.Doc{}, partA...), partB...)
	want, err := whole.Run(context.Background(), union)
	require.NoError(t, err)

	shardP, mergeP := New(testCtx(), build()).Split()
	outA, err := shardP.Run(context.Background(), partA)
	require.NoError(t, err)
	outB, err := shardP.Run(context.Background(), partB)
	require.NoError(t, err)
	got, err := mergeP.Run(context.Background(), append(outA, outB...))
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestInitialQuery(t *testing.T) {
	pred := document.Doc{"region": "eu"}
	p := New(testCtx(), []Stage{&MatchStage{Predicate: pred}, &LimitStage{N: 1}})
	assert.Equal(t, pred, p.InitialQuery())

	p = New(testCtx(), []Stage{&LimitStage{N: 1}})
	assert.Empty(t, p.InitialQuery())

	p = New(testCtx(), nil)
	assert.Empty(t, p.InitialQuery())
}

func TestCanRunOnRouter(t *testing.T) {
	p := New(testCtx(), []Stage{&GroupStage{IDExpr: "$k"}})
	assert.True(t, p.CanRunOnRouter())

	p = New(testCtx(), []Stage{&GroupStage{IDExpr: "$k"}, &OutStage{Collection: "dest"}})
	assert.False(t, p.CanRunOnRouter())
}

func TestOutputCollection(t *testing.T) {
	p := New(testCtx(), []Stage{&MatchStage{}, &OutStage{Collection: "dest"}})
	assert.Equal(t, "dest", p.OutputCollection())

	p = New(testCtx(), []Stage{&MatchStage{}})
	assert.Equal(t, "", p.OutputCollection())
}

func TestAddInitialSource(t *testing.T) {
	p := New(testCtx(), []Stage{&SortStage{Keys: []string{"a"}, Dirs: []int{1}}})
	p.AddInitialSource(&MergeCursorsStage{})
	assert.Equal(t, []string{"$mergeCursors", "$sort"}, stageNames(p))
}

func TestCommandRendering(t *testing.T) {
	p := New(testCtx(), []Stage{&LimitStage{N: 4}})
	cmd := p.Command()
	assert.Equal(t, "coll", cmd.Str("aggregate"))
	require.Len(t, cmd.Array("pipeline"), 1)
	assert.False(t, cmd.Has("explain"))

	ectx := testCtx()
	ectx.Explain = true
	cmd = New(ectx, nil).Command()
	assert.True(t, cmd.Bool("explain"))
}

func TestRunWrapsStageErrors(t *testing.T) {
	p := New(testCtx(), []Stage{&UnwindStage{Path: "$x"}})
	_, err := p.Run(context.Background(), docs(document.Doc{"x": "not array"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$unwind")
}
