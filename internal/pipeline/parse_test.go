package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strata/internal/document"
)

func parseOK(t *testing.T, cmd document.Doc) *Pipeline {
	t.Helper()
	p, err := ParseCommand(testCtx(), cmd)
	require.NoError(t, err)
	return p
}

func TestParseCommand(t *testing.T) {
	cmd := document.Doc{
		"aggregate": "coll",
		"pipeline": []any{
			map[string]any{"$match": map[string]any{"a": 1}},
			map[string]any{"$project": map[string]any{"a": 1}},
			map[string]any{"$unwind": "$tags"},
			map[string]any{"$sort": map[string]any{"a": -1}},
			map[string]any{"$limit": 10},
			map[string]any{"$skip": 2},
			map[string]any{"$group": map[string]any{"_id": "$a", "n": map[string]any{"$sum": 1}}},
		},
	}
	p := parseOK(t, cmd)
	assert.Equal(t,
		[]string{"$match", "$project", "$unwind", "$sort", "$limit", "$skip", "$group"},
		stageNames(p))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		pipeline []any
		wantMsg  string
	}{
		{"missing pipeline", nil, "no pipeline array"},
		{"non-document stage", []any{"$match"}, "not a document"},
		{"multi-operator stage", []any{map[string]any{"$match": map[string]any{}, "$limit": 1}}, "exactly one operator"},
		{"unknown stage", []any{map[string]any{"$lookup": map[string]any{}}}, "unrecognized pipeline stage name: '$lookup'"},
		{"match non-doc", []any{map[string]any{"$match": 5}}, "$match requires"},
		{"unwind without dollar", []any{map[string]any{"$unwind": "tags"}}, "$unwind requires"},
		{"negative limit", []any{map[string]any{"$limit": -1}}, "$limit requires"},
		{"negative skip", []any{map[string]any{"$skip": -2}}, "$skip requires"},
		{"sort empty", []any{map[string]any{"$sort": map[string]any{}}}, "$sort requires"},
		{"sort bad direction", []any{map[string]any{"$sort": map[string]any{"a": 2}}}, "must be 1 or -1"},
		{"group without id", []any{map[string]any{"$group": map[string]any{"n": map[string]any{"$sum": 1}}}}, "_id expression"},
		{"group bad accumulator", []any{map[string]any{"$group": map[string]any{"_id": "$a", "n": 5}}}, "single-operator accumulator"},
		{"out empty name", []any{map[string]any{"$out": ""}}, "$out requires"},
		{"out not last", []any{map[string]any{"$out": "dest"}, map[string]any{"$limit": 1}}, "must be the last"},
		{"mergeCursors non-array", []any{map[string]any{"$mergeCursors": 5}}, "requires an array"},
		{"mergeCursors zero id", []any{map[string]any{"$mergeCursors": []any{map[string]any{"shard_id": "a", "addr": "x", "id": 0}}}}, "cursor id 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := document.Doc{"aggregate": "coll"}
			if tt.pipeline != nil {
				cmd["pipeline"] = tt.pipeline
			}
			_, err := ParseCommand(testCtx(), cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseSortFixesKeyOrder(t *testing.T) {
	p := parseOK(t, document.Doc{
		"aggregate": "coll",
		"pipeline":  []any{map[string]any{"$sort": map[string]any{"b": 1, "a": -1}}},
	})
	st := p.Stages()[0].(*SortStage)
	assert.Equal(t, []string{"a", "b"}, st.Keys)
	assert.Equal(t, []int{-1, 1}, st.Dirs)
}

func TestParseMergeCursors(t *testing.T) {
	p := parseOK(t, document.Doc{
		"aggregate": "coll",
		"pipeline": []any{map[string]any{"$mergeCursors": []any{
			map[string]any{"shard_id": "s1", "addr": "h1:8081", "id": 101},
			map[string]any{"shard_id": "s2", "addr": "h2:8081", "id": 202},
		}}},
	})
	st := p.Stages()[0].(*MergeCursorsStage)
	require.Len(t, st.Cursors, 2)
	assert.Equal(t, "s1", st.Cursors[0].Target.ShardID)
	assert.EqualValues(t, 202, st.Cursors[1].ID)
}

func TestParseRoundTripsSerialization(t *testing.T) {
	cmd := document.Doc{
		"aggregate": "coll",
		"pipeline": []any{
			map[string]any{"$match": map[string]any{"a": 1}},
			map[string]any{"$group": map[string]any{"_id": "$a", "n": map[string]any{"$sum": 1}}},
		},
	}
	p := parseOK(t, cmd)

	// Serialize then reparse: the stage sequence must survive.
	p2, err := ParseCommand(testCtx(), document.Doc{
		"aggregate": "coll",
		"pipeline":  p.Serialize(),
	})
	require.NoError(t, err)
	assert.Equal(t, stageNames(p), stageNames(p2))
}
