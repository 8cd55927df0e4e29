package document

import (
	"encoding/json"
	"testing"
)

func TestDecodePreservesLargeInts(t *testing.T) {
	// Cursor ids can exceed float64's 53-bit mantissa.
	d, err := Decode([]byte(`{"cursor": {"id": 9007199254740993}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := d.Doc("cursor").Int64("id"); got != 9007199254740993 {
		t.Errorf("cursor id = %d, want 9007199254740993", got)
	}
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"ok":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestOk(t *testing.T) {
	tests := []struct {
		name string
		doc  Doc
		want bool
	}{
		{"bool true", Doc{"ok": true}, true},
		{"bool false", Doc{"ok": false}, false},
		{"number one", Doc{"ok": json.Number("1")}, true},
		{"number zero", Doc{"ok": json.Number("0")}, false},
		{"float one", Doc{"ok": 1.0}, true},
		{"int one", Doc{"ok": 1}, true},
		{"absent", Doc{}, false},
		{"string", Doc{"ok": "yes"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.doc.Ok(); got != tt.want {
				t.Errorf("Ok() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInt64Normalization(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int64
	}{
		{"json.Number", json.Number("42"), 42},
		{"int64", int64(42), 42},
		{"int", 42, 42},
		{"float64", 42.0, 42},
		{"string", "42", 0},
		{"nil", nil, 0},
		{"bad number", json.Number("4.5e"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Doc{"v": tt.val}).Int64("v"); got != tt.want {
				t.Errorf("Int64 = %d, want %d", got, tt.want)
			}
			if got := AsInt64(tt.val); got != tt.want {
				t.Errorf("AsInt64 = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDocAccessor(t *testing.T) {
	d := Doc{
		"asDoc": Doc{"x": 1},
		"asMap": map[string]any{"x": 1},
		"str":   "no",
	}
	if d.Doc("asDoc") == nil || d.Doc("asMap") == nil {
		t.Error("Doc() should accept both Doc and map[string]any")
	}
	if d.Doc("str") != nil || d.Doc("absent") != nil {
		t.Error("Doc() should return nil for non-objects")
	}
}

func TestDocsSkipsNonObjects(t *testing.T) {
	d := Doc{"result": []any{
		map[string]any{"a": 1},
		"not a doc",
		Doc{"b": 2},
	}}
	docs := d.Docs("result")
	if len(docs) != 2 {
		t.Fatalf("Docs() kept %d entries, want 2", len(docs))
	}
}

func TestCodeAndErrMsg(t *testing.T) {
	d := Doc{"ok": false, "code": json.Number("17022"), "errmsg": "boom"}
	if d.Code() != 17022 {
		t.Errorf("Code() = %d, want 17022", d.Code())
	}
	if d.ErrMsg() != "boom" {
		t.Errorf("ErrMsg() = %q, want boom", d.ErrMsg())
	}
}

func TestCloneIsShallowButIndependent(t *testing.T) {
	orig := Doc{"a": 1, "b": 2}
	c := orig.Clone()
	c["a"] = 99
	if orig.Int64("a") != 1 {
		t.Error("mutating clone changed the original")
	}
	if Doc(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestMergeOverwrites(t *testing.T) {
	d := Doc{"a": 1, "b": 1}
	d.Merge(Doc{"b": 2, "c": 3})
	if d.Int64("b") != 2 || d.Int64("c") != 3 || d.Int64("a") != 1 {
		t.Errorf("Merge result = %v", d)
	}
}

func TestRoundTrip(t *testing.T) {
	in := Doc{"aggregate": "coll", "pipeline": []any{map[string]any{"$limit": 5}}}
	b, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Str("aggregate") != "coll" {
		t.Errorf("aggregate = %q after round trip", out.Str("aggregate"))
	}
	if len(out.Array("pipeline")) != 1 {
		t.Errorf("pipeline lost entries: %v", out.Array("pipeline"))
	}
}
