package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Doc is the wire representation of a command or response document exchanged
// between the router and shard nodes. Documents are JSON objects on the wire;
// numeric fields may arrive as json.Number, float64 or native ints depending
// on who built them, so the typed accessors below normalize on read.
type Doc map[string]any

// Decode parses a wire document. Numbers are kept as json.Number so 64-bit
// cursor ids survive the round trip without float truncation.
func Decode(data []byte) (Doc, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d Doc
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return d, nil
}

// Encode serializes the document for the wire.
func (d Doc) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// Has reports whether the field is present, regardless of its value.
func (d Doc) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// Ok reports the command-status convention: a response is ok when its "ok"
// field is truthy (true, or any non-zero number).
func (d Doc) Ok() bool {
	switch v := d["ok"].(type) {
	case bool:
		return v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

// ErrMsg returns the response's error message, or "" when absent.
func (d Doc) ErrMsg() string {
	return d.Str("errmsg")
}

// Code returns the response's numeric error code, or 0 when absent.
func (d Doc) Code() int {
	return int(d.Int64("code"))
}

// Str returns the named field as a string, or "" when absent or not a string.
func (d Doc) Str(field string) string {
	s, _ := d[field].(string)
	return s
}

// Int64 returns the named field as an int64, tolerating the numeric types
// that JSON decoding and in-process construction produce. Absent or
// non-numeric fields read as 0.
func (d Doc) Int64(field string) int64 {
	return AsInt64(d[field])
}

// AsInt64 normalizes a decoded JSON value to int64, for array elements that
// cannot go through the field accessors. Non-numeric values read as 0.
func AsInt64(v any) int64 {
	switch v := v.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Bool returns the named field as a bool; absent fields read as false.
func (d Doc) Bool(field string) bool {
	b, _ := d[field].(bool)
	return b
}

// Doc returns the named field as an embedded document, or nil when absent or
// not an object.
func (d Doc) Doc(field string) Doc {
	switch v := d[field].(type) {
	case Doc:
		return v
	case map[string]any:
		return Doc(v)
	default:
		return nil
	}
}

// Array returns the named field as a slice, or nil when absent or not an array.
func (d Doc) Array(field string) []any {
	a, _ := d[field].([]any)
	return a
}

// Docs returns the named field as a slice of documents, skipping entries that
// are not objects.
func (d Doc) Docs(field string) []Doc {
	arr := d.Array(field)
	if arr == nil {
		return nil
	}
	out := make([]Doc, 0, len(arr))
	for _, e := range arr {
		switch v := e.(type) {
		case Doc:
			out = append(out, v)
		case map[string]any:
			out = append(out, Doc(v))
		}
	}
	return out
}

// Clone returns a shallow copy. Mutating the copy's top-level fields does not
// affect the original.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge copies every field of src into d, overwriting existing fields. Used
// to copy a node response verbatim into an outgoing result.
func (d Doc) Merge(src Doc) {
	for k, v := range src {
		d[k] = v
	}
}

// String renders the document as compact JSON for log and error messages.
func (d Doc) String() string {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(d))
	}
	return string(b)
}
