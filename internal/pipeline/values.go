package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/dreamware/strata/internal/document"
)

// fieldPath resolves a dotted path ("a.b.c") inside a document. The second
// return reports whether every path component was present.
func fieldPath(d document.Doc, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = d
	for _, p := range parts {
		sub, ok := cur.(map[string]any)
		if !ok {
			if dd, isDoc := cur.(document.Doc); isDoc {
				sub = map[string]any(dd)
			} else {
				return nil, false
			}
		}
		v, present := sub[p]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// resolveExpr evaluates the tiny expression subset used by stage arguments:
// "$field" references read from the input document, everything else is a
// literal.
func resolveExpr(d document.Doc, expr any) any {
	if s, ok := expr.(string); ok && strings.HasPrefix(s, "$") {
		v, _ := fieldPath(d, s[1:])
		return v
	}
	return expr
}

// asFloat normalizes the numeric types JSON decoding produces.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// compareValues orders two wire values: numbers before strings before bools,
// numerically or lexicographically within a type. Returns -1, 0 or 1.
// Incomparable pairs order by type rank so sorts stay deterministic.
func compareValues(a, b any) int {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case string:
		return strings.Compare(av, b.(string))
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	default:
		return 0
	}
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case json.Number, float64, int, int64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

// valuesEqual reports wire-value equality with numeric normalization.
func valuesEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	return a == b
}

// groupKey renders a value as a stable map key for grouping.
func groupKey(v any) string {
	if v == nil {
		return "\x00nil"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "\x00unkeyable"
	}
	return string(b)
}
