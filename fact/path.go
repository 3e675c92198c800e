package fact

import "strings"

// Lookup evaluates a dot-separated path against the fact's document
// form. Top-level segments address the canonical keys ("id", "type",
// "session_id", ...); paths under "payload" walk the payload tree.
// Returns (nil, false) when any segment is missing.
func (f *Fact) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segs := strings.Split(path, ".")
	var cur any
	switch segs[0] {
	case "id":
		cur = f.ID
	case "type":
		cur = f.Type
	case "payload":
		cur = any(f.Payload)
	case "source":
		if f.Source == "" {
			return nil, false
		}
		cur = f.Source
	case "session_id":
		if f.SessionID == "" {
			return nil, false
		}
		cur = f.SessionID
	case "ts":
		cur = f.TS.UTC().Format(TimeLayout)
	default:
		v, ok := f.Extra[segs[0]]
		if !ok {
			return nil, false
		}
		cur = v
	}

	for _, seg := range segs[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches reports whether the fact satisfies every path-equality
// filter. An empty filter map matches everything.
func (f *Fact) Matches(filters map[string]any) bool {
	for path, want := range filters {
		got, ok := f.Lookup(path)
		if want == nil {
			// A nil filter value matches an absent or null field.
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || !EqualValues(got, want) {
			return false
		}
	}
	return true
}

// EqualValues compares two JSON-compatible values structurally.
// Numbers compare by exact numeric equality regardless of Go type
// (an int matches its float64 representation).
func EqualValues(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, exists := bv[k]
			if !exists || !EqualValues(v, bval) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, v := range av {
			if !EqualValues(v, bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
