package nested

import (
	"encoding/json"
	"math"
	"strconv"
)

// Find searches obj for key. A top-level match is returned without looking
// deeper. Otherwise the top-level entries are visited in iteration order and
// every value that is itself a Mapping is searched recursively; the first
// match wins. Slices and scalars are not searched, so a key inside a slice
// element is never found.
//
// A key holding JSON null is present: Find returns (nil, true) for it and
// does not go on to later siblings that hold the key with a non-null value.
func Find(obj Mapping, key string) (any, bool) {
	if obj == nil {
		return nil, false
	}
	if v, ok := obj.Get(key); ok {
		return v, true
	}

	var (
		found any
		ok    bool
	)
	obj.Range(func(_ string, v any) bool {
		child, isMapping := v.(Mapping)
		if !isMapping {
			return true
		}
		found, ok = Find(child, key)
		return !ok
	})
	return found, ok
}

// KeysExist reports whether Find succeeds for every key. It stops at the
// first key that is not found.
func KeysExist(obj Mapping, keys ...string) bool {
	for _, key := range keys {
		if _, ok := Find(obj, key); !ok {
			return false
		}
	}
	return true
}

// At follows path from v. A string step selects a key of a Mapping, an int
// step selects an element of a slice. Any missing key, out-of-range index or
// type mismatch along the way returns false.
func At(v any, path ...any) (any, bool) {
	cur := v
	for _, step := range path {
		switch s := step.(type) {
		case string:
			m, ok := cur.(Mapping)
			if !ok {
				return nil, false
			}
			next, ok := m.Get(s)
			if !ok {
				return nil, false
			}
			cur = next
		case int:
			arr, ok := cur.([]any)
			if !ok || s < 0 || s >= len(arr) {
				return nil, false
			}
			cur = arr[s]
		default:
			return nil, false
		}
	}
	return cur, true
}

// AsString converts a scalar to its string form. Strings are returned as-is
// and numbers in their literal form; other values return false.
func AsString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

// AsInt converts an integral number, or a string holding one, to int64.
func AsInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := strconv.ParseInt(t.String(), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) || t > math.MaxInt64 || t < math.MinInt64 {
			return 0, false
		}
		return int64(t), true
	default:
		return 0, false
	}
}
