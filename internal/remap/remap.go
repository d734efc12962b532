// Package remap rewrites identifier values inside decoded JSON rows.
//
// Rows come from the wire as map[string]any / []any / scalar trees. Every
// string leaf that exactly equals a key of the Map is replaced by the mapped
// value, at any depth, regardless of the field name. Partial matches are left
// alone: "x-A" is not rewritten when only "A" is mapped.
package remap

import (
	"errors"
	"fmt"
	"sort"
)

// Map translates old identifiers to new ones.
type Map map[string]string

// Lookup returns the replacement for s, or s itself.
func (m Map) Lookup(s string) (string, bool) {
	v, ok := m[s]
	if !ok {
		return s, false
	}
	return v, true
}

// Validate rejects empty and identity entries. A new value that is also an
// old key is allowed: the map is applied once, so {A:B, B:A} swaps A and B.
func (m Map) Validate() error {
	var errs []error
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := m[k]
		switch {
		case k == "":
			errs = append(errs, errors.New("id_map: empty key"))
		case v == "":
			errs = append(errs, fmt.Errorf("id_map[%s]: empty value", k))
		case k == v:
			errs = append(errs, fmt.Errorf("id_map[%s]: maps to itself", k))
		}
	}
	return errors.Join(errs...)
}

// Chained returns the sorted keys whose new value is also an old key.
func (m Map) Chained() []string {
	var out []string
	for k, v := range m {
		if _, ok := m[v]; ok && k != v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Value returns a copy of v with mapped strings replaced. v is not modified.
func Value(v any, m Map) any {
	v, _ = walk(v, m)
	return v
}

// Record remaps one row.
func Record(rec map[string]any, m Map) map[string]any {
	out, _ := walkObject(rec, m)
	return out
}

// Records remaps rows and reports how many leaves were replaced in total.
func Records(rows []map[string]any, m Map) ([]map[string]any, int) {
	out := make([]map[string]any, len(rows))
	total := 0
	for i, row := range rows {
		var n int
		out[i], n = walkObject(row, m)
		total += n
	}
	return out, total
}

// Count reports how many string leaves of v would be replaced.
func Count(v any, m Map) int {
	_, n := walk(v, m)
	return n
}

func walk(v any, m Map) (any, int) {
	switch t := v.(type) {
	case map[string]any:
		return walkObject(t, m)
	case []any:
		out := make([]any, len(t))
		total := 0
		for i, elem := range t {
			var n int
			out[i], n = walk(elem, m)
			total += n
		}
		return out, total
	case []map[string]any:
		out := make([]map[string]any, len(t))
		total := 0
		for i, elem := range t {
			var n int
			out[i], n = walkObject(elem, m)
			total += n
		}
		return out, total
	case string:
		if r, ok := m.Lookup(t); ok {
			return r, 1
		}
		return t, 0
	default:
		return v, 0
	}
}

func walkObject(obj map[string]any, m Map) (map[string]any, int) {
	if obj == nil {
		return nil, 0
	}
	out := make(map[string]any, len(obj))
	total := 0
	for k, v := range obj {
		var n int
		out[k], n = walk(v, m)
		total += n
	}
	return out, total
}
