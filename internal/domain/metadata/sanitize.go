// Package metadata flattens arbitrary record metadata into the primitive
// key/value shape the vector store accepts.
package metadata

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Separator joins a parent key with its child key or list index.
const Separator = "_"

// scalarKey holds a top-level scalar that has no key of its own.
const scalarKey = "value"

// Sanitize flattens v into a map of string, int64, float64 and bool values.
// Nulls are dropped, nested maps and lists are expanded into prefixed keys,
// anything else is stringified.
func Sanitize(v any, prefix string) map[string]any {
	out := make(map[string]any)
	walk(out, v, prefix)
	return out
}

func walk(out map[string]any, v any, prefix string) {
	switch x := v.(type) {
	case nil:
		return
	case map[string]any:
		// sorted keys make collisions deterministic: a container key sorts
		// before the literal keys it can collide with, so the literal wins
		for _, k := range slices.Sorted(maps.Keys(x)) {
			walk(out, x[k], join(prefix, k))
		}
	case map[string]string:
		for _, k := range slices.Sorted(maps.Keys(x)) {
			out[join(prefix, k)] = x[k]
		}
	case []any:
		for i, child := range x {
			walk(out, child, join(prefix, strconv.Itoa(i)))
		}
	case []string:
		for i, child := range x {
			out[join(prefix, strconv.Itoa(i))] = child
		}
	default:
		key := prefix
		if key == "" {
			key = scalarKey
		}
		out[key] = scalar(x)
	}
}

func scalar(v any) any {
	switch x := v.(type) {
	case string, bool, int64, float64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Separator + key
}
