package tsnconfig

import (
	"fmt"
	"strconv"
)

// Map is the order-preserving document model tsnconfig.Normalize consumes.
// It exists so the normalizer never has to import a YAML library: whatever
// parses config.yaml (pkg/yamldoc, or a test fixture built by hand) only
// needs to produce a tree of Map/slice/scalar values in document order —
// order matters because tcMap construction assigns traffic classes in
// first-seen order (spec §4.1).
type Map struct {
	keys []string
	vals map[string]any
}

// NewMap returns an empty, order-tracking Map.
func NewMap() *Map {
	return &Map{vals: make(map[string]any)}
}

// Set appends key (or overwrites it in place if already present) with val.
// val may be a string, an int64, a *Map, or a []any of any of those.
func (m *Map) Set(key string, val any) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = val
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// Keys returns the keys in the order they were first Set.
func (m *Map) Keys() []string {
	return m.keys
}

// Len reports the number of entries.
func (m *Map) Len() int { return len(m.keys) }

func asMap(v any, path string) (*Map, error) {
	m, ok := v.(*Map)
	if !ok {
		return nil, fmt.Errorf("%s: expected a mapping, got %T", path, v)
	}
	return m, nil
}

func asSeq(v any, path string) ([]any, error) {
	s, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a sequence, got %T", path, v)
	}
	return s, nil
}

func requireKey(m *Map, key, path string) (any, error) {
	v, ok := m.Get(key)
	if !ok {
		return nil, fmt.Errorf("%s: missing required key %q", path, key)
	}
	return v, nil
}

// asInt64 accepts either a native int64 (as produced by a YAML integer
// scalar) or a decimal string.
func asInt64(v any, path string) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not an integer", path, t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: expected an integer, got %T", path, v)
	}
}

func asString(v any, path string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected a string, got %T", path, v)
	}
	return s, nil
}
