package vm

import "fmt"

// AttrMap holds the attributes captured when an operator was invoked.
// Values are bool, string, numbers or slices of numbers; the getters accept
// any numeric representation so maps survive a serialization round trip.
type AttrMap map[string]any

func (m AttrMap) Has(name string) bool {
	_, ok := m[name]
	return ok
}

func (m AttrMap) Int(name string) (int64, bool) {
	return asInt64(m[name])
}

func (m AttrMap) Float(name string) (float64, bool) {
	switch v := m[name].(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	i, ok := asInt64(m[name])
	return float64(i), ok
}

func (m AttrMap) String(name string) (string, bool) {
	s, ok := m[name].(string)
	return s, ok
}

func (m AttrMap) Bool(name string) (bool, bool) {
	b, ok := m[name].(bool)
	return b, ok
}

func (m AttrMap) Ints(name string) ([]int64, bool) {
	switch v := m[name].(type) {
	case []int64:
		return v, true
	case []int:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out, true
	case []any:
		out := make([]int64, len(v))
		for i, x := range v {
			n, ok := asInt64(x)
			if !ok {
				return nil, false
			}
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func asInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

// Clone returns a shallow copy.
func (m AttrMap) Clone() AttrMap {
	if m == nil {
		return nil
	}
	out := make(AttrMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m AttrMap) RequireFloat(name string) (float64, error) {
	v, ok := m.Float(name)
	if !ok {
		return 0, fmt.Errorf("attribute %q is missing or not a number", name)
	}
	return v, nil
}
