package domain

import (
	"maps"
	"reflect"
	"slices"
	"time"
)

// Values maps parameter ids to values.
type Values map[string]any

// Clone returns a shallow copy; a nil receiver clones to an empty map.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	maps.Copy(out, v)
	return out
}

// Keys returns the ids in sorted order.
func (v Values) Keys() []string {
	return slices.Sorted(maps.Keys(v))
}

// Equal reports whether both maps hold the same ids with equal values.
func (v Values) Equal(other Values) bool {
	if len(v) != len(other) {
		return false
	}
	for k, a := range v {
		b, ok := other[k]
		if !ok || !ValueEqual(a, b) {
			return false
		}
	}
	return true
}

// ValueEqual compares two parameter values. Numbers of different Go kinds
// compare by value so that values surviving a JSON round trip still match.
func ValueEqual(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, _ := AsFloat(a)
		fb, _ := AsFloat(b)
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// ParameterState is the observable triple of a parameter cell.
type ParameterState struct {
	UIValue   any  `json:"ui_value"`
	ExecValue any  `json:"exec_value"`
	Dirty     bool `json:"dirty"`
}

// Snapshot captures committed values per namespace.
type Snapshot map[string]Values

// Clone deep-copies the per-namespace maps.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for ns, values := range s {
		out[ns] = values.Clone()
	}
	return out
}

// Equal reports structural equality of two snapshots.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for ns, values := range s {
		o, ok := other[ns]
		if !ok || !values.Equal(o) {
			return false
		}
	}
	return true
}

// Namespaces returns the snapshot's namespaces in sorted order.
func (s Snapshot) Namespaces() []string {
	return slices.Sorted(maps.Keys(s))
}

// HistoryEntry is one journal record. Hosts may carry it verbatim as
// navigation state, so it must stay JSON-serializable.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Snapshot  Snapshot  `json:"snapshot"`
	Timestamp time.Time `json:"timestamp"`
}
