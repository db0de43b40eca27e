// Package share provides the typed heterogeneous map that carries state
// between otherwise-decoupled pipeline modules.
//
// Keys pair a string with a value type. Put overwrites any prior value stored
// under the same string regardless of its type; Get returns (zero, false)
// both when the entry is absent and when the stored value has a different
// type. This "replace, then typed-read" contract is how modules convey state
// without knowing about each other: last writer wins, mismatched readers see
// nothing.
package share

// Key identifies an entry of type T in a Map. Keys should be exposed as
// package-level variables so that separately-written modules can agree on
// them.
type Key[T any] struct {
	Name string
}

// NewKey creates a key for values of type T.
func NewKey[T any](name string) Key[T] {
	return Key[T]{Name: name}
}

// Map is a string-keyed map of arbitrarily-typed values. The zero value is
// ready to use.
type Map struct {
	m map[string]any
}

// Put stores value under key, replacing any prior entry with the same key
// string, whatever its type.
func Put[T any](m *Map, key Key[T], value T) {
	if m.m == nil {
		m.m = make(map[string]any)
	}
	m.m[key.Name] = value
}

// Get retrieves the value stored under key. It returns (zero, false) when
// the entry is absent or when its type differs from T.
func Get[T any](m *Map, key Key[T]) (T, bool) {
	var zero T
	if m.m == nil {
		return zero, false
	}
	v, ok := m.m[key.Name]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// GetOr retrieves the value stored under key, or def when it is absent or
// has a mismatched type.
func GetOr[T any](m *Map, key Key[T], def T) T {
	if v, ok := Get(m, key); ok {
		return v
	}
	return def
}

// Update stores absent() under key when the entry is missing, or applies
// update to the stored value otherwise. It reports false when an entry
// exists but its type does not match T, in which case nothing is changed.
func Update[T any](m *Map, key Key[T], absent func() T, update func(*T)) bool {
	if m.m == nil {
		m.m = make(map[string]any)
	}
	v, ok := m.m[key.Name]
	if !ok {
		m.m[key.Name] = absent()
		return true
	}
	t, ok := v.(T)
	if !ok {
		return false
	}
	update(&t)
	m.m[key.Name] = t
	return true
}

// Has reports whether any value (of any type) is stored under name.
func (m *Map) Has(name string) bool {
	_, ok := m.m[name]
	return ok
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.m)
}
