// Package arena provides append-only containers indexed by type-bound
// handles. Elements are never removed or moved, so a Handle obtained from an
// Arena stays valid (and keeps pointing at the same element) for the arena's
// whole lifetime.
package arena

import "iter"

// Handle is an index into an Arena of T. Two handles are equal iff their
// indexes are equal. A handle may not index an existing element of the arena,
// even if it was created from the same one; callers iterating with Handles
// must check Get on every step.
type Handle[T any] struct {
	idx int
}

// Invalid returns the invalid handle for T. Looking it up always fails.
func Invalid[T any]() Handle[T] {
	return Handle[T]{idx: -1}
}

// IsValid reports whether the handle could index an arena element. It does
// not guarantee the element exists.
func (h Handle[T]) IsValid() bool {
	return h.idx >= 0
}

// Index returns the raw index of the handle. Useful for display only.
func (h Handle[T]) Index() int {
	return h.idx
}

// Arena is an append-only ordered container of T.
type Arena[T any] struct {
	// Elements are boxed so that pointers handed out by Get stay stable
	// across later appends.
	store []*T
}

// Push appends item and returns its handle. The handle's index equals the
// arena length before the append.
func (a *Arena[T]) Push(item T) Handle[T] {
	h := Handle[T]{idx: len(a.store)}
	a.store = append(a.store, &item)
	return h
}

// Get returns the element at the given handle, or nil if the handle does not
// index an element.
func (a *Arena[T]) Get(h Handle[T]) *T {
	if h.idx < 0 || h.idx >= len(a.store) {
		return nil
	}
	return a.store[h.idx]
}

// MustGet returns the element at the given handle and panics if it does not
// exist.
func (a *Arena[T]) MustGet(h Handle[T]) *T {
	item := a.Get(h)
	if item == nil {
		panic("arena: dangling handle")
	}
	return item
}

// Len returns the number of elements.
func (a *Arena[T]) Len() int {
	return len(a.store)
}

// All yields every element with its handle, in insertion order. The sequence
// is over the elements present when iteration reaches them, so elements
// pushed from inside the loop body are yielded too.
func (a *Arena[T]) All() iter.Seq2[Handle[T], *T] {
	return func(yield func(Handle[T], *T) bool) {
		for i := 0; i < len(a.store); i++ {
			if !yield(Handle[T]{idx: i}, a.store[i]) {
				return
			}
		}
	}
}

// Handles returns an infinite sequence of handles with increasing indexes:
// {0}, {1}, {2}, ... regardless of the arena length. Combined with Get this
// is the driver's way to iterate over a collection that grows during the
// walk: stop at the first handle for which Get returns nil.
func Handles[T any]() iter.Seq[Handle[T]] {
	return func(yield func(Handle[T]) bool) {
		for i := 0; ; i++ {
			if !yield(Handle[T]{idx: i}) {
				return
			}
		}
	}
}
