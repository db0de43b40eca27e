package arena

import "testing"

func TestPushIndexEqualsLength(t *testing.T) {
	var a Arena[string]
	for i, s := range []string{"a", "b", "c"} {
		if got := a.Len(); got != i {
			t.Fatalf("Len before push = %d, want %d", got, i)
		}
		h := a.Push(s)
		if h.Index() != i {
			t.Fatalf("Push(%q).Index() = %d, want %d", s, h.Index(), i)
		}
	}
}

func TestGetStableAcrossGrowth(t *testing.T) {
	var a Arena[int]
	h := a.Push(42)
	p := a.Get(h)

	// Force reallocation of the backing slice.
	for i := 0; i < 1024; i++ {
		a.Push(i)
	}

	if q := a.Get(h); q != p {
		t.Fatalf("element moved after growth: %p != %p", q, p)
	}
	if *p != 42 {
		t.Fatalf("element = %d, want 42", *p)
	}
}

func TestGetInvalid(t *testing.T) {
	var a Arena[int]
	a.Push(1)

	if a.Get(Invalid[int]()) != nil {
		t.Error("Get(Invalid) should return nil")
	}
	if a.Get(Handle[int]{idx: 5}) != nil {
		t.Error("Get(out of range) should return nil")
	}
}

func TestAllYieldsLiveHandles(t *testing.T) {
	var a Arena[int]
	a.Push(10)
	a.Push(20)

	n := 0
	for h, v := range a.All() {
		if a.Get(h) == nil {
			t.Fatalf("All yielded handle %v with no element", h)
		}
		if *a.Get(h) != *v {
			t.Fatalf("handle %v resolves to %d, iterator gave %d", h, *a.Get(h), *v)
		}
		n++
	}
	if n != 2 {
		t.Fatalf("All yielded %d elements, want 2", n)
	}
}

func TestAllSeesMidIterationPush(t *testing.T) {
	var a Arena[int]
	a.Push(0)

	var seen []int
	for _, v := range a.All() {
		seen = append(seen, *v)
		if len(seen) < 3 {
			a.Push(len(seen))
		}
	}
	if len(seen) != 3 {
		t.Fatalf("saw %d elements, want 3 (pushes during iteration must be yielded)", len(seen))
	}
}

func TestHandleGenerator(t *testing.T) {
	var a Arena[string]
	a.Push("x")
	a.Push("y")

	// The generator is unbounded; the driver idiom stops at the first miss.
	var visited int
	for h := range Handles[string]() {
		if a.Get(h) == nil {
			break
		}
		visited++
		if visited == 1 {
			a.Push("added during walk")
		}
	}
	if visited != 3 {
		t.Fatalf("visited %d elements, want 3", visited)
	}
}
