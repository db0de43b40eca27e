package share

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	var m Map
	k := NewKey[int]("answer")

	Put(&m, k, 42)
	got, ok := Get(&m, k)
	if !ok || got != 42 {
		t.Fatalf("Get = (%d, %v), want (42, true)", got, ok)
	}
}

func TestGetAbsent(t *testing.T) {
	var m Map
	if _, ok := Get(&m, NewKey[string]("missing")); ok {
		t.Fatal("Get on empty map reported ok")
	}
}

func TestTypeMismatchReadsNothing(t *testing.T) {
	var m Map
	Put(&m, NewKey[int]("slot"), 7)

	// Same string, different type: the read must fail...
	if _, ok := Get(&m, NewKey[string]("slot")); ok {
		t.Fatal("typed read succeeded across a type mismatch")
	}
	// ...but the original entry is still there.
	if v, ok := Get(&m, NewKey[int]("slot")); !ok || v != 7 {
		t.Fatalf("original entry lost: (%d, %v)", v, ok)
	}
}

func TestPutReplacesAcrossTypes(t *testing.T) {
	var m Map
	Put(&m, NewKey[int]("slot"), 7)
	Put(&m, NewKey[string]("slot"), "seven")

	if _, ok := Get(&m, NewKey[int]("slot")); ok {
		t.Fatal("int entry survived a string Put under the same key string")
	}
	if v, ok := Get(&m, NewKey[string]("slot")); !ok || v != "seven" {
		t.Fatalf("string entry = (%q, %v), want (seven, true)", v, ok)
	}
}

func TestUpdate(t *testing.T) {
	var m Map
	k := NewKey[[]string]("deps")

	ok := Update(&m, k, func() []string { return []string{"libc.so"} }, nil)
	if !ok {
		t.Fatal("Update on vacant entry failed")
	}
	ok = Update(&m, k, nil, func(v *[]string) { *v = append(*v, "libz.so") })
	if !ok {
		t.Fatal("Update on occupied entry failed")
	}

	v, _ := Get(&m, k)
	if len(v) != 2 || v[0] != "libc.so" || v[1] != "libz.so" {
		t.Fatalf("deps = %v", v)
	}

	// Occupied with a mismatched type: report false, change nothing.
	if Update(&m, NewKey[int]("deps"), func() int { return 0 }, func(*int) {}) {
		t.Fatal("Update across type mismatch reported success")
	}
}

func TestGetOr(t *testing.T) {
	var m Map
	if got := GetOr(&m, NewKey[uint64]("base"), 0x1000); got != 0x1000 {
		t.Fatalf("GetOr default = %#x", got)
	}
	Put(&m, NewKey[uint64]("base"), 0x2000)
	if got := GetOr(&m, NewKey[uint64]("base"), 0x1000); got != 0x2000 {
		t.Fatalf("GetOr stored = %#x", got)
	}
}
