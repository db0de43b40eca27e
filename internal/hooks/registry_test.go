package hooks

import "testing"

func stub(uintptr, uintptr) []byte { return []byte{0xC3} }

func TestRegisterAndMatch(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("io", "puts", stub, "fputs")

	h, ok := r.Match("puts")
	if !ok || h.Name != "puts" {
		t.Fatalf("Match(puts) = %v, %v", h, ok)
	}
	if _, ok := r.Match("fputs"); !ok {
		t.Error("alias not matched")
	}
	if _, ok := r.Match("printf"); ok {
		t.Error("unregistered symbol matched")
	}
}

func TestMatchPatterns(t *testing.T) {
	r := NewRegistry()
	r.Register(Hook{Name: "printf-family", Patterns: []string{"*printf"}, Build: stub})

	for _, name := range []string{"printf", "fprintf", "snprintf"} {
		if _, ok := r.Match(name); !ok {
			t.Errorf("pattern did not match %q", name)
		}
	}
	if _, ok := r.Match("scanf"); ok {
		t.Error("pattern matched scanf")
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name, pattern string
		want          bool
	}{
		{"malloc", "malloc", true},
		{"pthread_create", "pthread_*", true},
		{"my_malloc_impl", "*malloc*", true},
		{"libfoo_init", "*_init", true},
		{"free", "malloc", false},
	}
	for _, tt := range tests {
		if got := matchPattern(tt.name, tt.pattern); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.name, tt.pattern, got, tt.want)
		}
	}
}

func TestListAndCount(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("io", "puts", stub)
	r.RegisterFunc("alloc", "malloc", stub)

	if r.Count() != 2 {
		t.Errorf("Count = %d", r.Count())
	}
	names := r.List()
	if len(names) != 2 || names[0] != "puts" || names[1] != "malloc" {
		t.Errorf("List = %v", names)
	}
}
