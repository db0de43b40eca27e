package sysv

import (
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zboralski/fold/internal/elfview"
	"github.com/zboralski/fold/internal/filter"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/pipeline"
	"github.com/zboralski/fold/internal/share"
	"github.com/zboralski/fold/internal/testelf"
)

func TestRemapName(t *testing.T) {
	libc := "libc.so"
	remap := map[string]*string{
		"libc.so": &libc,
		"libm.so": nil,
	}

	tests := []struct {
		in      string
		want    string
		dropped bool
	}{
		{"libc.so.6", "libc.so", false},   // prefix match substitutes
		{"libc.so", "libc.so", false},     // exact match
		{"libm.so.6", "", true},           // prefix match drops
		{"libz.so", "libz.so", false},     // no rule passes through
	}
	for _, tt := range tests {
		got, dropped := remapName(remap, tt.in)
		if got != tt.want || dropped != tt.dropped {
			t.Errorf("remapName(%q) = (%q, %v), want (%q, %v)", tt.in, got, dropped, tt.want, tt.dropped)
		}
	}
}

func TestRemapNameLongestPrefixWins(t *testing.T) {
	short := "short.so"
	remap := map[string]*string{
		"lib":       &short,
		"libfoo.so": nil, // longer prefix: drop
	}
	if _, dropped := remapName(remap, "libfoo.so.1"); !dropped {
		t.Error("longest prefix rule did not pick the drop entry")
	}
	if got, dropped := remapName(remap, "libbar.so"); dropped || got != "short.so" {
		t.Errorf("fallback to shorter prefix = (%q, %v)", got, dropped)
	}
}

// needyImage builds an image whose .dynamic names the given dependencies.
func needyImage(t *testing.T, needed ...string) []byte {
	t.Helper()
	b := testelf.New(elf.ET_DYN)

	strtab, offs := testelf.StrTab(needed...)
	b.AddSection(testelf.Section{Name: ".dynstr", Type: elf.SHT_STRTAB, Data: strtab})

	entries := make([][2]uint64, len(needed))
	for i, off := range offs {
		entries[i] = [2]uint64{uint64(elf.DT_NEEDED), uint64(off)}
	}
	b.AddSection(testelf.Section{
		Name:    ".dynamic",
		Type:    elf.SHT_DYNAMIC,
		Link:    1, // .dynstr
		Entsize: elfview.DynSize,
		Data:    testelf.Dynamic(entries...),
	})
	return b.Build()
}

// plainImage builds a dependency-free image.
func plainImage(t *testing.T) []byte {
	t.Helper()
	b := testelf.New(elf.ET_DYN)
	b.AddSection(testelf.Section{Name: ".text", Type: elf.SHT_PROGBITS, Data: []byte{0xC3}})
	return b.Build()
}

func TestCollectorLoadsTransitiveDeps(t *testing.T) {
	dir := t.TempDir()
	// liba needs libb; libb needs nothing.
	if err := os.WriteFile(filepath.Join(dir, "libb.so"), plainImage(t), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "liba.so"), needyImage(t, "libb.so"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := manifold.New(&manifold.Env{}, share.Map{}, nil)
	share.Put(&m.Shared, SearchPathsKey, []string{dir})
	if _, err := m.AddELFFile(mem.MapBytes(needyImage(t, "liba.so")), "prog"); err != nil {
		t.Fatal(err)
	}

	f := pipeline.New("prog", &manifold.Env{}, nil)
	f.Register("collect", NewCollector(), filter.SectionType(elf.SHT_DYNAMIC))
	if err := f.Execute(m); err != nil {
		t.Fatal(err)
	}

	// prog + liba + libb, discovered transitively within the single phase.
	if m.Objects.Len() != 3 {
		t.Fatalf("objects = %d, want 3", m.Objects.Len())
	}

	deps, ok := share.Get(&m.Shared, ResultKey)
	if !ok || len(deps) != 2 {
		t.Fatalf("collector result = %v (present %v)", deps, ok)
	}
	if deps[0].Name != "liba.so" || deps[1].Name != "libb.so" {
		t.Errorf("dep names = %v", deps)
	}
}

func TestCollectorAppliesRemap(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "libc.so"), plainImage(t), 0o644); err != nil {
		t.Fatal(err)
	}

	m := manifold.New(&manifold.Env{}, share.Map{}, nil)
	libc := "libc.so"
	share.Put(&m.Shared, SearchPathsKey, []string{dir})
	share.Put(&m.Shared, RemapKey, map[string]*string{
		"libc.so": &libc,
		"libm.so": nil,
	})
	if _, err := m.AddELFFile(mem.MapBytes(needyImage(t, "libc.so.6", "libm.so.6")), "prog"); err != nil {
		t.Fatal(err)
	}

	f := pipeline.New("prog", &manifold.Env{}, nil)
	f.Register("collect", NewCollector(), filter.SectionType(elf.SHT_DYNAMIC))
	if err := f.Execute(m); err != nil {
		t.Fatal(err)
	}

	deps, _ := share.Get(&m.Shared, ResultKey)
	if len(deps) != 1 || deps[0].Name != "libc.so" {
		t.Fatalf("deps = %v, want only the remapped libc.so", deps)
	}
}

func TestCollectorDependencyNotFound(t *testing.T) {
	m := manifold.New(&manifold.Env{}, share.Map{}, nil)
	share.Put(&m.Shared, SearchPathsKey, []string{t.TempDir()})
	if _, err := m.AddELFFile(mem.MapBytes(needyImage(t, "libmissing.so")), "prog"); err != nil {
		t.Fatal(err)
	}

	f := pipeline.New("prog", &manifold.Env{}, nil)
	f.Register("collect", NewCollector(), filter.SectionType(elf.SHT_DYNAMIC))

	err := f.Execute(m)
	var notFound *DependencyNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want DependencyNotFoundError", err)
	}
	if notFound.Name != "libmissing.so" {
		t.Errorf("missing dep = %q", notFound.Name)
	}
}

func TestCollectorRecordsDependencyEdges(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "libb.so"), plainImage(t), 0o644); err != nil {
		t.Fatal(err)
	}

	m := manifold.New(&manifold.Env{}, share.Map{}, nil)
	share.Put(&m.Shared, SearchPathsKey, []string{dir})
	hprog, err := m.AddELFFile(mem.MapBytes(needyImage(t, "libb.so")), "prog")
	if err != nil {
		t.Fatal(err)
	}

	f := pipeline.New("prog", &manifold.Env{}, nil)
	f.Register("collect", NewCollector(), filter.SectionType(elf.SHT_DYNAMIC))
	if err := f.Execute(m); err != nil {
		t.Fatal(err)
	}

	deps := m.Objects.MustGet(hprog).Dependencies
	if len(deps) != 1 {
		t.Fatalf("dependency edges = %d, want 1", len(deps))
	}
	if m.Objects.Get(deps[0]) == nil {
		t.Fatal("dependency edge does not resolve")
	}
}
