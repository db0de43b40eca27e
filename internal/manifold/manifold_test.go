package manifold

import (
	"debug/elf"
	"errors"
	"testing"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/elfview"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
	"github.com/zboralski/fold/internal/testelf"
)

// dynObject builds an ET_DYN image exposing the given dynamic symbols.
type dynSym struct {
	name  string
	bind  elf.SymBind
	shndx uint16
	value uint64
}

func dynObject(t *testing.T, syms ...dynSym) []byte {
	t.Helper()
	b := testelf.New(elf.ET_DYN)

	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = s.name
	}
	strtab, offs := testelf.StrTab(names...)
	b.AddSection(testelf.Section{Name: ".dynstr", Type: elf.SHT_STRTAB, Data: strtab})

	recs := make([]elfview.Sym, len(syms))
	for i, s := range syms {
		recs[i] = testelf.MakeSym(offs[i], s.bind, elf.STT_FUNC, s.shndx, s.value, 0)
	}
	b.AddSection(testelf.Section{
		Name:    ".dynsym",
		Type:    elf.SHT_DYNSYM,
		Link:    1, // .dynstr
		Entsize: elfview.SymSize,
		Data:    testelf.SymTab(recs...),
	})
	// A text section so shndx=3 refers to something live.
	b.AddSection(testelf.Section{Name: ".text", Type: elf.SHT_PROGBITS, Data: []byte{0xC3}})
	return b.Build()
}

func newTestManifold() *Manifold {
	return New(&Env{Args: []string{"test"}}, share.Map{}, nil)
}

func TestAddELFFileRejectsBadMagic(t *testing.T) {
	m := newTestManifold()
	img := dynObject(t)
	img[0] = 0x00
	if _, err := m.AddELFFile(mem.MapBytes(img), "bad"); !errors.Is(err, ErrInvalidELF) {
		t.Fatalf("err = %v, want ErrInvalidELF", err)
	}
}

func TestAddELFFileIngestsChildren(t *testing.T) {
	m := newTestManifold()
	img := dynObject(t, dynSym{"foo", elf.STB_GLOBAL, 3, 0x100})

	h, err := m.AddELFFile(mem.MapBytes(img), "a.so")
	if err != nil {
		t.Fatal(err)
	}
	obj := m.Objects.Get(h)
	if obj == nil {
		t.Fatal("object handle does not resolve")
	}
	// null + dynstr + dynsym + text + shstrtab
	if len(obj.Sections) != 5 {
		t.Fatalf("sections = %d, want 5", len(obj.Sections))
	}
	if obj.Type != elf.ET_DYN || obj.Machine != elf.EM_X86_64 {
		t.Errorf("type/machine = %v/%v", obj.Type, obj.Machine)
	}

	// Every child back-references a live object (invariant 2).
	for _, hs := range obj.Sections {
		s := m.Sections.Get(hs)
		if s == nil {
			t.Fatal("section handle does not resolve")
		}
		if m.Objects.Get(s.Obj) == nil {
			t.Fatal("section.Obj does not index a live object")
		}
	}
}

func TestSectionNameResolution(t *testing.T) {
	m := newTestManifold()
	h, err := m.AddELFFile(mem.MapBytes(dynObject(t, dynSym{"foo", elf.STB_GLOBAL, 3, 1})), "a.so")
	if err != nil {
		t.Fatal(err)
	}
	obj := m.Objects.Get(h)

	var names []string
	for _, hs := range obj.Sections[1:] {
		name, err := m.Sections.Get(hs).Name(m)
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	want := []string{".dynstr", ".dynsym", ".text", ".shstrtab"}
	for i, w := range want {
		if names[i] != w {
			t.Errorf("section %d name = %q, want %q", i+1, names[i], w)
		}
	}
}

func TestSectionCast(t *testing.T) {
	m := newTestManifold()
	h, _ := m.AddELFFile(mem.MapBytes(dynObject(t, dynSym{"x", elf.STB_GLOBAL, 3, 1})), "a.so")
	obj := m.Objects.Get(h)

	text := m.Sections.Get(obj.Sections[3])
	if _, err := text.AsStringTable(); err == nil {
		t.Error("AsStringTable on .text should fail")
	}
	var cast *SectionCastError
	if _, err := text.AsDynamicSymbolTable(); !errors.As(err, &cast) {
		t.Errorf("err = %v, want SectionCastError", err)
	}

	dynsym := m.Sections.Get(obj.Sections[2])
	if _, err := dynsym.AsDynamicSymbolTable(); err != nil {
		t.Errorf("AsDynamicSymbolTable on .dynsym failed: %v", err)
	}
}

func TestFindSymbolGlobalBeatsWeakAcrossLoadOrder(t *testing.T) {
	m := newTestManifold()

	// O1 defines foo WEAK, O2 defines foo GLOBAL. Lookup from O1 must
	// return O2's global even though O1 comes first in load order.
	h1, err := m.AddELFFile(mem.MapBytes(dynObject(t, dynSym{"foo", elf.STB_WEAK, 3, 0x10})), "o1.so")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := m.AddELFFile(mem.MapBytes(dynObject(t, dynSym{"foo", elf.STB_GLOBAL, 3, 0x20})), "o2.so")
	if err != nil {
		t.Fatal(err)
	}

	ref, err := m.FindSymbol("foo", h1)
	if err != nil {
		t.Fatal(err)
	}
	if ref.Obj != h2 {
		t.Errorf("resolved in object %v, want %v (the global)", ref.Obj, h2)
	}
	if ref.Sym.Value != 0x20 {
		t.Errorf("value = %#x, want 0x20", ref.Sym.Value)
	}
}

func TestFindSymbolWeakFallback(t *testing.T) {
	m := newTestManifold()
	h1, _ := m.AddELFFile(mem.MapBytes(dynObject(t, dynSym{"bar", elf.STB_WEAK, 3, 0x30})), "o1.so")
	m.AddELFFile(mem.MapBytes(dynObject(t, dynSym{"bar", elf.STB_WEAK, 3, 0x40})), "o2.so")

	ref, err := m.FindSymbol("bar", h1)
	if err != nil {
		t.Fatal(err)
	}
	// The first weak seen in load order wins.
	if ref.Sym.Value != 0x30 {
		t.Errorf("value = %#x, want 0x30 (first weak)", ref.Sym.Value)
	}
}

func TestFindSymbolSkipsUndef(t *testing.T) {
	m := newTestManifold()
	// A global whose shndx is SHN_UNDEF is an import, never a definition.
	h1, _ := m.AddELFFile(mem.MapBytes(dynObject(t, dynSym{"baz", elf.STB_GLOBAL, uint16(elf.SHN_UNDEF), 0})), "o1.so")

	_, err := m.FindSymbol("baz", h1)
	var notFound *SymbolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want SymbolNotFoundError", err)
	}
}

func TestFindSymbolNotFound(t *testing.T) {
	m := newTestManifold()
	h1, _ := m.AddELFFile(mem.MapBytes(dynObject(t)), "o1.so")
	if _, err := m.FindSymbol("nope", h1); err == nil {
		t.Fatal("lookup of undefined symbol succeeded")
	}
}

func TestFindSymbolFromDanglingLocal(t *testing.T) {
	m := newTestManifold()
	m.AddELFFile(mem.MapBytes(dynObject(t, dynSym{"foo", elf.STB_GLOBAL, 3, 1})), "o1.so")

	// A dangling local handle degrades to the global scan.
	ref, err := m.FindSymbol("foo", arena.Invalid[Object]())
	if err != nil {
		t.Fatal(err)
	}
	if ref.Sym.Value != 1 {
		t.Errorf("value = %#x", ref.Sym.Value)
	}
}

func TestFindObjectBySuffix(t *testing.T) {
	m := newTestManifold()
	m.AddELFFile(mem.MapBytes(dynObject(t)), "/tmp/a.so")
	h, _ := m.AddELFFile(mem.MapBytes(dynObject(t)), "/lib/libc.so")

	got, ok := m.FindObjectBySuffix("libc.so")
	if !ok || got != h {
		t.Fatalf("FindObjectBySuffix = (%v, %v), want (%v, true)", got, ok, h)
	}
	if _, ok := m.FindObjectBySuffix("libzzz.so"); ok {
		t.Error("found a suffix that is not loaded")
	}
}
