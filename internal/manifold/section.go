package manifold

import (
	"debug/elf"
	"fmt"
	"iter"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/elfview"
)

// Section is one section header of an object. All attributes are accessible
// directly; tag-checked views (AsStringTable, AsSymbolTable,
// AsDynamicSymbolTable) guard the more structured accessors.
type Section struct {
	// The whole file image backing this section.
	raw []byte
	// The object containing this section.
	Obj arena.Handle[Object]
	// Offset of the section name in the object's .shstrtab.
	NameOff uint32
	Tag     elf.SectionType
	Flags   elf.SectionFlag
	// Virtual address once loaded, for loadable sections.
	Addr uint64
	// Offset and size of the section in the file.
	Off  uint64
	Size uint64
	Align uint64
	// Index of an associated section in the owning object's section list.
	Link uint32
	Info uint32
	// Size of the records contained in the section, if applicable.
	Entsize uint64
}

func newSection(sh elfview.Shdr, obj arena.Handle[Object], raw []byte) Section {
	return Section{
		raw:     raw,
		Obj:     obj,
		NameOff: sh.Name,
		Tag:     elf.SectionType(sh.Type),
		Flags:   elf.SectionFlag(sh.Flags),
		Addr:    sh.Addr,
		Off:     sh.Off,
		Size:    sh.Size,
		Align:   sh.Addralign,
		Link:    sh.Link,
		Info:    sh.Info,
		Entsize: sh.Entsize,
	}
}

// Raw returns the whole file image backing the section.
func (s *Section) Raw() []byte {
	return s.raw
}

// Data returns the section's bytes in the file image, or nil when the range
// is out of bounds (SHT_NOBITS sections report their in-memory size but have
// no file bytes).
func (s *Section) Data() []byte {
	if s.Tag == elf.SHT_NOBITS {
		return nil
	}
	end := s.Off + s.Size
	if end > uint64(len(s.raw)) || end < s.Off {
		return nil
	}
	return s.raw[s.Off:end]
}

// Linked resolves the section's sh_link against the owning object's section
// list.
func (s *Section) Linked(m *Manifold) (*Section, error) {
	obj := m.Objects.Get(s.Obj)
	if obj == nil || int(s.Link) >= len(obj.Sections) {
		return nil, ErrBadLink
	}
	linked := m.Sections.Get(obj.Sections[s.Link])
	if linked == nil {
		return nil, ErrBadLink
	}
	return linked, nil
}

// Name resolves the section name through the owning object's .shstrtab.
func (s *Section) Name(m *Manifold) (string, error) {
	obj := m.Objects.Get(s.Obj)
	if obj == nil || int(obj.Shstrndx) >= len(obj.Sections) {
		return "", ErrBadLink
	}
	shstr := m.Sections.Get(obj.Sections[obj.Shstrndx])
	if shstr == nil {
		return "", ErrBadLink
	}
	strtab, err := shstr.AsStringTable()
	if err != nil {
		return "", err
	}
	return strtab.Lookup(int(s.NameOff))
}

// SectionTable builds a record table over the section's bytes. recSize is
// the decoder's record size; a nonzero sh_entsize must agree with it.
func SectionTable[T any](s *Section, recSize int, dec func([]byte) T) (elfview.Table[T], error) {
	if s.Entsize != 0 && int(s.Entsize) != recSize {
		return elfview.Table[T]{}, fmt.Errorf("section entry size %d, want %d", s.Entsize, recSize)
	}
	return elfview.NewTableLen(s.raw, int(s.Off), int(s.Size), recSize, dec)
}

// ————————————————————————————— Typed views ————————————————————————————— //

// StringTable is a tag-checked view over an SHT_STRTAB section.
type StringTable struct {
	s *Section
}

// AsStringTable casts the section to a string table view.
func (s *Section) AsStringTable() (StringTable, error) {
	if s.Tag != elf.SHT_STRTAB {
		return StringTable{}, &SectionCastError{Expected: elf.SHT_STRTAB, Actual: s.Tag}
	}
	return StringTable{s: s}, nil
}

// Lookup returns the NUL-terminated string at the given offset in the table.
func (t StringTable) Lookup(off int) (string, error) {
	if off < 0 || uint64(off) >= t.s.Size {
		return "", fmt.Errorf("string table offset %d out of bounds (%d bytes)", off, t.s.Size)
	}
	return elfview.CString(t.s.raw, int(t.s.Off)+off)
}

// SymbolTable is a tag-checked view over an SHT_SYMTAB or SHT_DYNSYM
// section.
type SymbolTable struct {
	s *Section
}

// AsSymbolTable casts the section to a non-dynamic symbol table view.
func (s *Section) AsSymbolTable() (SymbolTable, error) {
	if s.Tag != elf.SHT_SYMTAB {
		return SymbolTable{}, &SectionCastError{Expected: elf.SHT_SYMTAB, Actual: s.Tag}
	}
	return SymbolTable{s: s}, nil
}

// AsDynamicSymbolTable casts the section to a dynamic symbol table view.
func (s *Section) AsDynamicSymbolTable() (SymbolTable, error) {
	if s.Tag != elf.SHT_DYNSYM {
		return SymbolTable{}, &SectionCastError{Expected: elf.SHT_DYNSYM, Actual: s.Tag}
	}
	return SymbolTable{s: s}, nil
}

// Section returns the underlying section.
func (t SymbolTable) Section() *Section {
	return t.s
}

// Entries returns the record table of the symbol section.
func (t SymbolTable) Entries() (elfview.Table[elfview.Sym], error) {
	return SectionTable(t.s, elfview.SymSize, elfview.DecodeSym)
}

// At returns the symbol record at the given index.
func (t SymbolTable) At(i int) (elfview.Sym, error) {
	entries, err := t.Entries()
	if err != nil {
		return elfview.Sym{}, err
	}
	return entries.At(i)
}

// NameAt returns the name of the symbol record at the given index, resolved
// through the linked string table.
func (t SymbolTable) NameAt(m *Manifold, i int) (string, error) {
	sym, err := t.At(i)
	if err != nil {
		return "", err
	}
	return t.NameOf(m, sym)
}

// NameOf resolves a symbol record's name through the linked string table.
func (t SymbolTable) NameOf(m *Manifold, sym elfview.Sym) (string, error) {
	linked, err := t.s.Linked(m)
	if err != nil {
		return "", err
	}
	strtab, err := linked.AsStringTable()
	if err != nil {
		return "", err
	}
	return strtab.Lookup(int(sym.Name))
}

// Symbols yields every (record, name) pair of the table. Records whose name
// cannot be resolved are skipped.
func (t SymbolTable) Symbols(m *Manifold) iter.Seq2[elfview.Sym, string] {
	return func(yield func(elfview.Sym, string) bool) {
		entries, err := t.Entries()
		if err != nil {
			return
		}
		for _, sym := range entries.All() {
			name, err := t.NameOf(m, sym)
			if err != nil {
				continue
			}
			if !yield(sym, name) {
				return
			}
		}
	}
}
