// Package manifold holds the intermediate representation every pipeline
// module works on: the objects composing the program, their segments and
// sections, and the shared state modules use to talk to each other.
package manifold

import (
	"debug/elf"
	"strings"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/elfview"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
)

// Manifold is the intermediate representation of all objects composing a
// program. Arenas are append-only: handles never dangle because nothing is
// ever removed before the manifold itself goes away.
type Manifold struct {
	Objects  arena.Arena[Object]
	Segments arena.Arena[Segment]
	Sections arena.Arena[Section]

	// Process-wide shared state.
	Shared share.Map
	// Process arguments, environment and auxiliary vector.
	Env *Env

	Log *log.Logger
}

// New creates an empty manifold seeded with the given shared map.
func New(env *Env, shared share.Map, logger *log.Logger) *Manifold {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manifold{Shared: shared, Env: env, Log: logger}
}

// AddELFFile validates and ingests a mapped ELF image: the object is pushed
// first, then one segment per program header and one section per section
// header, in header order.
func (m *Manifold) AddELFFile(mapping *mem.Mapping, path string) (arena.Handle[Object], error) {
	obj, err := newObject(mapping, path)
	if err != nil {
		return arena.Invalid[Object](), err
	}
	hobj := m.Objects.Push(obj)
	raw := mapping.Bytes()

	phdrs, err := m.Objects.MustGet(hobj).ProgramHeaders()
	if err != nil {
		return arena.Invalid[Object](), err
	}
	segments := make([]arena.Handle[Segment], 0, phdrs.Count())
	for _, ph := range phdrs.All() {
		segments = append(segments, m.Segments.Push(newSegment(ph, hobj, raw)))
	}

	shdrs, err := m.Objects.MustGet(hobj).SectionHeaders()
	if err != nil {
		return arena.Invalid[Object](), err
	}
	sections := make([]arena.Handle[Section], 0, shdrs.Count())
	for _, sh := range shdrs.All() {
		sections = append(sections, m.Sections.Push(newSection(sh, hobj, raw)))
	}

	o := m.Objects.MustGet(hobj)
	o.Segments = segments
	o.Sections = sections

	m.Log.Debug("ingested", log.Obj(path),
		log.Size(uint64(len(raw))))
	return hobj, nil
}

// SymbolRef is a resolved symbol: the object defining it and the raw record.
type SymbolRef struct {
	Obj arena.Handle[Object]
	Sym elfview.Sym
}

// FindSymbol resolves name across the loaded objects. Entries with
// st_shndx == SHN_UNDEF are never returned. Priority:
//
//  1. An STB_LOCAL entry in the local object's own symbol tables.
//  2. The first STB_GLOBAL entry found scanning every object's dynamic
//     symbol tables in load order.
//  3. Failing that, the first STB_WEAK entry seen during the same scan.
func (m *Manifold) FindSymbol(name string, local arena.Handle[Object]) (SymbolRef, error) {
	if obj := m.Objects.Get(local); obj != nil {
		if ref, ok := m.findLocal(name, local, obj); ok {
			return ref, nil
		}
	}

	var weak SymbolRef
	haveWeak := false
	for hobj, obj := range m.Objects.All() {
		for _, hsec := range obj.Sections {
			sec := m.Sections.Get(hsec)
			if sec == nil || sec.Tag != elf.SHT_DYNSYM {
				continue
			}
			table := SymbolTable{s: sec}
			for sym, symName := range table.Symbols(m) {
				if symName != name || sym.Shndx == uint16(elf.SHN_UNDEF) {
					continue
				}
				switch sym.Binding() {
				case byte(elf.STB_GLOBAL):
					return SymbolRef{Obj: hobj, Sym: sym}, nil
				case byte(elf.STB_WEAK):
					if !haveWeak {
						weak = SymbolRef{Obj: hobj, Sym: sym}
						haveWeak = true
					}
				}
			}
		}
	}

	if haveWeak {
		return weak, nil
	}
	return SymbolRef{}, &SymbolNotFoundError{Name: name}
}

// findLocal searches the local object's symbol tables (SHT_SYMTAB and
// SHT_DYNSYM) for an STB_LOCAL definition of name.
func (m *Manifold) findLocal(name string, hobj arena.Handle[Object], obj *Object) (SymbolRef, bool) {
	for _, hsec := range obj.Sections {
		sec := m.Sections.Get(hsec)
		if sec == nil || (sec.Tag != elf.SHT_SYMTAB && sec.Tag != elf.SHT_DYNSYM) {
			continue
		}
		table := SymbolTable{s: sec}
		for sym, symName := range table.Symbols(m) {
			if symName != name || sym.Shndx == uint16(elf.SHN_UNDEF) {
				continue
			}
			if sym.Binding() == byte(elf.STB_LOCAL) {
				return SymbolRef{Obj: hobj, Sym: sym}, true
			}
		}
	}
	return SymbolRef{}, false
}

// FindObjectBySuffix returns the first loaded object whose path ends with
// suffix.
func (m *Manifold) FindObjectBySuffix(suffix string) (arena.Handle[Object], bool) {
	for h, obj := range m.Objects.All() {
		if strings.HasSuffix(obj.DisplayPath(), suffix) {
			return h, true
		}
	}
	return arena.Invalid[Object](), false
}
