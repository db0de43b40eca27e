package sysv

import (
	"debug/elf"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/elfview"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
)

// tlsRelocTypes are handled by the TLS relocation module in its own phase;
// the general relocator leaves them alone.
var tlsRelocTypes = map[elf.R_X86_64]bool{
	elf.R_X86_64_DTPMOD64: true,
	elf.R_X86_64_DTPOFF64: true,
	elf.R_X86_64_DTPOFF32: true,
	elf.R_X86_64_TPOFF64:  true,
	elf.R_X86_64_TPOFF32:  true,
	elf.R_X86_64_GOTTPOFF: true,
	elf.R_X86_64_TLSGD:    true,
	elf.R_X86_64_TLSLD:    true,
}

// Reloc applies the dynamic relocations of every object, dependencies first.
// A per-relocator set tracks which objects were already relocated so that a
// dependency reachable along several edges (or a cycle) is applied exactly
// once.
type Reloc struct {
	relocated map[arena.Handle[manifold.Object]]bool
}

// NewReloc creates the relocation module.
func NewReloc() *Reloc {
	return &Reloc{relocated: make(map[arena.Handle[manifold.Object]]bool)}
}

// Name implements pipeline.Module.
func (r *Reloc) Name() string {
	return "sysv-reloc"
}

// ProcessObject implements pipeline.ObjectProcessor.
func (r *Reloc) ProcessObject(m *manifold.Manifold, hobj arena.Handle[manifold.Object]) error {
	if r.relocated[hobj] {
		return nil
	}
	// Mark before recursing: dependency cycles terminate instead of looping.
	r.relocated[hobj] = true

	// Dependencies first, so that a dependent's COPY and GOT entries read
	// fully-relocated dependency state.
	for _, dep := range m.Objects.MustGet(hobj).Dependencies {
		if err := r.ProcessObject(m, dep); err != nil {
			return err
		}
	}

	return r.relocateObject(m, hobj)
}

func (r *Reloc) relocateObject(m *manifold.Manifold, hobj arena.Handle[manifold.Object]) error {
	obj := m.Objects.MustGet(hobj)
	m.Log.Info("relocating", log.Obj(obj.DisplayPath()))

	for _, hsec := range obj.Sections {
		sec := m.Sections.Get(hsec)
		if sec == nil || sec.Tag != elf.SHT_RELA {
			continue
		}
		if err := r.relocateSection(m, hobj, sec); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reloc) relocateSection(m *manifold.Manifold, hobj arena.Handle[manifold.Object], sec *manifold.Section) error {
	obj := m.Objects.MustGet(hobj)
	base := obj.LoadBias()

	relas, err := manifold.SectionTable(sec, elfview.RelaSize, elfview.DecodeRela)
	if err != nil {
		return err
	}

	for _, rela := range relas.All() {
		if err := r.apply(m, hobj, sec, base, rela); err != nil {
			return err
		}
	}
	return nil
}

// symbolValue lazily resolves the symbol a relocation refers to. Absent
// symbols produce a warning and resolve to 0, which tolerates unresolved
// weak references.
func (r *Reloc) symbolValue(m *manifold.Manifold, hobj arena.Handle[manifold.Object], sec *manifold.Section, symIdx uint32) (uint64, *manifold.SymbolRef) {
	name, err := symbolName(m, sec, symIdx)
	if err != nil {
		m.Log.Warn("relocation symbol name unresolved", log.Fn(name))
		return 0, nil
	}
	ref, err := m.FindSymbol(name, hobj)
	if err != nil {
		m.Log.Warn("symbol not found, resolving to 0", log.Fn(name))
		return 0, nil
	}
	def := m.Objects.MustGet(ref.Obj)
	return uint64(def.LoadBias()) + ref.Sym.Value, &ref
}

// symbolName reads the name of symbol symIdx through the relocation
// section's linked dynamic symbol table.
func symbolName(m *manifold.Manifold, sec *manifold.Section, symIdx uint32) (string, error) {
	linked, err := sec.Linked(m)
	if err != nil {
		return "", err
	}
	symtab, err := linked.AsDynamicSymbolTable()
	if err != nil {
		return "", err
	}
	return symtab.NameAt(m, int(symIdx))
}

func (r *Reloc) apply(m *manifold.Manifold, hobj arena.Handle[manifold.Object], sec *manifold.Section, base uintptr, rela elfview.Rela) error {
	typ := elf.R_X86_64(rela.Type())
	if typ == elf.R_X86_64_NONE || tlsRelocTypes[typ] {
		return nil
	}

	target := base + uintptr(rela.Off)
	addend := uint64(rela.Addend)

	switch typ {
	case elf.R_X86_64_64:
		s, _ := r.symbolValue(m, hobj, sec, rela.Sym())
		mem.PokeU64(target, s+addend)

	case elf.R_X86_64_JMP_SLOT:
		s, _ := r.symbolValue(m, hobj, sec, rela.Sym())
		mem.PokeU64(target, s)

	case elf.R_X86_64_GLOB_DAT:
		s, _ := r.symbolValue(m, hobj, sec, rela.Sym())
		mem.PokeU64(target, s)

	case elf.R_X86_64_COPY:
		return r.applyCopy(m, hobj, sec, target, rela)

	case elf.R_X86_64_32, elf.R_X86_64_32S:
		s, _ := r.symbolValue(m, hobj, sec, rela.Sym())
		mem.PokeU32(target, uint32(s+addend))

	case elf.R_X86_64_16:
		s, _ := r.symbolValue(m, hobj, sec, rela.Sym())
		mem.PokeU16(target, uint16(s+addend))

	case elf.R_X86_64_8:
		s, _ := r.symbolValue(m, hobj, sec, rela.Sym())
		mem.PokeU8(target, uint8(s+addend))

	case elf.R_X86_64_RELATIVE:
		mem.PokeU64(target, uint64(base)+addend)

	case elf.R_X86_64_IRELATIVE:
		// The resolver function lives at B+A; its return value is the
		// relocation result.
		resolver := uintptr(uint64(base) + addend)
		mem.PokeU64(target, uint64(callNoArgs(resolver)))

	default:
		m.Log.Warn("unhandled relocation type",
			log.Obj(m.Objects.MustGet(hobj).DisplayPath()),
			log.Ptr("type", uint64(typ)))
	}
	return nil
}

// applyCopy copies the symbol's bytes from the first non-self object
// defining the same name into the target object's storage.
func (r *Reloc) applyCopy(m *manifold.Manifold, hobj arena.Handle[manifold.Object], sec *manifold.Section, target uintptr, rela elfview.Rela) error {
	name, err := symbolName(m, sec, rela.Sym())
	if err != nil {
		return err
	}

	for hdef, def := range m.Objects.All() {
		if hdef == hobj {
			continue
		}
		sym, ok := findDynDef(m, def, name)
		if !ok {
			continue
		}
		src := def.LoadBias() + uintptr(sym.Value)
		mem.Copy(target, mem.SliceAt(src, uintptr(sym.Size)))
		return nil
	}

	m.Log.Warn("copy relocation source not found", log.Fn(name))
	return nil
}

// findDynDef searches one object's dynamic symbol tables for a defined
// (non-UNDEF) entry with the given name.
func findDynDef(m *manifold.Manifold, obj *manifold.Object, name string) (elfview.Sym, bool) {
	for _, hsec := range obj.Sections {
		sec := m.Sections.Get(hsec)
		if sec == nil || sec.Tag != elf.SHT_DYNSYM {
			continue
		}
		symtab, err := sec.AsDynamicSymbolTable()
		if err != nil {
			continue
		}
		for sym, symName := range symtab.Symbols(m) {
			if symName == name && sym.Shndx != uint16(elf.SHN_UNDEF) {
				return sym, true
			}
		}
	}
	return elfview.Sym{}, false
}
