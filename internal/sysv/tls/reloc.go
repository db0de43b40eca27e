package tls

import (
	"debug/elf"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/elfview"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
)

// Relocator applies the initial-exec TLS relocations. TPOFF32/TPOFF64 write
// the (negative) distance of a symbol from the thread pointer. The dynamic
// family (DTPMOD64, DTPOFF32/64, GOTTPOFF, TLSGD, TLSLD) is recognized and
// skipped: only the initial-exec model is supported.
type Relocator struct{}

// NewRelocator creates the TLS relocation module.
func NewRelocator() *Relocator {
	return &Relocator{}
}

// Name implements pipeline.Module.
func (r *Relocator) Name() string {
	return "tls-reloc"
}

// ProcessSection implements pipeline.SectionProcessor for SHT_RELA sections.
func (r *Relocator) ProcessSection(m *manifold.Manifold, hsec arena.Handle[manifold.Section]) error {
	sec := m.Sections.MustGet(hsec)
	obj := m.Objects.MustGet(sec.Obj)
	base := obj.LoadBias()

	relas, err := manifold.SectionTable(sec, elfview.RelaSize, elfview.DecodeRela)
	if err != nil {
		return err
	}

	for _, rela := range relas.All() {
		typ := elf.R_X86_64(rela.Type())
		switch typ {
		case elf.R_X86_64_TPOFF64:
			if err := r.applyTPOff(m, sec, base, rela, 64); err != nil {
				return err
			}
		case elf.R_X86_64_TPOFF32:
			if err := r.applyTPOff(m, sec, base, rela, 32); err != nil {
				return err
			}
		case elf.R_X86_64_DTPMOD64, elf.R_X86_64_DTPOFF64, elf.R_X86_64_DTPOFF32,
			elf.R_X86_64_GOTTPOFF, elf.R_X86_64_TLSGD, elf.R_X86_64_TLSLD:
			// Dynamic TLS model; initial-exec only.
			m.Log.Debug("dynamic tls relocation skipped",
				log.Obj(obj.DisplayPath()),
				log.Ptr("type", uint64(typ)))
		}
	}
	return nil
}

func (r *Relocator) applyTPOff(m *manifold.Manifold, sec *manifold.Section, base uintptr, rela elfview.Rela, width int) error {
	tcb, ok := share.Get(&m.Shared, TCBKey)
	if !ok {
		return &MissingEntryError{Key: TCBKey.Name}
	}
	starts, ok := share.Get(&m.Shared, ModuleStartsKey)
	if !ok {
		return &MissingEntryError{Key: ModuleStartsKey.Name}
	}

	linked, err := sec.Linked(m)
	if err != nil {
		return err
	}
	symtab, err := linked.AsDynamicSymbolTable()
	if err != nil {
		return err
	}
	name, err := symtab.NameAt(m, int(rela.Sym()))
	if err != nil {
		return err
	}

	ref, err := m.FindSymbol(name, sec.Obj)
	if err != nil {
		m.Log.Warn("tls symbol not found, relocation skipped", log.Fn(name))
		return nil
	}

	id, ok := share.Get(&m.Objects.MustGet(ref.Obj).Shared, ModuleIDKey)
	if !ok {
		return &InvalidModuleError{ID: 0}
	}
	start, ok := starts[id]
	if !ok {
		return &InvalidModuleError{ID: id}
	}

	// tp + value must land on start + st_value; the written value is the
	// negated distance of the module image below the thread pointer.
	offset := int64(tcb) - int64(start)
	value := -offset + int64(ref.Sym.Value)

	target := base + uintptr(rela.Off)
	switch width {
	case 64:
		mem.PokeU64(target, uint64(value))
	case 32:
		mem.PokeU32(target, uint32(value))
	}

	m.Log.Debug("tpoff applied",
		log.Fn(name),
		log.Ptr("value", uint64(value)))
	return nil
}
