package main

import (
	"debug/elf"
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/elfview"
	"github.com/zboralski/fold/internal/hooks"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
)

// codeArenaSize bounds the stub code the installer can emit.
const codeArenaSize = 64 * 1024

// Installer walks relocation sections after the general relocator ran and
// re-points the JUMP_SLOT of every hooked symbol at a generated stub. Stubs
// live in one RWX arena mapped by the installer.
type Installer struct {
	registry *hooks.Registry
	code     *mem.MappingMut
	off      uintptr
}

// NewInstaller creates the trampoline installer backed by the given hook
// registry.
func NewInstaller(registry *hooks.Registry) *Installer {
	return &Installer{registry: registry}
}

// Name implements pipeline.Module.
func (i *Installer) Name() string {
	return "trampoline-installer"
}

// ProcessSection implements pipeline.SectionProcessor for SHT_RELA sections.
func (i *Installer) ProcessSection(m *manifold.Manifold, hsec arena.Handle[manifold.Section]) error {
	sec := m.Sections.MustGet(hsec)
	obj := m.Objects.MustGet(sec.Obj)
	base := obj.LoadBias()

	relas, err := manifold.SectionTable(sec, elfview.RelaSize, elfview.DecodeRela)
	if err != nil {
		return err
	}

	linked, err := sec.Linked(m)
	if err != nil {
		return err
	}
	symtab, err := linked.AsDynamicSymbolTable()
	if err != nil {
		// Relocation sections linked to a non-dynamic table carry nothing
		// hookable.
		return nil
	}

	for _, rela := range relas.All() {
		if elf.R_X86_64(rela.Type()) != elf.R_X86_64_JMP_SLOT {
			continue
		}
		name, err := symtab.NameAt(m, int(rela.Sym()))
		if err != nil || name == "" {
			continue
		}
		hook, ok := i.registry.Match(name)
		if !ok {
			continue
		}

		slot := base + uintptr(rela.Off)
		// The general relocator already resolved the slot to the real
		// function; that value is the stub's chain target.
		target := uintptr(mem.PeekU64(slot))
		if target == 0 {
			m.Log.Warn("hooked symbol unresolved, skipping", log.Fn(name))
			continue
		}

		stub, err := i.emit(hook, target)
		if err != nil {
			return err
		}
		mem.PokeU64(slot, uint64(stub))

		m.Log.Info("hook installed",
			log.Fn(name),
			log.Ptr("stub", uint64(stub)),
			log.Ptr("target", uint64(target)))
		i.logStubHead(m, stub)
	}
	return nil
}

// emit places the hook's generated code in the arena and returns its
// address.
func (i *Installer) emit(hook *hooks.Hook, target uintptr) (uintptr, error) {
	if i.code == nil {
		region, err := mem.Reserve(codeArenaSize)
		if err != nil {
			return 0, err
		}
		i.code = region
	}

	// 16-byte align each stub.
	i.off = (i.off + 15) &^ 15
	addr := i.code.Addr() + i.off

	body := hook.Build(addr, target)
	if i.off+uintptr(len(body)) > i.code.Size() {
		return 0, fmt.Errorf("trampoline code arena full (%#x bytes)", codeArenaSize)
	}
	mem.Copy(addr, body)
	i.off += uintptr(len(body))
	return addr, nil
}

// logStubHead decodes the first instruction of a freshly-emitted stub; a
// decode failure means the emitter produced garbage.
func (i *Installer) logStubHead(m *manifold.Manifold, stub uintptr) {
	code := mem.SliceAt(stub, 16)
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		m.Log.Warn("stub head does not decode", log.Addr(uint64(stub)))
		return
	}
	m.Log.Debug("stub head",
		log.Addr(uint64(stub)),
		log.Fn(strings.ToLower(x86asm.IntelSyntax(inst, uint64(stub), nil))))
}
