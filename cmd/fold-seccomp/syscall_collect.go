package main

import (
	"debug/elf"

	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
)

// SyscallCollect inventories the undefined dynamic symbols of every object
// before anything is loaded: the imports the seccomp policy has to account
// for.
type SyscallCollect struct {
	// Imports holds the collected symbol names after the phase ran.
	Imports []string
}

// Name implements pipeline.Module.
func (c *SyscallCollect) Name() string {
	return "syscall-collect"
}

// ProcessManifold implements pipeline.ManifoldProcessor.
func (c *SyscallCollect) ProcessManifold(m *manifold.Manifold) error {
	seen := make(map[string]bool)

	for _, obj := range m.Objects.All() {
		for _, hs := range obj.Sections {
			sec := m.Sections.Get(hs)
			if sec == nil || sec.Tag != elf.SHT_DYNSYM {
				continue
			}
			symtab, err := sec.AsDynamicSymbolTable()
			if err != nil {
				continue
			}
			for sym, name := range symtab.Symbols(m) {
				if name == "" || sym.Shndx != uint16(elf.SHN_UNDEF) || seen[name] {
					continue
				}
				seen[name] = true
				c.Imports = append(c.Imports, name)
				m.Log.Info("import", log.Obj(obj.DisplayPath()), log.Fn(name))
			}
		}
	}
	return nil
}
