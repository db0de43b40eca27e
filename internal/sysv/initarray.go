package sysv

import (
	"encoding/binary"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
)

// InitArray runs the function pointers of an init or fini array section,
// each adjusted by the owning object's base. The same module serves both the
// init-array and the fini-array phase; which sections it sees is decided by
// the registered filter.
type InitArray struct{}

// Name implements pipeline.Module.
func (i *InitArray) Name() string {
	return "sysv-init-array"
}

// ProcessSection implements pipeline.SectionProcessor.
func (i *InitArray) ProcessSection(m *manifold.Manifold, hsec arena.Handle[manifold.Section]) error {
	sec := m.Sections.MustGet(hsec)
	obj := m.Objects.MustGet(sec.Obj)
	base := obj.LoadBias()

	ptrs, err := manifold.SectionTable(sec, 8, func(b []byte) uint64 {
		return binary.LittleEndian.Uint64(b)
	})
	if err != nil {
		return err
	}

	for _, ptr := range ptrs.All() {
		if ptr == 0 {
			continue
		}
		fn := base + uintptr(ptr)
		m.Log.Info("calling initializer",
			log.Obj(obj.DisplayPath()),
			log.Ptr("fn", ptr),
			log.Addr(uint64(fn)))
		callNoArgs(fn)
	}
	return nil
}
