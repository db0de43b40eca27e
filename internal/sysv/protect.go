package sysv

import (
	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
)

// Protect applies the final page protections: every loaded PT_LOAD segment
// is mprotected to exactly the flags its program header declares. Running
// the phase twice yields the same protection bits.
type Protect struct{}

// Name implements pipeline.Module.
func (p *Protect) Name() string {
	return "sysv-protect"
}

// ProcessSegment implements pipeline.SegmentProcessor for PT_LOAD segments.
func (p *Protect) ProcessSegment(m *manifold.Manifold, hseg arena.Handle[manifold.Segment]) error {
	seg := m.Segments.MustGet(hseg)
	if seg.Loaded == nil || seg.MemSize == 0 {
		return nil
	}

	obj := m.Objects.MustGet(seg.Obj)
	target := obj.LoadBias() + uintptr(seg.Vaddr)
	prot := flagsToProt(seg.Flags)

	if err := mem.Protect(target, uintptr(seg.MemSize), prot); err != nil {
		return err
	}

	m.Log.Info("segment protected",
		log.Obj(obj.DisplayPath()),
		log.Addr(uint64(target)),
		log.Ptr("prot", uint64(prot)))
	return nil
}
