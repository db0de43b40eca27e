package sysv

import (
	"debug/elf"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
)

// LoadedMappingKey holds a segment's in-memory mapping in the segment's
// shared map once the loader ran.
var LoadedMappingKey = share.NewKey[*mem.MappingMut]("sysv-loader-mapping")

// Loader maps PT_LOAD segments into memory. The first loadable segment of an
// object triggers a single reservation large enough for the object's whole
// image at an OS-chosen address; that address becomes the object's base and
// every later segment is mapped at base+vaddr with MAP_FIXED. Regions start
// read-write-execute and are tightened by the protect phase.
type Loader struct{}

// Name implements pipeline.Module.
func (l *Loader) Name() string {
	return "sysv-loader"
}

// ProcessSegment implements pipeline.SegmentProcessor for PT_LOAD segments.
func (l *Loader) ProcessSegment(m *manifold.Manifold, hseg arena.Handle[manifold.Segment]) error {
	seg := m.Segments.MustGet(hseg)
	obj := m.Objects.MustGet(seg.Obj)

	if seg.MemSize == 0 {
		return nil
	}

	base, haveBase := share.Get(&obj.Shared, manifold.BaseAddrKey)
	firstSegment := !haveBase
	if !haveBase {
		span, err := objectSpan(m, obj)
		if err != nil {
			return err
		}
		reservation, err := mem.Reserve(mem.PageAlignUp(span))
		if err != nil {
			return err
		}
		base = reservation.Addr()
		share.Put(&obj.Shared, manifold.BaseAddrKey, base)
		m.Log.Info("object base", log.Obj(obj.DisplayPath()), log.Addr(uint64(base)),
			log.Size(uint64(span)))
	}

	target := base + uintptr(seg.Vaddr)
	start := mem.PageAlignDown(target)
	size := mem.PageAlignUp(uintptr(seg.MemSize) + (target - start))

	var mapping *mem.MappingMut
	if firstSegment {
		// The reservation already covers this range.
		mapping = mem.View(start, size)
	} else {
		var err error
		mapping, err = mem.MapFixed(start, size)
		if err != nil {
			return err
		}
	}

	if uint64(len(seg.Data)) < seg.FileSize {
		return fmt.Errorf("segment at vaddr %#x: file image truncated (%d < %d bytes)",
			seg.Vaddr, len(seg.Data), seg.FileSize)
	}
	mem.Copy(target, seg.Data[:seg.FileSize])
	if seg.MemSize > seg.FileSize {
		mem.Zero(target+uintptr(seg.FileSize), uintptr(seg.MemSize-seg.FileSize))
	}

	seg.Loaded = mapping
	share.Put(&seg.Shared, LoadedMappingKey, mapping)

	m.Log.Info("segment loaded",
		log.Obj(obj.DisplayPath()),
		log.Ptr("vaddr", seg.Vaddr),
		log.Addr(uint64(target)),
		log.Size(seg.MemSize))
	return nil
}

// objectSpan returns the object's maximum vaddr+mem_size over its PT_LOAD
// segments: the size the initial reservation must cover so that every
// segment lands inside it.
func objectSpan(m *manifold.Manifold, obj *manifold.Object) (uintptr, error) {
	var span uint64
	for _, hs := range obj.Segments {
		s := m.Segments.Get(hs)
		if s == nil || s.Tag != elf.PT_LOAD {
			continue
		}
		if end := s.Vaddr + s.MemSize; end > span {
			span = end
		}
	}
	if span == 0 {
		return 0, fmt.Errorf("%s: no loadable segments", obj.DisplayPath())
	}
	return uintptr(span), nil
}

// flagsToProt translates PF_* segment flags to PROT_* bits.
func flagsToProt(flags elf.ProgFlag) int {
	prot := 0
	if flags&elf.PF_R != 0 {
		prot |= unix.PROT_READ
	}
	if flags&elf.PF_W != 0 {
		prot |= unix.PROT_WRITE
	}
	if flags&elf.PF_X != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}
