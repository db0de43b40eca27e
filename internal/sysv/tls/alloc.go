package tls

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
)

// archSetFS is the arch_prctl code installing the FS segment base.
const archSetFS = 0x1002

// stackGuard seeds the TCB canary.
// TODO: generate a random value instead of a fixed constant.
const stackGuard = 0xDEADBEEF

// Allocator builds the initial thread's TLS block in one anonymous mapping
// laid out as DTV | padding | modules data | TCB, copies every module's
// initial image, initializes the TCB, wires musl's bookkeeping and installs
// the FS base.
type Allocator struct{}

// Name implements pipeline.Module.
func (a *Allocator) Name() string {
	return "tls-allocator"
}

// ProcessManifold implements pipeline.ManifoldProcessor.
func (a *Allocator) ProcessManifold(m *manifold.Manifold) error {
	tcb, err := a.build(m)
	if err != nil {
		return err
	}
	return installFS(tcb)
}

// build does everything except touching the FS register, so tests can
// exercise the layout without destroying the Go runtime's own TLS.
func (a *Allocator) build(m *manifold.Manifold) (uintptr, error) {
	modules := share.GetOr(&m.Shared, ModulesKey, nil)

	extents := make([]ModuleExtent, 0, len(modules))
	for _, mod := range modules {
		seg := m.Segments.Get(mod.Segment)
		if seg == nil {
			return 0, &InvalidModuleError{ID: mod.ID}
		}
		extents = append(extents, ModuleExtent{
			ID:    mod.ID,
			Size:  uintptr(seg.MemSize),
			File:  uintptr(seg.FileSize),
			Align: uintptr(seg.Align),
		})
	}

	layout, err := Compute(extents)
	if err != nil {
		return 0, err
	}

	block, err := mem.MapAnon(layout.Total)
	if err != nil {
		return 0, err
	}
	base := block.Addr()

	// DTV slot 0 holds the module count; slot i the i-th module's image.
	dtv := base + layout.DTVOff
	mem.PokeU64(dtv, uint64(len(modules)))

	// Copy initial images in reverse module order, each ending where the
	// previous began, the whole static area ending at the TCB.
	starts := make(map[int]uintptr, len(modules))
	for i := len(modules) - 1; i >= 0; i-- {
		mod := modules[i]
		seg := m.Segments.MustGet(mod.Segment)
		start := base + layout.ModuleStart[mod.ID]

		mem.Copy(start, seg.Data[:seg.FileSize])
		if seg.MemSize > seg.FileSize {
			mem.Zero(start+uintptr(seg.FileSize), uintptr(seg.MemSize-seg.FileSize))
		}

		starts[mod.ID] = start
		mem.PokeU64(dtv+uintptr(mod.ID)*wordSize, uint64(start))

		m.Log.Info("tls image placed",
			log.Ptr("id", uint64(mod.ID)),
			log.Addr(uint64(start)),
			log.Size(seg.MemSize))
	}

	tcbAddr := base + layout.TCBOff
	tcb := (*ThreadControlBlock)(unsafe.Pointer(tcbAddr))
	*tcb = ThreadControlBlock{
		Self:        tcbAddr,
		DTV:         dtv,
		Prev:        tcbAddr,
		Next:        tcbAddr,
		StackGuard:  stackGuard,
		Tid:         uint32(unix.Gettid()),
		DetachState: detachJoinable,
	}
	tcb.RobustList.Head = uintptr(unsafe.Pointer(&tcb.RobustList.Head))

	locateMusl(m)
	linkMuslModules(m, modules, layout, base)

	share.Put(&m.Shared, TCBKey, tcbAddr)
	share.Put(&m.Shared, ModuleStartsKey, starts)

	m.Log.Info("tls block built",
		log.Addr(uint64(base)),
		log.Ptr("tcb", uint64(tcbAddr)),
		log.Size(uint64(layout.Total)))
	return tcbAddr, nil
}

// installFS points the FS segment base at the TCB.
func installFS(tcb uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_ARCH_PRCTL, archSetFS, tcb, 0); errno != 0 {
		return errno
	}
	return nil
}
