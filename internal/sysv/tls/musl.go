package tls

import (
	"unsafe"

	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/share"
)

// ThreadControlBlock mirrors musl's struct pthread far enough for the
// fields the loader initializes. Pointer fields are uintptrs: they refer to
// loader-owned mappings, never to Go-managed memory.
type ThreadControlBlock struct {
	Self       uintptr // points back at the TCB; FS-relative code reads it
	DTV        uintptr
	Prev       uintptr
	Next       uintptr
	Sysinfo    uintptr
	StackGuard uint64

	// musl specific entries
	Tid           uint32
	Errno         uint32
	DetachState   uint32
	Cancel        uint32
	CancelDisable uint8
	CancelAsync   uint8
	Flags         uint8
	MapBase       uintptr
	MapSize       uintptr
	Stack         uintptr
	StackSize     uintptr
	GuardSize     uintptr
	Result        uintptr
	CancelBuf     uintptr
	TSD           uintptr
	RobustList    RobustList
	HErrno        uint32
	TimerID       uint32
	Locale        uintptr
	KillLock      uint32
	DlerrorBuf    uintptr
	StdioLocks    uintptr
}

// RobustList mirrors musl's robust futex list header.
type RobustList struct {
	Head    uintptr
	Off     uint64
	Pending uintptr
}

// Libc mirrors the head of musl's __libc structure: the fields the loader
// must fill so that musl's TLS internals find the image the loader built.
type Libc struct {
	CanDoThreads  uint8
	Threaded      uint8
	Secure        uint8
	NeedLocks     int8
	ThreadsMinus1 uint32
	Auxv          uintptr
	TLSHead       uintptr
	TLSSize       uintptr
	TLSAlign      uintptr
	TLSCnt        uintptr
	PageSize      uintptr
}

// ModuleNode mirrors musl's struct tls_module, the linked list its dynamic
// TLS code walks.
type ModuleNode struct {
	Next   uintptr
	Image  uintptr
	Len    uintptr
	Size   uintptr
	Align  uintptr
	Offset uintptr
}

// detachJoinable is musl's DT_JOINABLE detach state.
const detachJoinable = 2

// Shared-map keys for the musl interop surface.
var (
	// LibcKey holds the loaded address of musl's __libc structure.
	LibcKey = share.NewKey[uintptr]("musl-libc")
	// SysinfoKey holds the loaded address of musl's __sysinfo word.
	SysinfoKey = share.NewKey[uintptr]("musl-sysinfo")
	// ModuleListKey pins the loader-built tls_module nodes.
	ModuleListKey = share.NewKey[[]*ModuleNode]("musl-tls-modules")
)

// locateMusl finds the libc object and records the loaded addresses of
// __libc and __sysinfo. Absence of a libc is not an error: static programs
// have none.
func locateMusl(m *manifold.Manifold) {
	hobj, ok := m.FindObjectBySuffix("libc.so")
	if !ok {
		m.Log.Debug("no libc.so object, skipping musl interop")
		return
	}
	base := m.Objects.MustGet(hobj).LoadBias()

	for _, probe := range []struct {
		name string
		key  share.Key[uintptr]
	}{
		{"__libc", LibcKey},
		{"__sysinfo", SysinfoKey},
	} {
		ref, err := m.FindSymbol(probe.name, hobj)
		if err != nil {
			m.Log.Warn("musl symbol not found", log.Fn(probe.name))
			continue
		}
		addr := base + uintptr(ref.Sym.Value)
		m.Log.Debug("located musl symbol", log.Fn(probe.name), log.Addr(uint64(addr)))
		share.Put(&m.Shared, probe.key, addr)
	}
}

// linkMuslModules publishes the loader-built TLS image to musl: fills the
// __libc TLS bookkeeping fields and chains one tls_module node per loaded
// module.
func linkMuslModules(m *manifold.Manifold, modules []Module, layout Layout, block uintptr) {
	libcAddr, ok := share.Get(&m.Shared, LibcKey)
	if !ok {
		return
	}
	libc := (*Libc)(unsafe.Pointer(libcAddr))

	var nodes []*ModuleNode
	var head *ModuleNode
	var prev *ModuleNode
	for _, mod := range modules {
		seg := m.Segments.MustGet(mod.Segment)
		node := &ModuleNode{
			Image:  block + layout.ModuleStart[mod.ID],
			Len:    uintptr(seg.FileSize),
			Size:   uintptr(seg.MemSize),
			Align:  uintptr(seg.Align),
			Offset: layout.TCBOff - layout.ModuleStart[mod.ID],
		}
		nodes = append(nodes, node)
		if prev != nil {
			prev.Next = uintptr(unsafe.Pointer(node))
		} else {
			head = node
		}
		prev = node
	}

	libc.CanDoThreads = 1
	libc.TLSCnt = 1
	libc.TLSSize = layout.Total
	libc.TLSAlign = 64
	if head != nil {
		libc.TLSHead = uintptr(unsafe.Pointer(head))
	}

	// The nodes are Go-allocated; pin them in the shared map so they stay
	// reachable for the lifetime of the process.
	share.Put(&m.Shared, ModuleListKey, nodes)
}
