// Package tls builds the initial thread: it collects PT_TLS segments into
// TLS modules, lays out and fills the DTV + static TLS + TCB block, installs
// the FS base, and applies the TLS relocation family.
package tls

import (
	"debug/elf"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/share"
)

// Module is one TLS module: an object's PT_TLS segment. The initial program
// gets id 1, dependencies get increasing ids in load order.
type Module struct {
	ID      int
	Object  arena.Handle[manifold.Object]
	Segment arena.Handle[manifold.Segment]
}

// Shared-map keys of the TLS subsystem.
var (
	// ModulesKey holds the collected TLS modules, process-wide.
	ModulesKey = share.NewKey[[]Module]("tls-modules")
	// ModuleIDKey holds an object's TLS module id, in the object's map.
	ModuleIDKey = share.NewKey[int]("tls-module-id")
	// TCBKey holds the thread control block address once allocated.
	TCBKey = share.NewKey[uintptr]("tls-tcb-ptr")
	// ModuleStartsKey maps module id to the start of its static TLS image.
	ModuleStartsKey = share.NewKey[map[int]uintptr]("tls-module-starts")
)

// Collector assigns TLS module ids to objects carrying a PT_TLS segment.
type Collector struct{}

// Name implements pipeline.Module.
func (c *Collector) Name() string {
	return "tls-collector"
}

// ProcessObject implements pipeline.ObjectProcessor.
func (c *Collector) ProcessObject(m *manifold.Manifold, hobj arena.Handle[manifold.Object]) error {
	obj := m.Objects.MustGet(hobj)

	for _, hseg := range obj.Segments {
		seg := m.Segments.Get(hseg)
		if seg == nil || seg.Tag != elf.PT_TLS {
			continue
		}

		modules := share.GetOr(&m.Shared, ModulesKey, nil)
		id := len(modules) + 1
		modules = append(modules, Module{ID: id, Object: hobj, Segment: hseg})
		share.Put(&m.Shared, ModulesKey, modules)
		share.Put(&obj.Shared, ModuleIDKey, id)

		m.Log.Info("tls module",
			log.Obj(obj.DisplayPath()),
			log.Ptr("id", uint64(id)),
			log.Size(seg.MemSize))
	}
	return nil
}
