package sysv

import (
	"debug/elf"

	"github.com/zboralski/fold/internal/config"
	"github.com/zboralski/fold/internal/filter"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/pipeline"
	"github.com/zboralski/fold/internal/share"
	"github.com/zboralski/fold/internal/sysv/tls"
)

// DefaultChain wires the standard System V loading pipeline:
//
//	collect → load → tls collect → tls alloc → relocation →
//	tls relocation → protect → init array → fini array → start
//
// Example linkers start from this chain and splice their own phases in with
// the driver's cursors.
func DefaultChain(cfg *config.Config, logger *log.Logger) *pipeline.Fold {
	f := pipeline.New(cfg.Target, cfg.Env, logger)

	share.Put(f.ShareMap(), SearchPathsKey, cfg.SearchPaths)
	share.Put(f.ShareMap(), RemapKey, cfg.Remap)

	f.Register("collect", NewCollector(), filter.SectionType(elf.SHT_DYNAMIC)).
		Register("load", &Loader{}, filter.SegmentType(elf.PT_LOAD)).
		Register("tls collect", &tls.Collector{}, filter.AnyObject()).
		Register("tls alloc", &tls.Allocator{}, filter.Manifold()).
		Register("relocation", NewReloc(), filter.AnyObject()).
		Register("tls relocation", tls.NewRelocator(), filter.SectionType(elf.SHT_RELA)).
		Register("protect", &Protect{}, filter.SegmentType(elf.PT_LOAD)).
		Register("init array", &InitArray{}, filter.SectionType(elf.SHT_INIT_ARRAY)).
		Register("fini array", &InitArray{}, filter.SectionType(elf.SHT_FINI_ARRAY)).
		Register("start", &Start{}, filter.AnyObject())

	return f
}
