package manifold

import (
	"debug/elf"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/elfview"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
)

// Segment is one program header of an object: the on-disk byte range and,
// once the loader ran, the read-write mapping of the in-memory image.
type Segment struct {
	// File image slice covering [p_offset, p_offset+p_filesz).
	Data []byte
	// In-memory loaded image, absent before the loader ran. Covers at least
	// MemSize bytes starting at base+Vaddr.
	Loaded *mem.MappingMut

	// The object containing this segment.
	Obj arena.Handle[Object]

	Tag      elf.ProgType
	Flags    elf.ProgFlag
	Off      uint64
	Vaddr    uint64
	Paddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64

	// Shared state specific to this segment.
	Shared share.Map
}

func newSegment(ph elfview.Phdr, obj arena.Handle[Object], raw []byte) Segment {
	var data []byte
	if end := ph.Off + ph.Filesz; end <= uint64(len(raw)) && end >= ph.Off {
		data = raw[ph.Off:end]
	}
	return Segment{
		Data:     data,
		Obj:      obj,
		Tag:      elf.ProgType(ph.Type),
		Flags:    elf.ProgFlag(ph.Flags),
		Off:      ph.Off,
		Vaddr:    ph.Vaddr,
		Paddr:    ph.Paddr,
		FileSize: ph.Filesz,
		MemSize:  ph.Memsz,
		Align:    ph.Align,
	}
}
