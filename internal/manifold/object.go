package manifold

import (
	"debug/elf"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/elfview"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
)

// Object is one ELF file brought into the process. Its segment and section
// handle slices follow the ELF header's own ordering, so an st_shndx or a
// sh_link dereferences Sections directly.
type Object struct {
	// Path in the filesystem, for diagnostics.
	Path string
	// Raw content of the file, shared with the object's sections.
	Mapping *mem.Mapping

	// Handles into the manifold, in header order.
	Sections []arena.Handle[Section]
	Segments []arena.Handle[Segment]
	// Objects this one depends on, in discovery order. Populated by the
	// collector.
	Dependencies []arena.Handle[Object]

	OSABI     byte
	Type      elf.Type
	Machine   elf.Machine
	Entry     uint64
	Shoff     uint64
	Shentsize uint16
	Shnum     uint16
	Phoff     uint64
	Phentsize uint16
	Phnum     uint16
	Shstrndx  uint16

	// Shared state specific to this object (notably the PIE base once the
	// loader assigns it).
	Shared share.Map
}

func newObject(mapping *mem.Mapping, path string) (Object, error) {
	hdr, err := elfview.DecodeHeader(mapping.Bytes())
	if err != nil {
		return Object{}, err
	}
	if !hdr.ValidIdent() {
		return Object{}, ErrInvalidELF
	}

	return Object{
		Path:      path,
		Mapping:   mapping,
		OSABI:     hdr.OSABI(),
		Type:      elf.Type(hdr.Type),
		Machine:   elf.Machine(hdr.Machine),
		Entry:     hdr.Entry,
		Shoff:     hdr.Shoff,
		Shentsize: hdr.Shentsize,
		Shnum:     hdr.Shnum,
		Phoff:     hdr.Phoff,
		Phentsize: hdr.Phentsize,
		Phnum:     hdr.Phnum,
		Shstrndx:  hdr.Shstrndx,
	}, nil
}

// Raw returns the whole file image.
func (o *Object) Raw() []byte {
	return o.Mapping.Bytes()
}

// DisplayPath returns the path for diagnostics.
func (o *Object) DisplayPath() string {
	if o.Path == "" {
		return "<anonymous>"
	}
	return o.Path
}

// ProgramHeaders returns a table over the program header table.
func (o *Object) ProgramHeaders() (elfview.Table[elfview.Phdr], error) {
	return elfview.NewTable(o.Raw(), int(o.Phoff), int(o.Phnum), int(o.Phentsize),
		elfview.PhdrSize, elfview.DecodePhdr)
}

// SectionHeaders returns a table over the section header table.
func (o *Object) SectionHeaders() (elfview.Table[elfview.Shdr], error) {
	return elfview.NewTable(o.Raw(), int(o.Shoff), int(o.Shnum), int(o.Shentsize),
		elfview.ShdrSize, elfview.DecodeShdr)
}

// LoadBias returns the object's assigned base, or 0 before the loader ran.
func (o *Object) LoadBias() uintptr {
	return share.GetOr(&o.Shared, BaseAddrKey, 0)
}

// BaseAddrKey holds the load base the loader assigned to an object, in the
// object's shared map. All PT_LOAD segments of the object share it.
var BaseAddrKey = share.NewKey[uintptr]("sysv-loader-base-addr")
