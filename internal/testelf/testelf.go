// Package testelf synthesizes small ELF64 images in memory so that tests can
// exercise parsing, symbol lookup and relocation walks without shipping
// binary fixtures or invoking a toolchain.
package testelf

import (
	"debug/elf"
	"encoding/binary"

	"github.com/zboralski/fold/internal/elfview"
)

var le = binary.LittleEndian

// Section describes one section to place in the image.
type Section struct {
	Name    string
	Type    elf.SectionType
	Flags   elf.SectionFlag
	Addr    uint64
	Link    uint32
	Info    uint32
	Entsize uint64
	Align   uint64
	Data    []byte
}

// Segment describes one program header. Off/Filesz are filled from Data when
// Data is set; otherwise the explicit values are used.
type Segment struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Vaddr  uint64
	Memsz  uint64
	Align  uint64
	Data   []byte
	Off    uint64
	Filesz uint64
}

// Builder accumulates sections and segments and lays out a complete image.
type Builder struct {
	Type     elf.Type
	Entry    uint64
	sections []Section
	segments []Segment
}

// New creates a builder for an image of the given ELF type.
func New(typ elf.Type) *Builder {
	return &Builder{Type: typ}
}

// AddSection appends a section and returns its header index (the null
// section is index 0, so the first added section is 1).
func (b *Builder) AddSection(s Section) int {
	b.sections = append(b.sections, s)
	return len(b.sections)
}

// AddSegment appends a program header.
func (b *Builder) AddSegment(s Segment) {
	b.segments = append(b.segments, s)
}

// SymTab builds the raw bytes of a symbol table from entries.
func SymTab(syms ...elfview.Sym) []byte {
	// Entry 0 is the undefined symbol.
	out := make([]byte, elfview.SymSize*(len(syms)+1))
	for i, s := range syms {
		off := elfview.SymSize * (i + 1)
		le.PutUint32(out[off:], s.Name)
		out[off+4] = s.Info
		out[off+5] = s.Other
		le.PutUint16(out[off+6:], s.Shndx)
		le.PutUint64(out[off+8:], s.Value)
		le.PutUint64(out[off+16:], s.Size)
	}
	return out
}

// MakeSym builds a symbol entry. nameOff indexes the associated string
// table.
func MakeSym(nameOff uint32, bind elf.SymBind, typ elf.SymType, shndx uint16, value, size uint64) elfview.Sym {
	return elfview.Sym{
		Name:  nameOff,
		Info:  byte(bind)<<4 | byte(typ),
		Shndx: shndx,
		Value: value,
		Size:  size,
	}
}

// StrTab builds a string table from names and returns the raw bytes plus the
// offset of each name.
func StrTab(names ...string) ([]byte, []uint32) {
	out := []byte{0}
	offs := make([]uint32, len(names))
	for i, n := range names {
		offs[i] = uint32(len(out))
		out = append(out, n...)
		out = append(out, 0)
	}
	return out, offs
}

// Dynamic builds a .dynamic blob from (tag, val) pairs, terminated by
// DT_NULL.
func Dynamic(entries ...[2]uint64) []byte {
	out := make([]byte, 0, elfview.DynSize*(len(entries)+1))
	for _, e := range entries {
		var rec [elfview.DynSize]byte
		le.PutUint64(rec[0:], e[0])
		le.PutUint64(rec[8:], e[1])
		out = append(out, rec[:]...)
	}
	var null [elfview.DynSize]byte
	return append(out, null[:]...)
}

// Relas builds a relocation section blob.
func Relas(relas ...elfview.Rela) []byte {
	out := make([]byte, elfview.RelaSize*len(relas))
	for i, r := range relas {
		off := elfview.RelaSize * i
		le.PutUint64(out[off:], r.Off)
		le.PutUint64(out[off+8:], r.Info)
		le.PutUint64(out[off+16:], uint64(r.Addend))
	}
	return out
}

// RelaInfo packs (sym, type) into r_info.
func RelaInfo(sym uint32, typ uint32) uint64 {
	return uint64(sym)<<32 | uint64(typ)
}

// Build lays out the image: header, program headers, section data blobs,
// .shstrtab, then the section header table.
func (b *Builder) Build() []byte {
	shstr, nameOffs := buildShstrtab(b.sections)

	// Layout cursor starts after the header and program header table.
	off := uint64(elfview.HeaderSize + elfview.PhdrSize*len(b.segments))

	type placed struct {
		sec  Section
		off  uint64
		size uint64
	}
	var body []byte
	place := func(data []byte, align uint64) uint64 {
		if align > 1 {
			for off%align != 0 {
				body = append(body, 0)
				off++
			}
		}
		at := off
		body = append(body, data...)
		off += uint64(len(data))
		return at
	}

	// Segment payloads go first so program headers can reference them.
	segOffs := make([]uint64, len(b.segments))
	for i, s := range b.segments {
		if s.Data != nil {
			align := s.Align
			if align == 0 {
				align = 8
			}
			segOffs[i] = place(s.Data, align)
		}
	}

	all := make([]placed, 0, len(b.sections)+1)
	for _, s := range b.sections {
		align := s.Align
		if align == 0 {
			align = 8
		}
		at := place(s.Data, align)
		all = append(all, placed{sec: s, off: at, size: uint64(len(s.Data))})
	}
	shstrOff := place(shstr, 1)

	shoff := off

	// Section header table: null section, declared sections, .shstrtab.
	shdrs := make([]byte, elfview.ShdrSize*(len(b.sections)+2))
	for i, p := range all {
		writeShdr(shdrs[elfview.ShdrSize*(i+1):], elfview.Shdr{
			Name:      nameOffs[i],
			Type:      uint32(p.sec.Type),
			Flags:     uint64(p.sec.Flags),
			Addr:      p.sec.Addr,
			Off:       p.off,
			Size:      p.size,
			Link:      p.sec.Link,
			Info:      p.sec.Info,
			Addralign: p.sec.Align,
			Entsize:   p.sec.Entsize,
		})
	}
	shstrndx := len(b.sections) + 1
	writeShdr(shdrs[elfview.ShdrSize*shstrndx:], elfview.Shdr{
		Name: nameOffs[len(b.sections)],
		Type: uint32(elf.SHT_STRTAB),
		Off:  shstrOff,
		Size: uint64(len(shstr)),
	})

	// Program headers.
	phdrs := make([]byte, elfview.PhdrSize*len(b.segments))
	for i, s := range b.segments {
		segOff, filesz := s.Off, s.Filesz
		if s.Data != nil {
			segOff, filesz = segOffs[i], uint64(len(s.Data))
		}
		memsz := s.Memsz
		if memsz == 0 {
			memsz = filesz
		}
		p := phdrs[elfview.PhdrSize*i:]
		le.PutUint32(p[0:], uint32(s.Type))
		le.PutUint32(p[4:], uint32(s.Flags))
		le.PutUint64(p[8:], segOff)
		le.PutUint64(p[16:], s.Vaddr)
		le.PutUint64(p[24:], s.Vaddr)
		le.PutUint64(p[32:], filesz)
		le.PutUint64(p[40:], memsz)
		le.PutUint64(p[48:], s.Align)
	}

	// File header.
	hdr := make([]byte, elfview.HeaderSize)
	copy(hdr, []byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0})
	le.PutUint16(hdr[16:], uint16(b.Type))
	le.PutUint16(hdr[18:], uint16(elf.EM_X86_64))
	le.PutUint32(hdr[20:], 1)
	le.PutUint64(hdr[24:], b.Entry)
	le.PutUint64(hdr[32:], uint64(elfview.HeaderSize))
	le.PutUint64(hdr[40:], shoff)
	le.PutUint16(hdr[52:], elfview.HeaderSize)
	le.PutUint16(hdr[54:], elfview.PhdrSize)
	le.PutUint16(hdr[56:], uint16(len(b.segments)))
	le.PutUint16(hdr[58:], elfview.ShdrSize)
	le.PutUint16(hdr[60:], uint16(len(b.sections)+2))
	le.PutUint16(hdr[62:], uint16(shstrndx))

	img := append(hdr, phdrs...)
	img = append(img, body...)
	img = append(img, shdrs...)
	return img
}

func buildShstrtab(sections []Section) ([]byte, []uint32) {
	names := make([]string, 0, len(sections)+1)
	for _, s := range sections {
		names = append(names, s.Name)
	}
	names = append(names, ".shstrtab")
	return StrTab(names...)
}

func writeShdr(b []byte, s elfview.Shdr) {
	le.PutUint32(b[0:], s.Name)
	le.PutUint32(b[4:], s.Type)
	le.PutUint64(b[8:], s.Flags)
	le.PutUint64(b[16:], s.Addr)
	le.PutUint64(b[24:], s.Off)
	le.PutUint64(b[32:], s.Size)
	le.PutUint32(b[40:], s.Link)
	le.PutUint32(b[44:], s.Info)
	le.PutUint64(b[48:], s.Addralign)
	le.PutUint64(b[56:], s.Entsize)
}
