// Package elfview provides thin, non-owning readers over raw ELF64
// little-endian images. Nothing here allocates copies of the file: records
// are decoded on demand from the mapped bytes, and tables are lazy,
// cloneable iterators described either by (offset, count, entsize) or by a
// section header.
package elfview

import (
	"encoding/binary"
	"fmt"
)

// Fixed record sizes for ELF64.
const (
	HeaderSize = 64
	PhdrSize   = 56
	ShdrSize   = 64
	SymSize    = 24
	DynSize    = 16
	RelaSize   = 24
)

var le = binary.LittleEndian

// Header is the ELF64 file header.
type Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// DecodeHeader reads the file header from the start of raw.
func DecodeHeader(raw []byte) (Header, error) {
	var h Header
	if len(raw) < HeaderSize {
		return h, fmt.Errorf("image too small for ELF header: %d bytes", len(raw))
	}
	copy(h.Ident[:], raw[:16])
	h.Type = le.Uint16(raw[16:])
	h.Machine = le.Uint16(raw[18:])
	h.Version = le.Uint32(raw[20:])
	h.Entry = le.Uint64(raw[24:])
	h.Phoff = le.Uint64(raw[32:])
	h.Shoff = le.Uint64(raw[40:])
	h.Flags = le.Uint32(raw[48:])
	h.Ehsize = le.Uint16(raw[52:])
	h.Phentsize = le.Uint16(raw[54:])
	h.Phnum = le.Uint16(raw[56:])
	h.Shentsize = le.Uint16(raw[58:])
	h.Shnum = le.Uint16(raw[60:])
	h.Shstrndx = le.Uint16(raw[62:])
	return h, nil
}

// ValidIdent reports whether the header carries the ELF magic and version 1.
func (h *Header) ValidIdent() bool {
	return h.Ident[0] == 0x7F && h.Ident[1] == 'E' && h.Ident[2] == 'L' && h.Ident[3] == 'F' &&
		h.Ident[6] == 1
}

// OSABI returns the EI_OSABI byte.
func (h *Header) OSABI() byte {
	return h.Ident[7]
}

// Phdr is one ELF64 program header.
type Phdr struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// DecodePhdr decodes a program header record.
func DecodePhdr(b []byte) Phdr {
	return Phdr{
		Type:   le.Uint32(b[0:]),
		Flags:  le.Uint32(b[4:]),
		Off:    le.Uint64(b[8:]),
		Vaddr:  le.Uint64(b[16:]),
		Paddr:  le.Uint64(b[24:]),
		Filesz: le.Uint64(b[32:]),
		Memsz:  le.Uint64(b[40:]),
		Align:  le.Uint64(b[48:]),
	}
}

// Shdr is one ELF64 section header.
type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// DecodeShdr decodes a section header record.
func DecodeShdr(b []byte) Shdr {
	return Shdr{
		Name:      le.Uint32(b[0:]),
		Type:      le.Uint32(b[4:]),
		Flags:     le.Uint64(b[8:]),
		Addr:      le.Uint64(b[16:]),
		Off:       le.Uint64(b[24:]),
		Size:      le.Uint64(b[32:]),
		Link:      le.Uint32(b[40:]),
		Info:      le.Uint32(b[44:]),
		Addralign: le.Uint64(b[48:]),
		Entsize:   le.Uint64(b[56:]),
	}
}

// Sym is one ELF64 symbol table entry.
type Sym struct {
	Name  uint32
	Info  byte
	Other byte
	Shndx uint16
	Value uint64
	Size  uint64
}

// DecodeSym decodes a symbol record.
func DecodeSym(b []byte) Sym {
	return Sym{
		Name:  le.Uint32(b[0:]),
		Info:  b[4],
		Other: b[5],
		Shndx: le.Uint16(b[6:]),
		Value: le.Uint64(b[8:]),
		Size:  le.Uint64(b[16:]),
	}
}

// Binding returns the symbol binding (STB_*), st_info >> 4.
func (s Sym) Binding() byte {
	return s.Info >> 4
}

// SymType returns the symbol type (STT_*), st_info & 0xf.
func (s Sym) SymType() byte {
	return s.Info & 0xf
}

// Dyn is one .dynamic entry.
type Dyn struct {
	Tag int64
	Val uint64
}

// DecodeDyn decodes a dynamic record.
func DecodeDyn(b []byte) Dyn {
	return Dyn{
		Tag: int64(le.Uint64(b[0:])),
		Val: le.Uint64(b[8:]),
	}
}

// Rela is one relocation-with-addend record.
type Rela struct {
	Off    uint64
	Info   uint64
	Addend int64
}

// DecodeRela decodes a Rela record.
func DecodeRela(b []byte) Rela {
	return Rela{
		Off:    le.Uint64(b[0:]),
		Info:   le.Uint64(b[8:]),
		Addend: int64(le.Uint64(b[16:])),
	}
}

// Type returns the relocation type, r_info & 0xffffffff.
func (r Rela) Type() uint32 {
	return uint32(r.Info)
}

// Sym returns the symbol table index, r_info >> 32.
func (r Rela) Sym() uint32 {
	return uint32(r.Info >> 32)
}

// CString returns the NUL-terminated string starting at off in raw.
func CString(raw []byte, off int) (string, error) {
	if off < 0 || off >= len(raw) {
		return "", fmt.Errorf("string offset %d out of bounds (%d bytes)", off, len(raw))
	}
	for i := off; i < len(raw); i++ {
		if raw[i] == 0 {
			return string(raw[off:i]), nil
		}
	}
	return "", fmt.Errorf("unterminated string at offset %d", off)
}
