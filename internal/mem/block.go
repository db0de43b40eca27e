package mem

import "fmt"

// Block is a bump allocator over an anonymous mapping. The start module uses
// it for the argument and environment strings, which must outlive the jump
// into the loaded program: the region sits outside the Go heap and is never
// reclaimed.
type Block struct {
	m   *MappingMut
	off uintptr
}

// NewBlock maps a block of the given size.
func NewBlock(size uintptr) (*Block, error) {
	m, err := MapAnon(PageAlignUp(size))
	if err != nil {
		return nil, err
	}
	return &Block{m: m}, nil
}

func (b *Block) alloc(n, align uintptr) (uintptr, error) {
	off := (b.off + align - 1) &^ (align - 1)
	if off+n > b.m.Size() {
		return 0, fmt.Errorf("block exhausted: need %#x bytes, %#x left", n, b.m.Size()-off)
	}
	b.off = off + n
	return b.m.Addr() + off, nil
}

// CString copies s plus a NUL terminator into the block and returns its
// address.
func (b *Block) CString(s string) (uintptr, error) {
	addr, err := b.alloc(uintptr(len(s))+1, 1)
	if err != nil {
		return 0, err
	}
	Copy(addr, []byte(s))
	PokeU8(addr+uintptr(len(s)), 0)
	return addr, nil
}

// Words copies ws into the block, 8-byte aligned, and returns the address of
// the first word.
func (b *Block) Words(ws []uint64) (uintptr, error) {
	addr, err := b.alloc(uintptr(len(ws))*8, 8)
	if err != nil {
		return 0, err
	}
	for i, w := range ws {
		PokeU64(addr+uintptr(i)*8, w)
	}
	return addr, nil
}
