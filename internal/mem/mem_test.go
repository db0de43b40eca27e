package mem

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"
)

func TestPageAlign(t *testing.T) {
	tests := []struct {
		addr, down, up uintptr
	}{
		{0, 0, 0},
		{1, 0, PageSize},
		{PageSize, PageSize, PageSize},
		{PageSize + 1, PageSize, 2 * PageSize},
	}
	for _, tt := range tests {
		if got := PageAlignDown(tt.addr); got != tt.down {
			t.Errorf("PageAlignDown(%#x) = %#x, want %#x", tt.addr, got, tt.down)
		}
		if got := PageAlignUp(tt.addr); got != tt.up {
			t.Errorf("PageAlignUp(%#x) = %#x, want %#x", tt.addr, got, tt.up)
		}
	}
}

func TestPokePeek(t *testing.T) {
	m, err := MapAnon(PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	addr := m.Addr() + 3 // deliberately unaligned
	PokeU64(addr, 0x1122334455667788)
	if got := PeekU64(addr); got != 0x1122334455667788 {
		t.Errorf("PeekU64 = %#x", got)
	}

	PokeU32(addr, 0xCAFEBABE)
	PokeU16(addr+4, 0xBEEF)
	PokeU8(addr+6, 0x7F)
	b := SliceAt(addr, 7)
	want := []byte{0xBE, 0xBA, 0xFE, 0xCA, 0xEF, 0xBE, 0x7F}
	if !bytes.Equal(b, want) {
		t.Errorf("bytes = %x, want %x", b, want)
	}
}

func TestCopyZero(t *testing.T) {
	m, err := MapAnon(PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	Copy(m.Addr(), []byte("hello"))
	if string(SliceAt(m.Addr(), 5)) != "hello" {
		t.Error("Copy did not land")
	}
	Zero(m.Addr(), 5)
	for _, b := range SliceAt(m.Addr(), 5) {
		if b != 0 {
			t.Fatal("Zero left data behind")
		}
	}
}

func TestBlock(t *testing.T) {
	b, err := NewBlock(256)
	if err != nil {
		t.Fatal(err)
	}

	s1, err := b.CString("hi there")
	if err != nil {
		t.Fatal(err)
	}
	got := SliceAt(s1, 9)
	if string(got[:8]) != "hi there" || got[8] != 0 {
		t.Errorf("CString bytes = %q", got)
	}

	w, err := b.Words([]uint64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if w%8 != 0 {
		t.Errorf("Words address %#x unaligned", w)
	}
	if PeekU64(w) != 1 || PeekU64(w+16) != 3 {
		t.Error("Words contents wrong")
	}
}

func TestBlockExhaustion(t *testing.T) {
	b, err := NewBlock(16)
	if err != nil {
		t.Fatal(err)
	}
	// The block rounds up to a page; fill past it.
	if _, err := b.alloc(2*PageSize, 1); err == nil {
		t.Fatal("over-allocation succeeded")
	}
}

func TestReserveAndFixed(t *testing.T) {
	r, err := Reserve(4 * PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.Addr()%PageSize != 0 {
		t.Fatalf("reservation at %#x not page aligned", r.Addr())
	}

	// Remap one page of the reservation in place.
	fixed, err := MapFixed(r.Addr()+PageSize, PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if fixed.Addr() != r.Addr()+PageSize {
		t.Errorf("fixed mapping moved to %#x", fixed.Addr())
	}
	Copy(fixed.Addr(), []byte{0xAA})
	if SliceAt(fixed.Addr(), 1)[0] != 0xAA {
		t.Error("fixed mapping not writable")
	}
}

func TestProtect(t *testing.T) {
	m, err := MapAnon(2 * PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	Copy(m.Addr(), []byte("x"))
	// Unaligned address: Protect aligns down and pads the size.
	if err := Protect(m.Addr()+8, PageSize, unix.PROT_READ); err != nil {
		t.Fatal(err)
	}
	// Still readable, and a second pass is a no-op error-wise.
	if SliceAt(m.Addr(), 1)[0] != 'x' {
		t.Error("read-only page lost contents")
	}
	if err := Protect(m.Addr()+8, PageSize, unix.PROT_READ); err != nil {
		t.Fatalf("second protect failed: %v", err)
	}
}
