// Package mem wraps the mmap surface the linker needs: read-only file
// mappings, anonymous reservations, fixed-address maps, and raw access to
// absolute addresses inside loaded segments.
package mem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the x86-64 page size. Addresses handed to mmap/mprotect are
// aligned down to it and sizes padded by the in-page offset.
const PageSize = 0x1000

// PageAlignDown aligns addr down to a page boundary.
func PageAlignDown(addr uintptr) uintptr {
	return addr &^ (PageSize - 1)
}

// PageAlignUp aligns n up to a page boundary.
func PageAlignUp(n uintptr) uintptr {
	return (n + PageSize - 1) &^ (PageSize - 1)
}

// Mapping is a read-only contiguous byte range in the process address space,
// optionally backed by a file descriptor that is released when the mapping
// is destroyed.
type Mapping struct {
	bytes []byte
	fd    int // -1 when anonymous
}

// Bytes returns the mapped region.
func (m *Mapping) Bytes() []byte {
	return m.bytes
}

// Len returns the size of the mapped region.
func (m *Mapping) Len() int {
	return len(m.bytes)
}

// Close unmaps the region and releases the backing descriptor, if any.
func (m *Mapping) Close() error {
	var err error
	if m.bytes != nil {
		err = unix.Munmap(m.bytes)
		m.bytes = nil
	}
	if m.fd >= 0 {
		if cerr := unix.Close(m.fd); err == nil {
			err = cerr
		}
		m.fd = -1
	}
	return err
}

// MappingMut is a read-write contiguous byte range in the process address
// space. Segments loaded for execution are MappingMuts; after control
// transfer they belong to the program and are never unmapped.
type MappingMut struct {
	addr uintptr
	size uintptr
}

// Addr returns the start address of the region.
func (m *MappingMut) Addr() uintptr {
	return m.addr
}

// Size returns the size of the region.
func (m *MappingMut) Size() uintptr {
	return m.size
}

// Bytes returns the region as a byte slice.
func (m *MappingMut) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(m.addr)), m.size)
}

// Close unmaps the region.
func (m *MappingMut) Close() error {
	if m.addr == 0 {
		return nil
	}
	err := unix.MunmapPtr(unsafe.Pointer(m.addr), m.size)
	m.addr, m.size = 0, 0
	return err
}

// OpenFileRO opens path read-only, rejecting directories.
func OpenFileRO(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return -1, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return -1, fmt.Errorf("open %s: is a directory", path)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	return fd, nil
}

// MapFile maps the whole file read-only and private. The mapping owns fd.
func MapFile(fd int) (*Mapping, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("fstat: %w", err)
	}
	b, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Mapping{bytes: b, fd: fd}, nil
}

// MapBytes wraps an in-memory image as a Mapping without any backing file.
// Used by tests that synthesize ELF images.
func MapBytes(b []byte) *Mapping {
	return &Mapping{bytes: b, fd: -1}
}

// Reserve maps an anonymous private read-write-execute region of the given
// size at an OS-chosen address. The loader uses one reservation per object
// to fix its base before mapping individual segments into it.
func Reserve(size uintptr) (*MappingMut, error) {
	p, err := unix.MmapPtr(-1, 0, nil, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap reserve %#x bytes: %w", size, err)
	}
	return &MappingMut{addr: uintptr(p), size: size}, nil
}

// MapFixed maps an anonymous private read-write-execute region at exactly
// addr, which must be page-aligned. Existing mappings in the range are
// replaced.
func MapFixed(addr, size uintptr) (*MappingMut, error) {
	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED)
	if err != nil {
		return nil, fmt.Errorf("mmap fixed at %#x (%#x bytes): %w", addr, size, err)
	}
	if uintptr(p) != addr {
		return nil, fmt.Errorf("mmap fixed at %#x returned %#x", addr, uintptr(p))
	}
	return &MappingMut{addr: addr, size: size}, nil
}

// View describes an already-mapped region as a MappingMut without taking
// ownership of it. The loader uses it for the segment that lives inside an
// object's initial reservation.
func View(addr, size uintptr) *MappingMut {
	return &MappingMut{addr: addr, size: size}
}

// MapAnon maps an anonymous private read-write region of the given size at
// an OS-chosen address.
func MapAnon(size uintptr) (*MappingMut, error) {
	p, err := unix.MmapPtr(-1, 0, nil, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap anon %#x bytes: %w", size, err)
	}
	return &MappingMut{addr: uintptr(p), size: size}, nil
}

// Protect changes the protection of the page-aligned range covering
// [addr, addr+size) to prot (unix.PROT_* bits).
func Protect(addr, size uintptr, prot int) error {
	start := PageAlignDown(addr)
	size += addr - start
	if _, _, errno := unix.Syscall(unix.SYS_MPROTECT, start, size, uintptr(prot)); errno != 0 {
		return fmt.Errorf("mprotect %#x (%#x bytes, prot %#x): %w", start, size, prot, errno)
	}
	return nil
}
