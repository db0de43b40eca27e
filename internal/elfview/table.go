package elfview

import (
	"fmt"
	"iter"
)

// Table is a lazy iterator over fixed-size records packed in a byte slice.
// Tables are values: copying one clones the cursor, matching the original
// ElfItemIterator semantics.
type Table[T any] struct {
	raw  []byte
	off  int
	end  int
	size int
	dec  func([]byte) T
}

// NewTable builds a table from an explicit (offset, count, entsize) triple,
// the shape used for the program and section header tables described by the
// ELF header. want is the decoder's record size; a mismatched entsize is a
// malformed table.
func NewTable[T any](raw []byte, off int, count, entsize int, want int, dec func([]byte) T) (Table[T], error) {
	if count == 0 {
		return Table[T]{dec: dec}, nil
	}
	if entsize != want {
		return Table[T]{}, fmt.Errorf("entry size %d, want %d", entsize, want)
	}
	end := off + count*entsize
	if off < 0 || end > len(raw) {
		return Table[T]{}, fmt.Errorf("table [%#x, %#x) out of bounds (%#x bytes)", off, end, len(raw))
	}
	return Table[T]{raw: raw, off: off, end: end, size: entsize, dec: dec}, nil
}

// NewTableLen builds a table from an (offset, size-in-bytes) pair, the shape
// used for sections whose header gives a byte size rather than a count.
func NewTableLen[T any](raw []byte, off, size int, recSize int, dec func([]byte) T) (Table[T], error) {
	end := off + size
	if off < 0 || end > len(raw) {
		return Table[T]{}, fmt.Errorf("table [%#x, %#x) out of bounds (%#x bytes)", off, end, len(raw))
	}
	return Table[T]{raw: raw, off: off, end: end, size: recSize, dec: dec}, nil
}

// Count returns the number of whole records in the table.
func (t Table[T]) Count() int {
	if t.size == 0 {
		return 0
	}
	return (t.end - t.off) / t.size
}

// At decodes record i.
func (t Table[T]) At(i int) (T, error) {
	var zero T
	if i < 0 || i >= t.Count() {
		return zero, fmt.Errorf("record %d out of bounds (%d records)", i, t.Count())
	}
	off := t.off + i*t.size
	return t.dec(t.raw[off : off+t.size]), nil
}

// All yields (index, record) for every whole record in order.
func (t Table[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		i := 0
		for off := t.off; off+t.size <= t.end; off += t.size {
			if !yield(i, t.dec(t.raw[off:off+t.size])) {
				return
			}
			i++
		}
	}
}
