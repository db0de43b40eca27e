package sysv

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/zboralski/fold/internal/config"
	"github.com/zboralski/fold/internal/filter"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/pipeline"
	"github.com/zboralski/fold/internal/share"
	"github.com/zboralski/fold/internal/testelf"
)

func testConfig() *config.Config {
	return &config.Config{
		Target: "prog",
		Env:    &manifold.Env{Args: []string{"prog"}},
		Remap:  config.DefaultRemap(),
	}
}

func TestLoaderMapsSegments(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 0x80)

	b := testelf.New(elf.ET_DYN)
	b.AddSection(testelf.Section{Name: ".text", Type: elf.SHT_PROGBITS, Data: []byte{0xC3}})
	b.AddSegment(testelf.Segment{
		Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X,
		Vaddr: 0, Data: payload, Memsz: 0x100, Align: 0x1000,
	})
	b.AddSegment(testelf.Segment{
		Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W,
		Vaddr: 0x2000, Data: payload[:0x10], Memsz: 0x40, Align: 0x1000,
	})

	m := manifold.New(&manifold.Env{}, share.Map{}, nil)
	h, err := m.AddELFFile(mem.MapBytes(b.Build()), "prog")
	if err != nil {
		t.Fatal(err)
	}

	f := pipeline.New("prog", &manifold.Env{}, nil)
	f.Register("load", &Loader{}, filter.SegmentType(elf.PT_LOAD))
	if err := f.Execute(m); err != nil {
		t.Fatal(err)
	}

	obj := m.Objects.MustGet(h)
	base, ok := share.Get(&obj.Shared, manifold.BaseAddrKey)
	if !ok || base == 0 {
		t.Fatal("loader did not record a base")
	}

	// Both PT_LOAD segments share the single base and carry a loaded
	// mapping of at least mem_size bytes at base+vaddr.
	for _, hs := range obj.Segments {
		seg := m.Segments.MustGet(hs)
		if seg.Tag != elf.PT_LOAD {
			continue
		}
		if seg.Loaded == nil {
			t.Fatalf("segment vaddr %#x has no loaded mapping", seg.Vaddr)
		}
		start := base + uintptr(seg.Vaddr)
		end := start + uintptr(seg.MemSize)
		if seg.Loaded.Addr() > start || seg.Loaded.Addr()+seg.Loaded.Size() < end {
			t.Errorf("mapping [%#x,%#x) does not cover segment [%#x,%#x)",
				seg.Loaded.Addr(), seg.Loaded.Addr()+seg.Loaded.Size(), start, end)
		}
	}

	// File image copied, bss zeroed.
	got := mem.SliceAt(base, uintptr(len(payload)))
	if !bytes.Equal(got, payload) {
		t.Error("first segment image does not match the file bytes")
	}
	for _, bb := range mem.SliceAt(base+uintptr(len(payload)), 0x100-uintptr(len(payload))) {
		if bb != 0 {
			t.Fatal("bss not zeroed")
		}
	}

	// Second segment landed at base+vaddr.
	got2 := mem.SliceAt(base+0x2000, 0x10)
	if !bytes.Equal(got2, payload[:0x10]) {
		t.Error("second segment image does not match")
	}
}

func TestLoaderSkipsEmptySegments(t *testing.T) {
	b := testelf.New(elf.ET_DYN)
	b.AddSection(testelf.Section{Name: ".text", Type: elf.SHT_PROGBITS, Data: []byte{0xC3}})
	b.AddSegment(testelf.Segment{Type: elf.PT_LOAD, Vaddr: 0x1000, Memsz: 0})

	m := manifold.New(&manifold.Env{}, share.Map{}, nil)
	h, err := m.AddELFFile(mem.MapBytes(b.Build()), "prog")
	if err != nil {
		t.Fatal(err)
	}

	f := pipeline.New("prog", &manifold.Env{}, nil)
	f.Register("load", &Loader{}, filter.SegmentType(elf.PT_LOAD))
	if err := f.Execute(m); err != nil {
		t.Fatal(err)
	}

	obj := m.Objects.MustGet(h)
	if _, ok := share.Get(&obj.Shared, manifold.BaseAddrKey); ok {
		t.Error("empty segment should not assign a base")
	}
}

func TestProtectIsIdempotent(t *testing.T) {
	payload := bytes.Repeat([]byte{0x90}, 0x20)

	b := testelf.New(elf.ET_DYN)
	b.AddSection(testelf.Section{Name: ".text", Type: elf.SHT_PROGBITS, Data: []byte{0xC3}})
	b.AddSegment(testelf.Segment{
		Type: elf.PT_LOAD, Flags: elf.PF_R,
		Vaddr: 0, Data: payload, Memsz: 0x20, Align: 0x1000,
	})

	m := manifold.New(&manifold.Env{}, share.Map{}, nil)
	h, err := m.AddELFFile(mem.MapBytes(b.Build()), "prog")
	if err != nil {
		t.Fatal(err)
	}

	f := pipeline.New("prog", &manifold.Env{}, nil)
	f.Register("load", &Loader{}, filter.SegmentType(elf.PT_LOAD)).
		Register("protect", &Protect{}, filter.SegmentType(elf.PT_LOAD)).
		Register("protect again", &Protect{}, filter.SegmentType(elf.PT_LOAD))
	if err := f.Execute(m); err != nil {
		t.Fatal(err)
	}

	// The PF_R region must still be readable after two protect passes.
	base, _ := share.Get(&m.Objects.MustGet(h).Shared, manifold.BaseAddrKey)
	if got := mem.SliceAt(base, 4); got[0] != 0x90 {
		t.Errorf("readable segment lost its contents: %#x", got[0])
	}
}
