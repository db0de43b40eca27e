package tls

import "fmt"

// TCBSize is the size of musl's thread control block.
const TCBSize = 704

// wordSize is the size of a DTV slot.
const wordSize = 8

// ModuleExtent describes one module's static TLS requirements.
type ModuleExtent struct {
	ID    int
	Size  uintptr // p_memsz
	File  uintptr // p_filesz
	Align uintptr // p_align
}

// Layout is the computed shape of the single TLS block:
//
//	DTV | padding | modules data | TCB
//
// Offsets are relative to the block start. The TCB is aligned to the
// maximum of the module alignments and its own.
type Layout struct {
	DTVOff   uintptr
	DTVSlots int
	// ModuleStart maps module id to the offset of its data.
	ModuleStart map[int]uintptr
	TCBOff      uintptr
	Total       uintptr
}

func alignUp(v, align uintptr) uintptr {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Compute lays out the TLS block for the given modules. Modules are placed
// in reverse id order, each ending where the previous began, so the whole
// static area sits immediately below the TCB.
func Compute(modules []ModuleExtent) (Layout, error) {
	const tcbAlign = 64

	dtvSize := uintptr(len(modules)+1) * wordSize

	align := uintptr(tcbAlign)
	var static uintptr
	for _, mod := range modules {
		if mod.Align > align {
			align = mod.Align
		}
		if mod.Size < mod.File {
			return Layout{}, fmt.Errorf("tls module %d: mem size %#x below file size %#x",
				mod.ID, mod.Size, mod.File)
		}
		static += alignUp(mod.Size, max(mod.Align, 1))
	}

	tcbOff := alignUp(dtvSize+static, align)

	layout := Layout{
		DTVOff:      0,
		DTVSlots:    len(modules) + 1,
		ModuleStart: make(map[int]uintptr, len(modules)),
		TCBOff:      tcbOff,
		Total:       tcbOff + alignUp(TCBSize, tcbAlign),
	}

	// Module 1 sits immediately below the TCB; later modules stack under
	// it. The thread-pointer offset of a symbol is the distance between the
	// TCB and its module's start.
	cursor := tcbOff
	for _, mod := range modules {
		cursor -= alignUp(mod.Size, max(mod.Align, 1))
		layout.ModuleStart[mod.ID] = cursor
	}
	return layout, nil
}
