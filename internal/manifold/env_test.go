package manifold

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestReadAuxv(t *testing.T) {
	raw := make([]byte, 0, 5*16)
	put := func(typ, val uint64) {
		var rec [16]byte
		binary.LittleEndian.PutUint64(rec[0:], typ)
		binary.LittleEndian.PutUint64(rec[8:], val)
		raw = append(raw, rec[:]...)
	}
	put(AuxPhdr, 0x400040)
	put(AuxPhnum, 11)
	put(AuxEntry, 0x401000)
	put(AuxNull, 0)
	put(99, 99) // past the terminator, must be ignored

	path := filepath.Join(t.TempDir(), "auxv")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	auxv := readAuxv(path)
	if len(auxv) != 3 {
		t.Fatalf("auxv entries = %d, want 3", len(auxv))
	}

	env := &Env{Auxv: auxv}
	if v, ok := env.Aux(AuxEntry); !ok || v != 0x401000 {
		t.Errorf("AT_ENTRY = (%#x, %v)", v, ok)
	}
	if v, ok := env.Aux(AuxPhnum); !ok || v != 11 {
		t.Errorf("AT_PHNUM = (%d, %v)", v, ok)
	}
	if _, ok := env.Aux(AuxBase); ok {
		t.Error("absent auxv type reported present")
	}
}

func TestReadAuxvMissingFile(t *testing.T) {
	if got := readAuxv("/nonexistent/auxv"); got != nil {
		t.Errorf("readAuxv on missing file = %v", got)
	}
}

func TestFromProcess(t *testing.T) {
	env := FromProcess()
	if len(env.Args) == 0 {
		t.Error("no args captured")
	}
	// The test process runs under Linux, so the real auxv should parse and
	// carry at least a page size or phdr entry.
	if len(env.Auxv) == 0 {
		t.Error("no auxv entries parsed from /proc/self/auxv")
	}
}
