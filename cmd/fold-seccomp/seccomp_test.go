package main

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestBuildFilterShape(t *testing.T) {
	s := &Seccomp{DenySyscalls: []uint32{1, 2}}
	prog := s.buildFilter()

	// load + one jeq per denied syscall + allow + kill
	if len(prog) != 5 {
		t.Fatalf("filter length = %d, want 5", len(prog))
	}

	if prog[0].Code != unix.BPF_LD|unix.BPF_W|unix.BPF_ABS {
		t.Errorf("first insn is not a load: %#x", prog[0].Code)
	}
	if prog[len(prog)-2].K != unix.SECCOMP_RET_ALLOW {
		t.Error("fallthrough is not ALLOW")
	}
	if prog[len(prog)-1].K != unix.SECCOMP_RET_KILL_PROCESS {
		t.Error("deny target is not KILL_PROCESS")
	}

	// Every comparison must jump exactly to the kill return.
	killPos := uint8(len(prog) - 1)
	for i := 1; i <= 2; i++ {
		pos := uint8(i)
		if got := pos + 1 + prog[i].Jt; got != killPos {
			t.Errorf("jeq at %d jumps to %d, want %d", i, got, killPos)
		}
		if prog[i].Jf != 0 {
			t.Errorf("jeq at %d has nonzero false branch", i)
		}
	}
}

func TestBuildFilterMatchesDeniedNumbers(t *testing.T) {
	s := &Seccomp{DenySyscalls: []uint32{sysWrite}}
	prog := s.buildFilter()
	if prog[1].K != sysWrite {
		t.Errorf("denied syscall number = %d, want write (%d)", prog[1].K, sysWrite)
	}
}
