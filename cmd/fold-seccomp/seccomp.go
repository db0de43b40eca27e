package main

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
)

// sysWrite is the x86-64 write syscall number.
const sysWrite = 1

// seccompData offsets: the BPF program classifies on the syscall number at
// offset 0 of struct seccomp_data.
const seccompDataNrOffset = 0

// Seccomp installs a BPF filter killing the process on any listed syscall.
// Registered after the init arrays so that libc initialization can still use
// the full syscall surface; only the program's own code runs restricted.
type Seccomp struct {
	DenySyscalls []uint32
}

// Name implements pipeline.Module.
func (s *Seccomp) Name() string {
	return "seccomp"
}

// ProcessManifold implements pipeline.ManifoldProcessor.
func (s *Seccomp) ProcessManifold(m *manifold.Manifold) error {
	prog := s.buildFilter()

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return err
	}

	fprog := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	if _, _, errno := unix.Syscall(unix.SYS_SECCOMP,
		unix.SECCOMP_SET_MODE_FILTER, 0, uintptr(unsafe.Pointer(&fprog))); errno != 0 {
		return errno
	}

	m.Log.Info("seccomp filter installed",
		log.Size(uint64(len(s.DenySyscalls))))
	return nil
}

// buildFilter emits: load nr; kill on any denied number; allow otherwise.
func (s *Seccomp) buildFilter() []unix.SockFilter {
	prog := []unix.SockFilter{
		{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: seccompDataNrOffset},
	}
	for i, nr := range s.DenySyscalls {
		// Jump over the remaining comparisons straight to the kill return.
		skip := uint8(len(s.DenySyscalls) - i)
		prog = append(prog, unix.SockFilter{
			Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K,
			Jt:   skip,
			K:    nr,
		})
	}
	prog = append(prog,
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_ALLOW},
		unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_KILL_PROCESS},
	)
	return prog
}
