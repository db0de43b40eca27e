package main

import (
	"debug/elf"
	"encoding/binary"
	"os"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/emu"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
)

// Host syscall numbers the VM forwards.
const (
	sysWrite     = 1
	sysExit      = 60
	sysExitGroup = 231
)

// EmuStart replaces the start phase: instead of jumping, it mirrors every
// loaded segment into a Unicorn VM at its real address (so applied
// relocations stay valid), builds the initial stack inside the VM, and
// emulates from the entry point.
type EmuStart struct {
	done bool
}

// Name implements pipeline.Module.
func (s *EmuStart) Name() string {
	return "emu-start"
}

// ProcessObject implements pipeline.ObjectProcessor. The target is object 0;
// later objects are already mirrored by then.
func (s *EmuStart) ProcessObject(m *manifold.Manifold, hobj arena.Handle[manifold.Object]) error {
	if s.done {
		return nil
	}
	s.done = true

	obj := m.Objects.MustGet(hobj)
	entry := uint64(obj.LoadBias()) + obj.Entry

	vm, err := emu.New()
	if err != nil {
		return err
	}
	defer vm.Close()

	if err := mirrorSegments(m, vm); err != nil {
		return err
	}
	if err := buildVMStack(m.Env, vm); err != nil {
		return err
	}
	if err := forwardSyscalls(m, vm); err != nil {
		return err
	}

	m.Log.Info("emulating from entry", log.Addr(entry))
	return vm.Run(entry, 0)
}

// mirrorSegments copies every loaded segment into the VM at its real
// address.
func mirrorSegments(m *manifold.Manifold, vm *emu.Emulator) error {
	for _, obj := range m.Objects.All() {
		base := obj.LoadBias()
		for _, hs := range obj.Segments {
			seg := m.Segments.Get(hs)
			if seg == nil || seg.Tag != elf.PT_LOAD || seg.Loaded == nil {
				continue
			}
			addr := uint64(base) + seg.Vaddr
			// Ignore overlap errors: adjacent segments may share a page.
			_ = vm.MapRegion(addr, seg.MemSize)
			image := seg.Loaded.Bytes()
			if err := vm.MemWrite(uint64(seg.Loaded.Addr()), image); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildVMStack lays out [argc, argv..., NULL, envp..., NULL] on the VM
// stack, with the strings just below it.
func buildVMStack(env *manifold.Env, vm *emu.Emulator) error {
	sp := vm.SP()

	pushString := func(s string) (uint64, error) {
		sp -= uint64(len(s)) + 1
		if err := vm.MemWrite(sp, append([]byte(s), 0)); err != nil {
			return 0, err
		}
		return sp, nil
	}

	argPtrs := make([]uint64, 0, len(env.Args))
	for _, a := range env.Args {
		p, err := pushString(a)
		if err != nil {
			return err
		}
		argPtrs = append(argPtrs, p)
	}
	envPtrs := make([]uint64, 0, len(env.Envp))
	for _, e := range env.Envp {
		p, err := pushString(e)
		if err != nil {
			return err
		}
		envPtrs = append(envPtrs, p)
	}

	words := make([]uint64, 0, len(argPtrs)+len(envPtrs)+3)
	words = append(words, uint64(len(argPtrs)))
	words = append(words, argPtrs...)
	words = append(words, 0)
	words = append(words, envPtrs...)
	words = append(words, 0)

	sp &^= 0xF
	sp -= uint64(len(words)) * 8
	buf := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	if err := vm.MemWrite(sp, buf); err != nil {
		return err
	}
	return vm.SetSP(sp)
}

// forwardSyscalls services write and exit from the VM; everything else
// returns 0.
func forwardSyscalls(m *manifold.Manifold, vm *emu.Emulator) error {
	return vm.HookSyscall(func(e *emu.Emulator) bool {
		nr := e.Reg(uc.X86_REG_RAX)
		switch nr {
		case sysWrite:
			fd := e.Reg(uc.X86_REG_RDI)
			buf := e.Reg(uc.X86_REG_RSI)
			n := e.Reg(uc.X86_REG_RDX)
			data, err := e.MemRead(buf, n)
			if err != nil {
				e.SetReg(uc.X86_REG_RAX, 0)
				return false
			}
			out := os.Stdout
			if fd == 2 {
				out = os.Stderr
			}
			written, _ := out.Write(data)
			e.SetReg(uc.X86_REG_RAX, uint64(written))

		case sysExit, sysExitGroup:
			m.Log.Info("emulated program exited",
				log.Ptr("status", e.Reg(uc.X86_REG_RDI)))
			return true

		default:
			m.Log.Debug("unhandled emulated syscall", log.Ptr("nr", nr))
			e.SetReg(uc.X86_REG_RAX, 0)
		}
		return false
	})
}
