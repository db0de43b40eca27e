// Package emu provides x86-64 emulation using Unicorn Engine. The emulator
// example linker replaces the start phase with it: loaded segments are
// copied into the VM and the entry point is emulated instead of jumped to.
package emu

import (
	"fmt"
	"sync"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Memory layout constants for the emulated stack.
const (
	StackBase = 0x7fff00000000
	StackSize = 0x00100000 // 1MB stack
)

// AddressHookFunc is called when execution reaches a specific address.
// Return true to stop emulation.
type AddressHookFunc func(emu *Emulator) bool

// Emulator wraps Unicorn for x86-64 emulation.
type Emulator struct {
	mu uc.Unicorn

	addrHooks   map[uint64]AddressHookFunc
	addrHooksMu sync.RWMutex

	stopped bool
}

// New creates a new x86-64 emulator with a mapped stack.
func New() (*Emulator, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_64)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}

	emu := &Emulator{
		mu:        mu,
		addrHooks: make(map[uint64]AddressHookFunc),
	}

	if err := mu.MemMap(StackBase, StackSize); err != nil {
		mu.Close()
		return nil, fmt.Errorf("map stack: %w", err)
	}
	if err := emu.SetSP(StackBase + StackSize - 0x1000); err != nil {
		mu.Close()
		return nil, err
	}

	if err := emu.setupHooks(); err != nil {
		mu.Close()
		return nil, err
	}

	return emu, nil
}

// Close releases the Unicorn instance.
func (e *Emulator) Close() error {
	return e.mu.Close()
}

// MapRegion maps size bytes at addr, both rounded to page boundaries.
func (e *Emulator) MapRegion(addr, size uint64) error {
	const page = 0x1000
	start := addr &^ (page - 1)
	end := (addr + size + page - 1) &^ (page - 1)
	return e.mu.MemMap(start, end-start)
}

// MemWrite writes data at addr.
func (e *Emulator) MemWrite(addr uint64, data []byte) error {
	return e.mu.MemWrite(addr, data)
}

// MemRead reads size bytes at addr.
func (e *Emulator) MemRead(addr, size uint64) ([]byte, error) {
	return e.mu.MemRead(addr, size)
}

// PC returns RIP.
func (e *Emulator) PC() uint64 {
	v, _ := e.mu.RegRead(uc.X86_REG_RIP)
	return v
}

// SetPC sets RIP.
func (e *Emulator) SetPC(v uint64) error {
	return e.mu.RegWrite(uc.X86_REG_RIP, v)
}

// SP returns RSP.
func (e *Emulator) SP() uint64 {
	v, _ := e.mu.RegRead(uc.X86_REG_RSP)
	return v
}

// SetSP sets RSP.
func (e *Emulator) SetSP(v uint64) error {
	return e.mu.RegWrite(uc.X86_REG_RSP, v)
}

// Reg reads a general-purpose register.
func (e *Emulator) Reg(reg int) uint64 {
	v, _ := e.mu.RegRead(reg)
	return v
}

// SetReg writes a general-purpose register.
func (e *Emulator) SetReg(reg int, v uint64) error {
	return e.mu.RegWrite(reg, v)
}

// HookAddress installs a hook fired when execution reaches addr.
func (e *Emulator) HookAddress(addr uint64, fn AddressHookFunc) {
	e.addrHooksMu.Lock()
	defer e.addrHooksMu.Unlock()
	e.addrHooks[addr] = fn
}

// Stop requests emulation stop.
func (e *Emulator) Stop() {
	e.stopped = true
	_ = e.mu.Stop()
}

func (e *Emulator) setupHooks() error {
	_, err := e.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		e.addrHooksMu.RLock()
		fn := e.addrHooks[addr]
		e.addrHooksMu.RUnlock()
		if fn != nil && fn(e) {
			e.Stop()
		}
	}, 1, 0)
	return err
}

// SyscallHookFunc is called on every syscall instruction. Return true to
// stop emulation.
type SyscallHookFunc func(emu *Emulator) bool

// HookSyscall installs a handler for the syscall instruction.
func (e *Emulator) HookSyscall(fn SyscallHookFunc) error {
	_, err := e.mu.HookAdd(uc.HOOK_INSN, func(mu uc.Unicorn) {
		if fn(e) {
			e.Stop()
		}
	}, 1, 0, uc.X86_INS_SYSCALL)
	return err
}

// Run emulates from start until the until address, the first hook that
// requests a stop, or an emulation fault.
func (e *Emulator) Run(start, until uint64) error {
	e.stopped = false
	if err := e.mu.Start(start, until); err != nil && !e.stopped {
		return fmt.Errorf("emulation stopped at %#x: %w", e.PC(), err)
	}
	return nil
}
