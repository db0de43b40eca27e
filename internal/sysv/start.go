package sysv

import (
	"github.com/zboralski/fold/internal/arena"
	"github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
)

// Start transfers control to the loaded program: it builds the System V
// initial stack image and jumps to the target's entry point. The jump does
// not return; every mapping must already carry its final protections and
// every initializer must have run.
type Start struct{}

// Name implements pipeline.Module.
func (s *Start) Name() string {
	return "sysv-start"
}

// ProcessObject implements pipeline.ObjectProcessor. The target is object 0,
// visited first, so the jump happens on the first invocation.
func (s *Start) ProcessObject(m *manifold.Manifold, hobj arena.Handle[manifold.Object]) error {
	obj := m.Objects.MustGet(hobj)
	entry := obj.LoadBias() + uintptr(obj.Entry)

	stack, err := BuildStack(m.Env)
	if err != nil {
		return err
	}

	m.Log.Info("jumping to entry",
		log.Obj(obj.DisplayPath()),
		log.Addr(uint64(entry)))
	jump(entry, &stack[0], uintptr(len(stack)))
	panic("unreachable")
}

// BuildStack lays out the initial stack image as 64-bit words:
//
//	[argc, argv..., NULL, envp..., NULL]
//
// The strings the pointers refer to are copied into a mapping outside the Go
// heap so they survive the jump. The auxiliary vector is not forwarded.
func BuildStack(env *manifold.Env) ([]uint64, error) {
	size := uintptr(0)
	for _, s := range env.Args {
		size += uintptr(len(s)) + 1
	}
	for _, s := range env.Envp {
		size += uintptr(len(s)) + 1
	}
	block, err := mem.NewBlock(size + mem.PageSize)
	if err != nil {
		return nil, err
	}

	stack := make([]uint64, 0, len(env.Args)+len(env.Envp)+3)
	stack = append(stack, uint64(len(env.Args)))
	for _, s := range env.Args {
		addr, err := block.CString(s)
		if err != nil {
			return nil, err
		}
		stack = append(stack, uint64(addr))
	}
	stack = append(stack, 0) // argv is NULL terminated
	for _, s := range env.Envp {
		addr, err := block.CString(s)
		if err != nil {
			return nil, err
		}
		stack = append(stack, uint64(addr))
	}
	stack = append(stack, 0) // envp is NULL terminated

	return stack, nil
}

// jump copies the stack image onto the live stack and jumps to entry.
// Implemented in start_amd64.s; never returns.
func jump(entry uintptr, stack *uint64, words uintptr)

// callNoArgs calls a C-ABI function taking no arguments and returns its
// raw return value. Used for init arrays and IRELATIVE resolvers.
// Implemented in start_amd64.s.
func callNoArgs(fn uintptr) uintptr
