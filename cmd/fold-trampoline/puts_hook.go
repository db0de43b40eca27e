package main

import (
	"encoding/binary"

	"github.com/zboralski/fold/internal/hooks"
)

func init() {
	hooks.RegisterFunc("io", "puts", buildPutsStub)
}

// buildPutsStub emits a stub that announces the call on stdout, then chains
// to the real puts with the original argument:
//
//	push rdi                      ; preserve the argument
//	mov  eax, 1                   ; write
//	mov  edi, 1                   ; stdout
//	mov  rsi, msg
//	mov  edx, len(msg)
//	syscall
//	pop  rdi
//	mov  rax, target
//	jmp  rax
//	msg: db "[from hook]: puts called with \"...\"", 10
func buildPutsStub(stub, target uintptr) []byte {
	msg := "[from hook]: puts called with \"...\"\n"

	var code []byte
	emit := func(b ...byte) { code = append(code, b...) }
	emitU32 := func(v uint32) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], v)
		emit(buf[:]...)
	}
	emitU64 := func(v uint64) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		emit(buf[:]...)
	}

	// The message sits right after the code; its absolute address depends
	// only on the code length, which is fixed.
	const codeLen = 1 + 5 + 5 + 10 + 5 + 2 + 1 + 10 + 2
	msgAddr := uint64(stub) + codeLen

	emit(0x57)       // push rdi
	emit(0xB8)       // mov eax, imm32
	emitU32(1)       //   SYS_write
	emit(0xBF)       // mov edi, imm32
	emitU32(1)       //   stdout
	emit(0x48, 0xBE) // mov rsi, imm64
	emitU64(msgAddr)
	emit(0xBA) // mov edx, imm32
	emitU32(uint32(len(msg)))
	emit(0x0F, 0x05) // syscall
	emit(0x5F)       // pop rdi
	emit(0x48, 0xB8) // mov rax, imm64
	emitU64(uint64(target))
	emit(0xFF, 0xE0) // jmp rax

	code = append(code, msg...)
	return code
}
