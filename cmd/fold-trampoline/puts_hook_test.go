package main

import (
	"encoding/binary"
	"strings"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func TestPutsStubDecodes(t *testing.T) {
	const stubAddr = 0x700000
	const target = 0x401020

	code := buildPutsStub(stubAddr, target)

	// Decode every instruction up to the message payload.
	var insns []string
	pc := uint64(stubAddr)
	rest := code
	for len(rest) > 0 {
		inst, err := x86asm.Decode(rest, 64)
		if err != nil {
			t.Fatalf("decode failed at +%#x: %v", pc-stubAddr, err)
		}
		text := strings.ToLower(x86asm.IntelSyntax(inst, pc, nil))
		insns = append(insns, text)
		rest = rest[inst.Len:]
		pc += uint64(inst.Len)
		if strings.HasPrefix(text, "jmp") {
			break
		}
	}

	last := insns[len(insns)-1]
	if !strings.HasPrefix(last, "jmp") {
		t.Fatalf("stub does not end in a jump: %v", insns)
	}
	if insns[0] != "push rdi" {
		t.Errorf("stub does not preserve the argument first: %q", insns[0])
	}

	// The chain target is embedded as the mov rax immediate.
	found := false
	for i := 0; i+10 <= len(code); i++ {
		if code[i] == 0x48 && code[i+1] == 0xB8 &&
			binary.LittleEndian.Uint64(code[i+2:]) == target {
			found = true
			break
		}
	}
	if !found {
		t.Error("target address not embedded in the stub")
	}

	// The message follows the code and is what the announced write sends.
	if !strings.Contains(string(code), "[from hook]: puts called") {
		t.Error("announcement text missing from the stub payload")
	}
}
