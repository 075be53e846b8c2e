// Package coderef finds data addresses referenced by machine code, used to
// locate a table through the exported function that returns or loads it.
package coderef

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"schemadump/internal/memport"
)

var (
	ErrNoReference = errors.New("coderef: no data reference found")
	ErrUnknownArch = errors.New("coderef: unsupported architecture")
)

// DefaultMaxInsts caps how far into a function Find looks.
const DefaultMaxInsts = 32

// Find decodes code (the first bytes of a function at pc) and returns the
// first data address it references.
func Find(code []byte, pc uint64, arch string, maxInsts int) (uint64, error) {
	if maxInsts <= 0 {
		maxInsts = DefaultMaxInsts
	}
	switch arch {
	case memport.ArchX8664:
		return findX86(code, pc, maxInsts)
	case memport.ArchARM64:
		return findARM64(code, pc, maxInsts)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownArch, arch)
	}
}

// findX86 returns the target of the first RIP-relative memory operand.
func findX86(code []byte, pc uint64, maxInsts int) (uint64, error) {
	off := 0
	for i := 0; i < maxInsts && off < len(code); i++ {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return 0, fmt.Errorf("coderef: decode at 0x%x: %w", pc+uint64(off), err)
		}
		next := pc + uint64(off+inst.Len)
		for _, a := range inst.Args {
			if a == nil {
				break
			}
			if m, ok := a.(x86asm.Mem); ok && m.Base == x86asm.RIP {
				return uint64(int64(next) + m.Disp), nil
			}
		}
		if inst.Op == x86asm.RET || inst.Op == x86asm.JMP {
			break
		}
		off += inst.Len
	}
	return 0, ErrNoReference
}

// isADRP decodes ADRP Xd, label.
// Mask: 0x9F000000, Value: 0x90000000.
func isADRP(raw uint32, pc uint64) (rd int, page uint64, ok bool) {
	if raw&0x9F000000 != 0x90000000 {
		return 0, 0, false
	}
	rd = int(raw & 0x1F)
	immlo := uint64((raw >> 29) & 0x3)
	immhi := uint64((raw >> 5) & 0x7FFFF)
	imm := int64((immhi<<2|immlo)<<43) >> 43 // sign-extend 21 bits
	return rd, uint64(int64(pc&^0xFFF) + imm<<12), true
}

// isADD64Immediate decodes ADD Xd, Xn, #imm{, LSL #12}.
func isADD64Immediate(raw uint32) (rd, rn int, imm uint64, ok bool) {
	if raw&0xFF800000 != 0x91000000 {
		return 0, 0, 0, false
	}
	rd = int(raw & 0x1F)
	rn = int((raw >> 5) & 0x1F)
	imm = uint64((raw >> 10) & 0xFFF)
	if (raw>>22)&1 == 1 {
		imm <<= 12
	}
	return rd, rn, imm, true
}

// isLDR64UnsignedOffset decodes LDR Xt, [Xn, #imm].
func isLDR64UnsignedOffset(raw uint32) (rn int, byteOffset uint64, ok bool) {
	if raw&0xFFC00000 != 0xF9400000 {
		return 0, 0, false
	}
	rn = int((raw >> 5) & 0x1F)
	return rn, uint64((raw>>10)&0xFFF) << 3, true
}

// findARM64 pairs an ADRP with the first following ADD or LDR on the same
// register and returns page+imm.
func findARM64(code []byte, pc uint64, maxInsts int) (uint64, error) {
	pages := make(map[int]uint64)
	for i := 0; i < maxInsts && (i+1)*4 <= len(code); i++ {
		word := code[i*4 : i*4+4]
		raw := binary.LittleEndian.Uint32(word)
		at := pc + uint64(i*4)
		inst, err := arm64asm.Decode(word)
		if err != nil {
			continue
		}
		if rd, page, ok := isADRP(raw, at); ok {
			pages[rd] = page
			continue
		}
		if _, rn, imm, ok := isADD64Immediate(raw); ok {
			if page, seen := pages[rn]; seen {
				return page + imm, nil
			}
			continue
		}
		if rn, off, ok := isLDR64UnsignedOffset(raw); ok {
			if page, seen := pages[rn]; seen {
				return page + off, nil
			}
			continue
		}
		if inst.Op == arm64asm.RET {
			break
		}
	}
	return 0, ErrNoReference
}
