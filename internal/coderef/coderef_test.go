package coderef

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemadump/internal/memport"
)

func le32words(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func TestFindX86_LEA(t *testing.T) {
	// lea rax, [rip+0x1000]; ret
	code := []byte{0x48, 0x8D, 0x05, 0x00, 0x10, 0x00, 0x00, 0xC3}
	got, err := Find(code, 0x180001000, memport.ArchX8664, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x180001000+7+0x1000), got)
}

func TestFindX86_NegativeDisp(t *testing.T) {
	// sub rsp, 0x28; mov rax, [rip-0x10]; ret
	code := []byte{
		0x48, 0x83, 0xEC, 0x28,
		0x48, 0x8B, 0x05, 0xF0, 0xFF, 0xFF, 0xFF,
		0xC3,
	}
	got, err := Find(code, 0x1000, memport.ArchX8664, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000+11-0x10), got)
}

func TestFindX86_StopsAtRet(t *testing.T) {
	// ret; lea rax, [rip+0x10]
	code := []byte{0xC3, 0x48, 0x8D, 0x05, 0x10, 0x00, 0x00, 0x00}
	_, err := Find(code, 0x1000, memport.ArchX8664, 0)
	assert.ErrorIs(t, err, ErrNoReference)
}

func TestFindARM64_ADRPAdd(t *testing.T) {
	// adrp x0, +2 pages ; add x0, x0, #0x10 ; ret
	code := le32words(0x90000000|(2<<29), 0x91004000, 0xD65F03C0)
	got, err := Find(code, 0x400000, memport.ArchARM64, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x400000+0x2000+0x10), got)
}

func TestFindARM64_ADRPLdr(t *testing.T) {
	// adrp x1, #0x1000 ; ldr x0, [x1, #0x18] ; ret
	adrp := uint32(0x90000000 | (1 << 29) | 1)
	ldr := uint32(0xF9400000 | (3 << 10) | (1 << 5)) // imm12=3 -> 0x18
	code := le32words(adrp, ldr, 0xD65F03C0)
	got, err := Find(code, 0x400123, memport.ArchARM64, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x400000+0x1000+0x18), got)
}

func TestFindARM64_NoPair(t *testing.T) {
	// add x0, x0, #0x10 ; ret
	code := le32words(0x91004000, 0xD65F03C0)
	_, err := Find(code, 0x400000, memport.ArchARM64, 0)
	assert.ErrorIs(t, err, ErrNoReference)
}

func TestFindUnknownArch(t *testing.T) {
	_, err := Find([]byte{0xC3}, 0, "mips", 0)
	assert.ErrorIs(t, err, ErrUnknownArch)
}

func TestDecoders(t *testing.T) {
	rd, page, ok := isADRP(0x90000000|(1<<29)|5, 0x1234)
	require.True(t, ok)
	assert.Equal(t, 5, rd)
	assert.Equal(t, uint64(0x2000), page)

	// Negative page offset: immhi all ones, immlo 3 -> -1 page.
	_, page, ok = isADRP(0x90000000|(3<<29)|(0x7FFFF<<5), 0x5000)
	require.True(t, ok)
	assert.Equal(t, uint64(0x4000), page)

	rd, rn, imm, ok := isADD64Immediate(0x91400421) // add x1, x1, #1, lsl #12
	require.True(t, ok)
	assert.Equal(t, 1, rd)
	assert.Equal(t, 1, rn)
	assert.Equal(t, uint64(0x1000), imm)

	_, _, ok = isLDR64UnsignedOffset(0x91004000)
	assert.False(t, ok)
}
