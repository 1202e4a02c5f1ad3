package singleton

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func TestStubDecodes(t *testing.T) {
	const (
		fn  = 0x140003000
		arg = 0x140007800
		out = 0x7ff600000060
	)
	code := stub(fn, arg, out)

	want := []x86asm.Op{
		x86asm.SUB, x86asm.MOV, x86asm.MOV, x86asm.CALL,
		x86asm.MOV, x86asm.MOV, x86asm.ADD, x86asm.XOR, x86asm.RET,
	}
	var got []x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err, "offset %d", off)
		got = append(got, inst)
		off += inst.Len
	}
	require.Len(t, got, len(want))
	for i, inst := range got {
		assert.Equal(t, want[i], inst.Op, "instruction %d: %s", i, inst)
	}

	assert.Equal(t, x86asm.RCX, got[1].Args[0])
	assert.Equal(t, x86asm.Imm(arg), got[1].Args[1])
	assert.Equal(t, x86asm.RAX, got[2].Args[0])
	assert.Equal(t, x86asm.Imm(fn), got[2].Args[1])
	assert.Equal(t, x86asm.Imm(out), got[4].Args[1])
	assert.Equal(t, uint64(out), binary.LittleEndian.Uint64(code[len(code)-18:]))
}

func TestWaitMillis(t *testing.T) {
	assert.Equal(t, uint32(0), waitMillis(-time.Second))
	assert.Equal(t, uint32(1500), waitMillis(1500*time.Millisecond))
	assert.Equal(t, uint32(math.MaxUint32-1), waitMillis(time.Duration(math.MaxInt64)))
	assert.Equal(t, uint32(math.MaxUint32-1), waitMillis(math.MaxUint32*time.Millisecond))
}
