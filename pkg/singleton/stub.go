package singleton

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/blacktop/memscope/pkg/image"
)

// stubOutOffset is where the stub stores the routine's return value,
// relative to the start of its page.
const stubOutOffset = 0x60

// stub builds:
//
//	sub  rsp, 0x28
//	mov  rcx, arg
//	mov  rax, fn
//	call rax
//	mov  rcx, out
//	mov  [rcx], rax
//	add  rsp, 0x28
//	xor  eax, eax
//	ret
func stub(fn, arg, out image.Address) []byte {
	code := []byte{0x48, 0x83, 0xec, 0x28, 0x48, 0xb9}
	code = binary.LittleEndian.AppendUint64(code, uint64(arg))
	code = append(code, 0x48, 0xb8)
	code = binary.LittleEndian.AppendUint64(code, uint64(fn))
	code = append(code, 0xff, 0xd0, 0x48, 0xb9)
	code = binary.LittleEndian.AppendUint64(code, uint64(out))
	code = append(code, 0x48, 0x89, 0x01, 0x48, 0x83, 0xc4, 0x28, 0x31, 0xc0, 0xc3)
	return code
}

// waitMillis converts d for WaitForSingleObject, saturating below INFINITE.
func waitMillis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	switch {
	case ms < 0:
		return 0
	case ms >= math.MaxUint32:
		return math.MaxUint32 - 1
	}
	return uint32(ms)
}
