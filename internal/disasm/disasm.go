// Package disasm decodes x86 code around pattern matches.
package disasm

import (
	"fmt"
	"strings"

	"github.com/blacktop/memscope/pkg/image"
	"github.com/blacktop/memscope/pkg/scan"
	"golang.org/x/arch/x86/x86asm"
)

// Line is one decoded instruction.
type Line struct {
	Addr  image.Address
	Bytes []byte
	Inst  x86asm.Inst
	Err   error
}

func (l Line) String() string {
	if l.Err != nil {
		return fmt.Sprintf("%#x: %-30x (bad)", uint64(l.Addr), l.Bytes)
	}
	return fmt.Sprintf("%#x: %-30x %s", uint64(l.Addr), l.Bytes, x86asm.IntelSyntax(l.Inst, uint64(l.Addr), nil))
}

// Mode returns the decoder mode for an image.
func Mode(img *image.Image) int {
	return img.PointerSize() * 8
}

// Decode disassembles code as if loaded at addr. Undecodable bytes become a
// one-byte Line with Err set and decoding resumes after them.
func Decode(code []byte, addr image.Address, mode int) []Line {
	var lines []Line
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], mode)
		if err != nil || inst.Len == 0 {
			lines = append(lines, Line{Addr: addr + image.Address(off), Bytes: code[off : off+1], Err: err})
			off++
			continue
		}
		lines = append(lines, Line{Addr: addr + image.Address(off), Bytes: code[off : off+inst.Len], Inst: inst})
		off += inst.Len
	}
	return lines
}

// Match disassembles the bytes of m.
func Match(img *image.Image, m scan.Match) ([]Line, error) {
	code, err := img.ReadVA(m.Start, m.Len())
	if err != nil {
		return nil, err
	}
	return Decode(code, m.Start, Mode(img)), nil
}

// Aligned reports whether m starts on an instruction and decodes cleanly up
// to exactly m.End. It is used to drop byte-pattern hits that straddle
// instruction boundaries.
func Aligned(img *image.Image, m scan.Match) bool {
	code, err := img.ReadVA(m.Start, m.Len())
	if err != nil {
		return false
	}
	mode := Mode(img)
	off := 0
	for off < len(code) {
		inst, err := x86asm.Decode(code[off:], mode)
		if err != nil || inst.Len == 0 {
			return false
		}
		off += inst.Len
	}
	return off == len(code)
}

// Format renders lines one per row in Intel syntax.
func Format(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}
