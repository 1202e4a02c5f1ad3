// Package testimage builds synthetic, PE-shaped module images for tests.
package testimage

import (
	"encoding/binary"
	"fmt"

	"github.com/blacktop/memscope/pkg/image"
)

// Default layout used by Standard.
const (
	Base = 0x140000000

	TextRVA   = 0x1000
	TextSize  = 0x4000
	RdataRVA  = 0x5000
	RdataSize = 0x2000
	DataRVA   = 0x7000
	DataSize  = 0x1000
	ImageSize = 0x8000
)

// Builder lays out bytes and sections for an image.Image.
type Builder struct {
	base     image.Address
	ptrSize  int
	buf      []byte
	sections []image.Section
}

// New returns an empty builder of the given size.
func New(base image.Address, size int, ptrSize int) *Builder {
	return &Builder{
		base:    base,
		ptrSize: ptrSize,
		buf:     make([]byte, size),
	}
}

// Standard returns a 64-bit builder with .text, .rdata and .data sections.
func Standard() *Builder {
	return New(Base, ImageSize, 8).
		Section(".text", TextRVA, TextSize, image.ScnCntCode|image.ScnMemExecute|image.ScnMemRead).
		Section(".rdata", RdataRVA, RdataSize, image.ScnInitialized|image.ScnMemRead).
		Section(".data", DataRVA, DataSize, image.ScnInitialized|image.ScnMemRead|image.ScnMemWrite)
}

// Section adds a section header.
func (b *Builder) Section(name string, rva, size uint64, chars uint32) *Builder {
	b.sections = append(b.sections, image.Section{
		Name:            name,
		VirtualRange:    image.Range{Start: image.RVA(rva), Size: size},
		FileOffset:      rva,
		Characteristics: chars,
	})
	return b
}

// VA converts an RVA to the absolute address it will have in the image.
func (b *Builder) VA(rva uint64) image.Address {
	return b.base + image.Address(rva)
}

// Put copies data to rva.
func (b *Builder) Put(rva uint64, data []byte) *Builder {
	if rva+uint64(len(data)) > uint64(len(b.buf)) {
		panic(fmt.Sprintf("testimage: write %#x+%#x past end of image", rva, len(data)))
	}
	copy(b.buf[rva:], data)
	return b
}

// PutU32 writes a little-endian uint32.
func (b *Builder) PutU32(rva uint64, v uint32) *Builder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return b.Put(rva, tmp[:])
}

// PutPtr writes a pointer-width value.
func (b *Builder) PutPtr(rva uint64, v image.Address) *Builder {
	if b.ptrSize == 4 {
		return b.PutU32(rva, uint32(v))
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return b.Put(rva, tmp[:])
}

// Bytes exposes the underlying buffer.
func (b *Builder) Bytes() []byte { return b.buf }

// Build creates the image; it panics on an invalid layout.
func (b *Builder) Build() *image.Image {
	img, err := image.New(b.base, b.buf, b.ptrSize, b.sections...)
	if err != nil {
		panic(fmt.Sprintf("testimage: %v", err))
	}
	return img
}

func rel32(from, to uint64) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(int32(int64(to)-int64(from))))
	return tmp[:]
}

// SingletonIdiomSize is the length of the code written by PutSingletonIdiom.
const SingletonIdiomSize = 24

// PutSingletonIdiom writes the x86-64 lazy-singleton null check at rva:
//
//	mov  rax, [rip+slot]
//	test rax, rax
//	jnz  +0x0f
//	lea  rcx, [rip+meta]
//	call name
func (b *Builder) PutSingletonIdiom(rva, slotRVA, metaRVA, nameFnRVA uint64) *Builder {
	code := []byte{0x48, 0x8b, 0x05}
	code = append(code, rel32(rva+7, slotRVA)...)
	code = append(code, 0x48, 0x85, 0xc0)
	code = append(code, 0x75, 0x0f)
	code = append(code, 0x48, 0x8d, 0x0d)
	code = append(code, rel32(rva+19, metaRVA)...)
	code = append(code, 0xe8)
	code = append(code, rel32(rva+24, nameFnRVA)...)
	return b.Put(rva, code)
}

// PutRTTI lays out an MSVC x64 complete object locator at colRVA, a type
// descriptor at tdRVA carrying name, and a vtable at vtableRVA whose first
// slot points at firstSlotRVA.
func (b *Builder) PutRTTI(colRVA, tdRVA, vtableRVA, firstSlotRVA uint64, name string) *Builder {
	b.PutU32(colRVA, 1)                // signature
	b.PutU32(colRVA+4, 0)              // offset
	b.PutU32(colRVA+8, 0)              // cdOffset
	b.PutU32(colRVA+12, uint32(tdRVA)) // pTypeDescriptor
	b.PutU32(colRVA+16, 0)             // pClassDescriptor
	b.PutU32(colRVA+20, uint32(colRVA))

	b.PutPtr(tdRVA, b.VA(RdataRVA))
	b.PutPtr(tdRVA+uint64(b.ptrSize), 0)
	b.Put(tdRVA+2*uint64(b.ptrSize), append([]byte(name), 0))

	b.PutPtr(vtableRVA-uint64(b.ptrSize), b.VA(colRVA))
	b.PutPtr(vtableRVA, b.VA(firstSlotRVA))
	return b
}
