package image_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/blacktop/memscope/internal/testimage"
	"github.com/blacktop/memscope/pkg/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionLookup(t *testing.T) {
	img := testimage.Standard().Build()

	text, ok := img.Section(".text")
	require.True(t, ok)
	assert.Equal(t, image.RVA(testimage.TextRVA), text.VirtualRange.Start)
	assert.True(t, text.Executable())

	_, ok = img.Section(".TEXT")
	assert.False(t, ok, "section lookup must be case sensitive")
	_, ok = img.Section(".reloc")
	assert.False(t, ok)
}

func TestRVAVARoundTrip(t *testing.T) {
	img := testimage.Standard().Build()

	for _, s := range img.Sections() {
		for _, rva := range []image.RVA{s.VirtualRange.Start, s.VirtualRange.Start + 0x123, s.VirtualRange.End() - 1} {
			va, err := img.RVAToVA(rva)
			require.NoError(t, err)
			back, err := img.VAToRVA(va)
			require.NoError(t, err)
			assert.Equal(t, rva, back, "section %s", s.Name)
		}
	}
}

func TestRVAToVAErrors(t *testing.T) {
	img := testimage.Standard().Build()

	// headers are mapped but belong to no section
	_, err := img.RVAToVA(0x10)
	assert.True(t, image.IsKind(err, image.Unmapped), "got %v", err)

	_, err = img.RVAToVA(testimage.ImageSize + 0x10)
	assert.True(t, image.IsKind(err, image.Unmapped), "got %v", err)

	// an image whose mapping would wrap the address space is refused up front
	_, err = image.New(^image.Address(0)-0xfff, make([]byte, 0x1000), 8, image.Section{
		Name:         ".text",
		VirtualRange: image.Range{Start: 0, Size: 0x1000},
	})
	assert.True(t, image.IsKind(err, image.Overflow), "got %v", err)
}

func TestVAToRVAOutOfRange(t *testing.T) {
	img := testimage.Standard().Build()

	_, err := img.VAToRVA(testimage.Base - 1)
	var ae *image.AddressError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, image.OutOfRange, ae.Kind)

	_, err = img.VAToRVA(testimage.Base + testimage.ImageSize)
	assert.True(t, image.IsKind(err, image.OutOfRange))

	rva, err := img.VAToRVA(testimage.Base)
	require.NoError(t, err)
	assert.Equal(t, image.RVA(0), rva)
}

func TestReadBounds(t *testing.T) {
	b := testimage.Standard()
	b.Put(testimage.DataRVA, []byte{1, 2, 3, 4})
	img := b.Build()

	data, err := img.Read(testimage.DataRVA, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)

	_, err = img.Read(testimage.ImageSize-2, 4)
	assert.True(t, image.IsKind(err, image.OutOfRange))

	_, err = img.Read(^image.RVA(0), 2)
	assert.True(t, image.IsKind(err, image.Overflow))

	data, err = img.Read(testimage.ImageSize, 0)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReadViewIsCapped(t *testing.T) {
	img := testimage.Standard().Build()
	data, err := img.Read(testimage.DataRVA, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cap(data), "views must not expose bytes past the requested length")
}

func TestReadPointerAndCString(t *testing.T) {
	b := testimage.Standard()
	b.PutPtr(testimage.DataRVA, 0x1122334455667788)
	b.Put(testimage.RdataRVA, []byte("hello\x00world"))
	b.Put(testimage.RdataRVA+0x100, bytes.Repeat([]byte{'A'}, 32))
	img := b.Build()

	p, err := img.ReadPointer(b.VA(testimage.DataRVA))
	require.NoError(t, err)
	assert.Equal(t, image.Address(0x1122334455667788), p)

	s, err := img.ReadCString(b.VA(testimage.RdataRVA), 64)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(s))

	_, err = img.ReadCString(b.VA(testimage.RdataRVA+0x100), 16)
	assert.ErrorIs(t, err, image.ErrNoTerminator)
}

func TestNewRejectsOverlap(t *testing.T) {
	_, err := image.New(0x400000, make([]byte, 0x3000), 4,
		image.Section{Name: "a", VirtualRange: image.Range{Start: 0x1000, Size: 0x1000}},
		image.Section{Name: "b", VirtualRange: image.Range{Start: 0x1800, Size: 0x1000}},
	)
	assert.True(t, image.IsKind(err, image.Overlap), "got %v", err)

	_, err = image.New(0x400000, make([]byte, 0x1000), 4,
		image.Section{Name: "a", VirtualRange: image.Range{Start: 0x800, Size: 0x1000}},
	)
	assert.True(t, image.IsKind(err, image.OutOfRange), "got %v", err)

	_, err = image.New(0x400000, nil, 2)
	assert.Error(t, err)
}

func TestSectionContaining(t *testing.T) {
	b := testimage.Standard()
	img := b.Build()

	s, ok := img.SectionContaining(b.VA(testimage.RdataRVA + 8))
	require.True(t, ok)
	assert.Equal(t, ".rdata", s.Name)
	assert.True(t, img.InSection(b.VA(testimage.DataRVA), ".data"))
	assert.False(t, img.InSection(b.VA(testimage.DataRVA), ".text"))
	assert.False(t, img.InSection(0, ".text"))
}

// buildPE writes a minimal PE32+ file with one code and one data section.
func buildPE(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	le := binary.LittleEndian

	dos := make([]byte, 0x40)
	copy(dos, "MZ")
	le.PutUint32(dos[0x3c:], 0x40)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	const numSections = 2
	optSize := 240
	binary.Write(&buf, le, struct {
		Machine              uint16
		NumberOfSections     uint16
		TimeDateStamp        uint32
		PointerToSymbolTable uint32
		NumberOfSymbols      uint32
		SizeOfOptionalHeader uint16
		Characteristics      uint16
	}{0x8664, numSections, 0, 0, 0, uint16(optSize), 0x22})

	opt := make([]byte, optSize)
	le.PutUint16(opt[0:], 0x20b)
	le.PutUint64(opt[24:], 0x140000000) // ImageBase
	le.PutUint32(opt[32:], 0x1000)      // SectionAlignment
	le.PutUint32(opt[36:], 0x200)       // FileAlignment
	le.PutUint32(opt[56:], 0x3000)      // SizeOfImage
	le.PutUint32(opt[60:], 0x200)       // SizeOfHeaders
	le.PutUint32(opt[108:], 16)         // NumberOfRvaAndSizes
	buf.Write(opt)

	writeSection := func(name string, va, vsize, raw, off, chars uint32) {
		var n [8]byte
		copy(n[:], name)
		buf.Write(n[:])
		binary.Write(&buf, le, []uint32{vsize, va, raw, off, 0, 0})
		binary.Write(&buf, le, []uint16{0, 0})
		binary.Write(&buf, le, chars)
	}
	writeSection(".text", 0x1000, 0x10, 0x200, 0x200, image.ScnCntCode|image.ScnMemExecute|image.ScnMemRead)
	writeSection(".data", 0x2000, 0x8, 0x200, 0x400, image.ScnInitialized|image.ScnMemRead|image.ScnMemWrite)

	out := make([]byte, 0x600)
	copy(out, buf.Bytes())
	copy(out[0x200:], []byte{0xcc, 0x90, 0xc3})
	copy(out[0x400:], []byte("DATA"))
	return out
}

func TestFromPE(t *testing.T) {
	img, err := image.FromPE(bytes.NewReader(buildPE(t)))
	require.NoError(t, err)

	assert.Equal(t, image.Address(0x140000000), img.Base())
	assert.Equal(t, 8, img.PointerSize())
	assert.Equal(t, uint64(0x3000), img.Size())

	text, ok := img.Section(".text")
	require.True(t, ok)
	assert.Equal(t, uint64(0x10), text.VirtualRange.Size)
	assert.True(t, text.Executable())

	code, err := img.Read(0x1000, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xcc, 0x90, 0xc3}, code)

	data, err := img.ReadVA(0x140002000, 4)
	require.NoError(t, err)
	assert.Equal(t, "DATA", string(data))

	// bytes past VirtualSize are not copied in
	tail, err := img.Read(0x2008, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, tail)
}

func TestFromMapped(t *testing.T) {
	file, err := image.FromPE(bytes.NewReader(buildPE(t)))
	require.NoError(t, err)

	mapped := make([]byte, file.Size())
	require.NoError(t, file.ReadAt(mapped, file.Base()))

	live, err := image.FromMapped(0x7ff600000000, mapped)
	require.NoError(t, err)
	assert.Equal(t, image.Address(0x7ff600000000), live.Base())
	assert.Len(t, live.Sections(), 2)

	data, err := live.ReadVA(0x7ff600002000, 4)
	require.NoError(t, err)
	assert.Equal(t, "DATA", string(data))
}
