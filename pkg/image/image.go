// Package image provides a read-only view over a loaded executable module.
//
// An Image is a contiguous byte buffer laid out the way the module is mapped
// in memory (the index into the buffer is the RVA), a load base, a pointer
// width and a section table. Every read is bounds checked; nothing in this
// package dereferences a raw pointer.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Address is an absolute virtual address (VA) in the host process.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// RVA is an offset from a module's load base.
type RVA uint64

func (r RVA) String() string {
	return fmt.Sprintf("%#x", uint64(r))
}

// ErrNoTerminator is returned by ReadCString when no NUL byte was found
// within the requested bound.
var ErrNoTerminator = errors.New("image: no NUL terminator within bound")

// Image is an immutable view of a loaded module.
type Image struct {
	base     Address
	data     []byte
	ptrSize  int
	sections []Section
}

// New builds an Image from a mapped buffer. Sections must not overlap and
// must lie inside data.
func New(base Address, data []byte, ptrSize int, sections ...Section) (*Image, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, fmt.Errorf("image: unsupported pointer size %d", ptrSize)
	}
	if uint64(base)+uint64(len(data)) < uint64(base) {
		return nil, &AddressError{Kind: Overflow, Addr: uint64(base), Len: uint64(len(data))}
	}

	sects := make([]Section, len(sections))
	copy(sects, sections)
	sort.SliceStable(sects, func(i, j int) bool {
		return sects[i].VirtualRange.Start < sects[j].VirtualRange.Start
	})
	for i, s := range sects {
		end := uint64(s.VirtualRange.Start) + s.VirtualRange.Size
		if end < uint64(s.VirtualRange.Start) || end > uint64(len(data)) {
			return nil, &AddressError{Kind: OutOfRange, Addr: uint64(s.VirtualRange.Start), Len: s.VirtualRange.Size}
		}
		if i > 0 && sects[i-1].VirtualRange.End() > s.VirtualRange.Start {
			return nil, &AddressError{Kind: Overlap, Addr: uint64(s.VirtualRange.Start), Len: s.VirtualRange.Size}
		}
	}

	return &Image{
		base:     base,
		data:     data,
		ptrSize:  ptrSize,
		sections: sects,
	}, nil
}

// Base returns the load address of the module.
func (img *Image) Base() Address { return img.base }

// Size returns the number of mapped bytes.
func (img *Image) Size() uint64 { return uint64(len(img.data)) }

// PointerSize returns 4 or 8.
func (img *Image) PointerSize() int { return img.ptrSize }

// Sections returns a copy of the section table ordered by RVA.
func (img *Image) Sections() []Section {
	out := make([]Section, len(img.sections))
	copy(out, img.sections)
	return out
}

// Section looks up a section by its exact, case-sensitive name.
func (img *Image) Section(name string) (Section, bool) {
	for _, s := range img.sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// SectionContaining returns the section whose virtual range holds va.
func (img *Image) SectionContaining(va Address) (Section, bool) {
	rva, err := img.VAToRVA(va)
	if err != nil {
		return Section{}, false
	}
	for _, s := range img.sections {
		if s.VirtualRange.Contains(rva) {
			return s, true
		}
	}
	return Section{}, false
}

// InSection reports whether va lies in the named section.
func (img *Image) InSection(va Address, name string) bool {
	s, ok := img.SectionContaining(va)
	return ok && s.Name == name
}

// Bounds returns the absolute [start, end) range of a section.
func (img *Image) Bounds(s Section) (start, end Address) {
	start = img.base + Address(s.VirtualRange.Start)
	return start, start + Address(s.VirtualRange.Size)
}

// RVAToVA converts a section-relative address to an absolute one. It fails
// when rva is not inside any section or the addition overflows.
func (img *Image) RVAToVA(rva RVA) (Address, error) {
	mapped := false
	for _, s := range img.sections {
		if s.VirtualRange.Contains(rva) {
			mapped = true
			break
		}
	}
	if !mapped {
		return 0, &AddressError{Kind: Unmapped, Addr: uint64(rva)}
	}
	va := uint64(img.base) + uint64(rva)
	if va < uint64(img.base) {
		return 0, &AddressError{Kind: Overflow, Addr: uint64(rva)}
	}
	return Address(va), nil
}

// VAToRVA is the inverse of RVAToVA; it only requires va to fall inside the
// mapped range of the image.
func (img *Image) VAToRVA(va Address) (RVA, error) {
	if va < img.base || uint64(va-img.base) >= uint64(len(img.data)) {
		return 0, &AddressError{Kind: OutOfRange, Addr: uint64(va)}
	}
	return RVA(va - img.base), nil
}

// Read returns a view of n bytes starting at rva.
func (img *Image) Read(rva RVA, n uint64) ([]byte, error) {
	end := uint64(rva) + n
	if end < uint64(rva) {
		return nil, &AddressError{Kind: Overflow, Addr: uint64(rva), Len: n}
	}
	if end > uint64(len(img.data)) {
		return nil, &AddressError{Kind: OutOfRange, Addr: uint64(rva), Len: n}
	}
	return img.data[rva:end:end], nil
}

// ReadVA is Read keyed by an absolute address.
func (img *Image) ReadVA(va Address, n uint64) ([]byte, error) {
	rva, err := img.VAToRVA(va)
	if err != nil {
		return nil, err
	}
	return img.Read(rva, n)
}

// ReadAt implements Memory over the image snapshot.
func (img *Image) ReadAt(p []byte, va Address) error {
	data, err := img.ReadVA(va, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(p, data)
	return nil
}

// ReadPointer reads a little-endian pointer-width value at va.
func (img *Image) ReadPointer(va Address) (Address, error) {
	data, err := img.ReadVA(va, uint64(img.ptrSize))
	if err != nil {
		return 0, err
	}
	if img.ptrSize == 4 {
		return Address(binary.LittleEndian.Uint32(data)), nil
	}
	return Address(binary.LittleEndian.Uint64(data)), nil
}

// ReadUint32 reads a little-endian uint32 at va.
func (img *Image) ReadUint32(va Address) (uint32, error) {
	data, err := img.ReadVA(va, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// ReadCString returns the bytes at va up to (not including) the first NUL,
// looking at most max bytes ahead. The read is clipped at the end of the
// image.
func (img *Image) ReadCString(va Address, max int) ([]byte, error) {
	rva, err := img.VAToRVA(va)
	if err != nil {
		return nil, err
	}
	n := uint64(max)
	if rem := uint64(len(img.data)) - uint64(rva); rem < n {
		n = rem
	}
	data, err := img.Read(rva, n)
	if err != nil {
		return nil, err
	}
	for i, b := range data {
		if b == 0 {
			return data[:i], nil
		}
	}
	return nil, ErrNoTerminator
}

// Memory is implemented by anything that can copy bytes out of the target
// address space: an Image snapshot or a live process handle.
type Memory interface {
	ReadAt(p []byte, va Address) error
}
