package image

import (
	"bytes"
	"debug/pe"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxImageSize guards against corrupt SizeOfImage values.
const maxImageSize = 1 << 31

type peLayout struct {
	base          Address
	sizeOfImage   uint64
	sizeOfHeaders uint64
	ptrSize       int
}

func layoutOf(f *pe.File) (peLayout, error) {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		return peLayout{
			base:          Address(oh.ImageBase),
			sizeOfImage:   uint64(oh.SizeOfImage),
			sizeOfHeaders: uint64(oh.SizeOfHeaders),
			ptrSize:       8,
		}, nil
	case *pe.OptionalHeader32:
		return peLayout{
			base:          Address(oh.ImageBase),
			sizeOfImage:   uint64(oh.SizeOfImage),
			sizeOfHeaders: uint64(oh.SizeOfHeaders),
			ptrSize:       4,
		}, nil
	default:
		return peLayout{}, fmt.Errorf("image: PE file has no optional header")
	}
}

func sectionsOf(f *pe.File, sizeOfImage uint64) []Section {
	var out []Section
	for _, s := range f.Sections {
		vsize := uint64(s.VirtualSize)
		if vsize == 0 {
			vsize = uint64(s.Size)
		}
		start := uint64(s.VirtualAddress)
		if start >= sizeOfImage {
			continue
		}
		if start+vsize > sizeOfImage {
			vsize = sizeOfImage - start
		}
		out = append(out, Section{
			Name:            s.Name,
			VirtualRange:    Range{Start: RVA(start), Size: vsize},
			FileOffset:      uint64(s.Offset),
			Characteristics: s.Characteristics,
		})
	}
	return out
}

// FromPE maps a PE file into its in-memory layout at its preferred base.
func FromPE(r io.ReaderAt) (*Image, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("image: failed to parse PE: %w", err)
	}
	defer f.Close()

	l, err := layoutOf(f)
	if err != nil {
		return nil, err
	}
	if l.sizeOfImage == 0 || l.sizeOfImage > maxImageSize {
		return nil, fmt.Errorf("image: bad SizeOfImage %#x", l.sizeOfImage)
	}

	buf := make([]byte, l.sizeOfImage)
	hdr := min(l.sizeOfHeaders, l.sizeOfImage)
	if _, err := r.ReadAt(buf[:hdr], 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("image: failed to read PE headers: %w", err)
	}

	for _, s := range f.Sections {
		start := uint64(s.VirtualAddress)
		if start >= l.sizeOfImage || s.Size == 0 {
			continue
		}
		n := uint64(s.Size)
		if s.VirtualSize != 0 && uint64(s.VirtualSize) < n {
			n = uint64(s.VirtualSize)
		}
		n = min(n, l.sizeOfImage-start)
		if _, err := s.ReadAt(buf[start:start+n], 0); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("image: failed to read section %s: %w", s.Name, err)
		}
	}

	return New(l.base, buf, l.ptrSize, sectionsOf(f, l.sizeOfImage)...)
}

// OpenPE reads and maps the PE file at path.
func OpenPE(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return FromPE(f)
}

// FromMapped builds an Image from a buffer that is already in mapped
// layout, e.g. a copy of a module read out of a running process. The PE
// headers at the start of buf supply the section table; base is where the
// module is actually loaded.
func FromMapped(base Address, buf []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("image: failed to parse mapped PE headers: %w", err)
	}
	defer f.Close()

	l, err := layoutOf(f)
	if err != nil {
		return nil, err
	}
	size := uint64(len(buf))
	if l.sizeOfImage != 0 && l.sizeOfImage < size {
		size = l.sizeOfImage
	}
	return New(base, buf[:size], l.ptrSize, sectionsOf(f, size)...)
}
