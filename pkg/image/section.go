package image

import "fmt"

// PE section characteristics used to classify sections.
const (
	ScnCntCode     = 0x00000020
	ScnMemExecute  = 0x20000000
	ScnMemRead     = 0x40000000
	ScnMemWrite    = 0x80000000
	ScnInitialized = 0x00000040
)

// Range is a half-open [Start, Start+Size) interval of RVAs.
type Range struct {
	Start RVA
	Size  uint64
}

// End returns the first RVA past the range.
func (r Range) End() RVA {
	return r.Start + RVA(r.Size)
}

// Contains reports whether rva is inside the range.
func (r Range) Contains(rva RVA) bool {
	return rva >= r.Start && uint64(rva-r.Start) < r.Size
}

// Section is a named, contiguously mapped region of a module.
type Section struct {
	Name            string
	VirtualRange    Range
	FileOffset      uint64
	Characteristics uint32
}

// Executable reports whether the section holds code.
func (s Section) Executable() bool {
	return s.Characteristics&(ScnMemExecute|ScnCntCode) != 0
}

// Writable reports whether the section is mapped writable.
func (s Section) Writable() bool {
	return s.Characteristics&ScnMemWrite != 0
}

func (s Section) String() string {
	var prot [3]byte
	prot[0], prot[1], prot[2] = '-', '-', '-'
	if s.Characteristics&ScnMemRead != 0 {
		prot[0] = 'r'
	}
	if s.Writable() {
		prot[1] = 'w'
	}
	if s.Executable() {
		prot[2] = 'x'
	}
	return fmt.Sprintf("%-8s rva=%#08x size=%#08x off=%#08x %s",
		s.Name, uint64(s.VirtualRange.Start), s.VirtualRange.Size, s.FileOffset, string(prot[:]))
}
