package image

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrUnsupported is returned by live-process operations on platforms that
// have no process backend.
var ErrUnsupported = fmt.Errorf("image: live process access is not supported on %s", runtime.GOOS)

// ErrorKind classifies an AddressError.
type ErrorKind int

const (
	// OutOfRange means the address (or address+length) leaves the mapped buffer.
	OutOfRange ErrorKind = iota + 1
	// Unmapped means the RVA is inside the image but in no section.
	Unmapped
	// Overflow means the arithmetic wrapped around the address space.
	Overflow
	// Overlap means two sections claim the same RVAs.
	Overlap
)

func (k ErrorKind) String() string {
	switch k {
	case OutOfRange:
		return "out of range"
	case Unmapped:
		return "not in any section"
	case Overflow:
		return "address overflow"
	case Overlap:
		return "overlapping section"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// AddressError is returned by every bounds-checked Image operation.
type AddressError struct {
	Kind ErrorKind
	Addr uint64
	Len  uint64
}

func (e *AddressError) Error() string {
	if e.Len > 0 {
		return fmt.Sprintf("image: %#x+%#x: %s", e.Addr, e.Len, e.Kind)
	}
	return fmt.Sprintf("image: %#x: %s", e.Addr, e.Kind)
}

// IsKind reports whether err is an AddressError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *AddressError
	return errors.As(err, &ae) && ae.Kind == kind
}
