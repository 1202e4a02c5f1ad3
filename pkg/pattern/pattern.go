// Package pattern compiles textual byte signatures into reusable matchers.
//
// A signature is a whitespace separated list of tokens:
//
//	48        exact byte
//	?  ??     any byte
//	4?  ?8    byte with one nibble fixed
//	${ ... }  capture the bytes in between as a little-endian value
//	$'{ ... } capture a signed displacement and resolve it to
//	          (address after the operand + displacement)
//	[2-6]     skip between 2 and 6 arbitrary bytes ([4] skips exactly 4)
//
// The punctuation in a capture may be written attached ("$'{") or spaced
// ("$ ' {").
package pattern

import (
	"fmt"
	"strings"
)

// Kind is the type of an Atom.
type Kind uint8

const (
	// ExactByte matches one byte under Mask.
	ExactByte Kind = iota
	// Wildcard matches any byte.
	Wildcard
	// CaptureStart opens capture number Index.
	CaptureStart
	// CaptureEnd closes capture number Index.
	CaptureEnd
	// SkipRange consumes between Min and Max arbitrary bytes.
	SkipRange
)

func (k Kind) String() string {
	switch k {
	case ExactByte:
		return "byte"
	case Wildcard:
		return "wildcard"
	case CaptureStart:
		return "capture-start"
	case CaptureEnd:
		return "capture-end"
	case SkipRange:
		return "skip"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Atom is one step of a compiled Pattern.
type Atom struct {
	Kind     Kind
	Value    byte // ExactByte
	Mask     byte // ExactByte: 0xff, 0xf0 or 0x0f
	Index    int  // CaptureStart, CaptureEnd
	Relative bool // CaptureStart
	Min, Max int  // SkipRange
}

func (a Atom) String() string {
	switch a.Kind {
	case ExactByte:
		switch a.Mask {
		case 0xf0:
			return fmt.Sprintf("%X?", a.Value>>4)
		case 0x0f:
			return fmt.Sprintf("?%X", a.Value&0x0f)
		default:
			return fmt.Sprintf("%02X", a.Value)
		}
	case Wildcard:
		return "??"
	case CaptureStart:
		if a.Relative {
			return "$'{"
		}
		return "${"
	case CaptureEnd:
		return "}"
	case SkipRange:
		if a.Min == a.Max {
			return fmt.Sprintf("[%d]", a.Min)
		}
		return fmt.Sprintf("[%d-%d]", a.Min, a.Max)
	default:
		return a.Kind.String()
	}
}

// Capture describes one capture span of a Pattern.
type Capture struct {
	// Relative captures resolve to the branch/RIP-relative target.
	Relative bool
	// Width is the number of bytes covered by the capture.
	Width int
}

// Pattern is an immutable compiled signature. It holds no reference to any
// image and may be shared between goroutines and scans.
type Pattern struct {
	atoms    []Atom
	captures []Capture
	minLen   int
}

// Atoms returns a copy of the compiled atoms.
func (p *Pattern) Atoms() []Atom {
	out := make([]Atom, len(p.atoms))
	copy(out, p.atoms)
	return out
}

// Atom returns atom i without copying the whole program.
func (p *Pattern) Atom(i int) Atom { return p.atoms[i] }

// Len returns the number of atoms.
func (p *Pattern) Len() int { return len(p.atoms) }

// Captures returns the capture descriptors in order.
func (p *Pattern) Captures() []Capture {
	out := make([]Capture, len(p.captures))
	copy(out, p.captures)
	return out
}

// NumCaptures returns the number of capture spans.
func (p *Pattern) NumCaptures() int { return len(p.captures) }

// MinLen is the fewest bytes any match can span.
func (p *Pattern) MinLen() int { return p.minLen }

// String renders the canonical text form; compiling it yields an
// equivalent Pattern.
func (p *Pattern) String() string {
	parts := make([]string, len(p.atoms))
	for i, a := range p.atoms {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}

// MustCompile is like Compile but panics on error. It is meant for
// package-level signature literals.
func MustCompile(text string) *Pattern {
	p, err := Compile(text)
	if err != nil {
		panic(err)
	}
	return p
}
