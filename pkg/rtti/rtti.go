// Package rtti recovers class names from MSVC run-time type information.
//
// The pointer-sized word in front of every vtable points at a complete
// object locator (COL). The COL leads to a type descriptor whose name field
// holds the mangled class name:
//
//	vtable[-1] -> COL { signature, offset, cdOffset, typeDescriptor, ... }
//	typeDescriptor { pVFTable, spare, name[] }
//
// On x64 (signature 1) the COL stores image-relative offsets; on x86
// (signature 0) it stores absolute pointers.
package rtti

import (
	"errors"
	"fmt"
	"iter"

	"github.com/apex/log"
	"github.com/blacktop/memscope/pkg/image"
)

// MaxNameLen bounds the mangled-name read.
const MaxNameLen = 256

const (
	colSignature32 = 0
	colSignature64 = 1
)

// ClassInfo is one recovered class.
type ClassInfo struct {
	Name    string        `json:"name"`
	Mangled string        `json:"mangled"`
	Vtable  image.Address `json:"vtable"`
	Locator image.Address `json:"locator"`
}

func (c ClassInfo) String() string {
	return fmt.Sprintf("%s %s", c.Vtable, c.Name)
}

// VtableHeader holds the two words a resolver needs from a vtable.
type VtableHeader struct {
	Meta      image.Address // the word before the vtable
	FirstSlot image.Address // the first virtual function
}

// VtableReader recovers the header of whatever claims to be a vtable.
type VtableReader interface {
	ReadVtable(vtable image.Address) (VtableHeader, error)
}

type imageVtables struct {
	img *image.Image
}

func (r imageVtables) ReadVtable(vtable image.Address) (VtableHeader, error) {
	ptr := image.Address(r.img.PointerSize())
	if vtable < ptr {
		return VtableHeader{}, &image.AddressError{Kind: image.OutOfRange, Addr: uint64(vtable)}
	}
	meta, err := r.img.ReadPointer(vtable - ptr)
	if err != nil {
		return VtableHeader{}, err
	}
	first, err := r.img.ReadPointer(vtable)
	if err != nil {
		return VtableHeader{}, err
	}
	return VtableHeader{Meta: meta, FirstSlot: first}, nil
}

// Options configures a Resolver.
type Options struct {
	MetaSection  string
	CodeSection  string
	NameSections []string
	MaxName      int
	Reader       VtableReader
	Demangler    *Demangler
}

// Option mutates Options.
type Option func(*Options)

// WithSections overrides the metadata and code section names.
func WithSections(meta, code string) Option {
	return func(o *Options) {
		if meta != "" {
			o.MetaSection = meta
		}
		if code != "" {
			o.CodeSection = code
		}
	}
}

// WithNameSections sets the sections a type-descriptor name may live in.
func WithNameSections(names ...string) Option {
	return func(o *Options) {
		if len(names) > 0 {
			o.NameSections = names
		}
	}
}

// WithMaxName bounds the mangled-name read.
func WithMaxName(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxName = n
		}
	}
}

// WithVtableReader replaces the image-backed vtable reader.
func WithVtableReader(r VtableReader) Option {
	return func(o *Options) { o.Reader = r }
}

// WithDemangler sets the demangler (and its cache).
func WithDemangler(d *Demangler) Option {
	return func(o *Options) { o.Demangler = d }
}

// Resolver maps vtables to class names. It only reads the image and is safe
// for concurrent use.
type Resolver struct {
	img  *image.Image
	opts Options
}

// NewResolver returns a Resolver over img.
func NewResolver(img *image.Image, opts ...Option) *Resolver {
	o := Options{
		MetaSection:  ".rdata",
		CodeSection:  ".text",
		NameSections: []string{".rdata"},
		MaxName:      MaxNameLen,
		Demangler:    defaultDemangler,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Reader == nil {
		o.Reader = imageVtables{img: img}
	}
	return &Resolver{img: img, opts: o}
}

// ClassNameForVtable returns the demangled class name for vtable.
func (r *Resolver) ClassNameForVtable(vtable image.Address) (string, bool) {
	ci, ok := r.Resolve(vtable)
	return ci.Name, ok
}

// Resolve returns the full ClassInfo for vtable.
func (r *Resolver) Resolve(vtable image.Address) (ClassInfo, bool) {
	hdr, err := r.opts.Reader.ReadVtable(vtable)
	if err != nil {
		log.Debugf("rtti: %s: %v", vtable, err)
		return ClassInfo{}, false
	}
	return r.fromLocator(vtable, hdr.Meta)
}

func (r *Resolver) fromLocator(vtable, col image.Address) (ClassInfo, bool) {
	mangled, ok := r.locatorName(col)
	if !ok {
		return ClassInfo{}, false
	}
	return ClassInfo{
		Name:    r.opts.Demangler.Demangle(mangled),
		Mangled: mangled,
		Vtable:  vtable,
		Locator: col,
	}, true
}

func (r *Resolver) locatorName(col image.Address) (string, bool) {
	if !r.img.InSection(col, r.opts.MetaSection) {
		return "", false
	}
	sig, err := r.img.ReadUint32(col)
	if err != nil {
		return "", false
	}
	field, err := r.img.ReadUint32(col + 12)
	if err != nil {
		return "", false
	}

	var td image.Address
	switch sig {
	case colSignature64:
		self, err := r.img.ReadUint32(col + 20)
		if err != nil || image.Address(self) != col-r.img.Base() {
			return "", false
		}
		if td, err = r.img.RVAToVA(image.RVA(field)); err != nil {
			return "", false
		}
	case colSignature32:
		if r.img.PointerSize() != 4 {
			return "", false
		}
		td = image.Address(field)
	default:
		return "", false
	}

	nameVA := td + 2*image.Address(r.img.PointerSize())
	if !r.inNameSection(nameVA) {
		return "", false
	}
	raw, err := r.img.ReadCString(nameVA, r.opts.MaxName)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			return "", false
		}
	}
	return string(raw), true
}

func (r *Resolver) inNameSection(va image.Address) bool {
	s, ok := r.img.SectionContaining(va)
	if !ok {
		return false
	}
	for _, name := range r.opts.NameSections {
		if s.Name == name {
			return true
		}
	}
	return false
}

// ErrNoMetaSection is returned by AllClasses when the metadata section is
// missing.
var ErrNoMetaSection = errors.New("rtti: metadata section not found")

// AllClasses walks the metadata section one pointer at a time, treating each
// word as a candidate locator pointer immediately followed by a vtable whose
// first slot must point into code. Only candidates that pass every check are
// yielded, in address order.
func (r *Resolver) AllClasses() (iter.Seq[ClassInfo], error) {
	s, ok := r.img.Section(r.opts.MetaSection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMetaSection, r.opts.MetaSection)
	}
	start, end := r.img.Bounds(s)
	ptr := image.Address(r.img.PointerSize())

	return func(yield func(ClassInfo) bool) {
		for va := start; va+2*ptr <= end; va += ptr {
			vtable := va + ptr
			hdr, err := r.opts.Reader.ReadVtable(vtable)
			if err != nil {
				continue
			}
			if !r.img.InSection(hdr.Meta, r.opts.MetaSection) || !r.img.InSection(hdr.FirstSlot, r.opts.CodeSection) {
				continue
			}
			ci, ok := r.fromLocator(vtable, hdr.Meta)
			if !ok {
				continue
			}
			if !yield(ci) {
				return
			}
		}
	}, nil
}
