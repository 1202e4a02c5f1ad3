// Package singleton discovers lazily-constructed global objects in an x86-64
// module by the null check the compiler emits in front of each of them, and
// names them by calling the type-name routine the module itself uses.
package singleton

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/apex/log"
	"github.com/blacktop/memscope/pkg/image"
	"github.com/blacktop/memscope/pkg/pattern"
	"github.com/blacktop/memscope/pkg/scan"
)

// DefaultPattern matches
//
//	mov  rax, [rip+slot]
//	test rax, rax
//	jcc  short ...
//	lea  rcx, [rip+meta]
//	call name
//
// capturing slot, meta and name in that order.
const DefaultPattern = "48 8B 05 $'{ ?? ?? ?? ?? } 48 85 C0 [0-2] 7? ?? 48 8D 0D $'{ ?? ?? ?? ?? } E8 $'{ ?? ?? ?? ?? }"

var defaultPattern = pattern.MustCompile(DefaultPattern)

// MaxNameLen bounds the name bytes accepted from a routine.
const MaxNameLen = 512

// Invoker calls the name routine at fn with arg as its only argument and
// returns the bytes of the NUL-terminated string it produced.
//
// This is the single point where discovery trusts the target's calling
// convention; the rest of the engine only reads memory.
type Invoker interface {
	InvokeName(fn, arg image.Address) ([]byte, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(fn, arg image.Address) ([]byte, error)

// InvokeName calls f(fn, arg).
func (f InvokerFunc) InvokeName(fn, arg image.Address) ([]byte, error) { return f(fn, arg) }

// CandidateFilter may veto a match before its captures are validated.
type CandidateFilter func(img *image.Image, m scan.Match) bool

// Options configures Discover.
type Options struct {
	Pattern     *pattern.Pattern
	CodeSection string
	DataSection string
	Filter      CandidateFilter
}

// Option mutates Options.
type Option func(*Options)

// WithPattern replaces the idiom pattern. It must have three captures: the
// slot, the metadata argument and the name routine.
func WithPattern(p *pattern.Pattern) Option {
	return func(o *Options) { o.Pattern = p }
}

// WithSections overrides the code and data section names.
func WithSections(code, data string) Option {
	return func(o *Options) {
		if code != "" {
			o.CodeSection = code
		}
		if data != "" {
			o.DataSection = data
		}
	}
}

// WithFilter installs an extra per-match check.
func WithFilter(f CandidateFilter) Option {
	return func(o *Options) { o.Filter = f }
}

func defaultOptions() Options {
	return Options{
		Pattern:     defaultPattern,
		CodeSection: ".text",
		DataSection: ".data",
	}
}

type call struct {
	fn, arg image.Address
}

// Discover scans the code section for the singleton idiom and returns the
// resulting table. Matches whose captures land in the wrong sections are
// dropped. A malformed name or a name collision aborts discovery.
func Discover(img *image.Image, inv Invoker, opts ...Option) (*Table, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Pattern.NumCaptures() != 3 {
		return nil, fmt.Errorf("singleton: discovery pattern needs 3 captures, has %d", o.Pattern.NumCaptures())
	}

	code, err := scan.SectionRegion(img, o.CodeSection)
	if err != nil {
		return nil, &SectionError{Name: o.CodeSection}
	}
	if _, ok := img.Section(o.DataSection); !ok {
		return nil, &SectionError{Name: o.DataSection}
	}

	matches, err := scan.Matches(img, code, o.Pattern)
	if err != nil {
		return nil, err
	}

	var (
		table    = NewTable()
		names    = make(map[call]string)
		seen     int
		rejected int
	)
	for m := range matches {
		seen++
		if o.Filter != nil && !o.Filter(img, m) {
			rejected++
			log.Debugf("singleton: %s rejected by filter", m.Start)
			continue
		}
		slot, meta, fn := m.Captures[0], m.Captures[1], m.Captures[2]
		if !img.InSection(slot, o.DataSection) || !img.InSection(meta, o.DataSection) || !img.InSection(fn, o.CodeSection) {
			rejected++
			log.Debugf("singleton: %s rejected: slot=%s meta=%s name=%s", m.Start, slot, meta, fn)
			continue
		}

		c := call{fn: fn, arg: meta}
		name, ok := names[c]
		if !ok {
			raw, err := inv.InvokeName(fn, meta)
			if err != nil {
				return nil, &InvokeError{Routine: fn, Meta: meta, Err: err}
			}
			if i := bytes.IndexByte(raw, 0); i >= 0 {
				raw = raw[:i]
			}
			if !utf8.Valid(raw) {
				return nil, &MalformedNameError{Routine: fn, Meta: meta, Raw: raw}
			}
			name = string(raw)
			names[c] = name
		}
		if name == "" {
			rejected++
			log.Debugf("singleton: %s rejected: empty name from %s", m.Start, fn)
			continue
		}
		if err := table.add(name, slot); err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"matches":    seen,
		"rejected":   rejected,
		"singletons": table.Len(),
	}).Debug("singleton discovery finished")

	return table, nil
}
