// Package scan finds occurrences of compiled patterns in an image.
package scan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/blacktop/memscope/pkg/image"
	"github.com/blacktop/memscope/pkg/pattern"
)

// Match is one pattern hit.
type Match struct {
	Start    image.Address
	End      image.Address // exclusive
	Captures []image.Address
}

// Len returns the number of matched bytes.
func (m Match) Len() uint64 { return uint64(m.End - m.Start) }

func (m Match) String() string {
	return fmt.Sprintf("%s-%s captures=%v", m.Start, m.End, m.Captures)
}

// Matches lazily yields every match of p inside region r, in ascending
// address order. The region must lie within img's mapped range.
func Matches(img *image.Image, r Region, p *pattern.Pattern) (iter.Seq[Match], error) {
	data, err := img.ReadVA(r.Start, r.Size())
	if err != nil {
		return nil, fmt.Errorf("scan: region %s: %w", r, err)
	}
	return Bytes(data, r.Start, p), nil
}

// Bytes yields the matches of p over data, treating data[0] as living at
// address base.
func Bytes(data []byte, base image.Address, p *pattern.Pattern) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		if p == nil || p.Len() == 0 {
			return
		}
		m := newMatcher(data, p)

		anchor, anchored := m.anchor()
		last := len(data) - p.MinLen()
		for start := 0; start <= last; start++ {
			if anchored {
				i := bytes.IndexByte(data[start:last+1], anchor)
				if i < 0 {
					return
				}
				start += i
			}
			m.reset()
			end, ok := m.match(0, start)
			if !ok {
				continue
			}
			if !yield(m.result(base, start, end)) {
				return
			}
		}
	}
}

// First returns the lowest-addressed match in r.
func First(img *image.Image, r Region, p *pattern.Pattern) (Match, bool, error) {
	seq, err := Matches(img, r, p)
	if err != nil {
		return Match{}, false, err
	}
	for m := range seq {
		return m, true, nil
	}
	return Match{}, false, nil
}

// All collects up to limit matches from seq; a limit <= 0 collects all.
func All(seq iter.Seq[Match], limit int) []Match {
	var out []Match
	for m := range seq {
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

type matcher struct {
	data  []byte
	atoms []pattern.Atom
	caps  []pattern.Capture
	start []int
	end   []int

	// failed holds (atom, offset) states known not to match from the
	// current start position.
	failed map[int]struct{}
}

func newMatcher(data []byte, p *pattern.Pattern) *matcher {
	n := p.NumCaptures()
	return &matcher{
		data:  data,
		atoms: p.Atoms(),
		caps:  p.Captures(),
		start:  make([]int, n),
		end:    make([]int, n),
		failed: make(map[int]struct{}),
	}
}

func (m *matcher) reset() {
	if len(m.failed) > 0 {
		clear(m.failed)
	}
}

// anchor returns the first atom's byte when the pattern opens with an
// unmasked exact byte, letting the outer loop jump with IndexByte.
func (m *matcher) anchor() (byte, bool) {
	for _, a := range m.atoms {
		switch a.Kind {
		case pattern.CaptureStart:
			continue
		case pattern.ExactByte:
			return a.Value, a.Mask == 0xff
		}
		return 0, false
	}
	return 0, false
}

// match runs atoms[ai:] from pos and returns the end offset. Skip atoms try
// each length in ascending order and the first that lets the rest of the
// pattern match wins. Whether atoms[ai:] matches at pos does not depend on
// how pos was reached, so each failed state is tried once per start.
func (m *matcher) match(ai, pos int) (int, bool) {
	for ; ai < len(m.atoms); ai++ {
		a := &m.atoms[ai]
		switch a.Kind {
		case pattern.ExactByte:
			if pos >= len(m.data) || m.data[pos]&a.Mask != a.Value {
				return 0, false
			}
			pos++
		case pattern.Wildcard:
			if pos >= len(m.data) {
				return 0, false
			}
			pos++
		case pattern.CaptureStart:
			m.start[a.Index] = pos
		case pattern.CaptureEnd:
			m.end[a.Index] = pos
		case pattern.SkipRange:
			stride := len(m.data) + 1
			for n := a.Min; n <= a.Max && pos+n <= len(m.data); n++ {
				key := (ai+1)*stride + pos + n
				if _, dead := m.failed[key]; dead {
					continue
				}
				if end, ok := m.match(ai+1, pos+n); ok {
					return end, true
				}
				m.failed[key] = struct{}{}
			}
			return 0, false
		}
	}
	return pos, true
}

func (m *matcher) result(base image.Address, start, end int) Match {
	res := Match{
		Start: base + image.Address(start),
		End:   base + image.Address(end),
	}
	if len(m.caps) > 0 {
		res.Captures = make([]image.Address, len(m.caps))
	}
	for i, c := range m.caps {
		raw := m.data[m.start[i]:m.end[i]]
		if c.Relative {
			next := base + image.Address(m.end[i])
			res.Captures[i] = next + image.Address(displacement(raw))
		} else {
			res.Captures[i] = image.Address(little(raw))
		}
	}
	return res
}

func little(b []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:], b)
	return binary.LittleEndian.Uint64(tmp[:])
}

func displacement(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	default:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	}
}
