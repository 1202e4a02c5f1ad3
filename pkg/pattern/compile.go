package pattern

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxSkip bounds the width of a single skip token.
const MaxSkip = 0x1000

// ErrorKind classifies a compile Error.
type ErrorKind int

const (
	BadHex ErrorKind = iota + 1
	Unbalanced
	BadRange
	BadCapture
	Empty
)

func (k ErrorKind) String() string {
	switch k {
	case BadHex:
		return "malformed byte"
	case Unbalanced:
		return "unbalanced capture"
	case BadRange:
		return "malformed skip range"
	case BadCapture:
		return "malformed capture"
	case Empty:
		return "empty pattern"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is returned by Compile; no partial Pattern accompanies it.
type Error struct {
	Kind  ErrorKind
	Pos   int // byte offset of the offending token in the source text
	Token string
	Msg   string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("pattern: ")
	b.WriteString(e.Kind.String())
	if e.Token != "" {
		fmt.Fprintf(&b, " %q", e.Token)
	}
	fmt.Fprintf(&b, " at offset %d", e.Pos)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

type token struct {
	text string
	pos  int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isPunct(c byte) bool {
	return c == '$' || c == '\'' || c == '{' || c == '}'
}

func tokenize(text string) ([]token, error) {
	var toks []token
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case isSpace(c):
			i++
		case isPunct(c):
			toks = append(toks, token{text: text[i : i+1], pos: i})
			i++
		case c == '[':
			j := strings.IndexByte(text[i:], ']')
			if j < 0 {
				return nil, &Error{Kind: BadRange, Pos: i, Token: text[i:], Msg: "missing ']'"}
			}
			toks = append(toks, token{text: text[i : i+j+1], pos: i})
			i += j + 1
		default:
			j := i
			for j < len(text) && !isSpace(text[j]) && !isPunct(text[j]) && text[j] != '[' {
				j++
			}
			toks = append(toks, token{text: text[i:j], pos: i})
			i = j
		}
	}
	return toks, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func parseByte(t token) (Atom, error) {
	switch t.text {
	case "?", "??":
		return Atom{Kind: Wildcard}, nil
	}
	if len(t.text) != 2 {
		return Atom{}, &Error{Kind: BadHex, Pos: t.pos, Token: t.text}
	}
	var value, mask byte
	for i := 0; i < 2; i++ {
		shift := uint(4 * (1 - i))
		if t.text[i] == '?' {
			continue
		}
		n, ok := hexNibble(t.text[i])
		if !ok {
			return Atom{}, &Error{Kind: BadHex, Pos: t.pos, Token: t.text}
		}
		value |= n << shift
		mask |= 0xf << shift
	}
	return Atom{Kind: ExactByte, Value: value, Mask: mask}, nil
}

func parseRange(t token) (Atom, error) {
	body := t.text[1 : len(t.text)-1]
	lo, hi, found := strings.Cut(body, "-")
	if !found {
		hi = lo
	}
	min, err1 := strconv.Atoi(strings.TrimSpace(lo))
	max, err2 := strconv.Atoi(strings.TrimSpace(hi))
	switch {
	case err1 != nil || err2 != nil:
		return Atom{}, &Error{Kind: BadRange, Pos: t.pos, Token: t.text, Msg: "bounds must be decimal integers"}
	case min < 0 || max < min:
		return Atom{}, &Error{Kind: BadRange, Pos: t.pos, Token: t.text, Msg: "need 0 <= min <= max"}
	case max > MaxSkip:
		return Atom{}, &Error{Kind: BadRange, Pos: t.pos, Token: t.text, Msg: fmt.Sprintf("max exceeds %d", MaxSkip)}
	}
	return Atom{Kind: SkipRange, Min: min, Max: max}, nil
}

// Compile parses a signature. Malformed input is rejected as a whole with
// an *Error.
func Compile(text string) (*Pattern, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	var (
		p        Pattern
		open     = -1 // index of the open CaptureStart atom
		openPos  int
		dollar   = false
		relative = false
		width    int
		matching int
	)

	for _, t := range toks {
		if dollar {
			switch t.text {
			case "'":
				if relative {
					return nil, &Error{Kind: BadCapture, Pos: t.pos, Token: t.text, Msg: "repeated relative marker"}
				}
				relative = true
				continue
			case "{":
				open = len(p.atoms)
				p.atoms = append(p.atoms, Atom{Kind: CaptureStart, Index: len(p.captures), Relative: relative})
				dollar = false
				width = 0
				continue
			default:
				return nil, &Error{Kind: BadCapture, Pos: t.pos, Token: t.text, Msg: "expected '{' after '$'"}
			}
		}

		switch {
		case t.text == "$":
			if open >= 0 {
				return nil, &Error{Kind: BadCapture, Pos: t.pos, Token: t.text, Msg: "nested capture"}
			}
			dollar, relative, openPos = true, false, t.pos
		case t.text == "'":
			return nil, &Error{Kind: BadCapture, Pos: t.pos, Token: t.text, Msg: "relative marker must follow '$'"}
		case t.text == "{":
			return nil, &Error{Kind: Unbalanced, Pos: t.pos, Token: t.text, Msg: "'{' without '$'"}
		case t.text == "}":
			if open < 0 {
				return nil, &Error{Kind: Unbalanced, Pos: t.pos, Token: t.text, Msg: "'}' without open capture"}
			}
			start := p.atoms[open]
			if err := checkWidth(start.Relative, width, t.pos); err != nil {
				return nil, err
			}
			p.atoms = append(p.atoms, Atom{Kind: CaptureEnd, Index: start.Index})
			p.captures = append(p.captures, Capture{Relative: start.Relative, Width: width})
			open = -1
		case strings.HasPrefix(t.text, "["):
			if open >= 0 {
				return nil, &Error{Kind: BadCapture, Pos: t.pos, Token: t.text, Msg: "skip inside capture"}
			}
			a, err := parseRange(t)
			if err != nil {
				return nil, err
			}
			p.minLen += a.Min
			if n := len(p.atoms); n > 0 && p.atoms[n-1].Kind == SkipRange {
				// [a-b] [c-d] is [a+c-b+d]
				if p.atoms[n-1].Max+a.Max > MaxSkip {
					return nil, &Error{Kind: BadRange, Pos: t.pos, Token: t.text, Msg: fmt.Sprintf("adjacent skips exceed %d", MaxSkip)}
				}
				p.atoms[n-1].Min += a.Min
				p.atoms[n-1].Max += a.Max
				continue
			}
			p.atoms = append(p.atoms, a)
		default:
			a, err := parseByte(t)
			if err != nil {
				return nil, err
			}
			p.atoms = append(p.atoms, a)
			p.minLen++
			matching++
			if open >= 0 {
				width++
			}
		}
	}

	if dollar {
		return nil, &Error{Kind: Unbalanced, Pos: openPos, Token: "$", Msg: "capture never opened"}
	}
	if open >= 0 {
		return nil, &Error{Kind: Unbalanced, Pos: len(text), Msg: "capture never closed"}
	}
	if matching == 0 {
		return nil, &Error{Kind: Empty, Pos: 0, Msg: "no byte tokens"}
	}

	return &p, nil
}

func checkWidth(relative bool, width, pos int) error {
	if relative {
		switch width {
		case 1, 2, 4:
			return nil
		}
		return &Error{Kind: BadCapture, Pos: pos, Token: "}", Msg: fmt.Sprintf("relative capture must be 1, 2 or 4 bytes, got %d", width)}
	}
	if width < 1 || width > 8 {
		return &Error{Kind: BadCapture, Pos: pos, Token: "}", Msg: fmt.Sprintf("capture must be 1-8 bytes, got %d", width)}
	}
	return nil
}
