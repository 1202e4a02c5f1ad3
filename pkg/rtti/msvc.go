package rtti

import (
	"errors"
	"strconv"
	"strings"
)

var errBadMangling = errors.New("rtti: invalid MSVC type name")

// msvcParser decodes the type-descriptor names MSVC emits for RTTI
// (".?AVFoo@ns@@" and friends). Only the type grammar is handled; function
// signatures never appear in type descriptors.
type msvcParser struct {
	s     string
	names []string // name back-references, at most 10
}

func (p *msvcParser) eof() bool { return len(p.s) == 0 }

func (p *msvcParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.s[0]
}

func (p *msvcParser) consume(prefix string) bool {
	if strings.HasPrefix(p.s, prefix) {
		p.s = p.s[len(prefix):]
		return true
	}
	return false
}

func (p *msvcParser) memorize(name string) {
	if len(p.names) >= 10 {
		return
	}
	for _, n := range p.names {
		if n == name {
			return
		}
	}
	p.names = append(p.names, name)
}

func demangleMSVC(mangled string) (string, error) {
	if !strings.HasPrefix(mangled, ".?A") {
		return "", errBadMangling
	}
	p := &msvcParser{s: mangled[len(".?A"):]}
	switch {
	case p.consume("V"), p.consume("U"), p.consume("T"), p.consume("W4"):
	default:
		return "", errBadMangling
	}
	name, err := p.qualifiedName()
	if err != nil {
		return "", err
	}
	if !p.eof() {
		return "", errBadMangling
	}
	return name, nil
}

// qualifiedName reads fragments innermost first up to the terminating '@'.
func (p *msvcParser) qualifiedName() (string, error) {
	var parts []string
	for {
		if p.eof() {
			return "", errBadMangling
		}
		if p.consume("@") {
			break
		}
		part, err := p.fragment()
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", errBadMangling
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "::"), nil
}

func (p *msvcParser) fragment() (string, error) {
	switch c := p.peek(); {
	case c >= '0' && c <= '9':
		p.s = p.s[1:]
		i := int(c - '0')
		if i >= len(p.names) {
			return "", errBadMangling
		}
		return p.names[i], nil
	case p.consume("?$"):
		return p.template()
	case p.consume("?A"):
		if _, err := p.simpleName(); err != nil {
			return "", err
		}
		return "`anonymous namespace'", nil
	case c == '?':
		// numbered scope such as ?1??func@@
		p.s = p.s[1:]
		n, err := p.number()
		if err != nil {
			return "", err
		}
		return "`" + strconv.FormatInt(n, 10) + "'", nil
	default:
		name, err := p.simpleName()
		if err != nil {
			return "", err
		}
		p.memorize(name)
		return name, nil
	}
}

func (p *msvcParser) simpleName() (string, error) {
	i := strings.IndexByte(p.s, '@')
	if i <= 0 {
		return "", errBadMangling
	}
	name := p.s[:i]
	p.s = p.s[i+1:]
	return name, nil
}

// template reads name@args@ with a fresh back-reference table, then records
// the whole instantiation in the enclosing one.
func (p *msvcParser) template() (string, error) {
	outer := p.names
	p.names = nil
	full, err := p.templateBody()
	p.names = outer
	if err != nil {
		return "", err
	}
	p.memorize(full)
	return full, nil
}

func (p *msvcParser) templateBody() (string, error) {
	name, err := p.simpleName()
	if err != nil {
		return "", err
	}
	p.memorize(name)

	var args []string
	for !p.consume("@") {
		if p.eof() {
			return "", errBadMangling
		}
		arg, err := p.templateArg()
		if err != nil {
			return "", err
		}
		if arg != "" {
			args = append(args, arg)
		}
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('<')
	b.WriteString(strings.Join(args, ","))
	if strings.HasSuffix(b.String(), ">") {
		b.WriteByte(' ')
	}
	b.WriteByte('>')
	return b.String(), nil
}

func (p *msvcParser) templateArg() (string, error) {
	switch {
	case p.consume("$$V"), p.consume("$$Z"):
		return "", nil
	case p.consume("$0"):
		n, err := p.number()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case p.consume("$$C"):
		// cv-qualified type argument
		cv, err := p.cv()
		if err != nil {
			return "", err
		}
		t, err := p.typ()
		if err != nil {
			return "", err
		}
		return t + cv, nil
	}
	return p.typ()
}

// number decodes MSVC's integer encoding: an optional '?' for negative, then
// either one digit meaning 1..10 or hex digits A..P terminated by '@'.
func (p *msvcParser) number() (int64, error) {
	neg := p.consume("?")
	if c := p.peek(); c >= '0' && c <= '9' {
		p.s = p.s[1:]
		n := int64(c-'0') + 1
		if neg {
			n = -n
		}
		return n, nil
	}
	var n uint64
	for {
		if p.eof() {
			return 0, errBadMangling
		}
		c := p.s[0]
		p.s = p.s[1:]
		if c == '@' {
			break
		}
		if c < 'A' || c > 'P' {
			return 0, errBadMangling
		}
		n = n<<4 | uint64(c-'A')
	}
	if neg {
		return -int64(n), nil
	}
	return int64(n), nil
}

var primitives = map[byte]string{
	'C': "signed char",
	'D': "char",
	'E': "unsigned char",
	'F': "short",
	'G': "unsigned short",
	'H': "int",
	'I': "unsigned int",
	'J': "long",
	'K': "unsigned long",
	'M': "float",
	'N': "double",
	'O': "long double",
	'X': "void",
}

var extPrimitives = map[byte]string{
	'N': "bool",
	'J': "__int64",
	'K': "unsigned __int64",
	'W': "wchar_t",
	'S': "char16_t",
	'U': "char32_t",
	'Q': "char8_t",
}

func (p *msvcParser) cv() (string, error) {
	p.consume("E") // __ptr64
	switch {
	case p.consume("A"):
		return "", nil
	case p.consume("B"):
		return " const", nil
	case p.consume("C"):
		return " volatile", nil
	case p.consume("D"):
		return " const volatile", nil
	}
	return "", errBadMangling
}

func (p *msvcParser) typ() (string, error) {
	if p.eof() {
		return "", errBadMangling
	}
	c := p.s[0]
	if name, ok := primitives[c]; ok {
		p.s = p.s[1:]
		return name, nil
	}
	switch {
	case p.consume("_"):
		if p.eof() {
			return "", errBadMangling
		}
		name, ok := extPrimitives[p.s[0]]
		if !ok {
			return "", errBadMangling
		}
		p.s = p.s[1:]
		return name, nil
	case p.consume("V"), p.consume("U"), p.consume("T"), p.consume("W4"):
		return p.qualifiedName()
	case p.consume("P"), p.consume("Q"), p.consume("A"):
		var suffix string
		switch c {
		case 'P':
			suffix = " *"
		case 'Q':
			suffix = " * const"
		case 'A':
			suffix = " &"
		}
		cv, err := p.cv()
		if err != nil {
			return "", err
		}
		inner, err := p.typ()
		if err != nil {
			return "", err
		}
		return inner + cv + suffix, nil
	}
	return "", errBadMangling
}
