package pattern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		want     []Atom
		captures []Capture
		minLen   int
	}{
		{
			name:   "exact and wildcard",
			text:   "AA ?? cc ?",
			want:   []Atom{{Kind: ExactByte, Value: 0xaa, Mask: 0xff}, {Kind: Wildcard}, {Kind: ExactByte, Value: 0xcc, Mask: 0xff}, {Kind: Wildcard}},
			minLen: 4,
		},
		{
			name:   "nibbles",
			text:   "7? ?8",
			want:   []Atom{{Kind: ExactByte, Value: 0x70, Mask: 0xf0}, {Kind: ExactByte, Value: 0x08, Mask: 0x0f}},
			minLen: 2,
		},
		{
			name: "attached relative capture",
			text: "E8 $'{ ?? ?? ?? ?? }",
			want: []Atom{
				{Kind: ExactByte, Value: 0xe8, Mask: 0xff},
				{Kind: CaptureStart, Relative: true},
				{Kind: Wildcard}, {Kind: Wildcard}, {Kind: Wildcard}, {Kind: Wildcard},
				{Kind: CaptureEnd},
			},
			captures: []Capture{{Relative: true, Width: 4}},
			minLen:   5,
		},
		{
			name: "spaced raw capture",
			text: "$ { ?? ?? } 90",
			want: []Atom{
				{Kind: CaptureStart},
				{Kind: Wildcard}, {Kind: Wildcard},
				{Kind: CaptureEnd},
				{Kind: ExactByte, Value: 0x90, Mask: 0xff},
			},
			captures: []Capture{{Width: 2}},
			minLen:   3,
		},
		{
			name:   "skips",
			text:   "AA [1-3] BB [2]",
			want:   []Atom{{Kind: ExactByte, Value: 0xaa, Mask: 0xff}, {Kind: SkipRange, Min: 1, Max: 3}, {Kind: ExactByte, Value: 0xbb, Mask: 0xff}, {Kind: SkipRange, Min: 2, Max: 2}},
			minLen: 5,
		},
		{
			name: "two captures are numbered in order",
			text: "${ ?? } ${??}",
			want: []Atom{
				{Kind: CaptureStart, Index: 0}, {Kind: Wildcard}, {Kind: CaptureEnd, Index: 0},
				{Kind: CaptureStart, Index: 1}, {Kind: Wildcard}, {Kind: CaptureEnd, Index: 1},
			},
			captures: []Capture{{Width: 1}, {Width: 1}},
			minLen:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Atoms())
			if tt.captures == nil {
				tt.captures = []Capture{}
			}
			assert.Equal(t, tt.captures, p.Captures())
			assert.Equal(t, tt.minLen, p.MinLen())
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		text string
		kind ErrorKind
	}{
		{"", Empty},
		{"   ", Empty},
		{"[1-2]", Empty},
		{"AZ", BadHex},
		{"AAA", BadHex},
		{"A", BadHex},
		{"0x90", BadHex},
		{"AA }", Unbalanced},
		{"${ AA", Unbalanced},
		{"AA $", Unbalanced},
		{"{ AA }", Unbalanced},
		{"$ AA", BadCapture},
		{"' AA", BadCapture},
		{"$''{ AA }", BadCapture},
		{"${ ${ AA } }", BadCapture},
		{"${ AA [1-2] BB }", BadCapture},
		{"${ }", BadCapture},
		{"${ 00 00 00 00 00 00 00 00 00 }", BadCapture},
		{"$'{ 00 00 00 }", BadCapture},
		{"AA [3-1] BB", BadRange},
		{"AA [a-b] BB", BadRange},
		{"AA [1-2 BB", BadRange},
		{"AA [-1] BB", BadRange},
		{"AA [0-99999] BB", BadRange},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			p, err := Compile(tt.text)
			assert.Nil(t, p)
			var perr *Error
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.kind, perr.Kind, "got %v", err)
		})
	}
}

func TestErrorPosition(t *testing.T) {
	_, err := Compile("48 8B ZZ")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 6, perr.Pos)
	assert.Equal(t, "ZZ", perr.Token)
	assert.Contains(t, err.Error(), `"ZZ" at offset 6`)
}

func TestStringRoundTrip(t *testing.T) {
	for _, text := range []string{
		"48 8B 05 $'{ ?? ?? ?? ?? } 48 85 C0 [0-2] 7? ?? 48 8D 0D $'{ ?? ?? ?? ?? } E8 $'{ ?? ?? ?? ?? }",
		"?A [4] ${ ?? ?? ?? ?? ?? ?? ?? ?? }",
	} {
		p1 := MustCompile(text)
		p2, err := Compile(p1.String())
		require.NoError(t, err)
		assert.Equal(t, p1.Atoms(), p2.Atoms())
		assert.Equal(t, p1.String(), p2.String())
	}
	assert.Equal(t, "48 ?? 7? ?8 [3-5] $'{ ?? } ${ 00 }", MustCompile("48 ? 7? ?8 [0-2] [3] $'{??} ${00}").String())
}

func TestAdjacentSkipsMerge(t *testing.T) {
	p := MustCompile("AA [0-200] [0-200] [1-200] BB")
	require.Equal(t, 3, p.Len())
	assert.Equal(t, Atom{Kind: SkipRange, Min: 1, Max: 600}, p.Atom(1))
	assert.Equal(t, 3, p.MinLen())

	_, err := Compile("AA [0-4000] [0-200] BB")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, BadRange, perr.Kind)
	assert.Equal(t, "[0-200]", perr.Token)
}

func TestMustCompilePanics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("${") })
}
