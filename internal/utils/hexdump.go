package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blacktop/memscope/internal/colors"
)

var (
	colorFaint = colors.FaintHiBlue().SprintFunc()
	zeroRuns   = regexp.MustCompile(`\s(00\s)+`)
)

// HexDump renders data like `hexdump -C`, labelling each row with its
// virtual address. Runs of zero bytes are dimmed.
func HexDump(data []byte, vaddr uint64) string {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		row := data[off:min(off+16, len(data))]

		var hex strings.Builder
		for i := 0; i < 16; i++ {
			if i == 8 {
				hex.WriteByte(' ')
			}
			if i < len(row) {
				fmt.Fprintf(&hex, " %02x", row[i])
			} else {
				hex.WriteString("   ")
			}
		}
		hex.WriteByte(' ')

		ascii := make([]byte, len(row))
		for i, c := range row {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			ascii[i] = c
		}

		line := hex.String()
		if colors.Enabled() {
			line = zeroRuns.ReplaceAllStringFunc(line, func(s string) string { return colorFaint(s) })
		}
		fmt.Fprintf(&b, "%#016x %s |%s|\n", vaddr+uint64(off), line, ascii)
	}
	return b.String()
}
