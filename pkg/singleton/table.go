package singleton

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/blacktop/memscope/pkg/image"
)

// Entry is one discovered singleton.
type Entry struct {
	Name    string
	Address image.Address // address of the global pointer slot
}

func (e Entry) String() string {
	return fmt.Sprintf("%q, %#x", e.Name, uint64(e.Address))
}

// Table maps singleton names to their slot addresses. It is filled by
// Discover or ParseExport and read-only afterwards.
type Table struct {
	slots map[string]image.Address
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{slots: make(map[string]image.Address)}
}

func (t *Table) add(name string, slot image.Address) error {
	if prev, ok := t.slots[name]; ok {
		if prev == slot {
			return nil
		}
		return &CollisionError{Name: name, First: prev, Second: slot}
	}
	t.slots[name] = slot
	return nil
}

// Get returns the slot address registered for name.
func (t *Table) Get(name string) (image.Address, bool) {
	if t == nil {
		return 0, false
	}
	addr, ok := t.slots[name]
	return addr, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.slots)
}

// Names returns the registered names in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.slots))
	for name := range t.slots {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Entries returns every entry sorted by name.
func (t *Table) Entries() []Entry {
	names := t.Names()
	out := make([]Entry, len(names))
	for i, name := range names {
		out[i] = Entry{Name: name, Address: t.slots[name]}
	}
	return out
}

// Export writes one `"name", 0xADDRESS` line per entry, sorted by name.
func (t *Table) Export(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range t.Entries() {
		if _, err := fmt.Fprintln(bw, e.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseExport reads a table written by Export. Blank lines and lines
// starting with '#' are ignored.
func ParseExport(r io.Reader) (*Table, error) {
	t := NewTable()
	sc := bufio.NewScanner(r)
	for lineno := 1; sc.Scan(); lineno++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("singleton: export line %d: %w", lineno, err)
		}
		if err := t.add(e.Name, e.Address); err != nil {
			return nil, fmt.Errorf("singleton: export line %d: %w", lineno, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func parseLine(line string) (Entry, error) {
	i := strings.LastIndexByte(line, ',')
	if i < 0 {
		return Entry{}, fmt.Errorf("missing ',' in %q", line)
	}
	name, err := strconv.Unquote(strings.TrimSpace(line[:i]))
	if err != nil {
		return Entry{}, fmt.Errorf("bad name in %q: %w", line, err)
	}
	addr, err := strconv.ParseUint(strings.TrimSpace(line[i+1:]), 0, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad address in %q: %w", line, err)
	}
	return Entry{Name: name, Address: image.Address(addr)}, nil
}
