package scan

import (
	"errors"
	"fmt"

	"github.com/blacktop/memscope/pkg/image"
)

// ErrNoSection is returned when a named section is not present.
var ErrNoSection = errors.New("scan: section not found")

// Region is a half-open VA range to scan.
type Region struct {
	Name  string
	Start image.Address
	End   image.Address
}

// Size returns the length of the region in bytes.
func (r Region) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Contains reports whether va is inside the region.
func (r Region) Contains(va image.Address) bool {
	return va >= r.Start && va < r.End
}

func (r Region) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s [%s-%s]", r.Name, r.Start, r.End)
	}
	return fmt.Sprintf("[%s-%s]", r.Start, r.End)
}

// SectionRegion covers the whole named section.
func SectionRegion(img *image.Image, name string) (Region, error) {
	s, ok := img.Section(name)
	if !ok {
		return Region{}, fmt.Errorf("%w: %q", ErrNoSection, name)
	}
	start, end := img.Bounds(s)
	return Region{Name: s.Name, Start: start, End: end}, nil
}

// RangeRegion covers [start, end) after clamping end to the image. The start
// address must be mapped.
func RangeRegion(img *image.Image, start, end image.Address) (Region, error) {
	if _, err := img.VAToRVA(start); err != nil {
		return Region{}, err
	}
	if limit := img.Base() + image.Address(img.Size()); end > limit {
		end = limit
	}
	if end < start {
		return Region{}, &image.AddressError{Kind: image.OutOfRange, Addr: uint64(start), Len: 0}
	}
	return Region{Start: start, End: end}, nil
}

// ExecutableRegions returns one region per section flagged executable, in
// address order.
func ExecutableRegions(img *image.Image) []Region {
	var out []Region
	for _, s := range img.Sections() {
		if !s.Executable() {
			continue
		}
		start, end := img.Bounds(s)
		out = append(out, Region{Name: s.Name, Start: start, End: end})
	}
	return out
}
