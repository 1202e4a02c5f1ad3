package symcache

import (
	"encoding/binary"
	"fmt"

	"github.com/blacktop/memscope/pkg/image"
)

// Singleton is implemented by types that mirror a discovered singleton. The
// name must match what the target's own name routine reports.
type Singleton interface {
	SingletonName() string
}

// Ref points at a live instance of T.
type Ref[T Singleton] struct {
	Slot    image.Address // the global pointer slot
	Address image.Address // the object it currently points to
	mem     image.Memory
}

// Instance looks up T's singleton and dereferences its slot.
//
// The result distinguishes three outcomes: ErrUnknownName when discovery
// never saw the name, ErrNotInstantiated when the slot holds NULL, and the
// discovery error itself.
func Instance[T Singleton](c *Cache) (Ref[T], error) {
	var zero T
	slot, obj, err := c.Object(zero.SingletonName())
	if err != nil {
		return Ref[T]{Slot: slot}, err
	}
	return Ref[T]{Slot: slot, Address: obj, mem: c.mem}, nil
}

// Load decodes a T from the object's current memory. T must be a
// fixed-size value as understood by encoding/binary.
func (r Ref[T]) Load() (T, error) {
	var v T
	size := binary.Size(v)
	if size < 0 {
		return v, fmt.Errorf("symcache: %T has no fixed size", v)
	}
	if r.mem == nil || r.Address == 0 {
		return v, ErrNotInstantiated
	}
	buf := make([]byte, size)
	if err := r.mem.ReadAt(buf, r.Address); err != nil {
		return v, err
	}
	if _, err := binary.Decode(buf, binary.LittleEndian, &v); err != nil {
		return v, err
	}
	return v, nil
}
