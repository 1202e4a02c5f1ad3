// Package symcache holds the lazily discovered singleton table and the
// vtable class-name cache shared by everything that inspects a process.
package symcache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/blacktop/memscope/pkg/image"
	"github.com/blacktop/memscope/pkg/singleton"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnknownName means discovery found no singleton with that name.
	ErrUnknownName = errors.New("symcache: unknown singleton")
	// ErrNotInstantiated means the singleton exists but its slot is NULL.
	ErrNotInstantiated = errors.New("symcache: singleton not instantiated")
)

// DiscoverFunc builds the singleton table; it runs at most once per Cache.
type DiscoverFunc func() (*singleton.Table, error)

// ClassNamer resolves vtable addresses to class names.
type ClassNamer interface {
	ClassNameForVtable(vtable image.Address) (string, bool)
}

// Stats counts the expensive work a Cache has done.
type Stats struct {
	Discoveries int64
	Resolutions int64
}

type className struct {
	name string
	ok   bool
}

// Cache is an explicit, injectable replacement for a process-wide lookup
// table. The zero value is not usable; call New.
type Cache struct {
	discover DiscoverFunc
	namer    ClassNamer
	mem      image.Memory
	ptrSize  int

	once  sync.Once
	table *singleton.Table
	err   error

	mu      sync.RWMutex
	classes map[image.Address]className
	group   singleflight.Group

	discoveries atomic.Int64
	resolutions atomic.Int64
}

// New returns a Cache that runs discover on first use, resolves class names
// through namer and dereferences slots through mem. Either of namer and mem
// may be nil if the corresponding lookups are never made.
func New(discover DiscoverFunc, namer ClassNamer, mem image.Memory, ptrSize int) *Cache {
	if ptrSize != 4 {
		ptrSize = 8
	}
	return &Cache{
		discover: discover,
		namer:    namer,
		mem:      mem,
		ptrSize:  ptrSize,
		classes:  make(map[image.Address]className),
	}
}

// Init runs discovery if it has not run yet and returns its error. Every
// caller, concurrent or not, sees the same result.
func (c *Cache) Init() error {
	c.once.Do(func() {
		c.discoveries.Add(1)
		c.table, c.err = c.discover()
		if c.err != nil {
			log.WithError(c.err).Debug("symcache: discovery failed")
			return
		}
		log.Debugf("symcache: %d singletons", c.table.Len())
	})
	return c.err
}

// Get returns the slot address registered for name. A name that discovery
// did not find is (0, false, nil); only a failed discovery is an error.
func (c *Cache) Get(name string) (image.Address, bool, error) {
	if err := c.Init(); err != nil {
		return 0, false, err
	}
	addr, ok := c.table.Get(name)
	return addr, ok, nil
}

// Object dereferences the slot registered for name and returns both
// addresses. It fails with ErrUnknownName or ErrNotInstantiated (with the
// slot still set) as Instance does.
func (c *Cache) Object(name string) (slot, obj image.Address, err error) {
	slot, ok, err := c.Get(name)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	if obj, err = c.readPointer(slot); err != nil {
		return slot, 0, fmt.Errorf("symcache: reading %s slot %s: %w", name, slot, err)
	}
	if obj == 0 {
		return slot, 0, fmt.Errorf("%w: %s", ErrNotInstantiated, name)
	}
	return slot, obj, nil
}

// Table returns the discovered table.
func (c *Cache) Table() (*singleton.Table, error) {
	if err := c.Init(); err != nil {
		return nil, err
	}
	return c.table, nil
}

// ClassName returns the class name for vtable, resolving each distinct
// address at most once. Negative results are cached too.
func (c *Cache) ClassName(vtable image.Address) (string, bool) {
	c.mu.RLock()
	cn, hit := c.classes[vtable]
	c.mu.RUnlock()
	if hit {
		return cn.name, cn.ok
	}
	if c.namer == nil {
		return "", false
	}

	v, _, _ := c.group.Do(strconv.FormatUint(uint64(vtable), 16), func() (any, error) {
		c.mu.RLock()
		cn, hit := c.classes[vtable]
		c.mu.RUnlock()
		if hit {
			return cn, nil
		}
		c.resolutions.Add(1)
		name, ok := c.namer.ClassNameForVtable(vtable)
		cn = className{name: name, ok: ok}
		c.mu.Lock()
		c.classes[vtable] = cn
		c.mu.Unlock()
		return cn, nil
	})
	cn = v.(className)
	return cn.name, cn.ok
}

// ClassNameOf reads the vtable pointer at the start of the object at obj and
// resolves it.
func (c *Cache) ClassNameOf(obj image.Address) (string, bool) {
	vt, err := c.readPointer(obj)
	if err != nil || vt == 0 {
		return "", false
	}
	return c.ClassName(vt)
}

// Stats reports how often discovery and class-name resolution actually ran.
func (c *Cache) Stats() Stats {
	return Stats{
		Discoveries: c.discoveries.Load(),
		Resolutions: c.resolutions.Load(),
	}
}

func (c *Cache) readPointer(va image.Address) (image.Address, error) {
	if c.mem == nil {
		return 0, fmt.Errorf("symcache: no memory reader")
	}
	buf := make([]byte, c.ptrSize)
	if err := c.mem.ReadAt(buf, va); err != nil {
		return 0, err
	}
	if c.ptrSize == 4 {
		return image.Address(binary.LittleEndian.Uint32(buf)), nil
	}
	return image.Address(binary.LittleEndian.Uint64(buf)), nil
}
