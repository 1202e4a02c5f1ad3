package symcache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blacktop/memscope/internal/testimage"
	"github.com/blacktop/memscope/pkg/image"
	"github.com/blacktop/memscope/pkg/rtti"
	"github.com/blacktop/memscope/pkg/singleton"
	"github.com/blacktop/memscope/pkg/symcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	slotRVA   = testimage.DataRVA + 0x100
	emptyRVA  = testimage.DataRVA + 0x108
	objectRVA = testimage.DataRVA + 0x400
	metaRVA   = testimage.DataRVA + 0x800
	nameFn    = testimage.TextRVA + 0x3000
)

type WidgetManager struct {
	Vtable  uint64
	Widgets uint32
	Flags   uint32
}

func (WidgetManager) SingletonName() string { return "WidgetManager" }

type GadgetManager struct{ Count uint32 }

func (GadgetManager) SingletonName() string { return "GadgetManager" }

type Unknown struct{ X uint32 }

func (Unknown) SingletonName() string { return "Unknown" }

// fixture builds an image with two singletons: WidgetManager, instantiated,
// and GadgetManager, whose slot is still NULL.
func fixture(t *testing.T) (*testimage.Builder, *image.Image, singleton.Invoker) {
	t.Helper()
	b := testimage.Standard()
	b.PutSingletonIdiom(testimage.TextRVA+0x100, slotRVA, metaRVA, nameFn)
	b.PutSingletonIdiom(testimage.TextRVA+0x200, emptyRVA, metaRVA+8, nameFn)
	b.PutPtr(slotRVA, b.VA(objectRVA))
	b.PutPtr(objectRVA, b.VA(testimage.RdataRVA+0x408))
	b.PutU32(objectRVA+8, 42)
	b.PutU32(objectRVA+12, 0x5)
	b.PutRTTI(testimage.RdataRVA+0x100, testimage.RdataRVA+0x200, testimage.RdataRVA+0x408, testimage.TextRVA+0x500, ".?AVWidgetManager@ui@@")

	names := map[image.Address]string{
		b.VA(metaRVA):     "WidgetManager",
		b.VA(metaRVA + 8): "GadgetManager",
	}
	inv := singleton.InvokerFunc(func(fn, arg image.Address) ([]byte, error) {
		return []byte(names[arg]), nil
	})
	return b, b.Build(), inv
}

func newCache(t *testing.T) (*testimage.Builder, *symcache.Cache) {
	b, img, inv := fixture(t)
	c := symcache.New(func() (*singleton.Table, error) {
		return singleton.Discover(img, inv)
	}, rtti.NewResolver(img), img, img.PointerSize())
	return b, c
}

func TestGet(t *testing.T) {
	b, c := newCache(t)

	addr, ok, err := c.Get("WidgetManager")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.VA(slotRVA), addr)

	_, ok, err = c.Get("Nope")
	require.NoError(t, err, "a missing name is not an error")
	assert.False(t, ok)
}

func TestInstance(t *testing.T) {
	b, c := newCache(t)

	ref, err := symcache.Instance[WidgetManager](c)
	require.NoError(t, err)
	assert.Equal(t, b.VA(slotRVA), ref.Slot)
	assert.Equal(t, b.VA(objectRVA), ref.Address)

	w, err := ref.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), w.Widgets)
	assert.Equal(t, uint32(5), w.Flags)

	_, err = symcache.Instance[GadgetManager](c)
	assert.ErrorIs(t, err, symcache.ErrNotInstantiated)
	assert.NotErrorIs(t, err, symcache.ErrUnknownName)

	_, err = symcache.Instance[Unknown](c)
	assert.ErrorIs(t, err, symcache.ErrUnknownName)
	assert.NotErrorIs(t, err, symcache.ErrNotInstantiated)

	name, ok := c.ClassNameOf(ref.Address)
	require.True(t, ok)
	assert.Equal(t, "ui::WidgetManager", name)

	slot, obj, err := c.Object("GadgetManager")
	assert.ErrorIs(t, err, symcache.ErrNotInstantiated)
	assert.NotZero(t, slot)
	assert.Zero(t, obj)

	assert.Equal(t, int64(1), c.Stats().Discoveries)
}

func TestDiscoveryErrorIsReturned(t *testing.T) {
	boom := &singleton.SectionError{Name: ".data"}
	calls := 0
	c := symcache.New(func() (*singleton.Table, error) {
		calls++
		return nil, boom
	}, nil, nil, 8)

	for i := 0; i < 3; i++ {
		_, _, err := c.Get("WidgetManager")
		assert.ErrorIs(t, err, boom)
	}
	_, err := symcache.Instance[WidgetManager](c)
	var se *singleton.SectionError
	require.True(t, errors.As(err, &se))
	assert.NotErrorIs(t, err, symcache.ErrUnknownName)
	assert.Equal(t, 1, calls, "a failed discovery is not retried")
}

func TestDiscoveryIdempotent(t *testing.T) {
	_, img, inv := fixture(t)

	var calls atomic.Int32
	c := symcache.New(func() (*singleton.Table, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return singleton.Discover(img, inv)
	}, nil, img, 8)

	first, err := c.Table()
	require.NoError(t, err)
	second, err := c.Table()
	require.NoError(t, err)
	assert.Same(t, first, second)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, ok, err := c.Get("GadgetManager")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.NotZero(t, addr)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), c.Stats().Discoveries)
}

func TestConcurrentFirstAccess(t *testing.T) {
	_, img, inv := fixture(t)

	var calls atomic.Int32
	c := symcache.New(func() (*singleton.Table, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return singleton.Discover(img, inv)
	}, nil, img, 8)

	start := make(chan struct{})
	var g errgroup.Group
	tables := make([]*singleton.Table, 16)
	for i := range tables {
		g.Go(func() (err error) {
			<-start
			tables[i], err = c.Table()
			return err
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), calls.Load())
	for _, tbl := range tables {
		require.NotNil(t, tbl)
		assert.Same(t, tables[0], tbl)
		assert.Equal(t, 2, tbl.Len(), "no goroutine sees a partial table")
	}
}

type slowNamer struct {
	calls atomic.Int32
}

func (n *slowNamer) ClassNameForVtable(vtable image.Address) (string, bool) {
	n.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	if vtable == 0x1000 {
		return "Thing", true
	}
	return "", false
}

func TestClassNameAtMostOnce(t *testing.T) {
	namer := &slowNamer{}
	c := symcache.New(nil, namer, nil, 8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, ok := c.ClassName(0x1000)
			assert.True(t, ok)
			assert.Equal(t, "Thing", name)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), namer.calls.Load())

	for i := 0; i < 3; i++ {
		_, ok := c.ClassName(0x2000)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(2), namer.calls.Load(), "misses are cached as well")
	assert.Equal(t, int64(2), c.Stats().Resolutions)
	assert.Equal(t, int64(0), c.Stats().Discoveries)
}

func TestClassNameWithoutNamer(t *testing.T) {
	c := symcache.New(nil, nil, nil, 8)
	_, ok := c.ClassName(0x1000)
	assert.False(t, ok)
	_, ok = c.ClassNameOf(0x1000)
	assert.False(t, ok)
}
