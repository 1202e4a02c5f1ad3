//go:build windows && amd64

package singleton

import (
	"syscall"
	"testing"
	"unsafe"

	"github.com/blacktop/memscope/pkg/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

// pageEnd commits one page followed by a reserved, inaccessible page and
// returns the address of the last len(tail) bytes of the first page.
func pageEnd(t *testing.T, tail []byte) uintptr {
	t.Helper()
	page := uintptr(windows.Getpagesize())
	base, err := windows.VirtualAlloc(0, 2*page, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	require.NoError(t, err)
	t.Cleanup(func() { windows.VirtualFree(base, 0, windows.MEM_RELEASE) })
	_, err = windows.VirtualAlloc(base, page, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	require.NoError(t, err)

	p := base + page - uintptr(len(tail))
	copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(tail)), tail)
	return p
}

func TestNativeInvokerStopsAtPageEnd(t *testing.T) {
	name := pageEnd(t, []byte("WidgetManager\x00"))
	cb := syscall.NewCallback(func(arg uintptr) uintptr { return arg })

	got, err := NewNativeInvoker().InvokeName(image.Address(cb), image.Address(name))
	require.NoError(t, err)
	assert.Equal(t, "WidgetManager", string(got))

	unterminated := pageEnd(t, []byte("Gadget"))
	_, err = NewNativeInvoker().InvokeName(image.Address(cb), image.Address(unterminated))
	assert.True(t, image.IsKind(err, image.Unmapped), "got %v", err)
}
