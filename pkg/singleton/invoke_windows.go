//go:build windows && amd64

package singleton

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"github.com/blacktop/memscope/pkg/image"
	"golang.org/x/sys/windows"
)

var (
	procVirtualAllocEx     = windows.NewLazySystemDLL("kernel32.dll").NewProc("VirtualAllocEx")
	procVirtualFreeEx      = windows.NewLazySystemDLL("kernel32.dll").NewProc("VirtualFreeEx")
	procCreateRemoteThread = windows.NewLazySystemDLL("kernel32.dll").NewProc("CreateRemoteThread")
)

const (
	memCommitReserve     = windows.MEM_COMMIT | windows.MEM_RESERVE
	memRelease           = windows.MEM_RELEASE
	pageExecuteReadWrite = windows.PAGE_EXECUTE_READWRITE
)

type nativeInvoker struct{}

// NewNativeInvoker calls name routines directly. It is only meaningful when
// this code runs inside the target process.
func NewNativeInvoker() Invoker { return nativeInvoker{} }

func (nativeInvoker) InvokeName(fn, arg image.Address) ([]byte, error) {
	r, _, _ := syscall.SyscallN(uintptr(fn), uintptr(arg))
	if r == 0 {
		return nil, fmt.Errorf("routine returned NULL")
	}
	return readLocalCString(r)
}

const readableProtect = windows.PAGE_READONLY | windows.PAGE_READWRITE | windows.PAGE_WRITECOPY |
	windows.PAGE_EXECUTE_READ | windows.PAGE_EXECUTE_READWRITE | windows.PAGE_EXECUTE_WRITECOPY

// readLocalCString reads a NUL-terminated string from this process one
// committed region at a time, never touching memory past a readable region.
func readLocalCString(p uintptr) ([]byte, error) {
	var out []byte
	for len(out) < MaxNameLen {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(p, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return nil, fmt.Errorf("VirtualQuery: %w", err)
		}
		if mbi.State != windows.MEM_COMMIT || mbi.Protect&readableProtect == 0 ||
			mbi.Protect&(windows.PAGE_GUARD|windows.PAGE_NOACCESS) != 0 {
			return nil, &image.AddressError{Kind: image.Unmapped, Addr: uint64(p), Len: 1}
		}
		n := min(int(mbi.BaseAddress+mbi.RegionSize-p), MaxNameLen-len(out))
		buf := unsafe.Slice((*byte)(unsafe.Pointer(p)), n)
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			return append(out, buf[:i]...), nil
		}
		out = append(out, buf...)
		p += uintptr(n)
	}
	return nil, image.ErrNoTerminator
}

type remoteInvoker struct {
	proc    *image.Process
	timeout time.Duration
}

// NewRemoteInvoker calls name routines inside another process by running a
// small call-and-store stub on a remote thread. A call that times out
// leaves its stub page allocated in the target, since the remote thread
// can still be executing it.
func NewRemoteInvoker(proc *image.Process, timeout time.Duration) Invoker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &remoteInvoker{proc: proc, timeout: timeout}
}

func (r *remoteInvoker) InvokeName(fn, arg image.Address) ([]byte, error) {
	h := r.proc.Handle()

	mem, _, err := procVirtualAllocEx.Call(uintptr(h), 0, stubOutOffset+8, memCommitReserve, pageExecuteReadWrite)
	if mem == 0 {
		return nil, fmt.Errorf("VirtualAllocEx: %w", err)
	}
	release := true
	defer func() {
		if release {
			procVirtualFreeEx.Call(uintptr(h), mem, 0, memRelease)
		}
	}()

	code := stub(fn, arg, image.Address(mem+stubOutOffset))
	if err := windows.WriteProcessMemory(h, mem, &code[0], uintptr(len(code)), nil); err != nil {
		return nil, fmt.Errorf("WriteProcessMemory: %w", err)
	}

	thread, _, err := procCreateRemoteThread.Call(uintptr(h), 0, 0, mem, 0, 0, 0)
	if thread == 0 {
		return nil, fmt.Errorf("CreateRemoteThread: %w", err)
	}
	defer windows.CloseHandle(windows.Handle(thread))

	event, err := windows.WaitForSingleObject(windows.Handle(thread), waitMillis(r.timeout))
	if err != nil {
		release = false
		return nil, fmt.Errorf("WaitForSingleObject: %w", err)
	}
	if event != windows.WAIT_OBJECT_0 {
		// the thread may still run the stub or store into it later
		release = false
		return nil, fmt.Errorf("name routine did not return within %s", r.timeout)
	}

	var ret [8]byte
	if err := r.proc.ReadAt(ret[:], image.Address(mem+stubOutOffset)); err != nil {
		return nil, err
	}
	str := image.Address(binary.LittleEndian.Uint64(ret[:]))
	if str == 0 {
		return nil, fmt.Errorf("routine returned NULL")
	}
	return readRemoteCString(r.proc, str)
}

// readRemoteCString reads up to MaxNameLen bytes in small chunks so a short
// string near the end of a mapping does not fail the whole read.
func readRemoteCString(mem image.Memory, va image.Address) ([]byte, error) {
	var (
		out   []byte
		chunk [64]byte
	)
	for len(out) < MaxNameLen {
		if err := mem.ReadAt(chunk[:], va+image.Address(len(out))); err != nil {
			return nil, err
		}
		for i, b := range chunk {
			if b == 0 {
				return append(out, chunk[:i]...), nil
			}
		}
		out = append(out, chunk[:]...)
	}
	return nil, image.ErrNoTerminator
}
