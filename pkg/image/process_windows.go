//go:build windows

package image

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/apex/log"
	"golang.org/x/sys/windows"
)

const pageSize = 0x1000

var debugPrivilegeOnce sync.Once

// enableDebugPrivilege turns on SeDebugPrivilege for the current process so
// protected targets can be opened; failure is not fatal.
func enableDebugPrivilege() {
	debugPrivilegeOnce.Do(func() {
		var token windows.Token
		if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token); err != nil {
			log.WithError(err).Debug("OpenProcessToken failed")
			return
		}
		defer token.Close()

		var luid windows.LUID
		name, _ := windows.UTF16PtrFromString("SeDebugPrivilege")
		if err := windows.LookupPrivilegeValue(nil, name, &luid); err != nil {
			log.WithError(err).Debug("LookupPrivilegeValue failed")
			return
		}
		tp := windows.Tokenprivileges{PrivilegeCount: 1}
		tp.Privileges[0] = windows.LUIDAndAttributes{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED}
		if err := windows.AdjustTokenPrivileges(token, false, &tp, 0, nil, nil); err != nil {
			log.WithError(err).Debug("AdjustTokenPrivileges failed")
			return
		}
		log.Debug("SeDebugPrivilege enabled")
	})
}

// Module describes one module loaded in a process.
type Module struct {
	Name string
	Base Address
	Size uint32
}

// Process is an open handle to a running process and one of its modules.
type Process struct {
	handle windows.Handle
	pid    uint32
	module Module
}

// OpenProcess opens pid and selects the module named module (case
// insensitive); an empty name selects the main executable.
func OpenProcess(pid uint32, module string) (*Process, error) {
	enableDebugPrivilege()

	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, pid)
	if err != nil {
		return nil, fmt.Errorf("image: failed to open process %d: %w", pid, err)
	}
	mods, err := processModules(h)
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}
	for i, m := range mods {
		if (module == "" && i == 0) || strings.EqualFold(m.Name, module) {
			return &Process{handle: h, pid: pid, module: m}, nil
		}
	}
	windows.CloseHandle(h)
	return nil, fmt.Errorf("image: module %q not found in process %d", module, pid)
}

// FindProcess returns the first process that has module loaded.
func FindProcess(module string) (*Process, error) {
	pids := make([]uint32, 4096)
	var n uint32
	if err := windows.EnumProcesses(pids, &n); err != nil {
		return nil, fmt.Errorf("image: failed to enumerate processes: %w", err)
	}
	for _, pid := range pids[:n/4] {
		if pid == 0 {
			continue
		}
		h, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, pid)
		if err != nil {
			continue
		}
		mods, err := processModules(h)
		windows.CloseHandle(h)
		if err != nil || len(mods) == 0 {
			continue
		}
		if strings.EqualFold(mods[0].Name, module) {
			return OpenProcess(pid, module)
		}
	}
	return nil, fmt.Errorf("image: no process with module %q", module)
}

func processModules(h windows.Handle) ([]Module, error) {
	var handles [1024]windows.Handle
	var needed uint32
	if err := windows.EnumProcessModules(h, &handles[0], uint32(unsafe.Sizeof(handles[0]))*uint32(len(handles)), &needed); err != nil {
		return nil, fmt.Errorf("image: EnumProcessModules: %w", err)
	}
	count := min(int(needed/uint32(unsafe.Sizeof(handles[0]))), len(handles))

	mods := make([]Module, 0, count)
	for _, mh := range handles[:count] {
		var mi windows.ModuleInfo
		if err := windows.GetModuleInformation(h, mh, &mi, uint32(unsafe.Sizeof(mi))); err != nil {
			return nil, fmt.Errorf("image: GetModuleInformation: %w", err)
		}
		var name [windows.MAX_PATH]uint16
		if err := windows.GetModuleBaseName(h, mh, &name[0], windows.MAX_PATH); err != nil {
			return nil, fmt.Errorf("image: GetModuleBaseName: %w", err)
		}
		mods = append(mods, Module{
			Name: windows.UTF16ToString(name[:]),
			Base: Address(mi.BaseOfDll),
			Size: mi.SizeOfImage,
		})
	}
	return mods, nil
}

// PID returns the process id.
func (p *Process) PID() uint32 { return p.pid }

// Module returns the selected module.
func (p *Process) Module() Module { return p.module }

// Handle returns the raw process handle.
func (p *Process) Handle() windows.Handle { return p.handle }

// Close releases the process handle.
func (p *Process) Close() error {
	return windows.CloseHandle(p.handle)
}

// ReadAt reads live process memory.
func (p *Process) ReadAt(buf []byte, va Address) error {
	if len(buf) == 0 {
		return nil
	}
	if err := windows.ReadProcessMemory(p.handle, uintptr(va), &buf[0], uintptr(len(buf)), nil); err != nil {
		return fmt.Errorf("image: ReadProcessMemory %#x+%#x: %w", uint64(va), len(buf), err)
	}
	return nil
}

// Snapshot copies the selected module out of the process and builds an
// Image from it. Pages that cannot be read are left zeroed.
func (p *Process) Snapshot() (*Image, error) {
	size := uintptr(p.module.Size)
	if size == 0 {
		return nil, fmt.Errorf("image: module %s has zero size", p.module.Name)
	}
	data := make([]byte, size)
	if err := windows.ReadProcessMemory(p.handle, uintptr(p.module.Base), &data[0], size, nil); err != nil {
		var ok, failed int
		for off := uintptr(0); off < size; off += pageSize {
			n := min(uintptr(pageSize), size-off)
			if windows.ReadProcessMemory(p.handle, uintptr(p.module.Base)+off, &data[off], n, nil) == nil {
				ok++
			} else {
				failed++
			}
		}
		log.WithFields(log.Fields{
			"module": p.module.Name,
			"ok":     ok,
			"failed": failed,
		}).Debug("page-by-page module read")
		if ok == 0 {
			return nil, fmt.Errorf("image: module %s is unreadable: %w", p.module.Name, err)
		}
	}
	return FromMapped(p.module.Base, data)
}
