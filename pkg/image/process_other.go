//go:build !windows

package image

// Module describes one module loaded in a process.
type Module struct {
	Name string
	Base Address
	Size uint32
}

// Process is unavailable on this platform.
type Process struct{}

// OpenProcess always fails with ErrUnsupported.
func OpenProcess(pid uint32, module string) (*Process, error) {
	return nil, ErrUnsupported
}

// FindProcess always fails with ErrUnsupported.
func FindProcess(module string) (*Process, error) {
	return nil, ErrUnsupported
}

func (p *Process) PID() uint32                         { return 0 }
func (p *Process) Module() Module                      { return Module{} }
func (p *Process) Close() error                        { return nil }
func (p *Process) ReadAt(buf []byte, va Address) error { return ErrUnsupported }
func (p *Process) Snapshot() (*Image, error)           { return nil, ErrUnsupported }
