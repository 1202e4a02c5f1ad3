//go:build !windows || !amd64

package singleton

import (
	"time"

	"github.com/blacktop/memscope/pkg/image"
)

type unsupportedInvoker struct{}

func (unsupportedInvoker) InvokeName(fn, arg image.Address) ([]byte, error) {
	return nil, image.ErrUnsupported
}

// NewNativeInvoker returns an Invoker that always fails on this platform.
func NewNativeInvoker() Invoker { return unsupportedInvoker{} }

// NewRemoteInvoker returns an Invoker that always fails on this platform.
func NewRemoteInvoker(proc *image.Process, timeout time.Duration) Invoker {
	return unsupportedInvoker{}
}
