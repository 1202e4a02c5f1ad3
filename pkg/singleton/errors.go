package singleton

import (
	"fmt"

	"github.com/blacktop/memscope/pkg/image"
)

// SectionError means a section discovery depends on is missing.
type SectionError struct {
	Name string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("singleton: image has no %s section", e.Name)
}

// MalformedNameError means a name routine returned bytes that are not valid
// UTF-8. Discovery stops at the first one.
type MalformedNameError struct {
	Routine image.Address
	Meta    image.Address
	Raw     []byte
}

func (e *MalformedNameError) Error() string {
	return fmt.Sprintf("singleton: name routine %s(%s) returned malformed name %q", e.Routine, e.Meta, e.Raw)
}

// CollisionError means two distinct slots resolved to the same name.
type CollisionError struct {
	Name   string
	First  image.Address
	Second image.Address
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("singleton: name %q claimed by both %s and %s", e.Name, e.First, e.Second)
}

// InvokeError wraps a failure of the Invoker itself.
type InvokeError struct {
	Routine image.Address
	Meta    image.Address
	Err     error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("singleton: invoking name routine %s(%s): %v", e.Routine, e.Meta, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }
