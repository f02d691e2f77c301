package compute

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCompute reports a device that cannot run kernels.
	ErrNoCompute = errors.New("compute: no compute capability")
	// ErrKernelUnbound reports a kernel handle with no function behind it.
	ErrKernelUnbound = errors.New("compute: kernel unbound")
	// ErrDeviceClosed is returned by Dispatch after Close.
	ErrDeviceClosed = errors.New("compute: device closed")
)

// KernelError reports a thread group that panicked during a dispatch.
type KernelError struct {
	Kernel string
	Group  int
	Value  any
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel %s: group %d: %v", e.Kernel, e.Group, e.Value)
}

// Unwrap exposes an error raised inside the kernel so callers can match it
// with errors.Is.
func (e *KernelError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
