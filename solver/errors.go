package solver

import (
	"errors"

	"github.com/pthm-cable/pbf/compute"
)

// Configuration errors are returned by New and SetParams; the solver refuses
// to run until they are fixed.
var (
	ErrNoParticles   = errors.New("solver: particle count is zero")
	ErrNoCompute     = compute.ErrNoCompute
	ErrInvalidParams = errors.New("solver: invalid parameters")
	ErrKernelUnbound = compute.ErrKernelUnbound
)

// ErrFrameAborted wraps any failure inside Step. The published particle and
// density buffers still hold the previous frame.
var ErrFrameAborted = errors.New("solver: frame aborted")
