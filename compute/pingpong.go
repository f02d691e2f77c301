package compute

// PingPong is a pair of equally sized buffers with a parity bit selecting
// which one is the current input. Stages read Front and write Back; Swap
// publishes Back as the new Front.
type PingPong[T any] struct {
	A, B   []T
	parity uint8
}

// NewPingPong allocates both buffers with length n.
func NewPingPong[T any](n int) *PingPong[T] {
	return &PingPong[T]{
		A: make([]T, n),
		B: make([]T, n),
	}
}

// Front returns the buffer holding the current contents.
func (pp *PingPong[T]) Front() []T {
	if pp.parity == 0 {
		return pp.A
	}
	return pp.B
}

// Back returns the buffer the next stage writes into.
func (pp *PingPong[T]) Back() []T {
	if pp.parity == 0 {
		return pp.B
	}
	return pp.A
}

// Swap toggles the parity bit.
func (pp *PingPong[T]) Swap() {
	pp.parity ^= 1
}

// Parity returns 0 when A is the front buffer and 1 when B is.
func (pp *PingPong[T]) Parity() int {
	return int(pp.parity)
}

// Reset makes A the front buffer again.
func (pp *PingPong[T]) Reset() {
	pp.parity = 0
}

// Len returns the length of each buffer.
func (pp *PingPong[T]) Len() int {
	return len(pp.A)
}
