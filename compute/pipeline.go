package compute

import "fmt"

// KernelFunc runs one thread group.
type KernelFunc func(group int)

// KernelID is a handle into a compiled Pipeline.
type KernelID int

// KernelSpec names a kernel function for compilation.
type KernelSpec struct {
	Name string
	Fn   KernelFunc
}

type kernel struct {
	name string
	fn   KernelFunc
}

// Pipeline is an immutable set of kernels resolved once at startup.
// Callers look handles up after Compile and keep them for every frame.
type Pipeline struct {
	kernels []kernel
	byName  map[string]KernelID
}

// Compile validates specs and returns a pipeline. Empty names, duplicate
// names and nil functions are rejected.
func Compile(specs ...KernelSpec) (*Pipeline, error) {
	p := &Pipeline{
		kernels: make([]kernel, 0, len(specs)),
		byName:  make(map[string]KernelID, len(specs)),
	}
	for i, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: kernel %d has no name", ErrKernelUnbound, i)
		}
		if s.Fn == nil {
			return nil, fmt.Errorf("%w: %s", ErrKernelUnbound, s.Name)
		}
		if _, dup := p.byName[s.Name]; dup {
			return nil, fmt.Errorf("compute: duplicate kernel %q", s.Name)
		}
		p.byName[s.Name] = KernelID(len(p.kernels))
		p.kernels = append(p.kernels, kernel{name: s.Name, fn: s.Fn})
	}
	return p, nil
}

// Lookup returns the handle for name.
func (p *Pipeline) Lookup(name string) (KernelID, error) {
	id, ok := p.byName[name]
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrKernelUnbound, name)
	}
	return id, nil
}

// MustLookup is like Lookup but panics on error. Only use it right after
// Compile with names from the same spec list.
func (p *Pipeline) MustLookup(name string) KernelID {
	id, err := p.Lookup(name)
	if err != nil {
		panic(err)
	}
	return id
}

// Name returns the kernel name behind id, or "" for an invalid handle.
func (p *Pipeline) Name(id KernelID) string {
	if p == nil || id < 0 || int(id) >= len(p.kernels) {
		return ""
	}
	return p.kernels[id].name
}

// Len returns the number of compiled kernels.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.kernels)
}

func (p *Pipeline) kernel(id KernelID) (kernel, error) {
	if p == nil {
		return kernel{}, fmt.Errorf("%w: nil pipeline", ErrKernelUnbound)
	}
	if id < 0 || int(id) >= len(p.kernels) {
		return kernel{}, fmt.Errorf("%w: handle %d", ErrKernelUnbound, id)
	}
	return p.kernels[id], nil
}
