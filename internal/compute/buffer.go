package compute

import "fmt"

// Access describes how a mapped buffer is going to be used by the host.
type Access int

const (
	ReadOnly Access = iota + 1
	WriteOnly
	ReadWrite
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read"
	case WriteOnly:
		return "write"
	case ReadWrite:
		return "read-write"
	}
	return fmt.Sprintf("access(%d)", int(a))
}

// Buffer is a float32 allocation owned by a Context. Its storage is only
// reachable from the owning goroutine, either through Session.Map or by a
// backend during a launch.
type Buffer struct {
	name     string
	data     []float32
	mapped   Access
	released bool
}

// Name returns the debug label given at allocation.
func (b *Buffer) Name() string { return b.name }

// Len returns the number of float32 elements.
func (b *Buffer) Len() int { return len(b.data) }

// Data exposes the host storage to backends and kernels during a launch.
func (b *Buffer) Data() []float32 { return b.data }

func (b *Buffer) usable() error {
	if b == nil {
		return fmt.Errorf("nil buffer")
	}
	if b.released {
		return fmt.Errorf("buffer %q used after release", b.name)
	}
	return nil
}
