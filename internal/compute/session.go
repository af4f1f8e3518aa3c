package compute

import "fmt"

// Session is the owning goroutine's handle, valid only inside a Run callback.
type Session struct {
	ctx *Context
}

// Allocate creates a zeroed buffer of n float32 elements.
func (s *Session) Allocate(name string, n int) (*Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("allocating %q: negative length %d", name, n)
	}
	b := &Buffer{name: name, data: make([]float32, n)}
	s.ctx.live[b] = struct{}{}
	return b, nil
}

// Release frees b. Releasing nil or an already released buffer is a no-op.
func (s *Session) Release(b *Buffer) {
	if b == nil || b.released {
		return
	}
	b.released = true
	b.mapped = 0
	b.data = nil
	delete(s.ctx.live, b)
}

// Reallocate returns b unchanged when it already holds n elements. Otherwise
// b is released first and a fresh buffer is allocated.
func (s *Session) Reallocate(b *Buffer, name string, n int) (*Buffer, error) {
	if b != nil && !b.released && len(b.data) == n {
		return b, nil
	}
	s.Release(b)
	return s.Allocate(name, n)
}

// Map exposes b's storage to the host until Unmap.
func (s *Session) Map(b *Buffer, access Access) ([]float32, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if b.mapped != 0 {
		return nil, fmt.Errorf("buffer %q already mapped for %s", b.name, b.mapped)
	}
	b.mapped = access
	return b.data, nil
}

// Unmap ends a mapping started by Map.
func (s *Session) Unmap(b *Buffer) error {
	if err := b.usable(); err != nil {
		return err
	}
	if b.mapped == 0 {
		return fmt.Errorf("buffer %q is not mapped", b.name)
	}
	b.mapped = 0
	return nil
}

// Upload copies src into b through a write mapping.
func (s *Session) Upload(b *Buffer, src []float32) error {
	dst, err := s.Map(b, WriteOnly)
	if err != nil {
		return err
	}
	if len(src) > len(dst) {
		_ = s.Unmap(b)
		return fmt.Errorf("uploading %d values into %q of length %d", len(src), b.name, len(dst))
	}
	copy(dst, src)
	return s.Unmap(b)
}

// ReadBack returns a host copy of b's contents.
func (s *Session) ReadBack(b *Buffer) ([]float32, error) {
	src, err := s.Map(b, ReadOnly)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(src))
	copy(out, src)
	return out, s.Unmap(b)
}

// Dispatch launches kernel id over units work units and waits for completion.
func (s *Session) Dispatch(id KernelID, params any, bindings []*Buffer, units int) error {
	k, ok := s.ctx.kernels.Lookup(id)
	if !ok {
		return fmt.Errorf("dispatch: unknown kernel %q", id)
	}
	if units < 0 {
		return fmt.Errorf("dispatch %s: negative work units %d", id, units)
	}
	for _, b := range bindings {
		if err := b.usable(); err != nil {
			return fmt.Errorf("dispatch %s: %w", id, err)
		}
		if b.mapped != 0 {
			return fmt.Errorf("dispatch %s: buffer %q is mapped", id, b.name)
		}
	}
	s.ctx.countDispatch(id)
	if err := s.ctx.backend.Launch(k, params, bindings, units); err != nil {
		return fmt.Errorf("dispatch %s: %w", id, err)
	}
	return nil
}
