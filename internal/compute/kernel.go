package compute

import (
	"fmt"
	"sort"
)

// KernelID names a kernel inside a KernelSet.
type KernelID string

// Span is a half-open range of work units handed to one kernel invocation.
type Span struct {
	Start, End int
}

// Len reports the number of work units in the span.
func (s Span) Len() int { return s.End - s.Start }

// Kernel is a data-parallel program. Exec must treat every work unit in the
// span independently; spans of the same launch may run concurrently.
type Kernel struct {
	ID   KernelID
	Exec func(span Span, params any, bindings []*Buffer)
}

// KernelSet holds the kernels available to one Context. It is built once and
// handed to NewContext; nothing else owns kernel handles.
type KernelSet struct {
	kernels map[KernelID]*Kernel
}

// NewKernelSet registers the given kernels, rejecting duplicates.
func NewKernelSet(kernels ...*Kernel) (*KernelSet, error) {
	set := &KernelSet{kernels: make(map[KernelID]*Kernel, len(kernels))}
	for _, k := range kernels {
		if k == nil || k.Exec == nil {
			return nil, fmt.Errorf("kernel set: kernel %v has no body", k)
		}
		if _, dup := set.kernels[k.ID]; dup {
			return nil, fmt.Errorf("kernel set: duplicate kernel %q", k.ID)
		}
		set.kernels[k.ID] = k
	}
	return set, nil
}

// Lookup returns the kernel registered under id.
func (s *KernelSet) Lookup(id KernelID) (*Kernel, bool) {
	k, ok := s.kernels[id]
	return k, ok
}

// IDs lists the registered kernels in name order.
func (s *KernelSet) IDs() []KernelID {
	ids := make([]KernelID, 0, len(s.kernels))
	for id := range s.kernels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
