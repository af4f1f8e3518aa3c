package compute

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Backend executes one kernel launch to completion.
type Backend interface {
	Name() string
	Launch(k *Kernel, params any, bindings []*Buffer, units int) error
	Close()
}

// spansPerWorker oversplits the launch so uneven units still balance.
const spansPerWorker = 4

// CPUBackend runs kernels on a bounded set of goroutines.
type CPUBackend struct {
	workers int
}

// NewCPUBackend returns a backend using workers goroutines, or NumCPU when
// workers is not positive.
func NewCPUBackend(workers int) *CPUBackend {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &CPUBackend{workers: workers}
}

func (b *CPUBackend) Name() string { return fmt.Sprintf("cpu (%d workers)", b.workers) }

// Workers reports the goroutine limit.
func (b *CPUBackend) Workers() int { return b.workers }

// Launch splits units into spans and runs them through an errgroup. A panic in
// the kernel body fails the launch instead of killing the process.
func (b *CPUBackend) Launch(k *Kernel, params any, bindings []*Buffer, units int) error {
	if units == 0 {
		return nil
	}
	var g errgroup.Group
	g.SetLimit(b.workers)
	for _, sp := range splitSpans(units, b.workers*spansPerWorker) {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("kernel %s span [%d,%d): %v", k.ID, sp.Start, sp.End, r)
				}
			}()
			k.Exec(sp, params, bindings)
			return nil
		})
	}
	return g.Wait()
}

func (b *CPUBackend) Close() {}

// splitSpans cuts [0, units) into at most parts contiguous spans of near
// equal size.
func splitSpans(units, parts int) []Span {
	if parts < 1 {
		parts = 1
	}
	if parts > units {
		parts = units
	}
	spans := make([]Span, 0, parts)
	per := (units + parts - 1) / parts
	for start := 0; start < units; start += per {
		end := start + per
		if end > units {
			end = units
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}
