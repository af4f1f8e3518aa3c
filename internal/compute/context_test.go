package compute

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kernelDouble KernelID = "double"
	kernelPanic  KernelID = "panic"
)

func testKernels(t *testing.T) *KernelSet {
	t.Helper()
	set, err := NewKernelSet(
		&Kernel{ID: kernelDouble, Exec: func(sp Span, params any, b []*Buffer) {
			scale := params.(float32)
			in, out := b[0].Data(), b[1].Data()
			for i := sp.Start; i < sp.End; i++ {
				out[i] = in[i] * scale
			}
		}},
		&Kernel{ID: kernelPanic, Exec: func(Span, any, []*Buffer) {
			panic("boom")
		}},
	)
	require.NoError(t, err)
	return set
}

func TestKernelSetRejectsDuplicates(t *testing.T) {
	k := &Kernel{ID: "a", Exec: func(Span, any, []*Buffer) {}}
	_, err := NewKernelSet(k, k)
	require.Error(t, err)
}

func TestDispatchRunsEveryUnit(t *testing.T) {
	ctx := NewContext(testKernels(t), NewCPUBackend(3))
	defer ctx.Close()

	const n = 1001
	var got []float32
	err := ctx.Run(func(s *Session) error {
		in, err := s.Allocate("in", n)
		if err != nil {
			return err
		}
		out, err := s.Allocate("out", n)
		if err != nil {
			return err
		}
		src := make([]float32, n)
		for i := range src {
			src[i] = float32(i)
		}
		if err := s.Upload(in, src); err != nil {
			return err
		}
		if err := s.Dispatch(kernelDouble, float32(2), []*Buffer{in, out}, n); err != nil {
			return err
		}
		got, err = s.ReadBack(out)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, float32(2*i), v)
	}
	assert.Equal(t, 1, ctx.Dispatches(kernelDouble))
}

func TestKernelPanicBecomesError(t *testing.T) {
	ctx := NewContext(testKernels(t), NewCPUBackend(2))
	defer ctx.Close()

	err := ctx.Run(func(s *Session) error {
		return s.Dispatch(kernelPanic, nil, nil, 10)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// the owner keeps serving after a failed launch
	require.NoError(t, ctx.Run(func(*Session) error { return nil }))
}

func TestRequestErrorPropagates(t *testing.T) {
	ctx := NewContext(testKernels(t), NewCPUBackend(1))
	defer ctx.Close()

	sentinel := errors.New("stage failed")
	err := ctx.Run(func(*Session) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	err = ctx.Run(func(*Session) error { panic("request panic") })
	require.Error(t, err)
}

func TestMappedBufferCannotBeDispatched(t *testing.T) {
	ctx := NewContext(testKernels(t), NewCPUBackend(1))
	defer ctx.Close()

	err := ctx.Run(func(s *Session) error {
		in, _ := s.Allocate("in", 4)
		out, _ := s.Allocate("out", 4)
		if _, err := s.Map(in, ReadWrite); err != nil {
			return err
		}
		return s.Dispatch(kernelDouble, float32(1), []*Buffer{in, out}, 4)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapped")
}

func TestReallocateReleasesOnResize(t *testing.T) {
	ctx := NewContext(testKernels(t), NewCPUBackend(1))
	defer ctx.Close()

	err := ctx.Run(func(s *Session) error {
		a, _ := s.Allocate("a", 8)
		same, err := s.Reallocate(a, "a", 8)
		if err != nil {
			return err
		}
		assert.Same(t, a, same)

		bigger, err := s.Reallocate(a, "a", 16)
		if err != nil {
			return err
		}
		assert.NotSame(t, a, bigger)
		assert.Equal(t, 16, bigger.Len())
		_, err = s.Map(a, ReadOnly)
		assert.Error(t, err, "old buffer must be released")
		assert.Len(t, s.ctx.live, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestRunAfterClose(t *testing.T) {
	ctx := NewContext(testKernels(t), NewCPUBackend(1))
	ctx.Close()
	ctx.Close()
	assert.ErrorIs(t, ctx.Run(func(*Session) error { return nil }), ErrClosed)
}

func TestConcurrentCallersAreSerialised(t *testing.T) {
	ctx := NewContext(testKernels(t), NewCPUBackend(2))
	defer ctx.Close()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ctx.Run(func(*Session) error {
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				inside--
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestSplitSpans(t *testing.T) {
	spans := splitSpans(10, 3)
	require.Len(t, spans, 3)
	total := 0
	prev := 0
	for _, sp := range spans {
		assert.Equal(t, prev, sp.Start)
		total += sp.Len()
		prev = sp.End
	}
	assert.Equal(t, 10, total)
	assert.Len(t, splitSpans(2, 8), 2)
}
