//go:build opencl

package main

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"

	"TFP/internal/acoustic"
	"TFP/internal/compute"
)

// openCLBackend runs the pressure kernel on an OpenCL device and hands every
// other kernel to the CPU backend.
type openCLBackend struct {
	cpu        *compute.CPUBackend
	context    *cl.Context
	queue      *cl.CommandQueue
	program    *cl.Program
	kernel     *cl.Kernel
	srcBuf     *cl.MemObject
	ptsBuf     *cl.MemObject
	outBuf     *cl.MemObject
	srcCap     int
	ptsCap     int
	outCap     int
	deviceName string
}

var pressureKernelSource = fmt.Sprintf(`#define SRC_STRIDE %d
#define SRC_X %d
#define SRC_PHASE %d
#define SRC_AMP %d
#define SRC_PRE_TIME %d
#define SRC_PRE_PATH %d

__kernel void pressure(
    const int points,
    const int sources,
    const float omega,
    const float water_speed,
    __global const float* src,
    __global const float* pts,
    __global float* out)
{
    int i = get_global_id(0);
    if (i >= points) {
        return;
    }
    float px = pts[3 * i];
    float py = pts[3 * i + 1];
    float pz = pts[3 * i + 2];
    float sum = 0.0f;
    for (int s = 0; s < sources; s++) {
        __global const float* rec = src + s * SRC_STRIDE;
        float dx = px - rec[SRC_X];
        float dy = py - rec[SRC_X + 1];
        float dz = pz - rec[SRC_X + 2];
        float d = sqrt(dx * dx + dy * dy + dz * dz);
        float path = rec[SRC_PRE_PATH] + d;
        if (path <= 0.0f) {
            continue;
        }
        float tau = rec[SRC_PRE_TIME] + d * 1e-3f / water_speed;
        sum += rec[SRC_AMP] / path * cos(rec[SRC_PHASE] - omega * tau);
    }
    out[i] = sum;
}`, acoustic.SourceStride, acoustic.SrcX, acoustic.SrcPhase, acoustic.SrcAmplitude,
	acoustic.SrcPreTime, acoustic.SrcPrePath)

func newOpenCLBackend(cpu *compute.CPUBackend) (compute.Backend, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available; ensure a vendor driver is installed and detected by `clinfo`")
	}
	device := pickDevice(platforms, cl.DeviceTypeGPU)
	if device == nil {
		device = pickDevice(platforms, cl.DeviceTypeCPU)
	}
	if device == nil {
		return nil, errors.New("no suitable OpenCL devices found")
	}

	context, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %w", err)
	}
	b := &openCLBackend{cpu: cpu, context: context, deviceName: device.Name()}
	if b.queue, err = context.CreateCommandQueue(device, 0); err != nil {
		b.Close()
		return nil, fmt.Errorf("creating OpenCL command queue: %w", err)
	}
	if b.program, err = context.CreateProgramWithSource([]string{pressureKernelSource}); err != nil {
		b.Close()
		return nil, fmt.Errorf("creating OpenCL program: %w", err)
	}
	if err := b.program.BuildProgram([]*cl.Device{device}, ""); err != nil {
		b.Close()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, fmt.Errorf("building OpenCL program: %s", string(buildErr))
		}
		return nil, fmt.Errorf("building OpenCL program: %w", err)
	}
	if b.kernel, err = b.program.CreateKernel("pressure"); err != nil {
		b.Close()
		return nil, fmt.Errorf("creating OpenCL kernel: %w", err)
	}
	return b, nil
}

func pickDevice(platforms []*cl.Platform, kind cl.DeviceType) *cl.Device {
	for _, p := range platforms {
		devices, err := p.GetDevices(kind)
		if err != nil && err != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			return devices[0]
		}
	}
	return nil
}

func (b *openCLBackend) Name() string { return "opencl (" + b.deviceName + ")" }

func (b *openCLBackend) Launch(k *compute.Kernel, params any, bindings []*compute.Buffer, units int) error {
	if k.ID != acoustic.KernelPressure {
		return b.cpu.Launch(k, params, bindings, units)
	}
	if units == 0 {
		return nil
	}
	p := params.(acoustic.PressureParams)
	src, pts, out := bindings[0].Data(), bindings[1].Data(), bindings[2].Data()

	var err error
	if b.srcBuf, b.srcCap, err = b.ensure(b.srcBuf, b.srcCap, len(src), cl.MemReadOnly); err != nil {
		return fmt.Errorf("allocating source buffer: %w", err)
	}
	if b.ptsBuf, b.ptsCap, err = b.ensure(b.ptsBuf, b.ptsCap, len(pts), cl.MemReadOnly); err != nil {
		return fmt.Errorf("allocating point buffer: %w", err)
	}
	if b.outBuf, b.outCap, err = b.ensure(b.outBuf, b.outCap, units, cl.MemWriteOnly); err != nil {
		return fmt.Errorf("allocating pressure buffer: %w", err)
	}
	if len(src) > 0 {
		if _, err := b.queue.EnqueueWriteBufferFloat32(b.srcBuf, false, 0, src, nil); err != nil {
			return fmt.Errorf("uploading sources: %w", err)
		}
	}
	if _, err := b.queue.EnqueueWriteBufferFloat32(b.ptsBuf, false, 0, pts, nil); err != nil {
		return fmt.Errorf("uploading points: %w", err)
	}
	if err := b.kernel.SetArgs(
		int32(units),
		int32(p.Sources),
		float32(2*math.Pi*p.FrequencyHz),
		float32(p.WaterSpeed),
		b.srcBuf,
		b.ptsBuf,
		b.outBuf,
	); err != nil {
		return fmt.Errorf("setting kernel arguments: %w", err)
	}
	if _, err := b.queue.EnqueueNDRangeKernel(b.kernel, nil, []int{units}, nil, nil); err != nil {
		return fmt.Errorf("enqueueing pressure kernel: %w", err)
	}
	if _, err := b.queue.EnqueueReadBufferFloat32(b.outBuf, true, 0, out[:units], nil); err != nil {
		return fmt.Errorf("reading pressure: %w", err)
	}
	return nil
}

// ensure grows buf to hold at least n floats.
func (b *openCLBackend) ensure(buf *cl.MemObject, capacity, n int, flags cl.MemFlag) (*cl.MemObject, int, error) {
	if buf != nil && capacity >= n {
		return buf, capacity, nil
	}
	if buf != nil {
		buf.Release()
	}
	if n < 1 {
		n = 1
	}
	next, err := b.context.CreateEmptyBuffer(flags, n*int(unsafe.Sizeof(float32(0))))
	if err != nil {
		return nil, 0, err
	}
	return next, n, nil
}

func (b *openCLBackend) Close() {
	if b.outBuf != nil {
		b.outBuf.Release()
		b.outBuf = nil
	}
	if b.ptsBuf != nil {
		b.ptsBuf.Release()
		b.ptsBuf = nil
	}
	if b.srcBuf != nil {
		b.srcBuf.Release()
		b.srcBuf = nil
	}
	if b.kernel != nil {
		b.kernel.Release()
		b.kernel = nil
	}
	if b.program != nil {
		b.program.Release()
		b.program = nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.context != nil {
		b.context.Release()
		b.context = nil
	}
	b.cpu.Close()
}
