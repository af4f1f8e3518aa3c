//go:build !opencl

package main

import (
	"errors"

	"TFP/internal/compute"
)

func newOpenCLBackend(_ *compute.CPUBackend) (compute.Backend, error) {
	return nil, errors.New("OpenCL support is not enabled; rebuild with -tags opencl")
}
