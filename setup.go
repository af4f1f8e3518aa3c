package main

import (
	"fmt"
	"log"

	"gonum.org/v1/gonum/spatial/r3"

	"TFP/internal/compute"
	"TFP/internal/config"
	"TFP/internal/skull"
	"TFP/internal/transducer"
)

// loadConfig reads the plan named by -config, or the defaults, and folds in
// the command-line overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFlag != "" {
		var err error
		if cfg, err = config.Load(*configFlag); err != nil {
			return config.Config{}, err
		}
	}
	cfg.Resolve(planFlags())
	return cfg, nil
}

// buildArray loads the element file or generates a hemispherical cap.
func buildArray(c config.TransducerConfig) (*transducer.Array, error) {
	if c.File != "" {
		return transducer.Load(c.File)
	}
	return transducer.Hemisphere(c.Elements, c.RadiusMm, c.ApertureDeg, c.ElementAreaMm2)
}

// buildSampler stacks CT slices when a glob is given, otherwise builds the
// named phantom centred on the focus.
func buildSampler(c config.SkullConfig) (skull.Sampler, error) {
	if c.Slices != "" {
		paths, err := skull.GlobSlices(c.Slices)
		if err != nil {
			return nil, err
		}
		geom := skull.Geometry{
			Origin:  r3.Vec{X: c.OriginMm[0], Y: c.OriginMm[1], Z: c.OriginMm[2]},
			Spacing: r3.Vec{X: c.SpacingMm[0], Y: c.SpacingMm[1], Z: c.SpacingMm[2]},
		}
		vol, err := skull.LoadSliceStack(paths, geom, c.Slope, c.Intercept)
		if err != nil {
			return nil, err
		}
		log.Printf("Loaded %d CT slices (%v voxels)", len(paths), vol.Dims())
		return vol, nil
	}
	switch c.Phantom {
	case "shell":
		return skull.Shell{
			OuterRadius:    c.RadiusMm,
			Thickness:      c.ThicknessMm,
			Density:        c.DensityHU,
			MarrowDensity:  c.MarrowHU,
			MarrowFraction: c.MarrowFraction,
			Ramp:           c.RampMm,
		}, nil
	case "slab":
		return skull.Slab{
			Normal:     r3.Vec{Z: 1},
			Offset:     c.RadiusMm - c.ThicknessMm,
			Thickness:  c.ThicknessMm,
			Density:    c.DensityHU,
			Ramp:       c.RampMm,
			HalfExtent: 2 * c.RadiusMm,
		}, nil
	default:
		return nil, fmt.Errorf("unknown phantom %q (want shell or slab)", c.Phantom)
	}
}

// buildBackend picks the kernel backend. OpenCL failures fall back to the CPU.
func buildBackend(workers int, useOpenCL bool) compute.Backend {
	cpu := compute.NewCPUBackend(workers)
	if !useOpenCL {
		return cpu
	}
	backend, err := newOpenCLBackend(cpu)
	if err != nil {
		log.Printf("OpenCL unavailable, using CPU kernels: %v", err)
		return cpu
	}
	return backend
}
