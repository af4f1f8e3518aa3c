package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TFP/internal/acoustic"
	"TFP/internal/compute"
	"TFP/internal/config"
	"TFP/internal/skull"
)

func smallConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Transducer.Elements = 64
	cfg.Lattice.Dims = [3]int{9, 9, 3}
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Image = "envelope.png"
	cfg.Output.ImageScale = 2
	cfg.Resolve(config.Flags{PhaseCorrectAmount: -1, Workers: 2})
	return cfg
}

func TestBuildSampler(t *testing.T) {
	cfg := config.Default()
	s, err := buildSampler(cfg.Skull)
	require.NoError(t, err)
	assert.IsType(t, skull.Shell{}, s)

	cfg.Skull.Phantom = "slab"
	s, err = buildSampler(cfg.Skull)
	require.NoError(t, err)
	slab := s.(skull.Slab)
	assert.Equal(t, cfg.Skull.RadiusMm-cfg.Skull.ThicknessMm, slab.Offset)

	cfg.Skull.Phantom = "cube"
	_, err = buildSampler(cfg.Skull)
	assert.Error(t, err)

	cfg.Skull.Slices = filepath.Join(t.TempDir(), "*.png")
	_, err = buildSampler(cfg.Skull)
	assert.Error(t, err)
}

func TestBuildBackendFallsBack(t *testing.T) {
	b := buildBackend(3, false)
	assert.Equal(t, "cpu (3 workers)", b.Name())
	b.Close()
}

func TestRunPlanWritesExports(t *testing.T) {
	cfg := smallConfig(t)
	arr, err := buildArray(cfg.Transducer)
	require.NoError(t, err)
	sampler, err := buildSampler(cfg.Skull)
	require.NoError(t, err)

	cc := compute.NewContext(acoustic.Kernels(), compute.NewCPUBackend(cfg.Workers))
	defer cc.Close()
	p := acoustic.NewPlanner(cc, arr, cfg.Params())
	require.NoError(t, cfg.Apply(p))
	p.SetSampler(sampler)

	require.NoError(t, runPlan(p, cfg))
	for _, name := range []string{skullMeasuresName, actName, workstationACTName, "envelope.png"} {
		info, err := os.Stat(filepath.Join(cfg.Output.Dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	next := cfg
	next.Acoustic.FrequencyHz = 500e3
	next.Skull.Phantom = "slab"
	require.NoError(t, replan(p, activeFlags(arr.Elements()), cfg, next))
	assert.Equal(t, 500e3, p.Params().FrequencyHz)
}

func TestRunPlanSurvivesExportFailure(t *testing.T) {
	cfg := smallConfig(t)
	blocker := filepath.Join(cfg.Output.Dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Output.Dir = blocker

	arr, err := buildArray(cfg.Transducer)
	require.NoError(t, err)
	sampler, err := buildSampler(cfg.Skull)
	require.NoError(t, err)
	cc := compute.NewContext(acoustic.Kernels(), compute.NewCPUBackend(cfg.Workers))
	defer cc.Close()
	p := acoustic.NewPlanner(cc, arr, cfg.Params())
	p.SetSampler(sampler)

	assert.NoError(t, runPlan(p, cfg))
}

func TestReplanRestoresBaselineActivity(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Output.Image = ""
	arr, err := buildArray(cfg.Transducer)
	require.NoError(t, err)
	_, err = arr.SetActive(7, false)
	require.NoError(t, err)
	baseline := activeFlags(arr.Elements())

	cc := compute.NewContext(acoustic.Kernels(), compute.NewCPUBackend(cfg.Workers))
	defer cc.Close()
	p := acoustic.NewPlanner(cc, arr, cfg.Params())

	prev := cfg
	prev.Transducer.Disabled = []int{3, 7}
	require.NoError(t, prev.Apply(p))
	assert.False(t, arr.Element(3).Active)

	require.NoError(t, replan(p, baseline, prev, cfg))
	assert.True(t, arr.Element(3).Active)
	assert.False(t, arr.Element(7).Active, "inactive in the layout itself")
}

func TestFormatAggregate(t *testing.T) {
	assert.Equal(t, "undefined", formatAggregate(math.NaN()))
	assert.Equal(t, "0.2500", formatAggregate(0.25))
}

func TestCPUProfileStopsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.pprof")
	prof, err := startCPUProfile(path)
	require.NoError(t, err)
	require.NoError(t, prof.Stop())
	require.NoError(t, prof.Stop())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	var none *cpuProfile
	assert.NoError(t, none.Stop())
}
