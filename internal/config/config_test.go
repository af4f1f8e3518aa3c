package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"TFP/internal/acoustic"
	"TFP/internal/compute"
	"TFP/internal/transducer"
)

const planYAML = `
transducer:
  elements: 16
  disabled: [3, 5]
acoustic:
  frequency_hz: 500000
  steering_mm: [2, -1, 0]
  phase_correct_amount: 0.5
lattice:
  dims: [11, 11, 1]
  spacing_mm: 0.5
`

func writePlan(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadKeepsDefaults(t *testing.T) {
	cfg, err := Load(writePlan(t, t.TempDir(), planYAML))
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Transducer.Elements)
	assert.Equal(t, 150.0, cfg.Transducer.RadiusMm)
	assert.Equal(t, 500e3, cfg.Acoustic.FrequencyHz)
	assert.Equal(t, acoustic.DefaultBoneThreshold, cfg.Acoustic.BoneThresholdHU)
	assert.Equal(t, [3]int{11, 11, 1}, cfg.Lattice.Dims)
	assert.Equal(t, [3]int{21, 21, 21}, cfg.Survey.Dims)
	assert.Equal(t, "shell", cfg.Skull.Phantom)

	p := cfg.Params()
	assert.Equal(t, r3.Vec{X: 2, Y: -1}, p.Steering)
	assert.Equal(t, 0.5, p.PhaseCorrectAmount)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	_, err = Load(writePlan(t, t.TempDir(), "acoustic: [unclosed"))
	assert.Error(t, err)
}

func TestResolveFlagsOverride(t *testing.T) {
	cfg := Default()
	cfg.Output.Dir = ""
	cfg.Resolve(Flags{Phantom: "slab", FrequencyHz: 220e3, PhaseCorrectAmount: -1})
	assert.Equal(t, "slab", cfg.Skull.Phantom)
	assert.Equal(t, 220e3, cfg.Acoustic.FrequencyHz)
	assert.Equal(t, 1.0, cfg.Acoustic.PhaseCorrectAmount)
	assert.Equal(t, ".", cfg.Output.Dir)
	assert.Positive(t, cfg.Workers)

	cfg.Resolve(Flags{PhaseCorrectAmount: 0})
	assert.Equal(t, 0.0, cfg.Acoustic.PhaseCorrectAmount)
}

func TestApply(t *testing.T) {
	cfg, err := Load(writePlan(t, t.TempDir(), planYAML))
	require.NoError(t, err)
	arr, err := transducer.Hemisphere(cfg.Transducer.Elements, 150, 120, 20)
	require.NoError(t, err)
	ctx := compute.NewContext(acoustic.Kernels(), compute.NewCPUBackend(1))
	defer ctx.Close()
	p := acoustic.NewPlanner(ctx, arr, acoustic.DefaultParams())

	require.NoError(t, cfg.Apply(p))
	assert.Equal(t, 500e3, p.Params().FrequencyHz)
	assert.Equal(t, 14, arr.ActiveCount())

	cfg.Transducer.Disabled = []int{99}
	assert.Error(t, cfg.Apply(p))
}

func TestApplyKeepsInactiveElementsFromFile(t *testing.T) {
	arr, err := transducer.Parse(strings.NewReader(
		"0 0 0 150 0 0 -1 20 1\n" +
			"1 10 0 150 0 0 -1 20 0\n" +
			"2 -10 0 150 0 0 -1 20 1\n"))
	require.NoError(t, err)
	require.Equal(t, 2, arr.ActiveCount())
	ctx := compute.NewContext(acoustic.Kernels(), compute.NewCPUBackend(1))
	defer ctx.Close()
	p := acoustic.NewPlanner(ctx, arr, acoustic.DefaultParams())

	require.NoError(t, Default().Apply(p))
	assert.Equal(t, 2, arr.ActiveCount())
	assert.False(t, arr.Element(1).Active)

	cfg := Default()
	cfg.Transducer.Disabled = []int{2}
	require.NoError(t, cfg.Apply(p))
	assert.Equal(t, 1, arr.ActiveCount())
	assert.True(t, arr.Element(0).Active)
}

func TestParamsClampsAmount(t *testing.T) {
	cfg := Default()
	cfg.Acoustic.PhaseCorrectAmount = 3
	assert.Equal(t, 1.0, cfg.Params().PhaseCorrectAmount)
	cfg.Acoustic.PhaseCorrectAmount = -0.5
	assert.Equal(t, 0.0, cfg.Params().PhaseCorrectAmount)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writePlan(t, dir, planYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	done := make(chan error, 1)
	onChange := func(c Config) {
		select {
		case got <- c:
		default:
		}
	}
	go func() { done <- Watch(ctx, path, Flags{PhaseCorrectAmount: -1}, onChange) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("acoustic:\n  frequency_hz: 250000\n"), 0o644))

	// The truncating write may surface first as an empty file.
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-got:
			reloaded = c.Acoustic.FrequencyHz == 250e3
		case <-deadline:
			t.Fatal("no reload")
		}
	}
	cancel()
	assert.NoError(t, <-done)
}
