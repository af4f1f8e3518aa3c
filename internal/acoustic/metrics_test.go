package acoustic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMetricsMarrowProfile(t *testing.T) {
	// outer table, marrow valley, thinner inner table
	profile := []float64{0, 0, 400, 1800, 1800, 900, 800, 900, 1100, 1200, 300, 0}
	m, ok := computeMetrics(profile, 0.5, 700, 0, 0)
	require.True(t, ok)
	assert.InDelta(t, 3.0, m.SkullThicknessMm, 1e-12)
	assert.InDelta(t, 3.0, m.NormSkullThicknessMm, 1e-12)
	assert.InDelta(t, 800.0/1500, m.SDR, 1e-12)
	assert.InDelta(t, 800.0/1800, m.SDR2, 1e-12)
	assert.Equal(t, CorticalSpeed, m.SpeedOfSound)

	z1 := WaterDensity * WaterSpeed
	z2 := (WaterDensity + boneDensityGain) * CorticalSpeed
	t1 := 4 * z1 * z2 / ((z1 + z2) * (z1 + z2))
	assert.InDelta(t, t1*t1, m.Transmission, 1e-12)
}

func TestComputeMetricsSkipsPartialVolumeEnds(t *testing.T) {
	profile := []float64{0, 750, 1500, 1500, 1500, 760, 0}
	m, ok := computeMetrics(profile, 1, 700, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, m.SDR2)
	assert.Equal(t, 1.0, m.SDR)
	assert.InDelta(t, 4.0, m.SkullThicknessMm, 1e-12)
}

func TestComputeMetricsPorousBone(t *testing.T) {
	profile := []float64{0, 800, 800, 800, 800, 0}
	m, ok := computeMetrics(profile, 1, 700, 0, 60)
	require.True(t, ok)
	assert.InDelta(t, WaterSpeed+(CorticalSpeed-WaterSpeed)*0.8, m.SpeedOfSound, 1e-9)
	assert.InDelta(t, 1.5, m.NormSkullThicknessMm, 1e-12)
}

func TestComputeMetricsNoBone(t *testing.T) {
	_, ok := computeMetrics([]float64{0, 100, 200, 100}, 1, 700, 0, 0)
	assert.False(t, ok)
}

func TestTransmissionFallsWithObliquity(t *testing.T) {
	straight := transmission(CorticalSpeed, 2200, 0, 0)
	oblique := transmission(CorticalSpeed, 2200, 15, 28)
	assert.Greater(t, straight, 0.0)
	assert.Less(t, straight, 1.0)
	assert.NotEqual(t, straight, oblique)
	assert.InDelta(t, 1.0, transmission(WaterSpeed, WaterDensity, 0, 0), 1e-12)
}

func TestAggregates(t *testing.T) {
	_, err := treatmentSDR([]ElementMetrics{invalidMetrics(), invalidMetrics()})
	assert.ErrorIs(t, err, ErrUndefinedAggregate)
	v, err := meanTransmission(nil, nil, 20)
	assert.ErrorIs(t, err, ErrUndefinedAggregate)
	assert.True(t, math.IsNaN(v))

	metrics := []ElementMetrics{
		{SDR2: 0.5, Transmission: 0.4, Valid: true},
		{SDR2: 0.7, Transmission: 0.3, Valid: true},
		invalidMetrics(),
	}
	traces := []RayTrace{{IncidentDeg: 10}, {IncidentDeg: 30}, invalidTrace()}

	sdr, err := treatmentSDR(metrics)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, sdr, 1e-12)

	// The element past the cutoff still counts in the divisor.
	mt, err := meanTransmission(traces, metrics, 20)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, mt, 1e-12)
}
