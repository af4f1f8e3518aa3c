package acoustic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphComputesParentsFirst(t *testing.T) {
	g := newGraph()
	var order []Stage
	record := func(s Stage) error {
		order = append(order, s)
		return nil
	}

	require.NoError(t, g.ensure(StageEnvelope, record))
	assert.Equal(t, []Stage{StageRayTrace, StageMetrics, StagePhase, StagePressure, StageEnvelope}, order)
	assert.Equal(t, Dirty, g.State(StageSurvey))

	order = nil
	require.NoError(t, g.ensure(StageEnvelope, record))
	assert.Empty(t, order)

	g.invalidate(StagePhase)
	assert.Equal(t, Clean, g.State(StageMetrics))
	assert.Equal(t, Dirty, g.State(StagePressure))
	require.NoError(t, g.ensure(StageEnvelope, record))
	assert.Equal(t, []Stage{StagePhase, StagePressure, StageEnvelope}, order)
}

func TestGraphInvalidateIsTransitive(t *testing.T) {
	g := newGraph()
	require.NoError(t, g.ensure(StageEnvelope, func(Stage) error { return nil }))
	require.NoError(t, g.ensure(StageSurvey, func(Stage) error { return nil }))

	g.invalidate(StageRayTrace)
	for s := Stage(0); s < stageCount; s++ {
		assert.Equal(t, Dirty, g.State(s), s.String())
	}
}

func TestGraphFailureLeavesStageDirty(t *testing.T) {
	g := newGraph()
	boom := errors.New("boom")
	err := g.ensure(StageMetrics, func(s Stage) error {
		if s == StageMetrics {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "metrics")
	assert.Equal(t, Clean, g.State(StageRayTrace))
	assert.Equal(t, Dirty, g.State(StageMetrics))
}

func TestStageNames(t *testing.T) {
	assert.Equal(t, "pressure", StagePressure.String())
	assert.Equal(t, "stage(42)", Stage(42).String())
	assert.Equal(t, "clean", Clean.String())
}
