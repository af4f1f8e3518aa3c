package transducer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestHemisphereFacesFocus(t *testing.T) {
	arr, err := Hemisphere(256, 150, 120, 30)
	require.NoError(t, err)
	require.Equal(t, 256, arr.Len())
	assert.Equal(t, 256, arr.ActiveCount())
	for i, e := range arr.Elements() {
		assert.Equal(t, i, e.Index)
		assert.InDelta(t, 150, r3.Norm(e.Position), 1e-9)
		assert.InDelta(t, -1, r3.Cos(e.Normal, e.Position), 1e-9)
		assert.Greater(t, e.Position.Z, 0.0)
	}
}

func TestSetActive(t *testing.T) {
	arr, err := Hemisphere(4, 100, 90, 10)
	require.NoError(t, err)

	changed, err := arr.SetActive(2, false)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = arr.SetActive(2, false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 3, arr.ActiveCount())

	_, err = arr.SetActive(4, true)
	assert.Error(t, err)
}

func TestTiltedKeepsFocusDistance(t *testing.T) {
	arr, err := Hemisphere(16, 120, 100, 10)
	require.NoError(t, err)
	tilted := arr.Tilted(10, -5)
	for i, e := range tilted {
		orig := arr.Element(i)
		assert.InDelta(t, r3.Norm(orig.Position), r3.Norm(e.Position), 1e-9)
		assert.InDelta(t, -1, r3.Cos(e.Normal, e.Position), 1e-9)
	}
	assert.NotEqual(t, arr.Element(0).Position, tilted[0].Position)
}

func TestParse(t *testing.T) {
	def := `# idx x y z nx ny nz area active
0 0 0 100 0 0 -2 12.5
1 10 0 100 0 0 -1 12.5 0
`
	arr, err := Parse(strings.NewReader(def))
	require.NoError(t, err)
	require.Equal(t, 2, arr.Len())
	assert.Equal(t, r3.Vec{Z: -1}, arr.Element(0).Normal)
	assert.True(t, arr.Element(0).Active)
	assert.False(t, arr.Element(1).Active)

	_, err = Parse(strings.NewReader("0 1 2 3\n"))
	assert.Error(t, err)
	_, err = Parse(strings.NewReader("0 0 0 0 0 0 0 1\n"))
	assert.Error(t, err)
}
