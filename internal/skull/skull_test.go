package skull

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestVolumeTrilinear(t *testing.T) {
	dims := [3]int{2, 2, 2}
	raw := []float32{0, 100, 0, 100, 0, 100, 0, 100} // ramps along x
	v, err := NewVolume(dims, raw, Geometry{Spacing: r3.Vec{X: 2, Y: 2, Z: 2}}, 1, -10)
	require.NoError(t, err)

	assert.InDelta(t, 40, v.SampleDensity(r3.Vec{X: 1, Y: 1, Z: 1}), 1e-9)
	assert.InDelta(t, 90, v.SampleDensity(r3.Vec{X: 2, Y: 0, Z: 2}), 1e-9)
	assert.Equal(t, WaterHU, v.SampleDensity(r3.Vec{X: -0.1, Y: 1, Z: 1}))

	lo, hi := v.Bounds()
	assert.Equal(t, r3.Vec{}, lo)
	assert.Equal(t, r3.Vec{X: 2, Y: 2, Z: 2}, hi)
	assert.Equal(t, 2.0, v.Resolution())
}

func TestVolumeOrientation(t *testing.T) {
	// 90 degrees about z: voxel x runs along world y.
	rot := mat.NewDense(3, 3, []float64{0, -1, 0, 1, 0, 0, 0, 0, 1})
	raw := []float32{0, 100, 0, 100, 0, 100, 0, 100}
	v, err := NewVolume([3]int{2, 2, 2}, raw, Geometry{
		Origin:      r3.Vec{X: 10},
		Spacing:     r3.Vec{X: 1, Y: 1, Z: 1},
		Orientation: rot,
	}, 1, 0)
	require.NoError(t, err)
	assert.InDelta(t, 50, v.SampleDensity(r3.Vec{X: 9.5, Y: 0.5, Z: 0.5}), 1e-9)
	assert.InDelta(t, 100, v.SampleDensity(r3.Vec{X: 9.5, Y: 1, Z: 0.5}), 1e-9)
}

func TestVolumeRejectsBadInput(t *testing.T) {
	_, err := NewVolume([3]int{2, 2, 2}, make([]float32, 7), Geometry{Spacing: r3.Vec{X: 1, Y: 1, Z: 1}}, 1, 0)
	assert.Error(t, err)
	_, err = NewVolume([3]int{2, 2, 2}, make([]float32, 8), Geometry{}, 1, 0)
	assert.Error(t, err)
}

func TestSlabRampHasExactGradient(t *testing.T) {
	n := r3.Unit(r3.Vec{X: 1, Z: 2})
	s := Slab{Normal: n, Offset: 10, Thickness: 5, Density: 1500, Ramp: 0.4, HalfExtent: 50}
	onFace := r3.Scale(15, n)
	assert.InDelta(t, 750, s.SampleDensity(onFace), 1e-6)
	assert.InDelta(t, 1500, s.SampleDensity(r3.Scale(12.5, n)), 1e-9)
	assert.Equal(t, WaterHU, s.SampleDensity(r3.Scale(20, n)))

	g := Gradient(s, onFace, 0.1)
	assert.InDelta(t, 1, r3.Cos(g, r3.Scale(-1, n)), 1e-9)
}

func TestShellMarrow(t *testing.T) {
	s := Shell{OuterRadius: 50, Thickness: 6, Density: 1800, MarrowDensity: 900, MarrowFraction: 0.4, Ramp: 0.2}
	assert.InDelta(t, 1800, s.SampleDensity(r3.Vec{Z: 49}), 1e-9)
	assert.InDelta(t, 900, s.SampleDensity(r3.Vec{Z: 47}), 1e-9)
	assert.InDelta(t, 1800, s.SampleDensity(r3.Vec{Z: 45}), 1e-9)
	assert.Equal(t, WaterHU, s.SampleDensity(r3.Vec{Z: 30}))
	assert.Equal(t, WaterHU, s.SampleDensity(r3.Vec{Z: 60}))
}

func TestClipRay(t *testing.T) {
	lo, hi := r3.Vec{X: -1, Y: -1, Z: -1}, r3.Vec{X: 1, Y: 1, Z: 1}
	t0, t1, ok := ClipRay(r3.Vec{Z: 5}, r3.Vec{Z: -1}, lo, hi)
	require.True(t, ok)
	assert.InDelta(t, 4, t0, 1e-12)
	assert.InDelta(t, 6, t1, 1e-12)

	_, _, ok = ClipRay(r3.Vec{X: 5, Z: 5}, r3.Vec{Z: -1}, lo, hi)
	assert.False(t, ok)
}

func TestLoadSliceStack(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for k := 0; k < 3; k++ {
		img := image.NewGray16(image.Rect(0, 0, 4, 3))
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(1000*k + x)})
			}
		}
		p := filepath.Join(dir, "slice"+string(rune('a'+k))+".png")
		f, err := os.Create(p)
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
		paths = append(paths, p)
	}
	globbed, err := GlobSlices(filepath.Join(dir, "*.png"))
	require.NoError(t, err)
	assert.Equal(t, paths, globbed)

	v, err := LoadSliceStack([]string{paths[2], paths[0], paths[1]}, Geometry{Spacing: r3.Vec{X: 1, Y: 1, Z: 1}}, 1, -1024)
	require.NoError(t, err)
	assert.Equal(t, [3]int{4, 3, 3}, v.Dims())
	assert.InDelta(t, 2003-1024, v.SampleDensity(r3.Vec{X: 3, Y: 1, Z: 2}), 1e-6)
	assert.False(t, math.IsNaN(v.SampleDensity(r3.Vec{X: 1.5, Y: 1.5, Z: 1.5})))
}

func writeSlices(t *testing.T, dir, ext string, n int, encode func(io.Writer, image.Image) error) []string {
	t.Helper()
	var paths []string
	for k := 0; k < n; k++ {
		img := image.NewGray16(image.Rect(0, 0, 4, 4))
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(500*k + 10*y)})
			}
		}
		p := filepath.Join(dir, "ct"+string(rune('0'+k))+ext)
		f, err := os.Create(p)
		require.NoError(t, err)
		require.NoError(t, encode(f, img))
		require.NoError(t, f.Close())
		paths = append(paths, p)
	}
	return paths
}

func TestLoadSliceStackTIFF(t *testing.T) {
	paths := writeSlices(t, t.TempDir(), ".tiff", 2, func(w io.Writer, m image.Image) error {
		return tiff.Encode(w, m, nil)
	})
	v, err := LoadSliceStack(paths, Geometry{Spacing: r3.Vec{X: 1, Y: 1, Z: 1}}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, [3]int{4, 4, 2}, v.Dims())
	assert.InDelta(t, 520, v.SampleDensity(r3.Vec{X: 1, Y: 2, Z: 1}), 1e-6)
}

func TestLoadSliceStackRejectsUnknownExtension(t *testing.T) {
	paths := writeSlices(t, t.TempDir(), ".bmp", 2, png.Encode)
	_, err := LoadSliceStack(paths, Geometry{Spacing: r3.Vec{X: 1, Y: 1, Z: 1}}, 1, 0)
	assert.ErrorContains(t, err, "unsupported extension")
}
