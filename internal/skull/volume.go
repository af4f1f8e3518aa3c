package skull

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// WaterHU is the density reported for points outside a volume.
const WaterHU = 0.0

// Geometry places a voxel grid in world space. Voxel (0,0,0) is centred at
// Origin; Orientation is a 3x3 rotation applied after spacing (nil = identity).
type Geometry struct {
	Origin      r3.Vec
	Spacing     r3.Vec
	Orientation *mat.Dense
}

// Volume is a CT density grid with its registration transform and rescale
// slope/intercept. Stored values are raw scanner units.
type Volume struct {
	dims      [3]int
	raw       []float32
	slope     float64
	intercept float64
	geom      Geometry
	toVoxel   [3][4]float64
	lo, hi    r3.Vec
}

// NewVolume wraps raw (x fastest, then y, then z) without copying it.
func NewVolume(dims [3]int, raw []float32, geom Geometry, slope, intercept float64) (*Volume, error) {
	if dims[0] < 2 || dims[1] < 2 || dims[2] < 2 {
		return nil, fmt.Errorf("volume: dimensions %v too small", dims)
	}
	if len(raw) != dims[0]*dims[1]*dims[2] {
		return nil, fmt.Errorf("volume: %d samples for dimensions %v", len(raw), dims)
	}
	if geom.Spacing.X <= 0 || geom.Spacing.Y <= 0 || geom.Spacing.Z <= 0 {
		return nil, errors.New("volume: voxel spacing must be positive")
	}
	if slope == 0 {
		slope = 1
	}
	v := &Volume{dims: dims, raw: raw, slope: slope, intercept: intercept, geom: geom}
	if err := v.buildTransform(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Volume) buildTransform() error {
	rot := v.geom.Orientation
	if rot == nil {
		rot = mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	}
	if r, c := rot.Dims(); r != 3 || c != 3 {
		return fmt.Errorf("volume: orientation must be 3x3, got %dx%d", r, c)
	}
	sp := [3]float64{v.geom.Spacing.X, v.geom.Spacing.Y, v.geom.Spacing.Z}
	org := [3]float64{v.geom.Origin.X, v.geom.Origin.Y, v.geom.Origin.Z}
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rot.At(i, j)*sp[j])
		}
		m.Set(i, 3, org[i])
	}
	m.Set(3, 3, 1)

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return fmt.Errorf("volume: singular voxel transform: %w", err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			v.toVoxel[i][j] = inv.At(i, j)
		}
	}

	v.lo = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	v.hi = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	corner := mat.NewVecDense(4, nil)
	var world mat.VecDense
	for c := 0; c < 8; c++ {
		corner.SetVec(0, float64((c&1)*(v.dims[0]-1)))
		corner.SetVec(1, float64((c>>1&1)*(v.dims[1]-1)))
		corner.SetVec(2, float64((c>>2&1)*(v.dims[2]-1)))
		corner.SetVec(3, 1)
		world.MulVec(m, corner)
		p := r3.Vec{X: world.AtVec(0), Y: world.AtVec(1), Z: world.AtVec(2)}
		v.lo = r3.Vec{X: math.Min(v.lo.X, p.X), Y: math.Min(v.lo.Y, p.Y), Z: math.Min(v.lo.Z, p.Z)}
		v.hi = r3.Vec{X: math.Max(v.hi.X, p.X), Y: math.Max(v.hi.Y, p.Y), Z: math.Max(v.hi.Z, p.Z)}
	}
	return nil
}

// Dims returns the voxel counts along x, y and z.
func (v *Volume) Dims() [3]int { return v.dims }

// Rescale returns the slope and intercept mapping raw values to HU.
func (v *Volume) Rescale() (slope, intercept float64) { return v.slope, v.intercept }

func (v *Volume) Bounds() (r3.Vec, r3.Vec) { return v.lo, v.hi }

func (v *Volume) Resolution() float64 {
	return math.Min(v.geom.Spacing.X, math.Min(v.geom.Spacing.Y, v.geom.Spacing.Z))
}

// SampleDensity trilinearly interpolates the grid at p.
func (v *Volume) SampleDensity(p r3.Vec) float64 {
	t := &v.toVoxel
	x := t[0][0]*p.X + t[0][1]*p.Y + t[0][2]*p.Z + t[0][3]
	y := t[1][0]*p.X + t[1][1]*p.Y + t[1][2]*p.Z + t[1][3]
	z := t[2][0]*p.X + t[2][1]*p.Y + t[2][2]*p.Z + t[2][3]
	nx, ny, nz := v.dims[0], v.dims[1], v.dims[2]
	if x < 0 || y < 0 || z < 0 || x > float64(nx-1) || y > float64(ny-1) || z > float64(nz-1) {
		return WaterHU
	}
	x0, y0, z0 := int(x), int(y), int(z)
	if x0 == nx-1 {
		x0--
	}
	if y0 == ny-1 {
		y0--
	}
	if z0 == nz-1 {
		z0--
	}
	fx, fy, fz := x-float64(x0), y-float64(y0), z-float64(z0)

	at := func(i, j, k int) float64 { return float64(v.raw[(k*ny+j)*nx+i]) }
	c00 := at(x0, y0, z0)*(1-fx) + at(x0+1, y0, z0)*fx
	c10 := at(x0, y0+1, z0)*(1-fx) + at(x0+1, y0+1, z0)*fx
	c01 := at(x0, y0, z0+1)*(1-fx) + at(x0+1, y0, z0+1)*fx
	c11 := at(x0, y0+1, z0+1)*(1-fx) + at(x0+1, y0+1, z0+1)*fx
	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy
	return v.slope*(c0*(1-fz)+c1*fz) + v.intercept
}
