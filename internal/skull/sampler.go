// Package skull provides density samplers for the patient skull: CT voxel
// volumes and analytic phantoms. Densities are in Hounsfield units.
package skull

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Sampler answers density queries at world-space points (mm).
type Sampler interface {
	// SampleDensity returns the rescaled density at p; points outside the
	// volume read as water.
	SampleDensity(p r3.Vec) float64
	// Bounds returns the axis-aligned world box holding every non-water sample.
	Bounds() (min, max r3.Vec)
	// Resolution is the feature size in mm; tracers march at this step.
	Resolution() float64
}

// Gradient estimates the density gradient at p by central differences.
func Gradient(s Sampler, p r3.Vec, h float64) r3.Vec {
	dx := s.SampleDensity(r3.Vec{X: p.X + h, Y: p.Y, Z: p.Z}) - s.SampleDensity(r3.Vec{X: p.X - h, Y: p.Y, Z: p.Z})
	dy := s.SampleDensity(r3.Vec{X: p.X, Y: p.Y + h, Z: p.Z}) - s.SampleDensity(r3.Vec{X: p.X, Y: p.Y - h, Z: p.Z})
	dz := s.SampleDensity(r3.Vec{X: p.X, Y: p.Y, Z: p.Z + h}) - s.SampleDensity(r3.Vec{X: p.X, Y: p.Y, Z: p.Z - h})
	return r3.Scale(1/(2*h), r3.Vec{X: dx, Y: dy, Z: dz})
}

// ClipRay intersects the ray origin + t*dir with the box [lo, hi] and returns
// the entry and exit parameters.
func ClipRay(origin, dir, lo, hi r3.Vec) (t0, t1 float64, ok bool) {
	t0, t1 = math.Inf(-1), math.Inf(1)
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	l := [3]float64{lo.X, lo.Y, lo.Z}
	u := [3]float64{hi.X, hi.Y, hi.Z}
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < l[i] || o[i] > u[i] {
				return 0, 0, false
			}
			continue
		}
		a := (l[i] - o[i]) / d[i]
		b := (u[i] - o[i]) / d[i]
		if a > b {
			a, b = b, a
		}
		t0 = math.Max(t0, a)
		t1 = math.Min(t1, b)
	}
	return t0, t1, t0 <= t1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
