package skull

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Slab is a flat bone plate: points whose projection on Normal falls in
// [Offset, Offset+Thickness] read Density. Faces are blurred over Ramp mm so
// gradients are well defined.
type Slab struct {
	Normal     r3.Vec
	Offset     float64
	Thickness  float64
	Density    float64
	Ramp       float64
	HalfExtent float64
}

func (s Slab) SampleDensity(p r3.Vec) float64 {
	d := r3.Dot(r3.Unit(s.Normal), p)
	lo, hi := d-s.Offset, s.Offset+s.Thickness-d
	if s.Ramp <= 0 {
		if lo >= 0 && hi >= 0 {
			return s.Density
		}
		return WaterHU
	}
	return s.Density * clamp01(math.Min(lo/s.Ramp+0.5, hi/s.Ramp+0.5))
}

func (s Slab) Bounds() (r3.Vec, r3.Vec) {
	e := s.HalfExtent
	return r3.Vec{X: -e, Y: -e, Z: -e}, r3.Vec{X: e, Y: e, Z: e}
}

func (s Slab) Resolution() float64 {
	if s.Ramp > 0 {
		return s.Ramp
	}
	return 0.5
}

// Shell is a spherical skull phantom centred on Center. The bone spans
// [OuterRadius-Thickness, OuterRadius]; its middle MarrowFraction reads
// MarrowDensity, the outer and inner tables read Density.
type Shell struct {
	Center         r3.Vec
	OuterRadius    float64
	Thickness      float64
	Density        float64
	MarrowDensity  float64
	MarrowFraction float64
	Ramp           float64
}

func (s Shell) SampleDensity(p r3.Vec) float64 {
	depth := s.OuterRadius - r3.Norm(r3.Sub(p, s.Center))
	edge := math.Min(depth, s.Thickness-depth)
	var w float64
	if s.Ramp > 0 {
		w = clamp01(edge/s.Ramp + 0.5)
	} else if edge >= 0 {
		w = 1
	}
	if w == 0 {
		return WaterHU
	}
	density := s.Density
	if s.MarrowFraction > 0 {
		half := s.Thickness * s.MarrowFraction / 2
		if math.Abs(depth-s.Thickness/2) < half {
			density = s.MarrowDensity
		}
	}
	return density * w
}

func (s Shell) Bounds() (r3.Vec, r3.Vec) {
	e := s.OuterRadius + math.Max(s.Ramp, 1)
	return r3.Sub(s.Center, r3.Vec{X: e, Y: e, Z: e}), r3.Add(s.Center, r3.Vec{X: e, Y: e, Z: e})
}

func (s Shell) Resolution() float64 {
	if s.Ramp > 0 {
		return s.Ramp
	}
	return 0.5
}
