package acoustic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"TFP/internal/compute"
)

// Source buffer layout, one record per radiating element: inner strike xyz,
// drive phase, transmission, travel time to the inner strike (s) and path
// length to it (mm).
const (
	SrcX         = 0
	SrcPhase     = 3
	SrcAmplitude = 4
	SrcPreTime   = 5
	SrcPrePath   = 6
	SourceStride = 7
)

// PressureParams configures KernelPressure. Bindings are sources (in),
// points (in, xyz per grid point) and values (out).
type PressureParams struct {
	FrequencyHz float64
	WaterSpeed  float64
	Sources     int
}

// Lattice is a regular grid of sample points centred on a focus.
type Lattice struct {
	Dims      [3]int
	SpacingMm float64
}

// DefaultLattice is a 31x31 axial slice at 1 mm.
func DefaultLattice() Lattice {
	return Lattice{Dims: [3]int{31, 31, 1}, SpacingMm: 1}
}

// Points returns the number of lattice points.
func (l Lattice) Points() int { return l.Dims[0] * l.Dims[1] * l.Dims[2] }

func (l Lattice) validate() error {
	for _, d := range l.Dims {
		if d < 1 {
			return fmt.Errorf("lattice: dimensions %v", l.Dims)
		}
	}
	if l.SpacingMm <= 0 {
		return fmt.Errorf("lattice: spacing %.3f mm", l.SpacingMm)
	}
	return nil
}

// axes returns the coordinates along x, y and z for a lattice centred on c.
func (l Lattice) axes(c r3.Vec) [3][]float64 {
	centre := [3]float64{c.X, c.Y, c.Z}
	var out [3][]float64
	for a, n := range l.Dims {
		out[a] = make([]float64, n)
		if n == 1 {
			out[a][0] = centre[a]
			continue
		}
		half := float64(n-1) / 2 * l.SpacingMm
		floats.Span(out[a], centre[a]-half, centre[a]+half)
	}
	return out
}

// points flattens the lattice into xyz triples, x fastest.
func (l Lattice) points(c r3.Vec) []float32 {
	ax := l.axes(c)
	out := make([]float32, 0, 3*l.Points())
	for _, z := range ax[2] {
		for _, y := range ax[1] {
			for _, x := range ax[0] {
				out = append(out, float32(x), float32(y), float32(z))
			}
		}
	}
	return out
}

// PressureGrid is the raw interference field over a Lattice. Values are
// indexed (k*ny+j)*nx+i.
type PressureGrid struct {
	Dims      [3]int
	Origin    r3.Vec // position of point (0,0,0)
	SpacingMm float64
	Values    []float32
	Min, Max  float32
}

// Empty reports whether the grid holds no samples.
func (g PressureGrid) Empty() bool { return len(g.Values) == 0 }

// Index returns the offset of point (i, j, k) in Values.
func (g PressureGrid) Index(i, j, k int) int {
	return (k*g.Dims[1]+j)*g.Dims[0] + i
}

// At returns the value at point (i, j, k).
func (g PressureGrid) At(i, j, k int) float32 { return g.Values[g.Index(i, j, k)] }

func newPressureGrid(l Lattice, centre r3.Vec, values []float32) PressureGrid {
	ax := l.axes(centre)
	g := PressureGrid{
		Dims:      l.Dims,
		Origin:    r3.Vec{X: ax[0][0], Y: ax[1][0], Z: ax[2][0]},
		SpacingMm: l.SpacingMm,
		Values:    values,
	}
	if len(values) > 0 {
		g.Min, g.Max = float32(math.Inf(1)), float32(math.Inf(-1))
		for _, v := range values {
			g.Min = min(g.Min, v)
			g.Max = max(g.Max, v)
		}
	}
	return g
}

// buildSources packs every active element with valid metrics into source
// records. An active element whose trace failed still gets a water-path phase
// but has no transmission coefficient, so it adds nothing to the field.
func buildSources(traces []RayTrace, metrics []ElementMetrics, phases []PhaseCorrection, boneSpeed float64) ([]float32, int) {
	out := make([]float32, 0, SourceStride*len(traces))
	n := 0
	for i, rt := range traces {
		if !rt.Valid || !metrics[i].Valid || !phases[i].Active {
			continue
		}
		rec := make([]float32, SourceStride)
		putVec(rec[SrcX:], rt.InnerStrike)
		rec[SrcPhase] = float32(phases[i].Radians)
		rec[SrcAmplitude] = float32(metrics[i].Transmission)
		rec[SrcPreTime] = float32(travelSeconds(rt.WaterPathMm, WaterSpeed) + travelSeconds(rt.BonePathMm, boneSpeed))
		rec[SrcPrePath] = float32(rt.WaterPathMm + rt.BonePathMm)
		out = append(out, rec...)
		n++
	}
	return out, n
}

// pressureExec sums every source's wavelet at one grid point per work unit.
func pressureExec(span compute.Span, params any, bindings []*compute.Buffer) {
	p := params.(PressureParams)
	src, pts, out := bindings[0].Data(), bindings[1].Data(), bindings[2].Data()
	omega := 2 * math.Pi * p.FrequencyHz
	for i := span.Start; i < span.End; i++ {
		pt := getVec(pts[3*i:])
		var sum float64
		for s := 0; s < p.Sources; s++ {
			rec := src[s*SourceStride : (s+1)*SourceStride]
			d := r3.Norm(r3.Sub(pt, getVec(rec[SrcX:])))
			path := float64(rec[SrcPrePath]) + d
			if path <= 0 {
				continue
			}
			tau := float64(rec[SrcPreTime]) + travelSeconds(d, p.WaterSpeed)
			sum += float64(rec[SrcAmplitude]) / path * math.Cos(float64(rec[SrcPhase])-omega*tau)
		}
		out[i] = float32(sum)
	}
}
