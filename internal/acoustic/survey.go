package acoustic

import (
	"gonum.org/v1/gonum/spatial/r3"

	"TFP/internal/compute"
)

// Band thresholds as fractions of the element count.
const (
	surveyGoodFraction = 0.68
	surveyFairFraction = 0.49
)

// DefaultSurveyLattice is 21 points per axis at 3 mm.
func DefaultSurveyLattice() Lattice {
	return Lattice{Dims: [3]int{21, 21, 21}, SpacingMm: 3}
}

// SurveyLattice counts, for each focal offset around the natural focus, the
// elements that would reach it: active, validly traced and below the
// incidence cutoff. Counts and Bands are indexed like PressureGrid.
type SurveyLattice struct {
	Dims      [3]int
	Origin    r3.Vec
	SpacingMm float64
	Elements  int
	Counts    []int
	Bands     []uint8
}

// Empty reports whether the survey holds no points.
func (s SurveyLattice) Empty() bool { return len(s.Counts) == 0 }

// Band classifies count against total: 2 at 68% or more, 1 at 49% or more.
func Band(count, total int) uint8 {
	if total <= 0 {
		return 0
	}
	f := float64(count) / float64(total)
	switch {
	case f >= surveyGoodFraction:
		return 2
	case f >= surveyFairFraction:
		return 1
	}
	return 0
}

type surveyParams struct {
	tracer    *tracer
	points    []r3.Vec
	elements  int
	cutoffDeg float64
}

// surveyExec handles one (point, element) pair per work unit, point major.
// Bindings: elements (in), hits (out).
func surveyExec(span compute.Span, params any, bindings []*compute.Buffer) {
	p := params.(surveyParams)
	elems, out := bindings[0].Data(), bindings[1].Data()
	for u := span.Start; u < span.End; u++ {
		pt, el := u/p.elements, u%p.elements
		e := elems[el*elementStride : (el+1)*elementStride]
		out[u] = 0
		if e[7] == 0 {
			continue
		}
		rt := p.tracer.trace(getVec(e), p.points[pt])
		if rt.Valid && rt.IncidentDeg < p.cutoffDeg {
			out[u] = 1
		}
	}
}

func newSurveyLattice(l Lattice, elements int, hits []float32) SurveyLattice {
	ax := l.axes(r3.Vec{})
	s := SurveyLattice{
		Dims:      l.Dims,
		Origin:    r3.Vec{X: ax[0][0], Y: ax[1][0], Z: ax[2][0]},
		SpacingMm: l.SpacingMm,
		Elements:  elements,
		Counts:    make([]int, l.Points()),
		Bands:     make([]uint8, l.Points()),
	}
	for i := range s.Counts {
		for _, h := range hits[i*elements : (i+1)*elements] {
			if h != 0 {
				s.Counts[i]++
			}
		}
		s.Bands[i] = Band(s.Counts[i], elements)
	}
	return s
}

func latticeVecs(l Lattice, c r3.Vec) []r3.Vec {
	flat := l.points(c)
	out := make([]r3.Vec, len(flat)/3)
	for i := range out {
		out[i] = getVec(flat[3*i:])
	}
	return out
}
