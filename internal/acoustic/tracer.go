package acoustic

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"TFP/internal/compute"
	"TFP/internal/skull"
)

// Element buffer layout: position xyz, normal xyz, area, active.
const elementStride = 8

// Trace buffer layout, one record per element.
const (
	trOuter       = 0
	trInner       = 3
	trNormal      = 6
	trRefracted   = 9
	trIncident    = 12
	trWaterPath   = 15
	trBonePath    = 16
	trIncidentDeg = 17
	trRefractDeg  = 18
	trValid       = 19
	traceStride   = 20
)

const (
	bisectIterations = 40
	bisectTolerance  = 1e-7
)

// RayTrace is one element's path: water from the element to the outer strike,
// bone along the refracted direction to the inner strike. Invalid traces hold
// Sentinel in every numeric field.
type RayTrace struct {
	OuterStrike  r3.Vec
	InnerStrike  r3.Vec
	Normal       r3.Vec // outward surface normal at the outer strike
	Refracted    r3.Vec // unit direction inside bone
	Incident     r3.Vec // unit direction in water
	WaterPathMm  float64
	BonePathMm   float64
	IncidentDeg  float64
	RefractedDeg float64
	Valid        bool
}

func invalidTrace() RayTrace {
	s := r3.Vec{X: Sentinel, Y: Sentinel, Z: Sentinel}
	return RayTrace{
		OuterStrike: s, InnerStrike: s, Normal: s, Refracted: s, Incident: s,
		WaterPathMm: Sentinel, BonePathMm: Sentinel,
		IncidentDeg: Sentinel, RefractedDeg: Sentinel,
	}
}

func putVec(dst []float32, v r3.Vec) {
	dst[0], dst[1], dst[2] = float32(v.X), float32(v.Y), float32(v.Z)
}

func getVec(src []float32) r3.Vec {
	return r3.Vec{X: float64(src[0]), Y: float64(src[1]), Z: float64(src[2])}
}

func (rt RayTrace) encode(dst []float32) {
	putVec(dst[trOuter:], rt.OuterStrike)
	putVec(dst[trInner:], rt.InnerStrike)
	putVec(dst[trNormal:], rt.Normal)
	putVec(dst[trRefracted:], rt.Refracted)
	putVec(dst[trIncident:], rt.Incident)
	dst[trWaterPath] = float32(rt.WaterPathMm)
	dst[trBonePath] = float32(rt.BonePathMm)
	dst[trIncidentDeg] = float32(rt.IncidentDeg)
	dst[trRefractDeg] = float32(rt.RefractedDeg)
	dst[trValid] = 0
	if rt.Valid {
		dst[trValid] = 1
	}
}

func decodeTrace(src []float32) RayTrace {
	return RayTrace{
		OuterStrike:  getVec(src[trOuter:]),
		InnerStrike:  getVec(src[trInner:]),
		Normal:       getVec(src[trNormal:]),
		Refracted:    getVec(src[trRefracted:]),
		Incident:     getVec(src[trIncident:]),
		WaterPathMm:  float64(src[trWaterPath]),
		BonePathMm:   float64(src[trBonePath]),
		IncidentDeg:  float64(src[trIncidentDeg]),
		RefractedDeg: float64(src[trRefractDeg]),
		Valid:        src[trValid] != 0,
	}
}

// tracer walks rays through a sampler. It is read-only once built and safe to
// share between kernel spans.
type tracer struct {
	sampler     skull.Sampler
	threshold   float64
	eta         float64 // bone refraction speed / water speed
	grazingDeg  float64
	maxBonePath float64
	step        float64
	lo, hi      r3.Vec
}

func newTracer(s skull.Sampler, p Params) *tracer {
	step := s.Resolution()
	if step <= 0 {
		step = 0.5
	}
	lo, hi := s.Bounds()
	return &tracer{
		sampler:     s,
		threshold:   p.BoneThreshold,
		eta:         ClampRefractionSpeed(p.BoneRefractionSpeed) / WaterSpeed,
		grazingDeg:  p.GrazingLimitDeg,
		maxBonePath: p.MaxBonePathMm,
		step:        step,
		lo:          lo,
		hi:          hi,
	}
}

func (tr *tracer) bone(p r3.Vec) bool {
	return tr.sampler.SampleDensity(p) >= tr.threshold
}

// bisect narrows [a, b] on origin+t*dir, where b is on the side whose bone
// test equals want, and returns the parameter on that side.
func (tr *tracer) bisect(origin, dir r3.Vec, a, b float64, want bool) float64 {
	for i := 0; i < bisectIterations && b-a > bisectTolerance; i++ {
		m := (a + b) / 2
		if tr.bone(r3.Add(origin, r3.Scale(m, dir))) == want {
			b = m
		} else {
			a = m
		}
	}
	return b
}

// outerStrike marches from origin toward target and returns the distance to
// the first threshold crossing.
func (tr *tracer) outerStrike(origin, dir r3.Vec, dist float64) (float64, bool) {
	t0, t1, ok := skull.ClipRay(origin, dir, tr.lo, tr.hi)
	if !ok {
		return 0, false
	}
	t0 = math.Max(t0, 0)
	t1 = math.Min(t1, dist)
	if t0 >= t1 {
		return 0, false
	}
	if tr.bone(r3.Add(origin, r3.Scale(t0, dir))) {
		return t0, true
	}
	prev := t0
	for t := t0 + tr.step; ; t += tr.step {
		if t > t1 {
			t = t1
		}
		if tr.bone(r3.Add(origin, r3.Scale(t, dir))) {
			return tr.bisect(origin, dir, prev, t, true), true
		}
		if t >= t1 {
			return 0, false
		}
		prev = t
	}
}

// surfaceNormal points out of the bone, against dir.
func (tr *tracer) surfaceNormal(p, dir r3.Vec) r3.Vec {
	g := skull.Gradient(tr.sampler, p, tr.step/4)
	n := r3.Norm(g)
	if n == 0 || math.IsNaN(n) {
		return r3.Scale(-1, dir)
	}
	normal := r3.Scale(-1/n, g)
	if r3.Dot(normal, dir) > 0 {
		normal = r3.Scale(-1, normal)
	}
	return normal
}

// incidence returns the angle between the incoming ray and the surface normal
// at the outer strike, without following the ray into bone.
func (tr *tracer) incidence(origin, target r3.Vec) (float64, bool) {
	d := r3.Sub(target, origin)
	dist := r3.Norm(d)
	if dist == 0 {
		return 0, false
	}
	dir := r3.Scale(1/dist, d)
	t, ok := tr.outerStrike(origin, dir, dist)
	if !ok {
		return 0, false
	}
	n := tr.surfaceNormal(r3.Add(origin, r3.Scale(t, dir)), dir)
	return deg(math.Acos(clamp(-r3.Dot(n, dir), -1, 1))), true
}

// trace follows one ray from origin toward target through both skull tables.
func (tr *tracer) trace(origin, target r3.Vec) RayTrace {
	d := r3.Sub(target, origin)
	dist := r3.Norm(d)
	if dist == 0 {
		return invalidTrace()
	}
	dir := r3.Scale(1/dist, d)
	tOuter, ok := tr.outerStrike(origin, dir, dist)
	if !ok {
		return invalidTrace()
	}
	outer := r3.Add(origin, r3.Scale(tOuter, dir))
	normal := tr.surfaceNormal(outer, dir)

	cosI := clamp(-r3.Dot(normal, dir), -1, 1)
	incidentDeg := deg(math.Acos(cosI))
	if incidentDeg > tr.grazingDeg {
		return invalidTrace()
	}
	k := 1 - tr.eta*tr.eta*(1-cosI*cosI)
	if k < 0 {
		return invalidTrace()
	}
	cosT := math.Sqrt(k)
	refracted := r3.Unit(r3.Add(r3.Scale(tr.eta, dir), r3.Scale(tr.eta*cosI-cosT, normal)))

	sInner, ok := tr.innerStrike(outer, refracted)
	if !ok {
		return invalidTrace()
	}
	inner := r3.Add(outer, r3.Scale(sInner, refracted))
	return RayTrace{
		OuterStrike:  outer,
		InnerStrike:  inner,
		Normal:       normal,
		Refracted:    refracted,
		Incident:     dir,
		WaterPathMm:  tOuter,
		BonePathMm:   sInner,
		IncidentDeg:  incidentDeg,
		RefractedDeg: deg(math.Acos(clamp(cosT, -1, 1))),
		Valid:        true,
	}
}

// innerStrike marches the refracted ray until density drops below threshold.
func (tr *tracer) innerStrike(outer, dir r3.Vec) (float64, bool) {
	prev := 0.0
	for s := tr.step; ; s += tr.step {
		if s > tr.maxBonePath {
			s = tr.maxBonePath
		}
		if !tr.bone(r3.Add(outer, r3.Scale(s, dir))) {
			return tr.bisect(outer, dir, prev, s, false), true
		}
		if s >= tr.maxBonePath {
			return 0, false
		}
		prev = s
	}
}

type traceParams struct {
	tracer *tracer
	target r3.Vec
}

// rayTraceExec runs one element per work unit. Bindings: elements (in),
// traces (out).
func rayTraceExec(span compute.Span, params any, bindings []*compute.Buffer) {
	p := params.(traceParams)
	elems, out := bindings[0].Data(), bindings[1].Data()
	for i := span.Start; i < span.End; i++ {
		e := elems[i*elementStride : (i+1)*elementStride]
		rec := out[i*traceStride : (i+1)*traceStride]
		if e[7] == 0 {
			invalidTrace().encode(rec)
			continue
		}
		p.tracer.trace(getVec(e), p.target).encode(rec)
	}
}
