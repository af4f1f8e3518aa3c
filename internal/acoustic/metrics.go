package acoustic

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"TFP/internal/compute"
	"TFP/internal/skull"
)

// ErrUndefinedAggregate is returned, together with NaN, when an aggregate is
// requested over zero valid elements.
var ErrUndefinedAggregate = errors.New("acoustic: aggregate over zero valid elements")

// Metrics buffer layout, one record per element.
const (
	mSDR           = 0
	mSDR2          = 1
	mTransmission  = 2
	mThickness     = 3
	mNormThickness = 4
	mSpeed         = 5
	mValid         = 6
	metricsStride  = 7
)

// ElementMetrics are the skull measures along one element's bone path.
// Invalid elements carry Sentinel in every field.
type ElementMetrics struct {
	SDR                  float64
	SDR2                 float64
	Transmission         float64
	SkullThicknessMm     float64
	NormSkullThicknessMm float64
	SpeedOfSound         float64
	Valid                bool
}

func invalidMetrics() ElementMetrics {
	return ElementMetrics{
		SDR: Sentinel, SDR2: Sentinel, Transmission: Sentinel,
		SkullThicknessMm: Sentinel, NormSkullThicknessMm: Sentinel, SpeedOfSound: Sentinel,
	}
}

func (m ElementMetrics) encode(dst []float32) {
	dst[mSDR] = float32(m.SDR)
	dst[mSDR2] = float32(m.SDR2)
	dst[mTransmission] = float32(m.Transmission)
	dst[mThickness] = float32(m.SkullThicknessMm)
	dst[mNormThickness] = float32(m.NormSkullThicknessMm)
	dst[mSpeed] = float32(m.SpeedOfSound)
	dst[mValid] = 0
	if m.Valid {
		dst[mValid] = 1
	}
}

func decodeMetrics(src []float32) ElementMetrics {
	return ElementMetrics{
		SDR:                  float64(src[mSDR]),
		SDR2:                 float64(src[mSDR2]),
		Transmission:         float64(src[mTransmission]),
		SkullThicknessMm:     float64(src[mThickness]),
		NormSkullThicknessMm: float64(src[mNormThickness]),
		SpeedOfSound:         float64(src[mSpeed]),
		Valid:                src[mValid] != 0,
	}
}

// profileSpan returns where an element's density profile starts, its step
// direction and the spacing between samples.
func profileSpan(rt RayTrace, samples int, marginMm float64) (start r3.Vec, spacing float64) {
	length := rt.BonePathMm + 2*marginMm
	start = r3.Sub(rt.OuterStrike, r3.Scale(marginMm, rt.Refracted))
	return start, length / float64(samples-1)
}

type profileParams struct {
	sampler  skull.Sampler
	samples  int
	marginMm float64
}

// profileExec samples each valid element's bone path. Bindings: traces (in),
// profiles (out, samples per element).
func profileExec(span compute.Span, params any, bindings []*compute.Buffer) {
	p := params.(profileParams)
	traces, out := bindings[0].Data(), bindings[1].Data()
	for i := span.Start; i < span.End; i++ {
		rt := decodeTrace(traces[i*traceStride : (i+1)*traceStride])
		dst := out[i*p.samples : (i+1)*p.samples]
		if !rt.Valid {
			for j := range dst {
				dst[j] = Sentinel
			}
			continue
		}
		start, spacing := profileSpan(rt, p.samples, p.marginMm)
		for j := range dst {
			pt := r3.Add(start, r3.Scale(float64(j)*spacing, rt.Refracted))
			dst[j] = float32(p.sampler.SampleDensity(pt))
		}
	}
}

type metricsParams struct {
	threshold float64
	samples   int
	marginMm  float64
}

// metricsExec reduces each profile to ElementMetrics. Bindings: traces (in),
// profiles (in), metrics (out).
func metricsExec(span compute.Span, params any, bindings []*compute.Buffer) {
	p := params.(metricsParams)
	traces, profiles, out := bindings[0].Data(), bindings[1].Data(), bindings[2].Data()
	profile := make([]float64, p.samples)
	for i := span.Start; i < span.End; i++ {
		rt := decodeTrace(traces[i*traceStride : (i+1)*traceStride])
		rec := out[i*metricsStride : (i+1)*metricsStride]
		if !rt.Valid {
			invalidMetrics().encode(rec)
			continue
		}
		for j, v := range profiles[i*p.samples : (i+1)*p.samples] {
			profile[j] = float64(v)
		}
		_, spacing := profileSpan(rt, p.samples, p.marginMm)
		m, ok := computeMetrics(profile, spacing, p.threshold, rt.IncidentDeg, rt.RefractedDeg)
		if !ok {
			m = invalidMetrics()
		}
		m.encode(rec)
	}
}

// computeMetrics derives the skull measures from a uniformly spaced density
// profile. It reports false when no sample reaches threshold.
func computeMetrics(profile []float64, spacing, threshold, incidentDeg, refractedDeg float64) (ElementMetrics, bool) {
	a, b := -1, -1
	for i, v := range profile {
		if v >= threshold {
			if a < 0 {
				a = i
			}
			b = i
		}
	}
	if a < 0 {
		return ElementMetrics{}, false
	}
	thickness := float64(b-a) * spacing

	// Minima skip the partial-volume sample at each end of the span.
	lo, hi := a, b
	if b-a+1 > 2 {
		lo, hi = a+1, b-1
	}
	mid := (a + b) / 2
	outerIdx := a + floats.MaxIdx(profile[a:mid+1])
	innerIdx := mid + floats.MaxIdx(profile[mid:b+1])
	outerPeak, innerPeak := profile[outerIdx], profile[innerIdx]

	valley := floats.Min(window(profile, outerIdx, innerIdx, lo, hi))
	sdr := valley / ((outerPeak + innerPeak) / 2)
	sdr2 := floats.Min(window(profile, outerIdx, b, lo, hi)) / outerPeak

	porosity := clamp(1-stat.Mean(profile[a:b+1], nil)/porosityHU, 0, 1)
	speed := WaterSpeed + (CorticalSpeed-WaterSpeed)*(1-porosity)
	density := WaterDensity + boneDensityGain*(1-porosity)

	return ElementMetrics{
		SDR:                  sdr,
		SDR2:                 sdr2,
		Transmission:         transmission(speed, density, incidentDeg, refractedDeg),
		SkullThicknessMm:     thickness,
		NormSkullThicknessMm: thickness * math.Cos(rad(refractedDeg)),
		SpeedOfSound:         speed,
		Valid:                true,
	}, true
}

// window returns profile[from:to+1] trimmed to [lo, hi], or untrimmed when the
// trim would leave nothing.
func window(profile []float64, from, to, lo, hi int) []float64 {
	f, t := max(from, lo), min(to, hi)
	if f > t {
		return profile[from : to+1]
	}
	return profile[f : t+1]
}

// transmission is the intensity fraction through both skull interfaces, using
// oblique-incidence impedances Z/cos(theta). The inner table is treated as
// parallel to the outer one, so both interfaces pass the same fraction.
func transmission(speed, density, incidentDeg, refractedDeg float64) float64 {
	z1 := WaterDensity * WaterSpeed / math.Cos(rad(incidentDeg))
	z2 := density * speed / math.Cos(rad(refractedDeg))
	t := 4 * z1 * z2 / ((z1 + z2) * (z1 + z2))
	return t * t
}

// treatmentSDR is the mean SDR2 over valid elements.
func treatmentSDR(metrics []ElementMetrics) (float64, error) {
	var vals []float64
	for _, m := range metrics {
		if m.Valid {
			vals = append(vals, m.SDR2)
		}
	}
	if len(vals) == 0 {
		return math.NaN(), ErrUndefinedAggregate
	}
	return stat.Mean(vals, nil), nil
}

// meanTransmission divides by every valid element but only sums those whose
// incidence is below cutoffDeg.
func meanTransmission(traces []RayTrace, metrics []ElementMetrics, cutoffDeg float64) (float64, error) {
	var sum float64
	n := 0
	for i, m := range metrics {
		if !m.Valid {
			continue
		}
		n++
		if traces[i].IncidentDeg < cutoffDeg {
			sum += m.Transmission
		}
	}
	if n == 0 {
		return math.NaN(), ErrUndefinedAggregate
	}
	return sum / float64(n), nil
}
