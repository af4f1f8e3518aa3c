package acoustic

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"TFP/internal/compute"
	"TFP/internal/envelope"
	"TFP/internal/skull"
	"TFP/internal/transducer"
)

// buffers are the planner's allocations on the compute context. They are
// touched only inside Run callbacks.
type buffers struct {
	elements *compute.Buffer
	traces   *compute.Buffer
	profiles *compute.Buffer
	metrics  *compute.Buffer
	phases   *compute.Buffer
	sources  *compute.Buffer
	points   *compute.Buffer
	values   *compute.Buffer
	hits     *compute.Buffer
}

// Planner owns the derived results of one treatment plan and recomputes them
// lazily as inputs change. Its methods are safe for concurrent use.
type Planner struct {
	mu      sync.Mutex
	ctx     *compute.Context
	array   *transducer.Array
	sampler skull.Sampler
	params  Params
	lattice Lattice
	survey  Lattice
	graph   *graph
	bufs    buffers

	traces   []RayTrace
	metrics  []ElementMetrics
	phases   []PhaseCorrection
	pressure PressureGrid
	envelope envelope.Envelope
	surveyed SurveyLattice
}

// NewPlanner builds a planner for array. ctx must carry the kernels returned
// by Kernels. The planner has no sampler until SetSampler is called.
func NewPlanner(ctx *compute.Context, array *transducer.Array, params Params) *Planner {
	return &Planner{
		ctx:     ctx,
		array:   array,
		params:  params.normalized(),
		lattice: DefaultLattice(),
		survey:  DefaultSurveyLattice(),
		graph:   newGraph(),
	}
}

// Release frees the planner's compute buffers. Results already read stay valid.
func (p *Planner) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graph.invalidateAll()
	b := p.bufs
	p.bufs = buffers{}
	return p.ctx.Run(func(s *compute.Session) error {
		for _, buf := range []*compute.Buffer{b.elements, b.traces, b.profiles, b.metrics, b.phases, b.sources, b.points, b.values, b.hits} {
			s.Release(buf)
		}
		return nil
	})
}

// Elements returns the number of transducer elements.
func (p *Planner) Elements() int { return p.array.Len() }

// Params returns the current inputs.
func (p *Planner) Params() Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// State reports the cache state of stage s.
func (p *Planner) State(s Stage) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graph.State(s)
}

// SetSampler assigns the skull volume. nil turns every query into a no-op.
func (p *Planner) SetSampler(s skull.Sampler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sampler = s
	p.graph.invalidate(StageRayTrace)
}

// SetParams replaces every input at once. The correction amount and the
// refraction speed are clamped as their setters do.
func (p *Planner) SetParams(params Params) {
	p.mu.Lock()
	defer p.mu.Unlock()
	params = params.normalized()
	if params == p.params {
		return
	}
	p.params = params
	p.graph.invalidate(StageRayTrace)
}

func (p *Planner) setTraceInput(changed bool) {
	if changed {
		p.graph.invalidate(StageRayTrace)
	}
}

// SetSteering moves the target away from the natural focus, in mm.
func (p *Planner) SetSteering(v r3.Vec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setTraceInput(v != p.params.Steering)
	p.params.Steering = v
}

// SetTilt rotates the array about the natural focus, in degrees.
func (p *Planner) SetTilt(xDeg, yDeg float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setTraceInput(xDeg != p.params.TiltXDeg || yDeg != p.params.TiltYDeg)
	p.params.TiltXDeg, p.params.TiltYDeg = xDeg, yDeg
}

// SetBoneSpeed sets the speed used for time of flight through bone.
func (p *Planner) SetBoneSpeed(c float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setTraceInput(c != p.params.BoneSpeed)
	p.params.BoneSpeed = c
}

// SetBoneRefractionSpeed sets the speed used for Snell's law. It is clamped
// to [MinRefractionSpeed, MaxRefractionSpeed].
func (p *Planner) SetBoneRefractionSpeed(c float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c = ClampRefractionSpeed(c)
	p.setTraceInput(c != p.params.BoneRefractionSpeed)
	p.params.BoneRefractionSpeed = c
}

// SetBoneThreshold sets the HU level that counts as bone.
func (p *Planner) SetBoneThreshold(hu float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setTraceInput(hu != p.params.BoneThreshold)
	p.params.BoneThreshold = hu
}

// SetElementActive switches one element on or off.
func (p *Planner) SetElementActive(i int, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed, err := p.array.SetActive(i, active)
	if err != nil {
		return err
	}
	p.setTraceInput(changed)
	return nil
}

// SetFrequency sets the drive frequency in Hz.
func (p *Planner) SetFrequency(hz float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hz != p.params.FrequencyHz {
		p.params.FrequencyHz = hz
		p.graph.invalidate(StagePhase)
	}
}

// SetPhaseCorrectAmount blends between synchronous firing (0) and full
// correction (1).
func (p *Planner) SetPhaseCorrectAmount(a float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a = clamp(a, 0, 1)
	if a != p.params.PhaseCorrectAmount {
		p.params.PhaseCorrectAmount = a
		p.graph.invalidate(StagePhase)
	}
}

// SetLattice changes the pressure sampling grid.
func (p *Planner) SetLattice(l Lattice) error {
	if err := l.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if l != p.lattice {
		p.lattice = l
		p.graph.invalidate(StagePressure)
	}
	return nil
}

// SetSurveyLattice changes the CalcEnvelope grid.
func (p *Planner) SetSurveyLattice(l Lattice) error {
	if err := l.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if l != p.survey {
		p.survey = l
		p.graph.invalidate(StageSurvey)
	}
	return nil
}

func (p *Planner) ensure(s Stage) error {
	return p.graph.ensure(s, p.compute)
}

func (p *Planner) compute(s Stage) error {
	switch s {
	case StageRayTrace:
		return p.computeRayTrace()
	case StageMetrics:
		return p.computeMetrics()
	case StagePhase:
		return p.computePhase()
	case StagePressure:
		return p.computePressure()
	case StageEnvelope:
		return p.computeEnvelope()
	case StageSurvey:
		return p.computeSurvey()
	}
	return fmt.Errorf("unknown stage %d", int(s))
}

// uploadElements refreshes the element buffer from the tilted array.
func (p *Planner) uploadElements(s *compute.Session) error {
	elems := p.array.Tilted(p.params.TiltXDeg, p.params.TiltYDeg)
	host := make([]float32, len(elems)*elementStride)
	for i, e := range elems {
		rec := host[i*elementStride : (i+1)*elementStride]
		putVec(rec[0:], e.Position)
		putVec(rec[3:], e.Normal)
		rec[6] = float32(e.Area)
		if e.Active {
			rec[7] = 1
		}
	}
	var err error
	if p.bufs.elements, err = s.Reallocate(p.bufs.elements, "elements", len(host)); err != nil {
		return err
	}
	return s.Upload(p.bufs.elements, host)
}

func (p *Planner) computeRayTrace() error {
	n := p.array.Len()
	traces := make([]RayTrace, n)
	if p.sampler == nil {
		for i := range traces {
			traces[i] = invalidTrace()
		}
		p.traces = traces
		return nil
	}
	params := traceParams{tracer: newTracer(p.sampler, p.params), target: p.params.Steering}
	var raw []float32
	err := p.ctx.Run(func(s *compute.Session) error {
		if err := p.uploadElements(s); err != nil {
			return err
		}
		var err error
		if p.bufs.traces, err = s.Reallocate(p.bufs.traces, "traces", n*traceStride); err != nil {
			return err
		}
		if err := s.Dispatch(KernelRayTrace, params, []*compute.Buffer{p.bufs.elements, p.bufs.traces}, n); err != nil {
			return err
		}
		raw, err = s.ReadBack(p.bufs.traces)
		return err
	})
	if err != nil {
		return err
	}
	for i := range traces {
		traces[i] = decodeTrace(raw[i*traceStride : (i+1)*traceStride])
	}
	p.traces = traces
	return nil
}

func (p *Planner) computeMetrics() error {
	n := p.array.Len()
	metrics := make([]ElementMetrics, n)
	if p.sampler == nil {
		for i := range metrics {
			metrics[i] = invalidMetrics()
		}
		p.metrics = metrics
		return nil
	}
	samples := p.params.ProfileSamples
	if samples < 3 {
		return fmt.Errorf("profile needs at least 3 samples, got %d", samples)
	}
	pp := profileParams{sampler: p.sampler, samples: samples, marginMm: p.params.ProfileMarginMm}
	mp := metricsParams{threshold: p.params.BoneThreshold, samples: samples, marginMm: p.params.ProfileMarginMm}
	var raw []float32
	err := p.ctx.Run(func(s *compute.Session) error {
		var err error
		if p.bufs.profiles, err = s.Reallocate(p.bufs.profiles, "profiles", n*samples); err != nil {
			return err
		}
		if p.bufs.metrics, err = s.Reallocate(p.bufs.metrics, "metrics", n*metricsStride); err != nil {
			return err
		}
		if err := s.Dispatch(KernelProfile, pp, []*compute.Buffer{p.bufs.traces, p.bufs.profiles}, n); err != nil {
			return err
		}
		if err := s.Dispatch(KernelMetrics, mp, []*compute.Buffer{p.bufs.traces, p.bufs.profiles, p.bufs.metrics}, n); err != nil {
			return err
		}
		raw, err = s.ReadBack(p.bufs.metrics)
		return err
	})
	if err != nil {
		return err
	}
	for i := range metrics {
		metrics[i] = decodeMetrics(raw[i*metricsStride : (i+1)*metricsStride])
	}
	p.metrics = metrics
	return nil
}

func (p *Planner) computePhase() error {
	n := p.array.Len()
	phases := make([]PhaseCorrection, n)
	if p.sampler == nil {
		for i := range phases {
			phases[i].Active = p.array.Element(i).Active
		}
		p.phases = phases
		return nil
	}
	params := phaseParams{
		target:      p.params.Steering,
		frequencyHz: p.params.FrequencyHz,
		boneSpeed:   p.params.BoneSpeed,
		amount:      p.params.PhaseCorrectAmount,
	}
	var raw []float32
	err := p.ctx.Run(func(s *compute.Session) error {
		var err error
		if p.bufs.phases, err = s.Reallocate(p.bufs.phases, "phases", n*phaseStride); err != nil {
			return err
		}
		if err := s.Dispatch(KernelPhase, params, []*compute.Buffer{p.bufs.elements, p.bufs.traces, p.bufs.phases}, n); err != nil {
			return err
		}
		raw, err = s.ReadBack(p.bufs.phases)
		return err
	})
	if err != nil {
		return err
	}
	for i := range phases {
		// float32 storage can round just past pi.
		phases[i] = PhaseCorrection{
			Radians: clamp(float64(raw[i*phaseStride]), -math.Pi, math.Pi),
			Active:  raw[i*phaseStride+1] != 0,
		}
	}
	p.phases = phases
	return nil
}

func (p *Planner) computePressure() error {
	if p.sampler == nil {
		p.pressure = PressureGrid{}
		return nil
	}
	sources, count := buildSources(p.traces, p.metrics, p.phases, p.params.BoneSpeed)
	points := p.lattice.points(p.params.Steering)
	units := p.lattice.Points()
	params := PressureParams{FrequencyHz: p.params.FrequencyHz, WaterSpeed: WaterSpeed, Sources: count}
	var raw []float32
	err := p.ctx.Run(func(s *compute.Session) error {
		var err error
		if p.bufs.sources, err = s.Reallocate(p.bufs.sources, "sources", len(sources)); err != nil {
			return err
		}
		if err := s.Upload(p.bufs.sources, sources); err != nil {
			return err
		}
		if p.bufs.points, err = s.Reallocate(p.bufs.points, "points", len(points)); err != nil {
			return err
		}
		if err := s.Upload(p.bufs.points, points); err != nil {
			return err
		}
		if p.bufs.values, err = s.Reallocate(p.bufs.values, "pressure", units); err != nil {
			return err
		}
		bindings := []*compute.Buffer{p.bufs.sources, p.bufs.points, p.bufs.values}
		if err := s.Dispatch(KernelPressure, params, bindings, units); err != nil {
			return err
		}
		raw, err = s.ReadBack(p.bufs.values)
		return err
	})
	if err != nil {
		return err
	}
	p.pressure = newPressureGrid(p.lattice, p.params.Steering, raw)
	return nil
}

func (p *Planner) computeEnvelope() error {
	if p.pressure.Empty() {
		p.envelope = envelope.Envelope{}
		return nil
	}
	env, err := envelope.Demodulate(p.pressure.Values, p.pressure.Dims)
	if err != nil {
		return err
	}
	p.envelope = env
	return nil
}

func (p *Planner) computeSurvey() error {
	if p.sampler == nil {
		p.surveyed = SurveyLattice{}
		return nil
	}
	n := p.array.Len()
	params := surveyParams{
		tracer:    newTracer(p.sampler, p.params),
		points:    latticeVecs(p.survey, r3.Vec{}),
		elements:  n,
		cutoffDeg: p.params.TransmissionCutoffDeg,
	}
	units := len(params.points) * n
	var raw []float32
	err := p.ctx.Run(func(s *compute.Session) error {
		var err error
		if p.bufs.hits, err = s.Reallocate(p.bufs.hits, "surveyHits", units); err != nil {
			return err
		}
		if err := s.Dispatch(KernelSurvey, params, []*compute.Buffer{p.bufs.elements, p.bufs.hits}, units); err != nil {
			return err
		}
		raw, err = s.ReadBack(p.bufs.hits)
		return err
	})
	if err != nil {
		return err
	}
	p.surveyed = newSurveyLattice(p.survey, n, raw)
	return nil
}

// Traces returns every element's ray trace.
func (p *Planner) Traces() ([]RayTrace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(StageRayTrace); err != nil {
		return nil, err
	}
	return append([]RayTrace(nil), p.traces...), nil
}

// Metrics returns every element's skull measures.
func (p *Planner) Metrics() ([]ElementMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(StageMetrics); err != nil {
		return nil, err
	}
	return append([]ElementMetrics(nil), p.metrics...), nil
}

// column extracts one value per element. full keeps invalid elements as
// Sentinel; otherwise they are dropped.
func (p *Planner) column(full bool, get func(rt RayTrace, m ElementMetrics) float64) ([]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(StageMetrics); err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(p.metrics))
	for i, m := range p.metrics {
		switch {
		case m.Valid:
			out = append(out, get(p.traces[i], m))
		case full:
			out = append(out, Sentinel)
		}
	}
	return out, nil
}

func sdrOf(_ RayTrace, m ElementMetrics) float64 { return m.SDR }
func sdr2Of(_ RayTrace, m ElementMetrics) float64 { return m.SDR2 }
func incidenceOf(rt RayTrace, _ ElementMetrics) float64 { return rt.IncidentDeg }
func thicknessOf(_ RayTrace, m ElementMetrics) float64 { return m.SkullThicknessMm }
func normThicknessOf(_ RayTrace, m ElementMetrics) float64 { return m.NormSkullThicknessMm }
func transmissionOf(_ RayTrace, m ElementMetrics) float64 { return m.Transmission }
func speedOf(_ RayTrace, m ElementMetrics) float64 { return m.SpeedOfSound }

// SDRs returns the SDR of every valid element.
func (p *Planner) SDRs() ([]float64, error) { return p.column(false, sdrOf) }

// SDRsFull returns one SDR per element, Sentinel where invalid.
func (p *Planner) SDRsFull() ([]float64, error) { return p.column(true, sdrOf) }

func (p *Planner) SDR2s() ([]float64, error) { return p.column(false, sdr2Of) }
func (p *Planner) SDR2sFull() ([]float64, error) { return p.column(true, sdr2Of) }

func (p *Planner) IncidentAngles() ([]float64, error) { return p.column(false, incidenceOf) }
func (p *Planner) IncidentAnglesFull() ([]float64, error) { return p.column(true, incidenceOf) }

func (p *Planner) SkullThicknesses() ([]float64, error) { return p.column(false, thicknessOf) }
func (p *Planner) SkullThicknessesFull() ([]float64, error) { return p.column(true, thicknessOf) }

func (p *Planner) NormSkullThicknessesFull() ([]float64, error) {
	return p.column(true, normThicknessOf)
}

func (p *Planner) TransmissionCoeffs() ([]float64, error) { return p.column(false, transmissionOf) }
func (p *Planner) TransmissionCoeffsFull() ([]float64, error) { return p.column(true, transmissionOf) }

func (p *Planner) SpeedsOfSoundFull() ([]float64, error) { return p.column(true, speedOf) }

// TreatmentSDR is the mean SDR2 over valid elements. With no valid element it
// returns NaN and ErrUndefinedAggregate.
func (p *Planner) TreatmentSDR() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(StageMetrics); err != nil {
		return math.NaN(), err
	}
	return treatmentSDR(p.metrics)
}

// MeanTransmission averages transmission over valid elements; elements at or
// beyond the incidence cutoff count toward the divisor but add nothing.
func (p *Planner) MeanTransmission() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(StageMetrics); err != nil {
		return math.NaN(), err
	}
	return meanTransmission(p.traces, p.metrics, p.params.TransmissionCutoffDeg)
}

// ChannelPhases recomputes and returns every element's drive phase.
func (p *Planner) ChannelPhases() ([]PhaseCorrection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graph.invalidate(StagePhase)
	if err := p.ensure(StagePhase); err != nil {
		return nil, err
	}
	return append([]PhaseCorrection(nil), p.phases...), nil
}

// PressureField returns the interference field around the steering target.
func (p *Planner) PressureField() (PressureGrid, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(StagePressure); err != nil {
		return PressureGrid{}, err
	}
	g := p.pressure
	g.Values = append([]float32(nil), g.Values...)
	return g, nil
}

// Envelope returns the demodulated pressure field.
func (p *Planner) Envelope() (envelope.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(StageEnvelope); err != nil {
		return envelope.Envelope{}, err
	}
	e := p.envelope
	e.Values = append([]float64(nil), e.Values...)
	return e, nil
}

// CalcEnvelope surveys how many elements reach each focal offset around the
// natural focus.
func (p *Planner) CalcEnvelope() (SurveyLattice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensure(StageSurvey); err != nil {
		return SurveyLattice{}, err
	}
	s := p.surveyed
	s.Counts = append([]int(nil), s.Counts...)
	s.Bands = append([]uint8(nil), s.Bands...)
	return s, nil
}
