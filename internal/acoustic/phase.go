package acoustic

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"TFP/internal/compute"
)

// Phase buffer layout: phase (rad), active.
const phaseStride = 2

// PhaseCorrection is the drive setting for one channel. Inactive channels
// report phase 0.
type PhaseCorrection struct {
	Radians float64
	Active  bool
}

// wrapPhase reduces p into (-pi, pi].
func wrapPhase(p float64) float64 {
	w := math.Mod(p, 2*math.Pi)
	if w <= -math.Pi {
		w += 2 * math.Pi
	} else if w > math.Pi {
		w -= 2 * math.Pi
	}
	return w
}

// timeOfFlight is the travel time in seconds from pos to target along rt, or
// along the straight water path when rt is invalid.
func timeOfFlight(pos, target r3.Vec, rt RayTrace, boneSpeed float64) float64 {
	if !rt.Valid {
		return travelSeconds(r3.Norm(r3.Sub(target, pos)), WaterSpeed)
	}
	return travelSeconds(rt.WaterPathMm, WaterSpeed) +
		travelSeconds(rt.BonePathMm, boneSpeed) +
		travelSeconds(r3.Norm(r3.Sub(target, rt.InnerStrike)), WaterSpeed)
}

type phaseParams struct {
	target      r3.Vec
	frequencyHz float64
	boneSpeed   float64
	amount      float64
}

// phaseExec converts time of flight into a blended drive phase per element.
// Bindings: elements (in), traces (in), phases (out).
func phaseExec(span compute.Span, params any, bindings []*compute.Buffer) {
	p := params.(phaseParams)
	elems, traces, out := bindings[0].Data(), bindings[1].Data(), bindings[2].Data()
	for i := span.Start; i < span.End; i++ {
		e := elems[i*elementStride : (i+1)*elementStride]
		rec := out[i*phaseStride : (i+1)*phaseStride]
		if e[7] == 0 {
			rec[0], rec[1] = 0, 0
			continue
		}
		rt := decodeTrace(traces[i*traceStride : (i+1)*traceStride])
		tof := timeOfFlight(getVec(e), p.target, rt, p.boneSpeed)
		rec[0] = float32(p.amount * wrapPhase(2*math.Pi*p.frequencyHz*tof))
		rec[1] = 1
	}
}
