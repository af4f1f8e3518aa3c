// Package acoustic traces transducer beams through the skull and derives the
// per-element metrics, phase corrections and pressure field of a plan.
package acoustic

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Physical constants. Speeds are m/s, densities kg/m^3.
const (
	WaterSpeed         = 1482.0
	MinRefractionSpeed = 1482.0
	MaxRefractionSpeed = 3500.0
	CorticalSpeed      = 2900.0
	WaterDensity       = 1000.0
	// boneDensityGain is the density added to water by fully dense bone.
	boneDensityGain = 1200.0
	// porosityHU is the mean HU at which bone is treated as fully dense.
	porosityHU = 1000.0
)

// Defaults for a planning session.
const (
	DefaultBoneThreshold         = 700.0
	DefaultBoneSpeed             = 2652.0
	DefaultFrequencyHz           = 650e3
	DefaultGrazingLimitDeg       = 80.0
	DefaultMaxBonePathMm         = 30.0
	DefaultProfileSamples        = 60
	DefaultProfileMarginMm       = 3.0
	DefaultTransmissionCutoffDeg = 20.0
)

// Sentinel fills every per-element value that has no defined result.
const Sentinel = -1.0

// Params holds the raw inputs that derived stages depend on.
type Params struct {
	BoneThreshold float64 // HU
	// BoneSpeed is used for time of flight through bone.
	BoneSpeed float64
	// BoneRefractionSpeed drives Snell's law at the outer table and is
	// clamped to [MinRefractionSpeed, MaxRefractionSpeed].
	BoneRefractionSpeed float64
	FrequencyHz         float64
	PhaseCorrectAmount  float64
	Steering            r3.Vec // mm from the natural focus
	TiltXDeg, TiltYDeg  float64

	GrazingLimitDeg       float64
	MaxBonePathMm         float64
	ProfileSamples        int
	ProfileMarginMm       float64
	TransmissionCutoffDeg float64
}

// DefaultParams returns the settings used when nothing is overridden.
func DefaultParams() Params {
	return Params{
		BoneThreshold:         DefaultBoneThreshold,
		BoneSpeed:             DefaultBoneSpeed,
		BoneRefractionSpeed:   DefaultBoneSpeed,
		FrequencyHz:           DefaultFrequencyHz,
		PhaseCorrectAmount:    1,
		GrazingLimitDeg:       DefaultGrazingLimitDeg,
		MaxBonePathMm:         DefaultMaxBonePathMm,
		ProfileSamples:        DefaultProfileSamples,
		ProfileMarginMm:       DefaultProfileMarginMm,
		TransmissionCutoffDeg: DefaultTransmissionCutoffDeg,
	}
}

// ClampRefractionSpeed limits c to the range Snell's law is evaluated over.
func ClampRefractionSpeed(c float64) float64 {
	return math.Max(MinRefractionSpeed, math.Min(MaxRefractionSpeed, c))
}

// normalized pins the inputs that setters also clamp.
func (p Params) normalized() Params {
	p.PhaseCorrectAmount = clamp(p.PhaseCorrectAmount, 0, 1)
	p.BoneRefractionSpeed = ClampRefractionSpeed(p.BoneRefractionSpeed)
	return p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func deg(rad float64) float64 { return rad * 180 / math.Pi }

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// travelSeconds converts a path in mm at speed m/s into seconds.
func travelSeconds(mm, speed float64) float64 { return mm * 1e-3 / speed }
