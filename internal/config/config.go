package config

import (
	"fmt"
	"math"
	"os"
	"runtime"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"TFP/internal/acoustic"
)

// Config is a treatment plan file. Fields missing from the file keep the
// values from Default.
type Config struct {
	Transducer TransducerConfig `yaml:"transducer"`
	Skull      SkullConfig      `yaml:"skull"`
	Acoustic   AcousticConfig   `yaml:"acoustic"`
	Lattice    LatticeConfig    `yaml:"lattice"`
	Survey     LatticeConfig    `yaml:"survey"`
	Output     OutputConfig     `yaml:"output"`
	Workers    int              `yaml:"workers"`
}

// TransducerConfig selects the element layout: a definition file, or a
// generated hemispherical cap when File is empty.
type TransducerConfig struct {
	File           string  `yaml:"file"`
	Elements       int     `yaml:"elements"`
	RadiusMm       float64 `yaml:"radius_mm"`
	ApertureDeg    float64 `yaml:"aperture_deg"`
	ElementAreaMm2 float64 `yaml:"element_area_mm2"`
	Disabled       []int   `yaml:"disabled"`
}

// SkullConfig selects the density source: a CT slice stack when Slices is
// set, otherwise the named phantom.
type SkullConfig struct {
	Slices    string     `yaml:"slices"`
	SpacingMm [3]float64 `yaml:"spacing_mm"`
	OriginMm  [3]float64 `yaml:"origin_mm"`
	Slope     float64    `yaml:"slope"`
	Intercept float64    `yaml:"intercept"`

	Phantom        string  `yaml:"phantom"`
	RadiusMm       float64 `yaml:"radius_mm"`
	ThicknessMm    float64 `yaml:"thickness_mm"`
	DensityHU      float64 `yaml:"density_hu"`
	MarrowHU       float64 `yaml:"marrow_hu"`
	MarrowFraction float64 `yaml:"marrow_fraction"`
	RampMm         float64 `yaml:"ramp_mm"`
}

type AcousticConfig struct {
	FrequencyHz           float64    `yaml:"frequency_hz"`
	BoneThresholdHU       float64    `yaml:"bone_threshold_hu"`
	BoneSpeed             float64    `yaml:"bone_speed"`
	BoneRefractionSpeed   float64    `yaml:"bone_refraction_speed"`
	PhaseCorrectAmount    float64    `yaml:"phase_correct_amount"`
	SteeringMm            [3]float64 `yaml:"steering_mm"`
	TiltDeg               [2]float64 `yaml:"tilt_deg"`
	GrazingLimitDeg       float64    `yaml:"grazing_limit_deg"`
	MaxBonePathMm         float64    `yaml:"max_bone_path_mm"`
	ProfileSamples        int        `yaml:"profile_samples"`
	ProfileMarginMm       float64    `yaml:"profile_margin_mm"`
	TransmissionCutoffDeg float64    `yaml:"transmission_cutoff_deg"`
}

type LatticeConfig struct {
	Dims      [3]int  `yaml:"dims"`
	SpacingMm float64 `yaml:"spacing_mm"`
}

type OutputConfig struct {
	Dir        string `yaml:"dir"`
	Image      string `yaml:"image"`
	ImageScale int    `yaml:"image_scale"`
}

// Default is a 1024 element hemisphere over a shell phantom.
func Default() Config {
	p := acoustic.DefaultParams()
	pressure, survey := acoustic.DefaultLattice(), acoustic.DefaultSurveyLattice()
	return Config{
		Transducer: TransducerConfig{Elements: 1024, RadiusMm: 150, ApertureDeg: 120, ElementAreaMm2: 20},
		Skull: SkullConfig{
			SpacingMm:      [3]float64{0.5, 0.5, 0.5},
			Slope:          1,
			Intercept:      -1024,
			Phantom:        "shell",
			RadiusMm:       70,
			ThicknessMm:    7,
			DensityHU:      1800,
			MarrowHU:       900,
			MarrowFraction: 0.4,
			RampMm:         0.5,
		},
		Acoustic: AcousticConfig{
			FrequencyHz:           p.FrequencyHz,
			BoneThresholdHU:       p.BoneThreshold,
			BoneSpeed:             p.BoneSpeed,
			BoneRefractionSpeed:   p.BoneRefractionSpeed,
			PhaseCorrectAmount:    p.PhaseCorrectAmount,
			GrazingLimitDeg:       p.GrazingLimitDeg,
			MaxBonePathMm:         p.MaxBonePathMm,
			ProfileSamples:        p.ProfileSamples,
			ProfileMarginMm:       p.ProfileMarginMm,
			TransmissionCutoffDeg: p.TransmissionCutoffDeg,
		},
		Lattice: LatticeConfig{Dims: pressure.Dims, SpacingMm: pressure.SpacingMm},
		Survey:  LatticeConfig{Dims: survey.Dims, SpacingMm: survey.SpacingMm},
		Output:  OutputConfig{Dir: ".", Image: "envelope.webp", ImageScale: 8},
	}
}

// Load reads a YAML plan file over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Flags holds CLI values that override the file. Zero values and negative
// amounts leave the file's setting alone.
type Flags struct {
	Transducer         string
	Slices             string
	Phantom            string
	OutputDir          string
	Workers            int
	FrequencyHz        float64
	BoneThresholdHU    float64
	PhaseCorrectAmount float64
}

// Resolve applies flags and fills anything still unset.
func (c *Config) Resolve(flags Flags) {
	if flags.Transducer != "" {
		c.Transducer.File = flags.Transducer
	}
	if flags.Slices != "" {
		c.Skull.Slices = flags.Slices
	}
	if flags.Phantom != "" {
		c.Skull.Phantom = flags.Phantom
	}
	if flags.OutputDir != "" {
		c.Output.Dir = flags.OutputDir
	}
	if flags.Workers > 0 {
		c.Workers = flags.Workers
	}
	if flags.FrequencyHz > 0 {
		c.Acoustic.FrequencyHz = flags.FrequencyHz
	}
	if flags.BoneThresholdHU > 0 {
		c.Acoustic.BoneThresholdHU = flags.BoneThresholdHU
	}
	if flags.PhaseCorrectAmount >= 0 {
		c.Acoustic.PhaseCorrectAmount = flags.PhaseCorrectAmount
	}

	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "."
	}
	if c.Output.ImageScale <= 0 {
		c.Output.ImageScale = 1
	}
}

// Params converts the acoustic section.
func (c Config) Params() acoustic.Params {
	a := c.Acoustic
	return acoustic.Params{
		BoneThreshold:         a.BoneThresholdHU,
		BoneSpeed:             a.BoneSpeed,
		BoneRefractionSpeed:   acoustic.ClampRefractionSpeed(a.BoneRefractionSpeed),
		FrequencyHz:           a.FrequencyHz,
		PhaseCorrectAmount:    math.Max(0, math.Min(1, a.PhaseCorrectAmount)),
		Steering:              r3.Vec{X: a.SteeringMm[0], Y: a.SteeringMm[1], Z: a.SteeringMm[2]},
		TiltXDeg:              a.TiltDeg[0],
		TiltYDeg:              a.TiltDeg[1],
		GrazingLimitDeg:       a.GrazingLimitDeg,
		MaxBonePathMm:         a.MaxBonePathMm,
		ProfileSamples:        a.ProfileSamples,
		ProfileMarginMm:       a.ProfileMarginMm,
		TransmissionCutoffDeg: a.TransmissionCutoffDeg,
	}
}

func (l LatticeConfig) lattice() acoustic.Lattice {
	return acoustic.Lattice{Dims: l.Dims, SpacingMm: l.SpacingMm}
}

// Apply pushes every planner-facing setting into p. Elements listed as
// disabled are switched off; the rest keep the state the array gave them.
func (c Config) Apply(p *acoustic.Planner) error {
	if err := p.SetLattice(c.Lattice.lattice()); err != nil {
		return fmt.Errorf("config: lattice: %w", err)
	}
	if err := p.SetSurveyLattice(c.Survey.lattice()); err != nil {
		return fmt.Errorf("config: survey: %w", err)
	}
	for _, i := range c.Transducer.Disabled {
		if i < 0 || i >= p.Elements() {
			return fmt.Errorf("config: disabled element %d out of range [0,%d)", i, p.Elements())
		}
	}
	for _, i := range c.Transducer.Disabled {
		if err := p.SetElementActive(i, false); err != nil {
			return err
		}
	}
	p.SetParams(c.Params())
	return nil
}
