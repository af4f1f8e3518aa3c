package main

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"TFP/internal/acoustic"
	"TFP/internal/config"
	"TFP/internal/envelope"
	"TFP/internal/transducer"
)

// runPlan computes the plan, logs the summary figures and writes every export
// into the output directory. Export failures are logged, not returned.
func runPlan(p *acoustic.Planner, cfg config.Config) error {
	start := time.Now()
	sdr, err := p.TreatmentSDR()
	if err != nil && !errors.Is(err, acoustic.ErrUndefinedAggregate) {
		return err
	}
	mean, err := p.MeanTransmission()
	if err != nil && !errors.Is(err, acoustic.ErrUndefinedAggregate) {
		return err
	}
	log.Printf("Treatment SDR %s, mean transmission %s (%.1f ms)",
		formatAggregate(sdr), formatAggregate(mean), time.Since(start).Seconds()*1000)

	writeExports(p, cfg)
	if *surveyFlag {
		return logSurvey(p)
	}
	return nil
}

// writeExports writes the skull measures, both phase tables and the envelope
// image. A failed file is logged and the rest are still attempted.
func writeExports(p *acoustic.Planner, cfg config.Config) {
	dir := cfg.Output.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("Create output dir %s: %v", dir, err)
		return
	}
	// The planner logs its own write failures.
	_ = p.WriteSkullMeasuresFile(filepath.Join(dir, skullMeasuresName))
	_ = p.WriteACTFile(filepath.Join(dir, actName))
	_ = p.WriteACTFileForWorkstation(filepath.Join(dir, workstationACTName))

	if cfg.Output.Image != "" {
		if err := writeEnvelopeImage(p, filepath.Join(dir, cfg.Output.Image), cfg.Output.ImageScale); err != nil {
			log.Printf("Envelope image: %v", err)
		}
	}
}

// replan pushes a reloaded config into the planner. Skull settings rebuild the
// sampler; a different element layout needs a restart. Elements dropped from
// the disabled list go back to their state in baseline.
func replan(p *acoustic.Planner, baseline []bool, prev, next config.Config) error {
	if !sameLayout(prev.Transducer, next.Transducer) {
		log.Printf("Transducer layout changed; restart to apply it")
	}
	if prev.Skull != next.Skull {
		sampler, err := buildSampler(next.Skull)
		if err != nil {
			return err
		}
		p.SetSampler(sampler)
	}
	if err := restoreEnabled(p, baseline, prev.Transducer.Disabled, next.Transducer.Disabled); err != nil {
		return err
	}
	if err := next.Apply(p); err != nil {
		return err
	}
	return runPlan(p, next)
}

func restoreEnabled(p *acoustic.Planner, baseline []bool, prev, next []int) error {
	still := make(map[int]bool, len(next))
	for _, i := range next {
		still[i] = true
	}
	for _, i := range prev {
		if still[i] || i < 0 || i >= len(baseline) {
			continue
		}
		if err := p.SetElementActive(i, baseline[i]); err != nil {
			return err
		}
	}
	return nil
}

// activeFlags snapshots each element's active state.
func activeFlags(elems []transducer.Element) []bool {
	out := make([]bool, len(elems))
	for i, e := range elems {
		out[i] = e.Active
	}
	return out
}

func sameLayout(a, b config.TransducerConfig) bool {
	return a.File == b.File && a.Elements == b.Elements && a.RadiusMm == b.RadiusMm &&
		a.ApertureDeg == b.ApertureDeg && a.ElementAreaMm2 == b.ElementAreaMm2
}

func formatAggregate(v float64) string {
	if math.IsNaN(v) {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", v)
}

// writeEnvelopeImage renders the middle slice of the envelope, enlarged by
// scale.
func writeEnvelopeImage(p *acoustic.Planner, path string, scale int) error {
	env, err := p.Envelope()
	if err != nil {
		return err
	}
	if env.Empty() {
		log.Printf("No envelope to render")
		return nil
	}
	img, err := envelope.Image(env, env.Dims[2]/2)
	if err != nil {
		return err
	}
	b := img.Bounds()
	if err := envelope.WriteFile(path, envelope.Scale(img, b.Dx()*scale, b.Dy()*scale)); err != nil {
		return err
	}
	log.Printf("Envelope written to %s", path)
	return nil
}

func logSurvey(p *acoustic.Planner) error {
	start := time.Now()
	lat, err := p.CalcEnvelope()
	if err != nil {
		return err
	}
	var bands [3]int
	for _, b := range lat.Bands {
		bands[b]++
	}
	log.Printf("Survey of %d points (%.1f ms): %d reachable, %d marginal, %d blocked",
		len(lat.Bands), time.Since(start).Seconds()*1000, bands[2], bands[1], bands[0])
	return nil
}
