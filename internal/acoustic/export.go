package acoustic

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
)

const skullMeasuresHeader = "channel\tsdr\tsdr2\tincidentAngle\tnormSkullThickness\tskullThickness\tspeedOfSound\ttransmissionCoeff"

// WriteSkullMeasuresFile writes one tab-separated row of skull measures per
// channel. Invalid channels carry -1 in every column.
func (p *Planner) WriteSkullMeasuresFile(path string) error {
	traces, err := p.Traces()
	if err != nil {
		return logExport("skull measures", path, err)
	}
	metrics, err := p.Metrics()
	if err != nil {
		return logExport("skull measures", path, err)
	}
	return logExport("skull measures", path, writeFile(path, func(w io.Writer) error {
		return writeSkullMeasures(w, traces, metrics)
	}))
}

// WriteACTFile writes the amplitude and phase correction table driven by the
// array controller.
func (p *Planner) WriteACTFile(path string) error {
	phases, err := p.ChannelPhases()
	if err != nil {
		return logExport("ACT", path, err)
	}
	return logExport("ACT", path, writeFile(path, func(w io.Writer) error {
		return writeACT(w, phases)
	}))
}

// WriteACTFileForWorkstation writes the phase table in the workstation's
// sectioned key-value format.
func (p *Planner) WriteACTFileForWorkstation(path string) error {
	phases, err := p.ChannelPhases()
	if err != nil {
		return logExport("workstation ACT", path, err)
	}
	params := p.Params()
	return logExport("workstation ACT", path, writeFile(path, func(w io.Writer) error {
		return writeWorkstationACT(w, phases, params.FrequencyHz)
	}))
}

func logExport(what, path string, err error) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf("write %s %s: %w", what, path, err)
	log.Printf("%v", err)
	return err
}

func writeFile(path string, fill func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		return err
	}
	return w.Flush()
}

func writeSkullMeasures(w io.Writer, traces []RayTrace, metrics []ElementMetrics) error {
	if _, err := fmt.Fprintln(w, skullMeasuresHeader); err != nil {
		return err
	}
	for i, m := range metrics {
		incidence := Sentinel
		if m.Valid {
			incidence = traces[i].IncidentDeg
		}
		_, err := fmt.Fprintf(w, "%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.1f\t%.6f\n",
			i, m.SDR, m.SDR2, incidence, m.NormSkullThicknessMm, m.SkullThicknessMm, m.SpeedOfSound, m.Transmission)
		if err != nil {
			return err
		}
	}
	return nil
}

func activeFlag(pc PhaseCorrection) int {
	if pc.Active {
		return 1
	}
	return 0
}

func writeACT(w io.Writer, phases []PhaseCorrection) error {
	if _, err := fmt.Fprintf(w, "[AMPLITUDE_AND_PHASE_CORRECTIONS]\nNumberOfChannels = %d\n", len(phases)); err != nil {
		return err
	}
	for i, pc := range phases {
		if _, err := fmt.Fprintf(w, "CH%d = %d\t%1.4f\n", i, activeFlag(pc), pc.Radians); err != nil {
			return err
		}
	}
	return nil
}

func writeWorkstationACT(w io.Writer, phases []PhaseCorrection, frequencyHz float64) error {
	active := 0
	for _, pc := range phases {
		active += activeFlag(pc)
	}
	_, err := fmt.Fprintf(w, "[Table Header]\nFileType = ACT\nNumberOfElements = %d\nActiveElements = %d\nFrequencyHz = %.0f\nPhaseUnits = radians\n\n[Elements]\n",
		len(phases), active, frequencyHz)
	if err != nil {
		return err
	}
	for i, pc := range phases {
		if _, err := fmt.Fprintf(w, "Element%d = %d\t%.6f\n", i, activeFlag(pc), pc.Radians); err != nil {
			return err
		}
	}
	return nil
}
