package main

import (
	"flag"

	"TFP/internal/config"
)

// Command-line flags. Plan settings given here override the YAML plan file.
var (
	// configFlag names a YAML treatment plan.
	configFlag = flag.String("config", "", "YAML treatment plan (defaults are used when empty)")

	// transducerFlag loads an element definition file instead of the generated hemisphere.
	transducerFlag = flag.String("transducer", "", "element definition file (index x y z nx ny nz area [active])")

	// slicesFlag is a glob of CT slice images stacked along z.
	slicesFlag = flag.String("slices", "", "glob of CT slice images (png, tiff, tga)")

	phantomFlag = flag.String("phantom", "", "skull phantom when no slices are given: shell or slab")

	outputDirFlag = flag.String("out", "", "directory for exported files")

	frequencyFlag = flag.Float64("freq", 0, "drive frequency in Hz")

	thresholdFlag = flag.Float64("threshold", 0, "bone threshold in HU")

	// amountFlag blends the correction phases; negative keeps the plan value.
	amountFlag = flag.Float64("amount", -1, "phase correction amount (0-1)")

	workersFlag = flag.Int("workers", 0, "CPU kernel workers (0 = NumCPU)")

	// openCLFlag moves the pressure kernel to the first OpenCL device.
	openCLFlag = flag.Bool("opencl", false, "run the pressure kernel on OpenCL (needs -tags opencl)")

	// surveyFlag runs the focal reachability survey after the plan.
	surveyFlag = flag.Bool("survey", false, "survey focal reachability over the survey lattice")

	// watchFlag keeps running and replans whenever the plan file changes.
	watchFlag = flag.Bool("watch", false, "replan whenever the -config file changes")

	// previewFlag opens a window showing the envelope around the focus.
	previewFlag = flag.Bool("preview", false, "open an interactive envelope preview")

	// debugFlag enables the preview text overlay.
	debugFlag = flag.Bool("debug", false, "show FPS and plan metrics in the preview")

	cpuProfileFlag = flag.String("cpuprofile", "", "write a CPU profile of the first plan to this file")
)

// planFlags collects the plan overrides given on the command line.
func planFlags() config.Flags {
	return config.Flags{
		Transducer:         *transducerFlag,
		Slices:             *slicesFlag,
		Phantom:            *phantomFlag,
		OutputDir:          *outputDirFlag,
		Workers:            *workersFlag,
		FrequencyHz:        *frequencyFlag,
		BoneThresholdHU:    *thresholdFlag,
		PhaseCorrectAmount: *amountFlag,
	}
}
