package main

// Preview and export constants. The preview window draws one envelope slice
// stretched to previewW x previewH.
const (
	previewW, previewH = 512, 512
	windowScale        = 1
	defaultTPS         = 60.0
	steerStepMm        = 0.5
	steerLimitMm       = 40.0
	amountStep         = 0.1
	frequencyStepHz    = 10e3
	minFrequencyHz     = 100e3
	maxFrequencyHz     = 2e6
	skullMeasuresName  = "skull_measures.txt"
	actName            = "phases.act"
	workstationACTName = "phases_workstation.ini"
)
