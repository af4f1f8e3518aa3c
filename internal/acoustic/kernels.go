package acoustic

import "TFP/internal/compute"

// Kernel identifiers registered by Kernels.
const (
	KernelRayTrace compute.KernelID = "rayTrace"
	KernelProfile  compute.KernelID = "profile"
	KernelMetrics  compute.KernelID = "metrics"
	KernelPhase    compute.KernelID = "phase"
	KernelPressure compute.KernelID = "pressure"
	KernelSurvey   compute.KernelID = "survey"
)

// Kernels returns a fresh KernelSet holding every planner kernel. Build one
// per compute.Context.
func Kernels() *compute.KernelSet {
	set, err := compute.NewKernelSet(
		&compute.Kernel{ID: KernelRayTrace, Exec: rayTraceExec},
		&compute.Kernel{ID: KernelProfile, Exec: profileExec},
		&compute.Kernel{ID: KernelMetrics, Exec: metricsExec},
		&compute.Kernel{ID: KernelPhase, Exec: phaseExec},
		&compute.Kernel{ID: KernelPressure, Exec: pressureExec},
		&compute.Kernel{ID: KernelSurvey, Exec: surveyExec},
	)
	if err != nil {
		panic(err)
	}
	return set
}
