package acoustic

import "fmt"

// Stage is a derived result the planner caches.
type Stage int

const (
	StageRayTrace Stage = iota
	StageMetrics
	StagePhase
	StagePressure
	StageEnvelope
	StageSurvey
	stageCount
)

var stageNames = [stageCount]string{
	StageRayTrace: "rayTrace",
	StageMetrics:  "metrics",
	StagePhase:    "phase",
	StagePressure: "pressure",
	StageEnvelope: "envelope",
	StageSurvey:   "survey",
}

func (s Stage) String() string {
	if s < 0 || s >= stageCount {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// State is a stage's cache state.
type State int

const (
	Dirty State = iota
	Clean
)

func (s State) String() string {
	if s == Clean {
		return "clean"
	}
	return "dirty"
}

// stageParents lists the direct inputs of every stage.
var stageParents = [stageCount][]Stage{
	StageMetrics:  {StageRayTrace},
	StagePhase:    {StageRayTrace},
	StagePressure: {StageMetrics, StagePhase},
	StageEnvelope: {StagePressure},
	StageSurvey:   {StageRayTrace},
}

// graph tracks which stages are stale. Every stage starts dirty.
type graph struct {
	state    [stageCount]State
	children [stageCount][]Stage
}

func newGraph() *graph {
	g := &graph{}
	for s, parents := range stageParents {
		for _, p := range parents {
			g.children[p] = append(g.children[p], Stage(s))
		}
	}
	return g
}

func (g *graph) State(s Stage) State { return g.state[s] }

// invalidate marks s and everything downstream dirty.
func (g *graph) invalidate(s Stage) {
	g.state[s] = Dirty
	for _, c := range g.children[s] {
		g.invalidate(c)
	}
}

func (g *graph) invalidateAll() {
	for s := range g.state {
		g.state[s] = Dirty
	}
}

// ensure brings s up to date, computing dirty parents first. A failed
// computation leaves its stage dirty.
func (g *graph) ensure(s Stage, compute func(Stage) error) error {
	if g.state[s] == Clean {
		return nil
	}
	for _, p := range stageParents[s] {
		if err := g.ensure(p, compute); err != nil {
			return err
		}
	}
	if err := compute(s); err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}
	g.state[s] = Clean
	return nil
}
