package main

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"gonum.org/v1/gonum/spatial/r3"

	"TFP/internal/acoustic"
	"TFP/internal/envelope"
)

// Preview shows the envelope slice through the focus and lets the operator
// steer it. WASD moves the focus in x/y, Q/E in z, +/- changes the
// correction amount and [ ] the frequency.
type Preview struct {
	planner *acoustic.Planner

	frame    *ebiten.Image
	shown    acoustic.Params
	stale    bool
	peak     float32
	sdr      float64
	lastPlan time.Duration
}

func newPreview(p *acoustic.Planner) *Preview {
	return &Preview{planner: p, stale: true}
}

// runPreview blocks until the window is closed.
func runPreview(p *acoustic.Planner) error {
	ebiten.SetWindowSize(previewW*windowScale, previewH*windowScale)
	ebiten.SetWindowTitle("Focused ultrasound envelope")
	ebiten.SetTPS(int(defaultTPS))
	if err := ebiten.RunGame(newPreview(p)); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	return nil
}

// Update applies keyboard input and recomputes the frame when the plan moved.
func (g *Preview) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	params := g.planner.Params()

	if d := g.steerVector(); d != (r3.Vec{}) {
		next := r3.Add(params.Steering, d)
		next.X = clampSteer(next.X)
		next.Y = clampSteer(next.Y)
		next.Z = clampSteer(next.Z)
		g.planner.SetSteering(next)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEqual) || inpututil.IsKeyJustPressed(ebiten.KeyKPAdd) {
		g.planner.SetPhaseCorrectAmount(math.Min(1, params.PhaseCorrectAmount+amountStep))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyMinus) || inpututil.IsKeyJustPressed(ebiten.KeyKPSubtract) {
		g.planner.SetPhaseCorrectAmount(math.Max(0, params.PhaseCorrectAmount-amountStep))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBracketRight) {
		g.planner.SetFrequency(math.Min(maxFrequencyHz, params.FrequencyHz+frequencyStepHz))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBracketLeft) {
		g.planner.SetFrequency(math.Max(minFrequencyHz, params.FrequencyHz-frequencyStepHz))
	}

	// The config watcher may also change the plan.
	if g.planner.State(acoustic.StageEnvelope) == acoustic.Dirty {
		g.stale = true
	}
	if !g.stale {
		return nil
	}
	return g.refresh()
}

func (g *Preview) refresh() error {
	start := time.Now()
	g.shown = g.planner.Params()
	env, err := g.planner.Envelope()
	if err != nil {
		return err
	}
	field, err := g.planner.PressureField()
	if err != nil {
		return err
	}
	g.sdr, err = g.planner.TreatmentSDR()
	if err != nil && !errors.Is(err, acoustic.ErrUndefinedAggregate) {
		return err
	}
	g.peak = field.Max
	g.lastPlan = time.Since(start)
	g.stale = false

	if env.Empty() {
		g.frame = nil
		return nil
	}
	img, err := envelope.Image(env, env.Dims[2]/2)
	if err != nil {
		return err
	}
	if g.frame != nil {
		g.frame.Deallocate()
	}
	g.frame = ebiten.NewImageFromImage(img)
	return nil
}

// steerVector returns the WASD/QE focus displacement for this tick.
func (g *Preview) steerVector() r3.Vec {
	var d r3.Vec
	if ebiten.IsKeyPressed(ebiten.KeyW) || ebiten.IsKeyPressed(ebiten.KeyArrowUp) {
		d.Y += steerStepMm
	}
	if ebiten.IsKeyPressed(ebiten.KeyS) || ebiten.IsKeyPressed(ebiten.KeyArrowDown) {
		d.Y -= steerStepMm
	}
	if ebiten.IsKeyPressed(ebiten.KeyA) || ebiten.IsKeyPressed(ebiten.KeyArrowLeft) {
		d.X -= steerStepMm
	}
	if ebiten.IsKeyPressed(ebiten.KeyD) || ebiten.IsKeyPressed(ebiten.KeyArrowRight) {
		d.X += steerStepMm
	}
	if ebiten.IsKeyPressed(ebiten.KeyQ) {
		d.Z -= steerStepMm
	}
	if ebiten.IsKeyPressed(ebiten.KeyE) {
		d.Z += steerStepMm
	}
	return d
}

func clampSteer(v float64) float64 {
	return math.Max(-steerLimitMm, math.Min(steerLimitMm, v))
}

// Draw stretches the envelope slice over the window and adds the overlay.
func (g *Preview) Draw(screen *ebiten.Image) {
	if g.frame != nil {
		b := g.frame.Bounds()
		op := &ebiten.DrawImageOptions{}
		op.GeoM.Scale(float64(previewW)/float64(b.Dx()), float64(previewH)/float64(b.Dy()))
		op.Filter = ebiten.FilterLinear
		screen.DrawImage(g.frame, op)
	}

	s := g.shown
	msg := fmt.Sprintf("Focus: (%.1f, %.1f, %.1f) mm\nAmount: %.1f  Freq: %.0f kHz\nPeak: %.3g  SDR: %s",
		s.Steering.X, s.Steering.Y, s.Steering.Z, s.PhaseCorrectAmount, s.FrequencyHz/1e3,
		g.peak, formatAggregate(g.sdr))
	if *debugFlag {
		msg += fmt.Sprintf("\nFPS: %.1f  TPS: %.1f\nPlan: %.2f ms",
			ebiten.ActualFPS(), ebiten.ActualTPS(), g.lastPlan.Seconds()*1000)
	}
	ebitenutil.DebugPrint(screen, msg)
}

// Layout reports the logical screen size used by Ebiten.
func (g *Preview) Layout(_, _ int) (int, int) { return previewW, previewH }
