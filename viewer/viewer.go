// Package viewer draws the published particle buffer with raylib and lets the
// user tune solver parameters while the simulation runs.
package viewer

import (
	"context"
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/pbf/camera"
	"github.com/pthm-cable/pbf/config"
	"github.com/pthm-cable/pbf/sim"
	"github.com/pthm-cable/pbf/solver"
	"github.com/pthm-cable/pbf/ui"
)

const controlsLegend = "[Space] Pause  [N] Step  [R] Reset camera  [P] Parameters  [T] Timings  RMB drag: orbit  Wheel: zoom"

// Viewer owns the window loop.
type Viewer struct {
	cfg *config.Config
	sim *sim.Sim

	cam       *camera.Camera
	hud       *ui.HUD
	perfPanel *ui.PerfPanel
	params    *ui.ParamsPanel
	defaults  solver.Params

	stepOnce bool
	showPerf bool

	// Scratch copies of the published buffers
	positions []mgl32.Vec3
	densities []float32
}

// New creates a viewer for s.
func New(cfg *config.Config, s *sim.Sim) *Viewer {
	params := s.Solver().Params()
	width := int32(cfg.Screen.Width)
	return &Viewer{
		cfg:       cfg,
		sim:       s,
		cam:       camera.ForDomain(params.Center, params.Extents),
		hud:       ui.NewHUD(),
		perfPanel: ui.NewPerfPanel(width-290, 300, 280),
		params:    ui.NewParamsPanel(width-290, 10, 280),
		defaults:  params,
		showPerf:  true,
	}
}

// Run opens the window and steps the simulation once per rendered frame until
// the window is closed or ctx is done.
func (v *Viewer) Run(ctx context.Context) error {
	rl.SetConfigFlags(rl.FlagWindowResizable | rl.FlagMsaa4xHint)
	rl.InitWindow(int32(v.cfg.Screen.Width), int32(v.cfg.Screen.Height), "PBF Fluid")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(v.cfg.Screen.TargetFPS))

	for !rl.WindowShouldClose() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		v.handleInput()

		if v.stepOnce {
			v.sim.SetPaused(false)
		}
		if err := v.sim.Step(rl.GetFrameTime()); err != nil {
			slog.Warn("frame aborted", "frame", v.sim.Frame(), "error", err)
		}
		if v.stepOnce {
			v.sim.SetPaused(true)
			v.stepOnce = false
		}
		v.sim.Perf().RecordFrame()

		v.draw()
	}
	return nil
}

// handleInput processes keyboard and mouse input.
func (v *Viewer) handleInput() {
	if rl.IsKeyPressed(rl.KeySpace) {
		v.sim.SetPaused(!v.sim.Paused())
	}
	if rl.IsKeyPressed(rl.KeyN) && v.sim.Paused() {
		v.stepOnce = true
	}
	if rl.IsKeyPressed(rl.KeyR) {
		v.cam.Reset()
	}
	if rl.IsKeyPressed(rl.KeyP) {
		v.params.Toggle()
	}
	if rl.IsKeyPressed(rl.KeyT) {
		v.showPerf = !v.showPerf
	}

	if rl.IsWindowResized() {
		w := int32(rl.GetScreenWidth())
		v.perfPanel.SetPosition(w-290, 300)
		v.params.SetPosition(w-290, 10)
	}

	// Camera controls
	if rl.IsMouseButtonDown(rl.MouseButtonRight) {
		d := rl.GetMouseDelta()
		v.cam.Rotate(d.X, d.Y)
	}
	if wheel := rl.GetMouseWheelMove(); wheel != 0 {
		v.cam.ZoomBy(1 + wheel*0.1)
	}
}

func (v *Viewer) draw() {
	fluid := v.sim.Solver()
	params := fluid.Params()

	v.positions = fluid.GetParticleBuffer().Positions(v.positions[:0])
	density := fluid.GetDensityBuffer()
	if cap(v.densities) < density.Len() {
		v.densities = make([]float32, density.Len())
	}
	v.densities = v.densities[:density.Len()]
	density.CopyTo(v.densities)

	rl.BeginDrawing()
	rl.ClearBackground(rl.Color{R: 12, G: 14, B: 18, A: 255})

	rl.BeginMode3D(v.rlCamera())
	rl.DrawCubeWires(toRL(params.Center), params.Extents[0]*2, params.Extents[1]*2, params.Extents[2]*2, rl.Gray)

	radius := params.CellSize * 0.12
	var meanDensity, maxDensity float32
	for i, p := range v.positions {
		d := v.densities[i]
		meanDensity += d
		maxDensity = max(maxDensity, d)
		rl.DrawSphereEx(toRL(p), radius, 4, 6, ui.DensityColor(d, params.TargetDensity))
	}
	if n := len(v.positions); n > 0 {
		meanDensity /= float32(n)
	}
	rl.EndMode3D()

	occupied, maxRun := fluid.Occupancy()
	v.hud.Draw(ui.HUDData{
		Title:         "PBF Fluid",
		Particles:     len(v.positions),
		Frame:         fluid.Frame(),
		SimTime:       fluid.SimTime(),
		FPS:           rl.GetFPS(),
		Paused:        v.sim.Paused(),
		AbortedFrames: fluid.AbortedFrames(),
		DensityMean:   meanDensity,
		DensityMax:    maxDensity,
		MaxSpeed:      fluid.MaxSpeed(),
		OccupiedCells: occupied,
		MaxCellRun:    maxRun,
		TableSize:     fluid.TableSize(),
	})
	v.hud.DrawControls(int32(rl.GetScreenHeight()), controlsLegend)

	edited, changed, reset := v.params.Draw(params)
	if reset {
		edited, changed = v.defaults, true
	}
	if changed {
		if err := fluid.SetParams(edited); err != nil {
			slog.Warn("rejected parameters", "error", err)
		}
	}

	if v.showPerf {
		v.perfPanel.Draw(v.sim.Perf().Stats())
	}

	rl.EndDrawing()
}

func (v *Viewer) rlCamera() rl.Camera3D {
	return rl.Camera3D{
		Position:   toRL(v.cam.Position()),
		Target:     toRL(v.cam.Target),
		Up:         rl.Vector3{X: 0, Y: 1, Z: 0},
		Fovy:       45,
		Projection: rl.CameraPerspective,
	}
}

func toRL(p mgl32.Vec3) rl.Vector3 {
	return rl.Vector3{X: p[0], Y: p[1], Z: p[2]}
}
