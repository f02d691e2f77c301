package ui

import (
	"fmt"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/pbf/telemetry"
)

// HUDData holds all the data needed to render the main HUD.
type HUDData struct {
	Title         string
	Particles     int
	Frame         uint64
	SimTime       float64
	FPS           int32
	Paused        bool
	AbortedFrames uint64
	DensityMean   float32
	DensityMax    float32
	MaxSpeed      float32
	OccupiedCells int
	MaxCellRun    int
	TableSize     uint32
}

// HUD renders the main heads-up display.
type HUD struct {
	renderer *Renderer
}

// NewHUD creates a new HUD renderer.
func NewHUD() *HUD {
	return &HUD{renderer: NewRenderer()}
}

// Draw renders the HUD.
func (h *HUD) Draw(data HUDData) {
	rl.DrawText(data.Title, 10, 10, 20, rl.White)

	rl.DrawText(
		fmt.Sprintf("Particles: %d | Frame: %d | Time: %.2fs | FPS: %d", data.Particles, data.Frame, data.SimTime, data.FPS),
		10, 35, 16, rl.LightGray,
	)
	rl.DrawText(
		fmt.Sprintf("Density: mean %.3f max %.3f | Max speed: %.2f", data.DensityMean, data.DensityMax, data.MaxSpeed),
		10, 55, 16, rl.LightGray,
	)
	rl.DrawText(
		fmt.Sprintf("Cells: %d/%d occupied | Longest run: %d", data.OccupiedCells, data.TableSize, data.MaxCellRun),
		10, 75, 16, rl.LightGray,
	)

	statusText := "Running"
	statusColor := rl.Yellow
	if data.Paused {
		statusText = "PAUSED"
	}
	if data.AbortedFrames > 0 {
		statusText += fmt.Sprintf(" | %d frames aborted", data.AbortedFrames)
		statusColor = rl.Orange
	}
	rl.DrawText(statusText, 10, 95, 16, statusColor)
}

// DrawControls renders the control legend at the bottom of the screen.
func (h *HUD) DrawControls(screenHeight int32, controls string) {
	rl.DrawText(controls, 10, screenHeight-25, 14, rl.Gray)
}

// PerfPanel renders the per-phase frame timings.
type PerfPanel struct {
	renderer *Renderer
	x, y     int32
	width    int32
}

// NewPerfPanel creates a new performance panel.
func NewPerfPanel(x, y, width int32) *PerfPanel {
	return &PerfPanel{renderer: NewRenderer(), x: x, y: y, width: width}
}

// SetPosition updates the panel position.
func (p *PerfPanel) SetPosition(x, y int32) {
	p.x = x
	p.y = y
}

// Draw renders the performance panel in pipeline order.
func (p *PerfPanel) Draw(stats telemetry.PerfStats) {
	r := p.renderer
	padding := r.Theme.Padding
	height := int32(len(telemetry.Phases)+telemetry.SortPasses+2)*(r.Theme.LineHeight+2) + padding*2
	r.DrawPanel(p.x, p.y, p.width, height)

	x := p.x + padding
	y := r.DrawSectionHeader(x, p.y+padding, "Frame Phases")
	y = r.DrawLabelValue(x, y, "Avg frame", fmt.Sprintf("%s (%.0f/s)", stats.AvgStepDuration.Round(time.Microsecond), stats.StepsPerSecond))

	for _, phase := range telemetry.Phases {
		y = r.DrawBar(x, y, phase, float32(stats.PhasePct[phase]/100), p.width-padding*2)
	}
	for i := 0; i < telemetry.SortPasses; i++ {
		y = r.DrawLabelValue(x, y, "sort "+telemetry.SortPassName(i), stats.SortPassAvg(i).Round(time.Microsecond).String())
	}
}
