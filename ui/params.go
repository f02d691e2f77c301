package ui

import (
	"fmt"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/pbf/solver"
)

// slider binds one solver parameter to a raygui slider.
type slider struct {
	label    string
	min, max float32
	field    func(p *solver.Params) *float32
}

var sliders = []slider{
	{"Target density", 0.1, 10, func(p *solver.Params) *float32 { return &p.TargetDensity }},
	{"Pressure", 0, 200, func(p *solver.Params) *float32 { return &p.PressureMultiplier }},
	{"Viscosity", 0, 1, func(p *solver.Params) *float32 { return &p.ViscosityStrength }},
	{"Damping", 0, 1, func(p *solver.Params) *float32 { return &p.CollisionDamping }},
	{"Gravity Y", -20, 0, func(p *solver.Params) *float32 { return &p.Gravity[1] }},
}

// ParamsPanel renders sliders for the live-tunable solver parameters.
type ParamsPanel struct {
	renderer *Renderer
	x, y     int32
	width    int32
	visible  bool
}

// NewParamsPanel creates a new parameter panel.
func NewParamsPanel(x, y, width int32) *ParamsPanel {
	return &ParamsPanel{renderer: NewRenderer(), x: x, y: y, width: width, visible: true}
}

// SetPosition updates the panel position.
func (pp *ParamsPanel) SetPosition(x, y int32) {
	pp.x = x
	pp.y = y
}

// Toggle switches panel visibility.
func (pp *ParamsPanel) Toggle() bool {
	pp.visible = !pp.visible
	return pp.visible
}

// Draw renders the sliders and returns the edited parameters. changed
// reports whether any slider moved; reset whether defaults were requested.
func (pp *ParamsPanel) Draw(params solver.Params) (out solver.Params, changed, reset bool) {
	out = params
	if !pp.visible {
		return out, false, false
	}

	r := pp.renderer
	padding := r.Theme.Padding
	rowHeight := int32(38)
	height := int32(len(sliders))*rowHeight + padding*3 + r.Theme.LineHeight + 30
	r.DrawPanel(pp.x, pp.y, pp.width, height)

	x := float32(pp.x + padding)
	y := r.DrawSectionHeader(pp.x+padding, pp.y+padding, "Parameters")
	sliderWidth := float32(pp.width - padding*2 - 60)

	for _, s := range sliders {
		v := s.field(&out)
		rl.DrawText(s.label, int32(x), y, r.Theme.FontSize, r.Theme.LabelColor)
		next := gui.SliderBar(
			rl.Rectangle{X: x, Y: float32(y + 14), Width: sliderWidth, Height: 16},
			"", "",
			*v, s.min, s.max,
		)
		rl.DrawText(fmt.Sprintf("%.3f", next), int32(x+sliderWidth+6), y+16, r.Theme.FontSize, r.Theme.ValueColor)
		if next != *v {
			*v = next
			changed = true
		}
		y += rowHeight
	}

	if gui.Button(rl.Rectangle{X: x, Y: float32(y + 4), Width: 120, Height: 24}, "Reset") {
		reset = true
	}
	return out, changed, reset
}
