// Package ui draws the viewer's panels: a HUD, phase timings and parameter
// sliders.
package ui

import rl "github.com/gen2brain/raylib-go/raylib"

// Theme holds UI styling constants.
type Theme struct {
	PanelBg        rl.Color
	PanelBorder    rl.Color
	SectionHeader  rl.Color
	LabelColor     rl.Color
	ValueColor     rl.Color
	BarBg          rl.Color
	BarFill        rl.Color
	Padding        int32
	LineHeight     int32
	LabelWidth     int32
	BarHeight      int32
	FontSize       int32
	HeaderFontSize int32
}

// DefaultTheme returns the default UI theme.
func DefaultTheme() Theme {
	return Theme{
		PanelBg:        rl.Color{R: 20, G: 25, B: 30, A: 240},
		PanelBorder:    rl.Color{R: 60, G: 70, B: 80, A: 255},
		SectionHeader:  rl.Yellow,
		LabelColor:     rl.LightGray,
		ValueColor:     rl.LightGray,
		BarBg:          rl.Color{R: 40, G: 40, B: 40, A: 255},
		BarFill:        rl.Color{R: 100, G: 150, B: 200, A: 255},
		Padding:        10,
		LineHeight:     16,
		LabelWidth:     110,
		BarHeight:      12,
		FontSize:       12,
		HeaderFontSize: 14,
	}
}

// DensityColor maps a density onto a blue, white, red ramp centered on the
// target density. Twice the target or more is fully red.
func DensityColor(density, target float32) rl.Color {
	if target <= 0 {
		return rl.White
	}
	t := density/target - 1 // -1 (empty) .. 0 (target) .. 1 (double)
	t = min(max(t, -1), 1)

	lerp := func(a, b uint8, f float32) uint8 {
		return uint8(float32(a) + (float32(b)-float32(a))*f)
	}
	white := rl.Color{R: 235, G: 240, B: 245, A: 255}
	if t < 0 {
		blue := rl.Color{R: 40, G: 90, B: 220, A: 255}
		f := -t
		return rl.Color{R: lerp(white.R, blue.R, f), G: lerp(white.G, blue.G, f), B: lerp(white.B, blue.B, f), A: 255}
	}
	red := rl.Color{R: 220, G: 50, B: 40, A: 255}
	return rl.Color{R: lerp(white.R, red.R, t), G: lerp(white.G, red.G, t), B: lerp(white.B, red.B, t), A: 255}
}
