package app

import (
	"image/color"
	"math"
)

// ColorTheme maps a normalized altitude in [0, 1] to a colour. Low altitudes
// start at the cold end of every theme.
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // blue to red
	GrayscaleTheme ColorTheme = "grayscale" // dark grey to black
	ThermalTheme   ColorTheme = "thermal"   // dark red to yellow
	MarineTheme    ColorTheme = "marine"    // cyan to deep blue

	DefaultColorMapSize = 64
)

var validThemes = map[ColorTheme]struct{}{
	ClassicTheme:   {},
	GrayscaleTheme: {},
	ThermalTheme:   {},
	MarineTheme:    {},
}

// AltitudeBounds is the altitude range covered by the colour map.
type AltitudeBounds struct {
	Min, Max float64
}

// ColorMapper precomputes a theme into a lookup table over AltitudeBounds.
type ColorMapper struct {
	colorMap []color.Color
	bounds   AltitudeBounds
	step     float64 // meters per colour
}

func NewColorMapper(theme ColorTheme, bounds AltitudeBounds) *ColorMapper {
	fn := themeFunc(theme)

	cm := &ColorMapper{
		colorMap: make([]color.Color, DefaultColorMapSize),
		bounds:   bounds,
	}
	for i := range cm.colorMap {
		cm.colorMap[i] = fn(float64(i) / float64(DefaultColorMapSize-1))
	}

	// a level flight still gets a usable, single colour scale
	if span := bounds.Max - bounds.Min; span > 0 {
		cm.step = span / float64(DefaultColorMapSize-1)
	}
	return cm
}

// Color returns the colour of altitude, clamped to the bounds.
func (cm *ColorMapper) Color(altitude float64) color.Color {
	if cm.step == 0 {
		return cm.colorMap[len(cm.colorMap)-1]
	}

	index := int((altitude - cm.bounds.Min) / cm.step)
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= len(cm.colorMap) {
		return cm.colorMap[len(cm.colorMap)-1]
	}
	return cm.colorMap[index]
}

// Bounds returns the altitude range of the map.
func (cm *ColorMapper) Bounds() AltitudeBounds {
	return cm.bounds
}

// HSV is a colour in hue, saturation, value space.
type HSV struct {
	H float64 // degrees [0-360]
	S float64 // [0-1]
	V float64 // [0-1]
}

func (hsv HSV) RGB() color.Color {
	if hsv.S <= 0.0 {
		v := uint8(hsv.V * 255)
		return color.RGBA{R: v, G: v, B: v, A: 255}
	}

	h := math.Mod(hsv.H, 360)
	if h < 0 {
		h += 360
	}
	h /= 60

	i := int(h)
	f := h - float64(i)

	v := uint8(hsv.V * 255)
	p := uint8(hsv.V * (1 - hsv.S) * 255)
	q := uint8(hsv.V * (1 - hsv.S*f) * 255)
	t := uint8(hsv.V * (1 - hsv.S*(1-f)) * 255)

	switch i {
	case 0:
		return color.RGBA{R: v, G: t, B: p, A: 255}
	case 1:
		return color.RGBA{R: q, G: v, B: p, A: 255}
	case 2:
		return color.RGBA{R: p, G: v, B: t, A: 255}
	case 3:
		return color.RGBA{R: p, G: q, B: v, A: 255}
	case 4:
		return color.RGBA{R: t, G: p, B: v, A: 255}
	default:
		return color.RGBA{R: v, G: p, B: q, A: 255}
	}
}

// The track is drawn on white, so no theme may fade out to white.
func themeFunc(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case GrayscaleTheme:
		return func(alt float64) color.Color {
			v := uint8((0.6 - alt*0.6) * 255)
			return color.RGBA{R: v, G: v, B: v, A: 255}
		}

	case ThermalTheme:
		return func(alt float64) color.Color {
			return HSV{H: alt * 55, S: 1, V: 0.55 + alt*0.4}.RGB()
		}

	case MarineTheme:
		return func(alt float64) color.Color {
			return HSV{H: 180 + alt*60, S: 1, V: 0.9 - alt*0.5}.RGB()
		}

	default:
		return func(alt float64) color.Color {
			return HSV{H: 240 - alt*240, S: 0.9 + alt*0.1, V: 0.85}.RGB()
		}
	}
}
