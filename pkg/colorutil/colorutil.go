// Package colorutil provides the shared annotation palette for review
// overlays.
package colorutil

import "image/color"

// Overlay colors. Outcome colors follow the review convention: green for
// correct, red for wrong, orange for unresolved, blue for blank.
var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Green  = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	Red    = color.RGBA{R: 220, G: 0, B: 0, A: 255}
	Orange = color.RGBA{R: 255, G: 150, B: 0, A: 255}
	Blue   = color.RGBA{R: 0, G: 90, B: 220, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// WithAlpha returns the color with its alpha replaced.
func WithAlpha(c color.RGBA, a uint8) color.RGBA {
	c.A = a
	return c
}

// Blend mixes src over dst at the given opacity, ignoring source alpha.
// Opacity outside [0,1] is clamped.
func Blend(dst, src color.RGBA, opacity float64) color.RGBA {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	mix := func(d, s uint8) uint8 {
		return uint8(float64(s)*opacity + float64(d)*(1-opacity) + 0.5)
	}
	return color.RGBA{
		R: mix(dst.R, src.R),
		G: mix(dst.G, src.G),
		B: mix(dst.B, src.B),
		A: 255,
	}
}
