package render

import "github.com/chewxy/math32"

// Color is one LED cell, 8 bits per channel.
type Color struct {
	R, G, B uint8
}

var (
	White = Color{R: 255, G: 255, B: 255}
	Black = Color{}
)

// Wheel maps 0-255 onto a red, green, blue, red transition. The input is
// mirrored around 128 before decoding, so Wheel(128) is pure red.
func Wheel(pos uint8) Color {
	return decodeWheel(128 - pos)
}

// decodeWheel splits the input into three 85-wide segments with a pure
// primary at each boundary: 0 red, 85 green, 170 blue.
func decodeWheel(pos uint8) Color {
	switch {
	case pos < 85:
		return Color{R: 255 - pos*3, G: pos * 3}
	case pos < 170:
		pos -= 85
		return Color{G: 255 - pos*3, B: pos * 3}
	default:
		pos -= 170
		return Color{R: pos * 3, B: 255 - pos*3}
	}
}

// Dim scales every channel by factor, clamped to the channel range.
func Dim(c Color, factor float32) Color {
	return Color{
		R: scaleChannel(c.R, factor),
		G: scaleChannel(c.G, factor),
		B: scaleChannel(c.B, factor),
	}
}

func scaleChannel(v uint8, factor float32) uint8 {
	scaled := float32(v) * factor
	if math32.IsNaN(scaled) {
		return 0
	}

	return uint8(math32.Max(0, math32.Min(255, scaled)))
}
