package projection

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// basePalette colors the first seven buckets.
var basePalette = []colorful.Color{
	{R: 1, G: 0, B: 0},
	{R: 0, G: 1, B: 0},
	{R: 0, G: 0, B: 1},
	{R: 1, G: 1, B: 0},
	{R: 1, G: 0, B: 1},
	{R: 0, G: 1, B: 1},
	{R: 1, G: 1, B: 1},
}

// Palette returns one color per bucket index 0..k. Beyond the seven base
// colors, hues are spread evenly between the base ones.
func Palette(k int) []colorful.Color {
	if k < 0 {
		k = 0
	}
	n := k + 1
	out := make([]colorful.Color, 0, n)
	for i := 0; i < n && i < len(basePalette); i++ {
		out = append(out, basePalette[i])
	}
	extra := n - len(out)
	for i := 0; i < extra; i++ {
		h := math.Mod(360*(float64(i)+0.5)/float64(extra)+30, 360)
		out = append(out, colorful.Hsv(h, 0.75, 0.9))
	}
	return out
}
