package volume

import (
	"math"
	"strings"
)

// Meter renders level as a bar of width cells for terminal display.
// Levels outside [0, 1] are clamped.
func Meter(level float64, width int) string {
	if width <= 0 {
		return ""
	}

	level = math.Max(0, math.Min(level, 1))
	filled := int(math.Round(level * float64(width)))

	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}
