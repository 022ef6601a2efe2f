package render

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// wrap breaks text into lines no wider than width. A single word wider than
// width gets a line of its own.
func wrap(face font.Face, text string, width int) []string {
	var (
		lines []string
		line  string
	)
	for _, word := range strings.Fields(text) {
		candidate := word
		if line != "" {
			candidate = line + " " + word
		}
		if line == "" || font.MeasureString(face, candidate).Ceil() <= width {
			line = candidate
			continue
		}
		lines = append(lines, line)
		line = word
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// drawText left-aligns text inside rect and centres it vertically. When the
// text needs more lines than fit, the newest lines win.
func drawText(
	dst *image.RGBA,
	face font.Face,
	col color.Color,
	rect image.Rectangle,
	text string,
) {
	lines := wrap(face, text, rect.Dx())
	if len(lines) == 0 {
		return
	}

	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	if lineHeight < 1 {
		lineHeight = 1
	}
	if maxLines := rect.Dy() / lineHeight; maxLines >= 1 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}

	clip, ok := dst.SubImage(rect).(draw.Image)
	if !ok {
		return
	}

	d := &font.Drawer{
		Dst:  clip,
		Src:  image.NewUniform(col),
		Face: face,
	}

	y := rect.Min.Y + (rect.Dy()-lineHeight*len(lines))/2 + metrics.Ascent.Ceil()
	for _, line := range lines {
		d.Dot = fixed.P(rect.Min.X, y)
		d.DrawString(line)
		y += lineHeight
	}
}
