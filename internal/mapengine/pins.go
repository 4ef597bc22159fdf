package mapengine

import (
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// PinGroup is a cluster of pins drawn as one circle. Pins whose pixel
// distance is below twice the pin size merge; the count renders inside.
type PinGroup struct {
	X, Y  float64
	Count int
	Pins  []models.MapPin
}

// GroupPins clusters pins by pixel distance under the given projection.
func GroupPins(pins []models.MapPin, project Projection, pinSize float64) []PinGroup {
	if len(pins) == 0 {
		return nil
	}

	type positioned struct {
		pin  models.MapPin
		x, y float64
	}
	positions := make([]positioned, 0, len(pins))
	for _, p := range pins {
		x, y := project(p.Latitude, p.Longitude)
		positions = append(positions, positioned{pin: p, x: x, y: y})
	}

	threshold := pinSize * 2
	used := make([]bool, len(positions))
	var groups []PinGroup

	for i, p := range positions {
		if used[i] {
			continue
		}
		group := PinGroup{X: p.x, Y: p.y, Count: 1, Pins: []models.MapPin{p.pin}}
		used[i] = true

		for j := i + 1; j < len(positions); j++ {
			if used[j] {
				continue
			}
			other := positions[j]
			if math.Hypot(p.x-other.x, p.y-other.y) < threshold {
				group.Pins = append(group.Pins, other.pin)
				group.Count++
				used[j] = true
			}
		}

		if group.Count > 1 {
			var sumX, sumY float64
			for _, member := range group.Pins {
				x, y := project(member.Latitude, member.Longitude)
				sumX += x
				sumY += y
			}
			group.X = sumX / float64(group.Count)
			group.Y = sumY / float64(group.Count)
		}

		groups = append(groups, group)
	}
	return groups
}

// DrawPins renders grouped pins onto the base image and returns the result.
// Clusters grow with their member count and carry the count label.
func DrawPins(base image.Image, groups []PinGroup, vis models.VisualSettings) image.Image {
	bounds := base.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	dc := gg.NewContext(width, height)
	dc.DrawImage(base, 0, 0)

	baseSize := float64(vis.PinSize)
	if baseSize <= 0 {
		baseSize = 16
	}
	pinColor := ParseColor(vis.PinColor, color.RGBA{255, 68, 68, 255})

	for _, group := range groups {
		size := baseSize + float64(group.Count-1)*3

		// Skip pins whose circle would leave the canvas.
		if group.X < size || group.X >= float64(width)-size ||
			group.Y < size || group.Y >= float64(height)-size {
			continue
		}

		// Shadow, pin, white outline.
		dc.SetRGBA(0, 0, 0, 0.5)
		dc.DrawCircle(group.X+2, group.Y+2, size)
		dc.Fill()

		dc.SetColor(pinColor)
		dc.DrawCircle(group.X, group.Y, size)
		dc.FillPreserve()
		dc.SetRGB(1, 1, 1)
		dc.SetLineWidth(2)
		dc.Stroke()

		if group.Count > 1 {
			dc.SetFontFace(basicfont.Face7x13)
			dc.SetRGB(1, 1, 1)
			dc.DrawStringAnchored(strconv.Itoa(group.Count), group.X, group.Y, 0.5, 0.5)
		}
	}

	return dc.Image()
}

// ParseColor parses "#RRGGBB" hex strings, falling back on malformed input.
func ParseColor(s string, fallback color.RGBA) color.RGBA {
	if len(s) != 7 || s[0] != '#' {
		return fallback
	}
	r, err1 := strconv.ParseUint(s[1:3], 16, 8)
	g, err2 := strconv.ParseUint(s[3:5], 16, 8)
	b, err3 := strconv.ParseUint(s[5:7], 16, 8)
	if err1 != nil || err2 != nil || err3 != nil {
		return fallback
	}
	return color.RGBA{uint8(r), uint8(g), uint8(b), 255}
}
