// Package mapengine implements the region-to-image pipeline: shapefile
// rasterization with a two-level cache (base map without pins, final map with
// grouped pins), geographic projection, nominatim geocoding, and haversine
// proximity queries.
package mapengine

import (
	"math"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// Region is a named WGS84 bounding box.
type Region struct {
	Name   string
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// RegionCustom names the per-guild custom bounding box.
const RegionCustom = "custom"

// Regions are the predefined map regions.
var Regions = map[string]Region{
	"world":        {Name: "world", MinLat: -65, MinLng: -180, MaxLat: 85, MaxLng: 180},
	"europe":       {Name: "europe", MinLat: 34.5, MinLng: -25, MaxLat: 73, MaxLng: 40},
	"germany":      {Name: "germany", MinLat: 47.2701, MinLng: 5.8663, MaxLat: 55.0583, MaxLng: 15.0419},
	"asia":         {Name: "asia", MinLat: -8, MinLng: 24, MaxLat: 82, MaxLng: 180},
	"northamerica": {Name: "northamerica", MinLat: 5, MinLng: -180, MaxLat: 82, MaxLng: -50},
	"southamerica": {Name: "southamerica", MinLat: -60, MinLng: -85, MaxLat: 20, MaxLng: -33},
	"africa":       {Name: "africa", MinLat: -40, MinLng: -20, MaxLat: 40, MaxLng: 60},
	"australia":    {Name: "australia", MinLat: -45, MinLng: 110, MaxLat: -10, MaxLng: 155},
	"usmainland":   {Name: "usmainland", MinLat: 24, MinLng: -126, MaxLat: 51, MaxLng: -66},
}

// RegionFor resolves a guild's map settings to a concrete bounding box. The
// custom region uses the stored bounds; anything unknown falls back to world.
func RegionFor(settings *models.MapSettings) Region {
	if settings.Region == RegionCustom && len(settings.CustomBounds) == 4 {
		return Region{
			Name:   RegionCustom,
			MinLat: settings.CustomBounds[0],
			MinLng: settings.CustomBounds[1],
			MaxLat: settings.CustomBounds[2],
			MaxLng: settings.CustomBounds[3],
		}
	}
	if r, ok := Regions[settings.Region]; ok {
		return r
	}
	return Regions["world"]
}

// Contains reports whether the coordinate lies inside the region.
func (r Region) Contains(lat, lng float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lng >= r.MinLng && lng <= r.MaxLng
}

// mercatorY projects a latitude onto the Web-Mercator y axis.
func mercatorY(lat float64) float64 {
	return math.Log(math.Tan((90 + lat) * math.Pi / 360))
}

// Dimensions derives the image size for a region at a fixed base width: the
// height follows the Web-Mercator aspect ratio of the bounding box.
func (r Region) Dimensions(baseWidth int) (width, height int) {
	mercatorRange := mercatorY(r.MaxLat) - mercatorY(r.MinLat)
	lngRange := (r.MaxLng - r.MinLng) * math.Pi / 180

	aspect := mercatorRange / lngRange
	return baseWidth, int(float64(baseWidth) * aspect)
}

// area is the latitude-corrected angular area of the region, used for line
// width scaling.
func (r Region) area() float64 {
	latRange := r.MaxLat - r.MinLat
	lngRange := r.MaxLng - r.MinLng
	centerLat := (r.MinLat + r.MaxLat) / 2
	return latRange * lngRange * math.Cos(centerLat*math.Pi/180)
}

// ScaleFactor relates the region's area to Germany's (the 1.0 reference).
// Larger regions scale as 1 + log10(ratio) * 0.5; smaller regions scale
// linearly. The result is clamped to [0.3, 8.0].
func (r Region) ScaleFactor() float64 {
	ratio := r.area() / Regions["germany"].area()

	var factor float64
	if ratio > 1 {
		factor = 1 + math.Log10(ratio)*0.5
	} else {
		factor = ratio
	}

	return math.Min(math.Max(factor, 0.3), 8.0)
}

// LineWidths are the stroke widths for the vector layers, in pixels.
type LineWidths struct {
	River   float64
	Country float64
	State   float64
}

// lineWidths derives stroke widths from the image width and the region's
// geographic scale. Germany keeps thicker lines; world maps get an extra
// 0.5x thinning and no state borders.
func lineWidths(width int, r Region) LineWidths {
	scale := r.ScaleFactor()
	w := float64(width)

	switch r.Name {
	case "germany":
		return LineWidths{
			River:   math.Max(2, w/400),
			Country: math.Max(2, w/200),
			State:   math.Max(1, w/400),
		}
	case "world":
		return LineWidths{
			River:   math.Max(1, w/(3000*scale*2)),
			Country: math.Max(1, w/(1500*scale*2)),
			State:   0,
		}
	case "europe":
		return LineWidths{
			River:   math.Max(1, w/(2000*scale)),
			Country: math.Max(1, w/(1000*scale)),
			State:   0,
		}
	default:
		return LineWidths{
			River:   math.Max(1, w/(800*scale)),
			Country: math.Max(1, w/(400*scale)),
			State:   math.Max(1, w/(800*scale)),
		}
	}
}
