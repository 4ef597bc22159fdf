package mapengine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fogleman/gg"
	"github.com/jonas-p/go-shp"
	"golang.org/x/sync/semaphore"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// Shapefile layers drawn back to front.
const (
	layerCountries = "ne_10m_admin_0_countries.shp"
	layerStates    = "ne_10m_admin_1_states_provinces.shp"
	layerLand      = "ne_10m_land.shp"
	layerLakes     = "ne_10m_lakes.shp"
	layerRivers    = "ne_10m_rivers_lake_centerlines.shp"
)

// Projection maps WGS84 coordinates to pixel space.
type Projection func(lat, lng float64) (x, y float64)

// Renderer rasterizes regions from Natural Earth shapefiles. Base maps are
// cached in memory and on disk; rendering is bounded by a semaphore so the
// scheduler's periodic tasks are never starved by image work.
type Renderer struct {
	dataDir  string
	cacheDir string
	logger   *slog.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	memCache map[string]image.Image
	keyLocks map[string]*sync.Mutex

	layersOnce sync.Once
	layersErr  error
	layers     map[string][]shp.Shape
}

// NewRenderer creates a renderer over the given shapefile and cache
// directories. maxConcurrent bounds simultaneous rasterizations.
func NewRenderer(dataDir, cacheDir string, maxConcurrent int64, logger *slog.Logger) *Renderer {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Renderer{
		dataDir:  dataDir,
		cacheDir: cacheDir,
		logger:   logger,
		sem:      semaphore.NewWeighted(maxConcurrent),
		memCache: make(map[string]image.Image),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// loadLayers reads all shapefile layers once. Missing layers degrade to empty
// slices so a partial data directory still produces a (plain) map.
func (r *Renderer) loadLayers() error {
	r.layersOnce.Do(func() {
		r.layers = make(map[string][]shp.Shape)
		for _, name := range []string{layerCountries, layerStates, layerLand, layerLakes, layerRivers} {
			shapes, err := readShapefile(filepath.Join(r.dataDir, name))
			if err != nil {
				r.logger.Warn("shapefile layer unavailable",
					slog.String("layer", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			r.layers[name] = shapes
		}
		if len(r.layers) == 0 {
			r.layersErr = fmt.Errorf("no shapefile layers found in %s", r.dataDir)
		}
	})
	return r.layersErr
}

func readShapefile(path string) ([]shp.Shape, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile %s: %w", path, err)
	}
	defer reader.Close()

	var shapes []shp.Shape
	for reader.Next() {
		_, shape := reader.Shape()
		shapes = append(shapes, shape)
	}
	return shapes, nil
}

// keyLock returns the mutex guarding computation of one cache key, so
// concurrent misses for the same base map render it once.
func (r *Renderer) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		r.keyLocks[key] = l
	}
	return l
}

// BaseMap returns the region's base map (no pins), serving from the in-memory
// cache, then the disk cache, and rendering on a full miss.
func (r *Renderer) BaseMap(ctx context.Context, region Region, vis models.VisualSettings, baseWidth int) (image.Image, error) {
	width, height := region.Dimensions(baseWidth)
	key := BaseCacheKey(region.Name, width, height, vis)

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if img, ok := r.memCache[key]; ok {
		r.mu.Unlock()
		return img, nil
	}
	r.mu.Unlock()

	if img, err := r.loadCached(key); err == nil {
		r.mu.Lock()
		r.memCache[key] = img
		r.mu.Unlock()
		return img, nil
	}

	img, _, err := r.renderBounds(ctx, region, width, height, vis)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.memCache[key] = img
	r.mu.Unlock()
	r.storeCached(key, img)

	return img, nil
}

// renderBounds rasterizes the region: ocean fill, land, lakes, rivers, state
// borders, country borders. Returns the image and the projection used.
func (r *Renderer) renderBounds(ctx context.Context, region Region, width, height int, vis models.VisualSettings) (image.Image, Projection, error) {
	if err := r.loadLayers(); err != nil {
		return nil, nil, err
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer r.sem.Release(1)

	project := func(lat, lng float64) (float64, float64) {
		x := (lng - region.MinLng) / (region.MaxLng - region.MinLng) * float64(width)
		y := (region.MaxLat - lat) / (region.MaxLat - region.MinLat) * float64(height)
		return x, y
	}

	dc := gg.NewContext(width, height)

	// Ocean fill.
	dc.SetColor(ParseColor(vis.WaterColor, color.RGBA{168, 213, 242, 255}))
	dc.Clear()

	widths := lineWidths(width, region)

	landColor := ParseColor(vis.LandColor, color.RGBA{240, 240, 220, 255})
	waterColor := ParseColor(vis.WaterColor, color.RGBA{168, 213, 242, 255})
	riverColor := ParseColor(vis.RiverColor, color.RGBA{60, 60, 200, 255})
	stateColor := ParseColor(vis.StateColor, color.RGBA{100, 100, 100, 255})
	countryColor := ParseColor(vis.CountryColor, color.RGBA{0, 0, 0, 255})

	r.fillPolygons(dc, r.layers[layerLand], region, project, landColor)
	r.fillPolygons(dc, r.layers[layerLakes], region, project, waterColor)

	if region.Name != "world" {
		r.strokeShapes(dc, r.layers[layerRivers], region, project, riverColor, widths.River, false)
	}
	if widths.State > 0 {
		r.strokeShapes(dc, r.layers[layerStates], region, project, stateColor, widths.State, true)
	}
	r.strokeShapes(dc, r.layers[layerCountries], region, project, countryColor, widths.Country, true)

	return dc.Image(), project, nil
}

// intersects reports whether the shape's bounding box overlaps the region.
func intersects(box shp.Box, region Region) bool {
	return box.MinX <= region.MaxLng && box.MaxX >= region.MinLng &&
		box.MinY <= region.MaxLat && box.MaxY >= region.MinLat
}

// fillPolygons fills polygon rings that overlap the region.
func (r *Renderer) fillPolygons(dc *gg.Context, shapes []shp.Shape, region Region, project Projection, fill color.Color) {
	dc.SetColor(fill)
	for _, shape := range shapes {
		poly, ok := shape.(*shp.Polygon)
		if !ok || !intersects(poly.BBox(), region) {
			continue
		}
		for _, ring := range polygonRings(poly.Points, poly.Parts) {
			if len(ring) < 3 {
				continue
			}
			dc.NewSubPath()
			for i, pt := range ring {
				x, y := project(pt.Y, pt.X)
				if i == 0 {
					dc.MoveTo(x, y)
				} else {
					dc.LineTo(x, y)
				}
			}
			dc.ClosePath()
		}
		dc.Fill()
	}
}

// strokeShapes strokes polyline segments (or polygon outlines) that overlap
// the region.
func (r *Renderer) strokeShapes(dc *gg.Context, shapes []shp.Shape, region Region, project Projection, stroke color.Color, width float64, closed bool) {
	if width <= 0 {
		return
	}
	dc.SetColor(stroke)
	dc.SetLineWidth(width)

	for _, shape := range shapes {
		var points []shp.Point
		var parts []int32

		switch s := shape.(type) {
		case *shp.PolyLine:
			if !intersects(s.BBox(), region) {
				continue
			}
			points, parts = s.Points, s.Parts
		case *shp.Polygon:
			if !intersects(s.BBox(), region) {
				continue
			}
			points, parts = s.Points, s.Parts
		default:
			continue
		}

		for _, segment := range polygonRings(points, parts) {
			if len(segment) < 2 {
				continue
			}
			dc.NewSubPath()
			for i, pt := range segment {
				x, y := project(pt.Y, pt.X)
				if i == 0 {
					dc.MoveTo(x, y)
				} else {
					dc.LineTo(x, y)
				}
			}
			if closed {
				dc.ClosePath()
			}
		}
		dc.Stroke()
	}
}

// polygonRings splits a shapefile point array into its parts.
func polygonRings(points []shp.Point, parts []int32) [][]shp.Point {
	if len(parts) == 0 {
		return [][]shp.Point{points}
	}
	rings := make([][]shp.Point, 0, len(parts))
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < end {
			rings = append(rings, points[start:end])
		}
	}
	return rings
}

// loadCached reads a PNG from the disk cache.
func (r *Renderer) loadCached(key string) (image.Image, error) {
	f, err := os.Open(filepath.Join(r.cacheDir, key+".png"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// storeCached writes a PNG to the disk cache. Failures only cost re-rendering.
func (r *Renderer) storeCached(key string, img image.Image) {
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		r.logger.Warn("could not create map cache dir", slog.String("error", err.Error()))
		return
	}
	f, err := os.Create(filepath.Join(r.cacheDir, key+".png"))
	if err != nil {
		r.logger.Warn("could not write map cache entry", slog.String("error", err.Error()))
		return
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		r.logger.Warn("could not encode map cache entry", slog.String("error", err.Error()))
	}
}

// InvalidateMemory drops the in-memory base cache (disk entries stay; they
// are keyed by content hashes and never serve stale data).
func (r *Renderer) InvalidateMemory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memCache = make(map[string]image.Image)
}
