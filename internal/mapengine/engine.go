package mapengine

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fogleman/gg"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/events"
	"github.com/spa1teN/tausendsassa/internal/faults"
	"github.com/spa1teN/tausendsassa/internal/metrics"
	"github.com/spa1teN/tausendsassa/internal/models"
)

// Store is the slice of the persistent store the map engine uses.
type Store interface {
	GetMapSettings(ctx context.Context, guildID int64) (*models.MapSettings, error)
	ListMapBoards(ctx context.Context) ([]models.MapSettings, error)
	SetMapVisual(ctx context.Context, guildID int64, v models.VisualSettings) error
	SetPin(ctx context.Context, p *models.MapPin) error
	GetPin(ctx context.Context, guildID, userID int64) (*models.MapPin, error)
	DeletePin(ctx context.Context, guildID, userID int64) (bool, error)
	ListPins(ctx context.Context, guildID int64) ([]models.MapPin, error)
	ProximityCandidates(ctx context.Context, guildID int64, minLat, minLng, maxLat, maxLng float64) ([]models.MapPin, error)
}

// Fetcher is the slice of the HTTP fetcher the map engine uses (geocoding).
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Engine ties the renderer, geocoder, and pin store into the guild-facing map
// board: pins are added and removed, the board message is edited in place.
type Engine struct {
	store    Store
	renderer *Renderer
	fetcher  Fetcher
	surface  chat.Surface
	bus      *events.Bus
	logger   *slog.Logger

	baseWidth int
	cacheDir  string

	renderedMu   sync.Mutex
	lastRendered map[int64]string // guild id -> final cache key of the live board
}

// New creates the map engine.
func New(store Store, renderer *Renderer, fetcher Fetcher, surface chat.Surface, bus *events.Bus, logger *slog.Logger, baseWidth int, cacheDir string) *Engine {
	if baseWidth <= 0 {
		baseWidth = 1500
	}
	return &Engine{
		store:        store,
		renderer:     renderer,
		fetcher:      fetcher,
		surface:      surface,
		bus:          bus,
		logger:       logger,
		baseWidth:    baseWidth,
		cacheDir:     cacheDir,
		lastRendered: make(map[int64]string),
	}
}

// RefreshAll re-renders every configured board whose content changed since
// the last refresh. Boards whose final cache key is unchanged are skipped so
// the periodic pass causes no message traffic at steady state.
func (e *Engine) RefreshAll(ctx context.Context) error {
	boards, err := e.store.ListMapBoards(ctx)
	if err != nil {
		return fmt.Errorf("listing map boards: %w", err)
	}

	for _, settings := range boards {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pins, err := e.store.ListPins(ctx, settings.GuildID)
		if err != nil {
			e.logger.Error("failed to list pins for board refresh",
				slog.Int64("guild_id", settings.GuildID),
				slog.String("error", err.Error()),
			)
			continue
		}
		key := FinalCacheKey(RegionFor(&settings).Name, pins, settings.Visual)

		e.renderedMu.Lock()
		unchanged := e.lastRendered[settings.GuildID] == key
		e.renderedMu.Unlock()
		if unchanged {
			continue
		}

		if err := e.RefreshBoard(ctx, settings.GuildID); err != nil {
			e.logger.Warn("board refresh failed",
				slog.Int64("guild_id", settings.GuildID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// PinLocation geocodes the query, validates it against the guild's region,
// stores (or overwrites) the user's pin, and refreshes the board message.
// Coordinates outside the region surface as OutOfBounds to the caller.
func (e *Engine) PinLocation(ctx context.Context, guildID, userID int64, username, query string) (*models.MapPin, error) {
	settings, err := e.store.GetMapSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	region := RegionFor(settings)

	located, err := e.Geocode(ctx, query)
	if err != nil {
		return nil, err
	}
	if !region.Contains(located.Latitude, located.Longitude) {
		return nil, faults.Newf(faults.KindOutOfBounds, "pinning location",
			"%q resolves outside the %s map", located.DisplayName, region.Name)
	}

	pin := &models.MapPin{
		GuildID:     guildID,
		UserID:      userID,
		Username:    username,
		DisplayName: located.DisplayName,
		Location:    query,
		Latitude:    located.Latitude,
		Longitude:   located.Longitude,
		Color:       settings.Visual.PinColor,
	}
	if err := e.store.SetPin(ctx, pin); err != nil {
		return nil, err
	}

	e.bus.PublishData(ctx, events.SubjectMapPinSet, guildID, map[string]any{
		"user_id": userID, "location": located.DisplayName,
	})

	if err := e.RefreshBoard(ctx, guildID); err != nil {
		e.logger.Warn("board refresh after pin failed",
			slog.Int64("guild_id", guildID),
			slog.String("error", err.Error()),
		)
	}
	return pin, nil
}

// RemovePin deletes the user's pin and refreshes the board.
func (e *Engine) RemovePin(ctx context.Context, guildID, userID int64) error {
	existed, err := e.store.DeletePin(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if !existed {
		return faults.Newf(faults.KindNotFound, "removing pin", "user %d has no pin", userID)
	}

	e.bus.PublishData(ctx, events.SubjectMapPinRemoved, guildID, map[string]any{"user_id": userID})

	if err := e.RefreshBoard(ctx, guildID); err != nil {
		e.logger.Warn("board refresh after unpin failed",
			slog.Int64("guild_id", guildID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// RenderBoard produces the final map PNG for a guild: cached base map plus
// grouped pins, with the final image cached on disk keyed by pin-set and
// visual hashes. Pin changes never invalidate the base cache (P10).
func (e *Engine) RenderBoard(ctx context.Context, guildID int64) ([]byte, error) {
	settings, err := e.store.GetMapSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	pins, err := e.store.ListPins(ctx, guildID)
	if err != nil {
		return nil, err
	}
	region := RegionFor(settings)

	finalKey := FinalCacheKey(region.Name, pins, settings.Visual)
	if cached, err := os.ReadFile(e.finalCachePath(finalKey)); err == nil {
		metrics.Global.MapCacheHits.Add(1)
		return cached, nil
	}

	base, err := e.renderer.BaseMap(ctx, region, settings.Visual, e.baseWidth)
	if err != nil {
		return nil, fmt.Errorf("rendering base map: %w", err)
	}

	width, height := region.Dimensions(e.baseWidth)
	project := func(lat, lng float64) (float64, float64) {
		x := (lng - region.MinLng) / (region.MaxLng - region.MinLng) * float64(width)
		y := (region.MaxLat - lat) / (region.MaxLat - region.MinLat) * float64(height)
		return x, y
	}

	// Pin size scales with image height the way the reference board did.
	scaled := settings.Visual
	scaled.PinSize = int(float64(height) * float64(settings.Visual.PinSize) / 2400)
	if scaled.PinSize < 4 {
		scaled.PinSize = 4
	}

	groups := GroupPins(pins, project, float64(scaled.PinSize))
	final := DrawPins(base, groups, scaled)

	var buf bytes.Buffer
	if err := png.Encode(&buf, final); err != nil {
		return nil, fmt.Errorf("encoding final map: %w", err)
	}

	metrics.Global.MapsRendered.Add(1)
	e.storeFinal(finalKey, buf.Bytes())
	return buf.Bytes(), nil
}

// RefreshBoard re-renders the guild map and edits the board message in place.
// Guilds without a configured board channel are a no-op.
func (e *Engine) RefreshBoard(ctx context.Context, guildID int64) error {
	settings, err := e.store.GetMapSettings(ctx, guildID)
	if err != nil {
		return err
	}
	if settings.ChannelID == nil || settings.MessageID == nil {
		return nil
	}

	image, err := e.RenderBoard(ctx, guildID)
	if err != nil {
		return err
	}

	err = e.surface.EditMessage(ctx, *settings.ChannelID, *settings.MessageID, chat.Message{
		Files: []chat.File{{Name: "map.png", Reader: bytes.NewReader(image)}},
	})
	if err != nil {
		return fmt.Errorf("editing board message: %w", err)
	}

	pins, err := e.store.ListPins(ctx, guildID)
	if err == nil {
		e.renderedMu.Lock()
		e.lastRendered[guildID] = FinalCacheKey(RegionFor(settings).Name, pins, settings.Visual)
		e.renderedMu.Unlock()
	}
	return nil
}

// SetVisualSettings updates the guild's map appearance. The base cache keys
// change with the visual hash, so stale entries are simply never hit again
// (S6); the in-memory tier is dropped to bound growth.
func (e *Engine) SetVisualSettings(ctx context.Context, guildID int64, v models.VisualSettings) error {
	if err := e.store.SetMapVisual(ctx, guildID, v); err != nil {
		return err
	}
	e.renderer.InvalidateMemory()
	return e.RefreshBoard(ctx, guildID)
}

// ProximityResult is a rendered proximity query.
type ProximityResult struct {
	Image  []byte
	Nearby []NearbyPin
}

// Proximity finds all pins within radiusKM of the user's pin and renders a
// cropped map centered on the user: red radius circle, green self-pin,
// regular pins for everyone nearby.
func (e *Engine) Proximity(ctx context.Context, guildID, userID int64, radiusKM float64) (*ProximityResult, error) {
	settings, err := e.store.GetMapSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !settings.AllowProximity {
		return nil, faults.Newf(faults.KindPermanentSource, "proximity query",
			"proximity queries are disabled for this guild")
	}

	origin, err := e.store.GetPin(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}

	crop := ProximityBounds(origin.Latitude, origin.Longitude, radiusKM)
	candidates, err := e.store.ProximityCandidates(ctx, guildID,
		crop.MinLat, crop.MinLng, crop.MaxLat, crop.MaxLng)
	if err != nil {
		return nil, err
	}
	nearby := Nearby(origin.Latitude, origin.Longitude, candidates, radiusKM, userID)

	const width, height = 1200, 900
	base, project, err := e.renderer.renderBounds(ctx, crop, width, height, settings.Visual)
	if err != nil {
		return nil, fmt.Errorf("rendering proximity map: %w", err)
	}

	dc := gg.NewContext(width, height)
	dc.DrawImage(base, 0, 0)

	// Radius circle around the origin.
	cx, cy := project(origin.Latitude, origin.Longitude)
	dc.SetRGBA(1, 0, 0, 0.8)
	dc.SetLineWidth(3)
	dc.DrawCircle(cx, cy, RadiusPixels(radiusKM, origin.Latitude, crop, width))
	dc.Stroke()

	// Nearby pins in the guild color, the origin in green.
	nearbyPins := make([]models.MapPin, 0, len(nearby))
	for _, n := range nearby {
		nearbyPins = append(nearbyPins, n.Pin)
	}
	groups := GroupPins(nearbyPins, project, float64(settings.Visual.PinSize))
	withPins := DrawPins(dc.Image(), groups, settings.Visual)

	dc = gg.NewContext(width, height)
	dc.DrawImage(withPins, 0, 0)
	dc.SetColor(color.RGBA{0, 200, 0, 255})
	dc.DrawCircle(cx, cy, float64(settings.Visual.PinSize))
	dc.FillPreserve()
	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(2)
	dc.Stroke()

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encoding proximity map: %w", err)
	}

	return &ProximityResult{Image: buf.Bytes(), Nearby: nearby}, nil
}

func (e *Engine) finalCachePath(key string) string {
	return filepath.Join(e.cacheDir, key+".png")
}

func (e *Engine) storeFinal(key string, data []byte) {
	if err := os.MkdirAll(e.cacheDir, 0o755); err != nil {
		e.logger.Warn("could not create final map cache dir", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(e.finalCachePath(key), data, 0o644); err != nil {
		e.logger.Warn("could not write final map cache entry", slog.String("error", err.Error()))
	}
}
