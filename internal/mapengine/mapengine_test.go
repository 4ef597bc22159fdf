package mapengine

import (
	"image/color"
	"math"
	"testing"

	"github.com/spa1teN/tausendsassa/internal/models"
)

func TestRegionDimensions_MercatorAspect(t *testing.T) {
	germany := Regions["germany"]
	width, height := germany.Dimensions(1500)

	if width != 1500 {
		t.Errorf("width = %d, want 1500", width)
	}

	// Height must follow the Web-Mercator aspect ratio of the bounds.
	wantAspect := (mercatorY(germany.MaxLat) - mercatorY(germany.MinLat)) /
		((germany.MaxLng - germany.MinLng) * math.Pi / 180)
	wantHeight := int(1500 * wantAspect)
	if height != wantHeight {
		t.Errorf("height = %d, want %d", height, wantHeight)
	}
	if height <= width {
		t.Errorf("germany is taller than wide at these bounds, got %dx%d", width, height)
	}
}

func TestScaleFactor_GermanyIsReference(t *testing.T) {
	if got := Regions["germany"].ScaleFactor(); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("germany scale factor = %v, want 1.0", got)
	}
}

func TestScaleFactor_Clamped(t *testing.T) {
	world := Regions["world"]
	if got := world.ScaleFactor(); got < 0.3 || got > 8.0 {
		t.Errorf("world scale factor = %v, want within [0.3, 8.0]", got)
	}

	tiny := Region{Name: "tiny", MinLat: 50, MinLng: 8, MaxLat: 50.01, MaxLng: 8.01}
	if got := tiny.ScaleFactor(); got != 0.3 {
		t.Errorf("tiny region scale factor = %v, want clamped to 0.3", got)
	}
}

func TestLineWidths_WorldHasNoStateBorders(t *testing.T) {
	widths := lineWidths(1500, Regions["world"])
	if widths.State != 0 {
		t.Errorf("world state width = %v, want 0", widths.State)
	}
	if widths.Country <= 0 {
		t.Errorf("world country width = %v, want positive", widths.Country)
	}

	germany := lineWidths(1500, Regions["germany"])
	if germany.Country <= widths.Country {
		t.Error("germany borders must be thicker than world borders")
	}
}

func TestBaseCacheKey_StableAcrossPinChanges(t *testing.T) {
	vis := models.DefaultVisualSettings()

	// P10: the base key depends only on region, dimensions, and visual
	// settings; a different pin set cannot change it.
	key1 := BaseCacheKey("germany", 1500, 1600, vis)
	key2 := BaseCacheKey("germany", 1500, 1600, vis)
	if key1 != key2 {
		t.Error("base key must be deterministic")
	}

	changed := vis
	changed.LandColor = "#00FF00"
	if BaseCacheKey("germany", 1500, 1600, changed) == key1 {
		t.Error("visual change must produce a new base key (S6)")
	}
}

func TestFinalCacheKey_TracksPinsAndVisuals(t *testing.T) {
	vis := models.DefaultVisualSettings()
	pins := []models.MapPin{
		{UserID: 1, Latitude: 52.52, Longitude: 13.405, Color: "#FF4444"},
	}

	key := FinalCacheKey("germany", pins, vis)

	moved := []models.MapPin{
		{UserID: 1, Latitude: 48.857, Longitude: 2.353, Color: "#FF4444"},
	}
	if FinalCacheKey("germany", moved, vis) == key {
		t.Error("pin change must produce a new final key")
	}

	changed := vis
	changed.PinColor = "#00FF00"
	if FinalCacheKey("germany", pins, changed) == key {
		t.Error("visual change must produce a new final key")
	}

	// Order independence.
	two := []models.MapPin{
		{UserID: 1, Latitude: 52.52, Longitude: 13.405, Color: "#FF4444"},
		{UserID: 2, Latitude: 48.857, Longitude: 2.353, Color: "#FF4444"},
	}
	reversed := []models.MapPin{two[1], two[0]}
	if FinalCacheKey("germany", two, vis) != FinalCacheKey("germany", reversed, vis) {
		t.Error("pin-set hash must not depend on row order")
	}
}

func TestHaversine_KnownDistanceAndSymmetry(t *testing.T) {
	// Berlin <-> Paris is roughly 878 km (S5).
	berlinLat, berlinLng := 52.52, 13.405
	parisLat, parisLng := 48.857, 2.353

	d1 := Haversine(berlinLat, berlinLng, parisLat, parisLng)
	if math.Abs(d1-878) > 5 {
		t.Errorf("Berlin-Paris = %.1f km, want 878 +/- 5", d1)
	}

	// P11: symmetric within 10 m.
	d2 := Haversine(parisLat, parisLng, berlinLat, berlinLng)
	if math.Abs(d1-d2) > 0.01 {
		t.Errorf("asymmetry = %v km, want <= 0.01", math.Abs(d1-d2))
	}
}

func TestNearby_FiltersAndSorts(t *testing.T) {
	berlin := models.MapPin{UserID: 1, Latitude: 52.52, Longitude: 13.405}
	paris := models.MapPin{UserID: 2, Latitude: 48.857, Longitude: 2.353}
	potsdam := models.MapPin{UserID: 3, Latitude: 52.39, Longitude: 13.06}

	candidates := []models.MapPin{berlin, paris, potsdam}

	// S5: r=100 from Berlin finds only Potsdam; Paris is out of range.
	near := Nearby(berlin.Latitude, berlin.Longitude, candidates, 100, berlin.UserID)
	if len(near) != 1 || near[0].Pin.UserID != potsdam.UserID {
		t.Fatalf("r=100 results = %+v, want only Potsdam", near)
	}

	// r=1000 finds both, sorted by distance.
	near = Nearby(berlin.Latitude, berlin.Longitude, candidates, 1000, berlin.UserID)
	if len(near) != 2 {
		t.Fatalf("r=1000 results = %d, want 2", len(near))
	}
	if near[0].Pin.UserID != potsdam.UserID || near[1].Pin.UserID != paris.UserID {
		t.Error("results must be sorted by distance")
	}
	if math.Abs(near[1].DistanceKM-878) > 5 {
		t.Errorf("Paris distance = %.1f, want 878 +/- 5", near[1].DistanceKM)
	}
}

func TestGroupPins_ClustersByPixelDistance(t *testing.T) {
	identity := func(lat, lng float64) (float64, float64) { return lng, lat }

	pins := []models.MapPin{
		{UserID: 1, Latitude: 100, Longitude: 100},
		{UserID: 2, Latitude: 105, Longitude: 103}, // within 2*16 px of pin 1
		{UserID: 3, Latitude: 400, Longitude: 400}, // far away
	}

	groups := GroupPins(pins, identity, 16)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}

	var cluster, single *PinGroup
	for i := range groups {
		if groups[i].Count == 2 {
			cluster = &groups[i]
		} else {
			single = &groups[i]
		}
	}
	if cluster == nil || single == nil {
		t.Fatalf("expected one cluster of 2 and one single, got %+v", groups)
	}

	// Cluster centers on its members.
	if math.Abs(cluster.X-101.5) > 0.01 || math.Abs(cluster.Y-102.5) > 0.01 {
		t.Errorf("cluster center = (%v, %v)", cluster.X, cluster.Y)
	}
}

func TestGroupPins_NoFalseMerge(t *testing.T) {
	identity := func(lat, lng float64) (float64, float64) { return lng, lat }
	pins := []models.MapPin{
		{UserID: 1, Latitude: 0, Longitude: 0},
		{UserID: 2, Latitude: 0, Longitude: 33}, // beyond 2*16 = 32 px
	}
	groups := GroupPins(pins, identity, 16)
	if len(groups) != 2 {
		t.Errorf("groups = %d, want 2 (distance 33 > threshold 32)", len(groups))
	}
}

func TestParseColor(t *testing.T) {
	fallback := color.RGBA{1, 2, 3, 255}

	got := ParseColor("#FF4444", fallback)
	if got.R != 0xFF || got.G != 0x44 || got.B != 0x44 {
		t.Errorf("ParseColor = %+v", got)
	}

	if ParseColor("not-a-color", fallback) != fallback {
		t.Error("malformed input must return the fallback")
	}
	if ParseColor("", fallback) != fallback {
		t.Error("empty input must return the fallback")
	}
}

func TestRegionContains(t *testing.T) {
	germany := Regions["germany"]
	if !germany.Contains(52.52, 13.405) {
		t.Error("Berlin must be inside the germany region")
	}
	if germany.Contains(48.857, 2.353) {
		t.Error("Paris must be outside the germany region")
	}
}

func TestProximityBounds_CoversRadius(t *testing.T) {
	region := ProximityBounds(52.52, 13.405, 100)

	// The crop must cover at least the radius in every direction.
	if Haversine(52.52, 13.405, region.MaxLat, 13.405) < 100 {
		t.Error("north edge closer than the radius")
	}
	if Haversine(52.52, 13.405, 52.52, region.MaxLng) < 100 {
		t.Error("east edge closer than the radius")
	}
}
