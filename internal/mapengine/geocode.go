package mapengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spa1teN/tausendsassa/internal/faults"
)

// nominatimBase is the OSM geocoding service the pin flow resolves locations
// against, reached through the shared HTTP pool.
const nominatimBase = "https://nominatim.openstreetmap.org/search"

// GeocodeResult is the resolved location for a free-form query.
type GeocodeResult struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
}

// Geocode resolves a location query to coordinates and a display label.
func (e *Engine) Geocode(ctx context.Context, query string) (*GeocodeResult, error) {
	endpoint := fmt.Sprintf("%s?q=%s&format=json&limit=1&addressdetails=1",
		nominatimBase, url.QueryEscape(query))

	body, err := e.fetcher.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("querying geocoder: %w", err)
	}

	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decoding geocoder response: %w", err)
	}
	if len(results) == 0 {
		return nil, faults.Newf(faults.KindNotFound, "geocoding", "no results for %q", query)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing geocoder latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing geocoder longitude: %w", err)
	}

	display := results[0].DisplayName
	if display == "" {
		display = query
	}
	return &GeocodeResult{Latitude: lat, Longitude: lng, DisplayName: display}, nil
}
