package mapengine

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// VisualHash condenses the visual settings into a short hash. Any color or
// pin-size change produces a new hash, invalidating dependent cache entries
// (P10, S6).
func VisualHash(v models.VisualSettings) string {
	raw, _ := json.Marshal(v)
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])[:8]
}

// PinSetHash condenses the pin set into a hash. Order-independent: pins are
// keyed by user id before hashing.
func PinSetHash(pins []models.MapPin) string {
	entries := make([]string, 0, len(pins))
	for _, p := range pins {
		entries = append(entries, fmt.Sprintf("%d:%.6f:%.6f:%s", p.UserID, p.Latitude, p.Longitude, p.Color))
	}
	sort.Strings(entries)

	raw, _ := json.Marshal(entries)
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])[:12]
}

// BaseCacheKey identifies a base map (no pins): region, dimensions, and the
// visual settings that affect the base layers. Pin changes never touch it.
func BaseCacheKey(region string, width, height int, vis models.VisualSettings) string {
	return fmt.Sprintf("base_%s_%d_%d_%s", region, width, height, VisualHash(vis))
}

// FinalCacheKey identifies a final map (base plus pins).
func FinalCacheKey(region string, pins []models.MapPin, vis models.VisualSettings) string {
	return fmt.Sprintf("final_%s_%s_%s", region, PinSetHash(pins), VisualHash(vis))
}
