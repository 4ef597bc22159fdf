package mapengine

import (
	"math"
	"sort"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// earthRadiusKM is the mean Earth radius used by the haversine formula.
const earthRadiusKM = 6371

// kmPerDegreeLat approximates one degree of latitude.
const kmPerDegreeLat = 111.0

// Haversine returns the great-circle distance between two WGS84 coordinates
// in kilometers. Symmetric in its arguments (P11).
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}

// NearbyPin is one proximity result.
type NearbyPin struct {
	Pin        models.MapPin
	DistanceKM float64
}

// Nearby filters candidate pins to those within radiusKM of the origin,
// excluding the origin user, sorted by distance.
func Nearby(originLat, originLng float64, candidates []models.MapPin, radiusKM float64, excludeUserID int64) []NearbyPin {
	var nearby []NearbyPin
	for _, p := range candidates {
		if p.UserID == excludeUserID {
			continue
		}
		distance := Haversine(originLat, originLng, p.Latitude, p.Longitude)
		if distance <= radiusKM {
			nearby = append(nearby, NearbyPin{Pin: p, DistanceKM: distance})
		}
	}
	sort.Slice(nearby, func(i, j int) bool {
		return nearby[i].DistanceKM < nearby[j].DistanceKM
	})
	return nearby
}

// ProximityBounds computes the map crop around a point covering radiusKM,
// with a 20% buffer so the radius circle stays fully visible.
func ProximityBounds(lat, lng, radiusKM float64) Region {
	latOffset := radiusKM / kmPerDegreeLat
	lngOffset := radiusKM / (kmPerDegreeLat * math.Cos(lat*math.Pi/180))

	latOffset *= 1.2
	lngOffset *= 1.2

	return Region{
		Name:   "proximity",
		MinLat: lat - latOffset,
		MinLng: lng - lngOffset,
		MaxLat: lat + latOffset,
		MaxLng: lng + lngOffset,
	}
}

// RadiusPixels converts the query radius into pixels at the crop's scale.
func RadiusPixels(radiusKM, lat float64, region Region, width int) float64 {
	lngOffset := radiusKM / (kmPerDegreeLat * math.Cos(lat*math.Pi/180))
	return lngOffset / (region.MaxLng - region.MinLng) * float64(width)
}
