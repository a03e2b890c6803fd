package geo

import (
	"math"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000

// Result is the outcome of a geofence check.
type Result struct {
	DistanceMeters float64
	WithinRadius   bool
}

// HaversineDistance returns the great-circle distance between two points
// in meters.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	lat1Rad := lat1 * (math.Pi / 180.0)
	lat2Rad := lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1Rad)*math.Cos(lat2Rad)

	// Rounding can push a a hair above 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Check measures the distance from pos to center and compares it against
// radiusMeters. Non-finite input fails closed.
func Check(pos, center attendance.Coordinates, radiusMeters float64) Result {
	if !finite(pos.Latitude, pos.Longitude, center.Latitude, center.Longitude, radiusMeters) || radiusMeters < 0 {
		return Result{DistanceMeters: math.Inf(1), WithinRadius: false}
	}

	d := HaversineDistance(pos.Latitude, pos.Longitude, center.Latitude, center.Longitude)
	return Result{DistanceMeters: d, WithinRadius: d <= radiusMeters}
}

// CheckLocation runs Check against a work location.
func CheckLocation(pos attendance.Coordinates, loc attendance.WorkLocation) Result {
	center := attendance.Coordinates{Latitude: loc.Latitude, Longitude: loc.Longitude}
	return Check(pos, center, loc.RadiusMeters)
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
