// Package calculator provides GPS trip calculations: great-circle distances
// between geographic coordinates and the trajectory statistics derived from
// an ordered sequence of timestamped samples.
package calculator

import (
	"math"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by the spherical model
	EarthRadiusMeters = 6371000.0
)

// Haversine calculates the great-circle distance in meters between two points
// on the Earth's surface given their latitudes and longitudes in decimal degrees
//
// Formula (half-angle form, sin²(x/2) = (1 − cos x)/2):
// a = ½ − cos(Δφ)/2 + cos φ1 ⋅ cos φ2 ⋅ (1 − cos Δλ)/2
// d = 2 ⋅ R ⋅ asin(√a)
//
// where:
// φ is latitude, λ is longitude, R is earth's radius (6371 km)
//
// Ranges are not validated; a is clamped to [0, 1] so rounding error can
// never yield NaN.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := degreesToRadians(lat1)
	lat2Rad := degreesToRadians(lat2)
	deltaLat := degreesToRadians(lat2 - lat1)
	deltaLon := degreesToRadians(lon2 - lon1)

	a := 0.5 - math.Cos(deltaLat)/2 +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*(1-math.Cos(deltaLon))/2

	a = clamp(a, 0, 1)

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

// degreesToRadians converts degrees to radians
func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
