// Package geo provides great-circle distance, drive-time estimation and the
// coordinate resolution used by routing.
package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusMiles is the mean Earth radius used by the haversine formula.
	EarthRadiusMiles = 3958.8
	// AverageSpeedMph is the assumed driving speed for heuristic drive times.
	AverageSpeedMph = 30.0
)

// Coord is a WGS-84 latitude/longitude pair in degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within latitude/longitude bounds.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lng)
}

// Key is a stable string form used in cache keys.
func (c Coord) Key() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// GreatCircleMiles returns the haversine distance between a and b.
func GreatCircleMiles(a, b Coord) float64 {
	if a == b {
		return 0
	}
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMiles * math.Asin(math.Sqrt(h))
}

// EstimateDriveMinutes converts a straight-line distance into a coarse drive
// time. Any positive distance takes at least one minute.
func EstimateDriveMinutes(miles float64) int {
	if miles <= 0 || math.IsNaN(miles) {
		return 0
	}
	m := int(math.Round(miles / AverageSpeedMph * 60))
	if m < 1 {
		return 1
	}
	return m
}

// RoundMiles rounds to one decimal place.
func RoundMiles(miles float64) float64 {
	return math.Round(miles*10) / 10
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
