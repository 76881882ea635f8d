// Package geo provides the pure geometry used by location ingestion:
// great-circle distance, geofence containment and privacy blur.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// Earth and grid constants.
const (
	EarthRadiusM    = 6371000.0
	MetersPerDegLat = 111320.0

	MinLat = -90.0
	MaxLat = 90.0
	MinLng = -180.0
	MaxLng = 180.0
)

// ErrInvalidCoordinates is returned for non-finite or out-of-range coordinates.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Point is a WGS84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ValidatePoint rejects NaN, infinities and coordinates outside
// [-90,90] x [-180,180].
func ValidatePoint(p Point) error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return fmt.Errorf("%w: non-finite value", ErrInvalidCoordinates)
	}
	if p.Lat < MinLat || p.Lat > MaxLat {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidCoordinates, p.Lat)
	}
	if p.Lng < MinLng || p.Lng > MaxLng {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidCoordinates, p.Lng)
	}
	return nil
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)

	sinDLat := math.Sin(dLat / 2)
	sinDLng := math.Sin(dLng / 2)
	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLng*sinDLng
	// Rounding can push h a hair above 1 for antipodal points.
	h = math.Min(1, h)

	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// Contains reports whether p lies within radiusM meters of center.
// The boundary counts as inside.
func Contains(p, center Point, radiusM float64) bool {
	return Distance(p, center) <= radiusM
}

// Blur snaps p to a grid whose cell edge is meters long. Latitude and
// longitude are quantised independently; the longitude step is derived
// from the snapped latitude so that blurring twice with the same size is
// a no-op. Non-positive meters leave p unchanged.
func Blur(p Point, meters float64) Point {
	if meters <= 0 || math.IsNaN(meters) {
		return p
	}

	lat := clamp(snap(p.Lat, meters/MetersPerDegLat), MinLat, MaxLat)

	// cos(lat) collapses to ~0 at the poles. Divisors under one metre per
	// degree are clamped to one, not just an exact zero, so the longitude
	// step stays finite and bounded near the poles.
	lngScale := MetersPerDegLat * math.Cos(toRad(lat))
	if lngScale < 1 {
		lngScale = 1
	}
	lng := clamp(snap(p.Lng, meters/lngScale), MinLng, MaxLng)

	return Point{Lat: lat, Lng: lng}
}

func snap(v, step float64) float64 {
	return math.Round(v/step) * step
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
