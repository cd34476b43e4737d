package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadius is the average radius of a spherical earth in meters.
	EarthRadius = 6371001.0

	// MetersPerDegree is the empirical scale applied by Distance to raw degree
	// differences. It is accurate for latitude only.
	MetersPerDegree = 1.113195e5
)

// Position is a GPS reading. Altitude is relative to the launch point and
// Timestamp is in seconds (0 when the position was computed, not read).
type Position struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
	Timestamp float64 `json:"time"`
}

func (p Position) String() string {
	return fmt.Sprintf("Position(%.7f, %.7f, %.2f, %g)", p.Latitude, p.Longitude, p.Altitude, p.Timestamp)
}

// OffsetPoint is a waypoint as sent by the ground station: meters east and
// north of the origin and meters above it.
type OffsetPoint struct {
	East  float64 `json:"x"`
	North float64 `json:"y"`
	Up    float64 `json:"z"`
}

func (o OffsetPoint) String() string {
	return fmt.Sprintf("{x: %g, y: %g, z: %g}", o.East, o.North, o.Up)
}

// Offset returns the position north and east meters away from origin using a
// flat-earth approximation. The result keeps the origin altitude and carries
// no timestamp.
func Offset(origin Position, north, east float64) Position {
	latOffset := north / EarthRadius
	lonOffset := east / (EarthRadius * math.Cos(math.Pi*origin.Latitude/180))

	return Position{
		Latitude:  origin.Latitude + (latOffset * 180 / math.Pi),
		Longitude: origin.Longitude + (lonOffset * 180 / math.Pi),
		Altitude:  origin.Altitude,
	}
}

// Relative returns the east and north offsets in meters of point from origin.
// It is the inverse of Offset.
func Relative(origin, point Position) (east, north float64) {
	lonOffset := (point.Longitude - origin.Longitude) * (math.Pi / 180)
	latOffset := (point.Latitude - origin.Latitude) * (math.Pi / 180)

	east = lonOffset * (EarthRadius * math.Cos(math.Pi*origin.Latitude/180))
	north = latOffset * EarthRadius
	return
}

// Distance returns the approximate distance in meters between a and b.
// Degree differences are scaled by a single constant, so the longitude term
// grows less accurate away from the equator. Geofence limits are tuned
// against this bias; keep it as is.
func Distance(a, b Position) float64 {
	latDiff := a.Latitude - b.Latitude
	lonDiff := a.Longitude - b.Longitude
	return math.Sqrt((latDiff*latDiff)+(lonDiff*lonDiff)) * MetersPerDegree
}
