package flight

import "github.com/team-204/control/internal/geo"

// PlusPattern returns a "+" shaped path: radius meters north, south, east and
// west of the origin at altitude.
func PlusPattern(radius, altitude float64) []geo.OffsetPoint {
	return []geo.OffsetPoint{
		{North: radius, Up: altitude},
		{North: -radius, Up: altitude},
		{East: radius, Up: altitude},
		{East: -radius, Up: altitude},
	}
}
