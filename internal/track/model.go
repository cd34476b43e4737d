package track

import (
	"math"
	"time"

	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/telemetry"
)

// Flight describes a single recorded flight of one vehicle.
// Origin and outcome are filled in once the flight has finished.
type Flight struct {
	ID        int64         `json:"ID"`                      // Unique identifier for the flight
	StartTime time.Time     `json:"startTime"`               // When the recording began
	Vehicle   string        `json:"vehicle"`                 // Vehicle kind (e.g., "mavlink", "sim")
	Address   string        `json:"address"`                 // Connection string of the vehicle
	Config    *string       `json:"config,string,omitempty"` // Optional flight configuration in JSON format
	EndTime   *time.Time    `json:"endTime,omitempty"`       // When the vehicle was back on the ground
	Origin    *geo.Position `json:"origin,omitempty"`        // Position at which the plan was anchored
	Outcome   *string       `json:"outcome,omitempty"`       // Final phase of the flight
}

// Point is one telemetry frame of a flight, stamped with wall-clock time.
type Point struct {
	Timestamp time.Time       `json:"timestamp"`
	Frame     telemetry.Frame `json:"frame"`
}

// Event is a phase change or status message emitted during a flight.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
}

// Summary aggregates a recorded track.
type Summary struct {
	Points      int
	Duration    time.Duration // Flight time covered by the track
	Travelled   float64       // Horizontal path length in meters
	MaxRange    float64       // Furthest horizontal distance from home in meters
	MaxAltitude float64
	MinAltitude float64

	// Temperature extremes; nil when no frame carried a reading
	MinTemperature *float64
	MaxTemperature *float64
}

// Summarize walks the points in order. An empty track yields a zero Summary.
func Summarize(points []Point) Summary {
	var s Summary
	if len(points) == 0 {
		return s
	}

	s.Points = len(points)
	s.MinAltitude = points[0].Frame.Up
	s.MaxAltitude = points[0].Frame.Up

	first, last := points[0].Frame.FlightTime, points[0].Frame.FlightTime
	for i, p := range points {
		f := p.Frame

		first = math.Min(first, f.FlightTime)
		last = math.Max(last, f.FlightTime)
		s.MinAltitude = math.Min(s.MinAltitude, f.Up)
		s.MaxAltitude = math.Max(s.MaxAltitude, f.Up)
		s.MaxRange = math.Max(s.MaxRange, math.Hypot(f.East, f.North))

		if i > 0 {
			prev := points[i-1].Frame
			s.Travelled += math.Hypot(f.East-prev.East, f.North-prev.North)
		}

		if f.Temperature != nil {
			t := *f.Temperature
			if s.MinTemperature == nil || t < *s.MinTemperature {
				s.MinTemperature = &t
			}
			if s.MaxTemperature == nil || t > *s.MaxTemperature {
				s.MaxTemperature = &t
			}
		}
	}

	s.Duration = time.Duration((last - first) * float64(time.Second))
	return s
}
