package telemetry

import (
	"time"

	"github.com/team-204/control/internal/geo"
)

// Frame is the telemetry sent to the ground station once per control tick
type Frame struct {
	East        float64  `json:"x"`              // Meters east of home
	North       float64  `json:"y"`              // Meters north of home
	Up          float64  `json:"z"`              // Meters above home
	Temperature *float64 `json:"temp,omitempty"` // Degrees Celsius, absent when the sensor read failed
	Latitude    float64  `json:"lat"`            // GPS latitude in degrees
	Longitude   float64  `json:"lon"`            // GPS longitude in degrees
	FlightTime  float64  `json:"time"`           // Seconds since the start of the flight path
}

// NewFrame packages the vehicle position relative to home.
func NewFrame(home, current geo.Position, flightTime time.Duration) Frame {
	east, north := geo.Relative(home, current)
	return Frame{
		East:       east,
		North:      north,
		Up:         current.Altitude,
		Latitude:   current.Latitude,
		Longitude:  current.Longitude,
		FlightTime: flightTime.Seconds(),
	}
}

// WithTemperature returns a copy of the frame carrying a temperature reading.
func (f Frame) WithTemperature(celsius float64) Frame {
	f.Temperature = &celsius
	return f
}
