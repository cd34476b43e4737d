package storage

import (
	"database/sql"
	"time"
)

type flightData struct {
	ID              int64
	StartTime       time.Time
	Vehicle         string
	Address         string
	Config          sql.NullString
	EndTime         sql.NullTime
	OriginLatitude  sql.NullFloat64
	OriginLongitude sql.NullFloat64
	OriginAltitude  sql.NullFloat64
	Outcome         sql.NullString
}

// frameData is a row of the frames table
type frameData struct {
	FlightID    int64
	Timestamp   time.Time
	FlightTime  float64
	East        float64
	North       float64
	Up          float64
	Latitude    float64
	Longitude   float64
	Temperature sql.NullFloat64
}
