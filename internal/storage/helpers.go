package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/telemetry"
	"github.com/team-204/control/internal/track"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func toFrameData(flightID int64, at time.Time, f telemetry.Frame) *frameData {
	return &frameData{
		FlightID:   flightID,
		Timestamp:  at.UTC(),
		FlightTime: f.FlightTime,
		East:       f.East,
		North:      f.North,
		Up:         f.Up,
		Latitude:   f.Latitude,
		Longitude:  f.Longitude,
		Temperature: sql.NullFloat64{
			Float64: toSQLNullType[float64](f.Temperature),
			Valid:   f.Temperature != nil,
		},
	}
}

func toSQLNullType[T float64 | int64, Y float64 | int | int64](f *Y) T {
	if f == nil {
		return 0
	}
	return T(*f)
}

func (d *flightData) toFlight() *track.Flight {
	f := track.Flight{
		ID:        d.ID,
		StartTime: d.StartTime,
		Vehicle:   d.Vehicle,
		Address:   d.Address,
	}
	if d.Config.Valid {
		f.Config = &d.Config.String
	}
	if d.EndTime.Valid {
		f.EndTime = &d.EndTime.Time
	}
	if d.OriginLatitude.Valid && d.OriginLongitude.Valid {
		f.Origin = &geo.Position{
			Latitude:  d.OriginLatitude.Float64,
			Longitude: d.OriginLongitude.Float64,
			Altitude:  d.OriginAltitude.Float64,
		}
	}
	if d.Outcome.Valid {
		f.Outcome = &d.Outcome.String
	}
	return &f
}

func (d *frameData) toPoint() track.Point {
	p := track.Point{
		Timestamp: d.Timestamp,
		Frame: telemetry.Frame{
			East:       d.East,
			North:      d.North,
			Up:         d.Up,
			Latitude:   d.Latitude,
			Longitude:  d.Longitude,
			FlightTime: d.FlightTime,
		},
	}
	if d.Temperature.Valid {
		p.Frame = p.Frame.WithTemperature(d.Temperature.Float64)
	}
	return p
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlight(row rowScanner) (*flightData, error) {
	var d flightData
	err := row.Scan(
		&d.ID,
		&d.StartTime,
		&d.Vehicle,
		&d.Address,
		&d.Config,
		&d.EndTime,
		&d.OriginLatitude,
		&d.OriginLongitude,
		&d.OriginAltitude,
		&d.Outcome,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
