package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"
	"github.com/team-204/control/internal/track"
)

// TrackReader provides an iterator-based interface for reading the telemetry
// track of a flight with optional flight time and altitude filtering.
type TrackReader interface {
	// Flight returns metadata about the flight this reader is accessing.
	Flight() *track.Flight

	// Next advances the iterator and returns true if there is another point
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current point in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *track.Point

	// Error returns any error that occurred during iteration.
	// If Next() returns false, Error() should be checked to distinguish between
	// end of data and an error condition.
	Error() error

	// Close releases any resources associated with the reader.
	// After Close is called, the reader should not be used.
	Close() error
}

// ReaderOption configures a TrackReader with specific filtering criteria.
type ReaderOption func(*SqliteTrackReader)

// WithStartFlightTime excludes frames sent earlier than t seconds into the flight.
func WithStartFlightTime(t float64) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.startTime = &t
	}
}

// WithEndFlightTime excludes frames sent later than t seconds into the flight.
func WithEndFlightTime(t float64) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.endTime = &t
	}
}

// WithFlightTimeRange sets both start and end flight time filters.
// This is a convenience function equivalent to applying both WithStartFlightTime
// and WithEndFlightTime.
func WithFlightTimeRange(start, end float64) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.startTime = &start
		r.endTime = &end
	}
}

// WithAltitudeRange keeps only frames with an altitude between minAlt and maxAlt.
func WithAltitudeRange(minAlt, maxAlt float64) ReaderOption {
	return func(r *SqliteTrackReader) {
		r.minAlt = &minAlt
		r.maxAlt = &maxAlt
	}
}

// newSqliteTrackReader creates a TrackReader over the frames of a flight,
// applying optional filters.
func newSqliteTrackReader(ctx context.Context, db *sql.DB, flightID int64, opts ...ReaderOption) (*SqliteTrackReader, error) {
	tr := &SqliteTrackReader{
		db:       db,
		flightID: flightID,
	}
	for _, opt := range opts {
		opt(tr)
	}
	if err := tr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return tr, nil
}

// SqliteTrackReader implements TrackReader for SQLite database backend.
type SqliteTrackReader struct {
	db *sql.DB

	flightID int64
	flight   *track.Flight

	startTime *float64 // Optional start of flight time filter
	endTime   *float64 // Optional end of flight time filter
	minAlt    *float64 // Optional minimum altitude filter
	maxAlt    *float64 // Optional maximum altitude filter

	current *track.Point
	rows    *sql.Rows
	err     error
}

func (tr *SqliteTrackReader) init(ctx context.Context) error {
	if tr.db == nil {
		return errors.New("database connection required")
	}
	if tr.flightID <= 0 {
		return errors.New("flight ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading flight", fn: tr.loadFlight},
		{msg: "initializing filters", fn: tr.initFilters},
		{msg: "initializing query", fn: tr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (tr *SqliteTrackReader) loadFlight(ctx context.Context) (err error) {
	stmt, err := tr.db.PrepareContext(ctx, selectFlightSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	data, err := scanFlight(stmt.QueryRowContext(ctx, tr.flightID))
	if err != nil {
		return fmt.Errorf("querying flight: %w", err)
	}

	tr.flight = data.toFlight()
	return
}

func (tr *SqliteTrackReader) initFilters(ctx context.Context) (err error) {
	if tr.startTime != nil && tr.endTime != nil && *tr.startTime > *tr.endTime {
		return fmt.Errorf("start flight time %g is after end flight time %g", *tr.startTime, *tr.endTime)
	}
	if tr.minAlt != nil && tr.maxAlt != nil && *tr.minAlt > *tr.maxAlt {
		return fmt.Errorf("min altitude %g is greater than max altitude %g", *tr.minAlt, *tr.maxAlt)
	}

	if tr.minAlt == nil {
		v := -math.MaxFloat64
		tr.minAlt = &v
	}
	if tr.maxAlt == nil {
		v := math.MaxFloat64
		tr.maxAlt = &v
	}
	if tr.startTime != nil && tr.endTime != nil {
		return nil
	}

	stmt, err := tr.db.PrepareContext(ctx, selectFlightTimeRangeSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var start, end float64
	if err = stmt.QueryRowContext(ctx, tr.flightID).Scan(&start, &end); err != nil {
		return fmt.Errorf("scanning filters data: %w", err)
	}

	if tr.startTime == nil {
		tr.startTime = &start
	}
	if tr.endTime == nil {
		tr.endTime = &end
	}
	return nil
}

func (tr *SqliteTrackReader) initQuery(ctx context.Context) (err error) {
	tr.rows, err = tr.db.QueryContext(ctx, selectFramesSQL, tr.flightID, *tr.startTime, *tr.endTime, *tr.minAlt, *tr.maxAlt)
	return
}

func (tr *SqliteTrackReader) Flight() *track.Flight {
	return tr.flight
}

func (tr *SqliteTrackReader) Next(ctx context.Context) bool {
	if tr.err != nil || tr.rows == nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		tr.err = err
		return false
	}

	if !tr.rows.Next() {
		tr.err = tr.rows.Err()
		tr.current = nil
		return false
	}

	var data frameData
	err := tr.rows.Scan(
		&data.Timestamp,
		&data.FlightTime,
		&data.East,
		&data.North,
		&data.Up,
		&data.Latitude,
		&data.Longitude,
		&data.Temperature,
	)
	if err != nil {
		tr.err = fmt.Errorf("scanning frame: %w", err)
		return false
	}

	p := data.toPoint()
	tr.current = &p
	return true
}

func (tr *SqliteTrackReader) Current() *track.Point {
	return tr.current
}

func (tr *SqliteTrackReader) Error() error {
	return tr.err
}

func (tr *SqliteTrackReader) Close() error {
	if tr.rows == nil {
		return nil
	}
	err := tr.rows.Close()
	tr.rows = nil
	return err
}

// ReadAll drains r into a slice.
func ReadAll(ctx context.Context, r TrackReader) ([]track.Point, error) {
	var points []track.Point
	for r.Next(ctx) {
		points = append(points, *r.Current())
	}
	if err := r.Error(); err != nil {
		return nil, err
	}
	return points, nil
}
