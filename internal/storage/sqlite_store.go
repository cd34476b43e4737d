package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/track"
)

var _ Store = (*SqliteStore)(nil)

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the Sqlite database at dbPath.
// Connections are opened and the schema is created on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

// Path returns the database file of the store.
func (s *SqliteStore) Path() string {
	return s.dbPath
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateFlight(ctx context.Context, vehicle, address string, config any) (flightID int64, err error) {
	var configData sql.NullString

	switch c := config.(type) {
	case nil:
	case string:
		configData = sql.NullString{String: c, Valid: true}
	case []byte:
		configData = sql.NullString{String: string(c), Valid: true}
	default:
		var p []byte
		if p, err = json.Marshal(c); err != nil {
			err = fmt.Errorf("marshaling config: %w", err)
			return
		}
		configData = sql.NullString{String: string(p), Valid: true}
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertFlightSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, time.Now().UTC(), vehicle, address, configData)
	if err != nil {
		err = fmt.Errorf("inserting flight: %w", err)
		return
	}

	flightID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting flight ID: %w", err)
	}
	return
}

func (s *SqliteStore) FinishFlight(ctx context.Context, flightID int64, at time.Time, origin geo.Position, outcome string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	var lat, lon, alt sql.NullFloat64
	if origin != (geo.Position{}) {
		lat = sql.NullFloat64{Float64: origin.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: origin.Longitude, Valid: true}
		alt = sql.NullFloat64{Float64: origin.Altitude, Valid: true}
	}

	result, err := db.ExecContext(ctx, finishFlightSQL, at.UTC(), lat, lon, alt, outcome, flightID)
	if err != nil {
		return fmt.Errorf("updating flight: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("flight %d: %w", flightID, sql.ErrNoRows)
	}
	return nil
}

func (s *SqliteStore) Flight(ctx context.Context, id int64) (flight *track.Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectFlightSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	data, err := scanFlight(stmt.QueryRowContext(ctx, id))
	if err != nil {
		err = fmt.Errorf("scanning flight: %w", err)
		return
	}

	return data.toFlight(), nil
}

func (s *SqliteStore) Flights(ctx context.Context) (flights []*track.Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectFlightsSQL)
	if err != nil {
		err = fmt.Errorf("querying flights: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data *flightData
		if data, err = scanFlight(rows); err != nil {
			err = fmt.Errorf("scanning flight: %w", err)
			return
		}
		flights = append(flights, data.toFlight())
	}
	err = rows.Err()
	return
}

const framePlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"

func (s *SqliteStore) StoreFrames(ctx context.Context, flightID int64, points []track.Point) (err error) {
	if len(points) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	values := make([]any, 0, len(points)*9)

	var sb strings.Builder
	sb.WriteString(insertFrameSQL)

	for i, p := range points {
		data := toFrameData(flightID, p.Timestamp, p.Frame)
		values = append(values,
			data.FlightID,
			data.Timestamp,
			data.FlightTime,
			data.East,
			data.North,
			data.Up,
			data.Latitude,
			data.Longitude,
			data.Temperature,
		)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(framePlaceholder)
	}

	if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting frames: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *SqliteStore) StoreEvent(ctx context.Context, flightID int64, at time.Time, phase, message string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, flightID, at.UTC(), phase, message); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *SqliteStore) Events(ctx context.Context, flightID int64) (events []track.Event, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectEventsSQL, flightID)
	if err != nil {
		err = fmt.Errorf("querying events: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var e track.Event
		if err = rows.Scan(&e.Timestamp, &e.Phase, &e.Message); err != nil {
			err = fmt.Errorf("scanning event: %w", err)
			return
		}
		events = append(events, e)
	}
	err = rows.Err()
	return
}

// ReadTrack creates a TrackReader over the telemetry frames of a flight.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - flightID: Unique identifier of the flight to read from
//   - opts: Optional filters (WithFlightTimeRange, WithAltitudeRange)
//
// The returned TrackReader must be closed after use to release database resources.
// Each reader instance should only be used from a single goroutine.
//
// Returns error if reader creation fails or the flight doesn't exist.
func (s *SqliteStore) ReadTrack(ctx context.Context, flightID int64, opts ...ReaderOption) (TrackReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	tr, err := newSqliteTrackReader(ctx, db, flightID, opts...)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
