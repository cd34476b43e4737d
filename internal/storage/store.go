package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/track"
)

// Store keeps the flight history: one record per flight, the telemetry frames
// sent to the ground station and the phase changes and status messages of the
// sequencer. It is safe for concurrent use.
type Store interface {
	// CreateFlight registers a new flight and returns its unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - vehicle: Vehicle kind (e.g., "mavlink", "sim")
	//   - address: Connection string the vehicle was reached on
	//   - config: Optional flight configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - flightID: Unique identifier for the created flight
	//   - error: If creation fails or context is cancelled
	CreateFlight(ctx context.Context, vehicle, address string, config any) (flightID int64, err error)

	// FinishFlight stamps a flight with the time it ended, the origin the plan
	// was anchored at and the final phase. A zero origin is stored as unknown.
	FinishFlight(ctx context.Context, flightID int64, at time.Time, origin geo.Position, outcome string) error

	// Flight retrieves a flight by its ID.
	//
	// Returns:
	//   - flight: Pointer to flight data
	//   - error: If retrieval fails, the flight does not exist or context is cancelled
	Flight(ctx context.Context, id int64) (flight *track.Flight, err error)

	// Flights returns all recorded flights ordered by ID.
	Flights(ctx context.Context) (flights []*track.Flight, err error)

	// StoreFrames saves telemetry frames of a flight in a single atomic transaction.
	StoreFrames(ctx context.Context, flightID int64, points []track.Point) error

	// StoreEvent saves a phase change or status message.
	StoreEvent(ctx context.Context, flightID int64, at time.Time, phase, message string) error

	// Events returns the events of a flight in the order they were stored.
	Events(ctx context.Context, flightID int64) (events []track.Event, err error)

	// ReadTrack creates a TrackReader over the frames of a flight, ordered by
	// flight time. The reader must be closed after use.
	ReadTrack(ctx context.Context, flightID int64, opts ...ReaderOption) (TrackReader, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}
