package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/team-204/control/internal/flight"
	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/telemetry"
	"github.com/team-204/control/internal/track"
)

const DefaultBatchSize = 10

var _ flight.Recorder = (*Recorder)(nil)

// WithLogger sets the logger of a Recorder.
func WithLogger(logger *slog.Logger) func(r *Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithBatchSize sets how many frames are buffered before they are written.
func WithBatchSize(n int) func(r *Recorder) {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// Recorder writes the history of one flight to a Store. Frames are buffered
// and written in batches; an event flushes the buffer first so frames and
// events keep their relative order on disk.
//
// Recording is optional and off unless storage is enabled. It keeps a copy
// of the telemetry for later review; the ground station still receives every
// frame as it is produced and nothing is read back during a flight.
type Recorder struct {
	store     Store
	flightID  int64
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	pending []track.Point
}

// NewRecorder binds a Recorder to flightID.
func NewRecorder(store Store, flightID int64, opts ...func(r *Recorder)) *Recorder {
	r := &Recorder{
		store:     store,
		flightID:  flightID,
		batchSize: DefaultBatchSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.Int64("flight", flightID))
	return r
}

// FlightID returns the flight the recorder writes to.
func (r *Recorder) FlightID() int64 {
	return r.flightID
}

func (r *Recorder) RecordFrame(at time.Time, frame telemetry.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, track.Point{Timestamp: at, Frame: frame})
	if len(r.pending) < r.batchSize {
		return nil
	}
	return r.flushLocked()
}

func (r *Recorder) RecordEvent(at time.Time, phase flight.Phase, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.flushLocked(); err != nil {
		return err
	}
	if err := r.store.StoreEvent(context.Background(), r.flightID, at, phase.String(), message); err != nil {
		return fmt.Errorf("storing event: %w", err)
	}
	return nil
}

// Flush writes any buffered frames.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.store.StoreFrames(context.Background(), r.flightID, r.pending); err != nil {
		return fmt.Errorf("storing %d frames: %w", len(r.pending), err)
	}
	r.logger.Debug("frames stored", slog.Int("count", len(r.pending)))
	r.pending = r.pending[:0]
	return nil
}

// Finish flushes buffered frames and stamps the flight with its origin and
// outcome.
func (r *Recorder) Finish(ctx context.Context, origin geo.Position, outcome string) error {
	if err := r.Flush(); err != nil {
		return err
	}
	if err := r.store.FinishFlight(ctx, r.flightID, time.Now(), origin, outcome); err != nil {
		return fmt.Errorf("finishing flight: %w", err)
	}
	return nil
}
