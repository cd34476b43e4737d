package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/team-204/control/internal/flight"
	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/telemetry"
	"github.com/team-204/control/internal/track"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	s := NewSqliteStore(filepath.Join(t.TempDir(), "flights.db"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testPoints(start time.Time, n int) []track.Point {
	points := make([]track.Point, n)
	for i := range points {
		points[i] = track.Point{
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Frame: telemetry.Frame{
				East:       float64(i),
				North:      float64(2 * i),
				Up:         float64(10 + i),
				Latitude:   -35.363261,
				Longitude:  149.165230,
				FlightTime: float64(i),
			},
		}
	}
	return points
}

func TestSqliteStore_Flights(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	type cfg struct {
		MaxRadius float64 `json:"maxRadius"`
	}

	first, err := s.CreateFlight(ctx, "sim", "sim://home", cfg{MaxRadius: 250})
	if err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}
	second, err := s.CreateFlight(ctx, "mavlink", "udp:127.0.0.1:14550", nil)
	if err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}
	if second <= first {
		t.Fatalf("flight IDs = %d, %d, want increasing", first, second)
	}

	origin := geo.Position{Latitude: -35.363261, Longitude: 149.165230}
	if err = s.FinishFlight(ctx, first, time.Now(), origin, flight.Grounded.String()); err != nil {
		t.Fatalf("FinishFlight() error = %v", err)
	}

	got, err := s.Flight(ctx, first)
	if err != nil {
		t.Fatalf("Flight() error = %v", err)
	}
	if got.Vehicle != "sim" || got.Address != "sim://home" {
		t.Errorf("Flight() = %+v, want sim at sim://home", got)
	}
	if got.Config == nil || *got.Config != `{"maxRadius":250}` {
		t.Errorf("Config = %v, want {\"maxRadius\":250}", got.Config)
	}
	if got.Origin == nil || *got.Origin != origin {
		t.Errorf("Origin = %v, want %v", got.Origin, origin)
	}
	if got.Outcome == nil || *got.Outcome != "grounded" {
		t.Errorf("Outcome = %v, want grounded", got.Outcome)
	}
	if got.EndTime == nil || got.EndTime.Before(got.StartTime) {
		t.Errorf("EndTime = %v, want after %v", got.EndTime, got.StartTime)
	}

	flights, err := s.Flights(ctx)
	if err != nil {
		t.Fatalf("Flights() error = %v", err)
	}
	if len(flights) != 2 {
		t.Fatalf("Flights() returned %d flights, want 2", len(flights))
	}
	if flights[1].Config != nil || flights[1].Origin != nil || flights[1].Outcome != nil {
		t.Errorf("unfinished flight = %+v, want no config, origin or outcome", flights[1])
	}

	if err = s.FinishFlight(ctx, 99, time.Now(), origin, "grounded"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("FinishFlight(unknown) error = %v, want sql.ErrNoRows", err)
	}
	if _, err = s.Flight(ctx, 99); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Flight(unknown) error = %v, want sql.ErrNoRows", err)
	}
}

func TestSqliteStore_ReadTrack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateFlight(ctx, "sim", "sim://home", nil)
	if err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	points := testPoints(start, 10)
	points[4].Frame = points[4].Frame.WithTemperature(21.5)

	if err = s.StoreFrames(ctx, id, points[:6]); err != nil {
		t.Fatalf("StoreFrames() error = %v", err)
	}
	if err = s.StoreFrames(ctx, id, points[6:]); err != nil {
		t.Fatalf("StoreFrames() error = %v", err)
	}
	if err = s.StoreFrames(ctx, id, nil); err != nil {
		t.Fatalf("StoreFrames(nil) error = %v", err)
	}

	tests := []struct {
		name      string
		opts      []ReaderOption
		wantFirst float64
		wantCount int
	}{
		{name: "all", wantFirst: 0, wantCount: 10},
		{name: "flight time range", opts: []ReaderOption{WithFlightTimeRange(2, 5)}, wantFirst: 2, wantCount: 4},
		{name: "start only", opts: []ReaderOption{WithStartFlightTime(7)}, wantFirst: 7, wantCount: 3},
		{name: "end only", opts: []ReaderOption{WithEndFlightTime(1)}, wantFirst: 0, wantCount: 2},
		{name: "altitude range", opts: []ReaderOption{WithAltitudeRange(15, 100)}, wantFirst: 5, wantCount: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := s.ReadTrack(ctx, id, tt.opts...)
			if err != nil {
				t.Fatalf("ReadTrack() error = %v", err)
			}
			defer r.Close()

			if r.Flight().ID != id {
				t.Errorf("Flight().ID = %d, want %d", r.Flight().ID, id)
			}

			got, err := ReadAll(ctx, r)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("read %d points, want %d", len(got), tt.wantCount)
			}
			if got[0].Frame.FlightTime != tt.wantFirst {
				t.Errorf("first flight time = %g, want %g", got[0].Frame.FlightTime, tt.wantFirst)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Frame.FlightTime < got[i-1].Frame.FlightTime {
					t.Fatalf("points out of order at %d", i)
				}
			}
		})
	}

	r, err := s.ReadTrack(ctx, id)
	if err != nil {
		t.Fatalf("ReadTrack() error = %v", err)
	}
	defer r.Close()

	got, err := ReadAll(ctx, r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if got[4].Frame.Temperature == nil || *got[4].Frame.Temperature != 21.5 {
		t.Errorf("temperature = %v, want 21.5", got[4].Frame.Temperature)
	}
	if got[3].Frame.Temperature != nil {
		t.Errorf("temperature = %v, want nil", *got[3].Frame.Temperature)
	}
	if !got[9].Timestamp.Equal(points[9].Timestamp) {
		t.Errorf("timestamp = %v, want %v", got[9].Timestamp, points[9].Timestamp)
	}
	if got[9].Frame != points[9].Frame {
		t.Errorf("frame = %+v, want %+v", got[9].Frame, points[9].Frame)
	}
}

func TestSqliteStore_ReadTrackErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateFlight(ctx, "sim", "sim://home", nil)
	if err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}

	tests := []struct {
		name     string
		flightID int64
		opts     []ReaderOption
	}{
		{name: "no flight id", flightID: 0},
		{name: "unknown flight", flightID: id + 1},
		{name: "inverted time range", flightID: id, opts: []ReaderOption{WithFlightTimeRange(5, 1)}},
		{name: "inverted altitude range", flightID: id, opts: []ReaderOption{WithAltitudeRange(50, 3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r, err := s.ReadTrack(ctx, tt.flightID, tt.opts...); err == nil {
				_ = r.Close()
				t.Error("ReadTrack() error = nil, want error")
			}
		})
	}

	t.Run("empty track", func(t *testing.T) {
		r, err := s.ReadTrack(ctx, id)
		if err != nil {
			t.Fatalf("ReadTrack() error = %v", err)
		}
		defer r.Close()

		if r.Next(ctx) {
			t.Error("Next() = true on a flight without frames")
		}
		if r.Error() != nil {
			t.Errorf("Error() = %v, want nil", r.Error())
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		if err := s.StoreFrames(ctx, id, testPoints(time.Now(), 2)); err != nil {
			t.Fatalf("StoreFrames() error = %v", err)
		}

		r, err := s.ReadTrack(ctx, id)
		if err != nil {
			t.Fatalf("ReadTrack() error = %v", err)
		}
		defer r.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		if r.Next(cancelled) {
			t.Error("Next() = true with a cancelled context")
		}
		if !errors.Is(r.Error(), context.Canceled) {
			t.Errorf("Error() = %v, want context.Canceled", r.Error())
		}
	})
}

func TestSqliteStore_Close(t *testing.T) {
	s := NewSqliteStore(filepath.Join(t.TempDir(), "flights.db"))

	if _, err := s.CreateFlight(context.Background(), "sim", "sim://home", nil); err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateFlight(ctx, "sim", "sim://home", nil)
	if err != nil {
		t.Fatalf("CreateFlight() error = %v", err)
	}

	r := NewRecorder(s, id, WithBatchSize(3))
	if r.FlightID() != id {
		t.Fatalf("FlightID() = %d, want %d", r.FlightID(), id)
	}

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	points := testPoints(start, 5)

	if err = r.RecordEvent(start, flight.Navigating, "Destination: {x: 0, y: 10, z: 10}"); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	for _, p := range points[:2] {
		if err = r.RecordFrame(p.Timestamp, p.Frame); err != nil {
			t.Fatalf("RecordFrame() error = %v", err)
		}
	}

	stored := func() int {
		t.Helper()
		tr, err := s.ReadTrack(ctx, id)
		if err != nil {
			t.Fatalf("ReadTrack() error = %v", err)
		}
		defer tr.Close()
		got, err := ReadAll(ctx, tr)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		return len(got)
	}

	if n := stored(); n != 0 {
		t.Fatalf("stored %d frames before the batch filled, want 0", n)
	}

	if err = r.RecordFrame(points[2].Timestamp, points[2].Frame); err != nil {
		t.Fatalf("RecordFrame() error = %v", err)
	}
	if n := stored(); n != 3 {
		t.Fatalf("stored %d frames after a full batch, want 3", n)
	}

	if err = r.RecordFrame(points[3].Timestamp, points[3].Frame); err != nil {
		t.Fatalf("RecordFrame() error = %v", err)
	}
	if err = r.RecordEvent(points[3].Timestamp, flight.Landing, "Destination Reached"); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if n := stored(); n != 4 {
		t.Fatalf("stored %d frames after an event, want 4", n)
	}

	if err = r.RecordFrame(points[4].Timestamp, points[4].Frame); err != nil {
		t.Fatalf("RecordFrame() error = %v", err)
	}

	origin := geo.Position{Latitude: -35.363261, Longitude: 149.165230}
	if err = r.Finish(ctx, origin, "completed"); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if n := stored(); n != 5 {
		t.Fatalf("stored %d frames after Finish, want 5", n)
	}

	events, err := s.Events(ctx, id)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	want := []track.Event{
		{Phase: "navigating", Message: "Destination: {x: 0, y: 10, z: 10}"},
		{Phase: "landing", Message: "Destination Reached"},
	}
	if len(events) != len(want) {
		t.Fatalf("Events() returned %d events, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i].Phase != want[i].Phase || events[i].Message != want[i].Message {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}

	f, err := s.Flight(ctx, id)
	if err != nil {
		t.Fatalf("Flight() error = %v", err)
	}
	if f.Outcome == nil || *f.Outcome != "completed" {
		t.Errorf("Outcome = %v, want completed", f.Outcome)
	}
}
