package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/team-204/control/internal/flight"
	"github.com/team-204/control/internal/safety"
	"github.com/team-204/control/internal/telemetry"
)

func TestFlightCollector_Phase(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewFlightCollector(reg)
	if err != nil {
		t.Fatalf("NewFlightCollector: %v", err)
	}

	c.PhaseChanged(flight.TakingOff)
	c.PhaseChanged(flight.Navigating)

	for _, p := range flight.Phases() {
		want := 0.0
		if p == flight.Navigating {
			want = 1
		}
		if got := testutil.ToFloat64(c.Phase.WithLabelValues(p.String())); got != want {
			t.Errorf("control_flight_phase{phase=%q} = %v, want %v", p, got, want)
		}
	}
}

func TestFlightCollector_Frames(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewFlightCollector(reg)
	if err != nil {
		t.Fatalf("NewFlightCollector: %v", err)
	}

	c.FrameSent(telemetry.Frame{East: 3, North: 4, Up: 12, FlightTime: 0})
	c.FrameSent(telemetry.Frame{East: 6, North: 8, Up: 15, FlightTime: 1}.WithTemperature(22))

	if got := testutil.ToFloat64(c.Frames); got != 2 {
		t.Errorf("control_telemetry_frames_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Altitude); got != 15 {
		t.Errorf("control_altitude_meters = %v, want 15", got)
	}
	if got := testutil.ToFloat64(c.Range); got != 10 {
		t.Errorf("control_range_meters = %v, want 10", got)
	}
	if got := testutil.ToFloat64(c.Temperature); got != 22 {
		t.Errorf("control_temperature_celsius = %v, want 22", got)
	}
	if got := testutil.CollectAndCount(c.FrameIntervals); got != 1 {
		t.Errorf("frame interval series = %d, want 1", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "control_telemetry_frame_interval_seconds" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 1 || h.GetSampleSum() != 1 {
			t.Errorf("frame interval count=%d sum=%v, want 1 and 1", h.GetSampleCount(), h.GetSampleSum())
		}
	}
}

func TestFlightCollector_Events(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewFlightCollector(reg)
	if err != nil {
		t.Fatalf("NewFlightCollector: %v", err)
	}

	c.BreachDetected(safety.Breach{Bound: safety.BoundRadius, Limit: 5, Value: 7})
	c.BreachDetected(safety.Breach{Bound: safety.BoundRadius, Limit: 5, Value: 8})
	c.BreachDetected(safety.Breach{Bound: safety.BoundMaxAltitude, Limit: 30, Value: 31})
	c.WaypointReached()
	c.SensorFailed()
	c.SensorFailed()

	if got := testutil.ToFloat64(c.Breaches.WithLabelValues("radius")); got != 2 {
		t.Errorf("breaches{bound=radius} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Breaches.WithLabelValues("max-altitude")); got != 1 {
		t.Errorf("breaches{bound=max-altitude} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Waypoints); got != 1 {
		t.Errorf("control_waypoints_reached_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SensorFailures); got != 2 {
		t.Errorf("control_sensor_failures_total = %v, want 2", got)
	}
}

func TestFlightCollector_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewFlightCollector(reg)
	if err != nil {
		t.Fatalf("NewFlightCollector: %v", err)
	}
	second, err := NewFlightCollector(reg)
	if err != nil {
		t.Fatalf("second NewFlightCollector: %v", err)
	}

	first.WaypointReached()
	if got := testutil.ToFloat64(second.Waypoints); got != 1 {
		t.Errorf("shared counter = %v, want 1", got)
	}
}

func TestFlightCollector_NilSafe(t *testing.T) {
	var c *FlightCollector
	c.PhaseChanged(flight.Armed)
	c.FrameSent(telemetry.Frame{})
	c.BreachDetected(safety.Breach{})
	c.WaypointReached()
	c.SensorFailed()
}

func TestFlightCollector_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewFlightCollector(reg)
	if err != nil {
		t.Fatalf("NewFlightCollector: %v", err)
	}
	c.WaypointReached()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), "control_waypoints_reached_total 1") {
		t.Errorf("metrics output missing waypoint counter:\n%s", body)
	}
}
