package telemetry

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/team-204/control/internal/geo"
)

func TestNewFrame(t *testing.T) {
	home := geo.Position{Latitude: 33.194, Longitude: -87.513}
	current := geo.Offset(home, 20, -5)
	current.Altitude = 12

	f := NewFrame(home, current, 1500*time.Millisecond)

	if math.Abs(f.East-(-5)) > 1e-6 || math.Abs(f.North-20) > 1e-6 {
		t.Errorf("expected (x=-5, y=20), got (x=%g, y=%g)", f.East, f.North)
	}
	if f.Up != 12 {
		t.Errorf("expected z=12, got %g", f.Up)
	}
	if f.FlightTime != 1.5 {
		t.Errorf("expected time 1.5, got %g", f.FlightTime)
	}
	if f.Temperature != nil {
		t.Errorf("expected no temperature, got %g", *f.Temperature)
	}
	if f.Latitude != current.Latitude || f.Longitude != current.Longitude {
		t.Errorf("expected (%g, %g), got (%g, %g)", current.Latitude, current.Longitude, f.Latitude, f.Longitude)
	}
}

func TestFrame_JSONFields(t *testing.T) {
	f := Frame{East: 1, North: 2, Up: 3, Latitude: 4, Longitude: 5, FlightTime: 6}

	p, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err = json.Unmarshal(p, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"x", "y", "z", "lat", "lon", "time"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("expected field %q in %s", key, p)
		}
	}
	if _, ok := fields["temp"]; ok {
		t.Errorf("expected temp to be omitted, got %s", p)
	}

	p, _ = json.Marshal(f.WithTemperature(21.5))
	if err = json.Unmarshal(p, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["temp"] != 21.5 {
		t.Errorf("expected temp 21.5, got %v", fields["temp"])
	}
}
