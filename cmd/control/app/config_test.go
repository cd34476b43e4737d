package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/team-204/control/internal/flight"
	"github.com/team-204/control/internal/safety"
	"github.com/team-204/control/internal/vehicle"
)

func TestNewConfig_IsValid(t *testing.T) {
	if err := NewConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(`
settings:
  logLevel: debug
  logFile: ""
vehicle:
  type: sim
  bootDelay: 2s
  sim:
    latitude: -33.86
    longitude: 151.21
    speed: 8
groundStation:
  enabled: false
sensor:
  timeout: 250ms
flight:
  tick: 200ms
  takeoffAltitude: 15
limits:
  planning:
    maxRadius: 100
    maxAltitude: 40
    minAltitude: 5
plan:
  source: plus
  radius: 20
  altitude: 20
storage:
  enabled: true
  batchSize: 25
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if config.Settings.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug log level, got %s", config.Settings.LogLevel)
	}
	if config.Settings.LogFile != "" {
		t.Errorf("expected log file disabled, got %q", config.Settings.LogFile)
	}
	if config.Vehicle.Type != VehicleSim {
		t.Errorf("expected sim vehicle, got %s", config.Vehicle.Type)
	}
	if config.Vehicle.BootDelay.Std() != 2*time.Second {
		t.Errorf("expected boot delay 2s, got %s", config.Vehicle.BootDelay)
	}
	if config.Vehicle.Sim.Latitude != -33.86 || config.Vehicle.Sim.Speed != 8 {
		t.Errorf("unexpected sim section: %+v", config.Vehicle.Sim)
	}
	if config.Sensor.Timeout.Std() != 250*time.Millisecond {
		t.Errorf("expected sensor timeout 250ms, got %s", config.Sensor.Timeout)
	}
	if config.Sensor.Endpoint != defaultSensorAddress {
		t.Errorf("expected default sensor endpoint, got %q", config.Sensor.Endpoint)
	}
	if config.Flight.WaypointTicks != flight.DefaultWaypointTicks {
		t.Errorf("expected default waypoint ticks, got %d", config.Flight.WaypointTicks)
	}
	if config.Storage.BatchSize != 25 || config.Storage.DataDirectory != defaultStorageDir {
		t.Errorf("unexpected storage section: %+v", config.Storage)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "malformed yaml",
			yaml: "vehicle: [",
			want: "decoding config",
		},
		{
			name: "bad duration",
			yaml: "flight:\n  tick: soon\n",
			want: "failed to parse",
		},
		{
			name: "unknown vehicle",
			yaml: "vehicle:\n  type: plane\n",
			want: "vehicle: invalid type: plane",
		},
		{
			name: "mavlink without address",
			yaml: "vehicle:\n  address: \"\"\n",
			want: "vehicle: address is required",
		},
		{
			name: "negative sim rate",
			yaml: "vehicle:\n  type: sim\n  sim:\n    speed: -1\n",
			want: "vehicle: sim: rates must not be negative",
		},
		{
			name: "ground station without port",
			yaml: "groundStation:\n  port: \"\"\n",
			want: "groundStation: port is required",
		},
		{
			name: "zero tick",
			yaml: "flight:\n  tick: 0s\n",
			want: "flight: tick must be positive",
		},
		{
			name: "zero takeoff budget",
			yaml: "flight:\n  takeoffTicks: 0\n",
			want: "flight: tick budgets must be positive",
		},
		{
			name: "takeoff above planning ceiling",
			yaml: "flight:\n  takeoffAltitude: 60\n",
			want: "limits: takeoff altitude 60 exceeds planning max altitude 50",
		},
		{
			name: "empty planning envelope",
			yaml: "limits:\n  planning:\n    maxRadius: 0\n",
			want: "limits: planning limits",
		},
		{
			name: "unknown plan source",
			yaml: "plan:\n  source: spiral\n",
			want: "plan: invalid source: spiral",
		},
		{
			name: "plus without radius",
			yaml: "plan:\n  source: plus\n  radius: 0\n",
			want: "plan: plus pattern needs a positive radius and altitude",
		},
		{
			name: "negative batch size",
			yaml: "storage:\n  batchSize: -1\n",
			want: "storage: batch size must not be negative",
		},
		{
			name: "metrics without address",
			yaml: "metrics:\n  enabled: true\n  address: \"\"\n",
			want: "metrics: address is required",
		},
		{
			name: "unknown exporter",
			yaml: "tracing:\n  enabled: true\n  exporter: jaeger\n",
			want: "tracing: invalid exporter: jaeger",
		},
		{
			name: "sample ratio out of range",
			yaml: "tracing:\n  enabled: true\n  sampleRatio: 2\n",
			want: "tracing: sample ratio must be between 0 and 1",
		},
		{
			name: "plan from disabled ground station",
			yaml: "groundStation:\n  enabled: false\n",
			want: "plan: ground station source requires groundStation.enabled",
		},
		{
			name: "feed without address",
			yaml: "feed:\n  enabled: true\nmetrics:\n  address: \"\"\n",
			want: "feed: requires metrics.address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("plan:\n  source: plus\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Plan.Source != PlanPlus {
		t.Errorf("expected plus source, got %s", config.Plan.Source)
	}

	if _, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestConfig_FlightConfig(t *testing.T) {
	t.Run("derived limits", func(t *testing.T) {
		config := NewConfig()
		config.Flight.TakeoffAltitude = 12

		fc := config.FlightConfig()

		want := config.Limits.Planning.Widen(flight.RuntimeMargin)
		if fc.Runtime != want {
			t.Errorf("expected runtime limits %+v, got %+v", want, fc.Runtime)
		}
		if want := flight.TakeoffLimits(12); fc.Takeoff != want {
			t.Errorf("expected takeoff limits %+v, got %+v", want, fc.Takeoff)
		}
		if fc.Tick != flight.DefaultTick {
			t.Errorf("expected tick %s, got %s", flight.DefaultTick, fc.Tick)
		}
		if fc.TakeoffTicks != flight.DefaultTakeoffTicks || fc.LandTicks != flight.DefaultLandTicks {
			t.Errorf("expected default climb and landing budgets, got %d and %d", fc.TakeoffTicks, fc.LandTicks)
		}
	})

	t.Run("explicit limits", func(t *testing.T) {
		runtime := safety.Limits{MaxRadius: 300, MaxAltitude: 70}
		takeoff := safety.Limits{MaxRadius: 5, MaxAltitude: 15}

		config := NewConfig()
		config.Limits.Runtime = &runtime
		config.Limits.Takeoff = &takeoff

		fc := config.FlightConfig()
		if fc.Runtime != runtime {
			t.Errorf("expected runtime limits %+v, got %+v", runtime, fc.Runtime)
		}
		if fc.Takeoff != takeoff {
			t.Errorf("expected takeoff limits %+v, got %+v", takeoff, fc.Takeoff)
		}
	})
}

func TestDuration_JSON(t *testing.T) {
	d := Duration(1500 * time.Millisecond)

	p, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(p) != `"1.5s"` {
		t.Errorf("expected \"1.5s\", got %s", p)
	}

	var got Duration
	if err = got.UnmarshalJSON(p); err != nil {
		t.Fatal(err)
	}
	if got != d {
		t.Errorf("expected %s, got %s", d, got)
	}

	if err = got.UnmarshalJSON([]byte(`"later"`)); err == nil {
		t.Error("expected an error for an invalid duration")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("boom"), ExitFailure},
		{"ground station", fmt.Errorf("%w: ground station: %w", ErrConnection, os.ErrNotExist), ExitConnection},
		{"flight controller", fmt.Errorf("connecting: %w", vehicle.ErrConnection), ExitConnection},
		{"rejected plan", fmt.Errorf("flying: %w", &safety.RejectionError{Bound: safety.BoundRadius}), ExitRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}
