package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/team-204/control/internal/flight"
	"github.com/team-204/control/internal/observability"
	"github.com/team-204/control/internal/safety"
	"github.com/team-204/control/internal/sensor"
)

const (
	VehicleMavlink VehicleType = "mavlink"
	VehicleSim     VehicleType = "sim"

	PlanGroundStation PlanSource = "groundstation"
	PlanPlus          PlanSource = "plus"

	defaultLogFile       = "main.log"
	defaultMetricsAddr   = ":9102"
	defaultStorageDir    = "data"
	defaultReadyTimeout  = 30 * time.Second
	defaultLinkTimeout   = time.Second
	defaultSensorAddress = "tcp://localhost:5555"
)

var (
	validVehicleTypes = map[VehicleType]struct{}{
		VehicleMavlink: {},
		VehicleSim:     {},
	}

	validPlanSources = map[PlanSource]struct{}{
		PlanGroundStation: {},
		PlanPlus:          {},
	}

	validExporters = map[string]struct{}{
		observability.ExporterStdout: {},
		observability.ExporterOTLP:   {},
	}
)

type VehicleType string

func (v VehicleType) String() string {
	return string(v)
}

type PlanSource string

func (p PlanSource) String() string {
	return string(p)
}

// Duration is a time.Duration written as a Go duration string ("1s", "500ms").
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config represents the supervisor configuration
type Config struct {
	Settings      Settings            `yaml:"settings" json:"settings"`
	Vehicle       VehicleConfig       `yaml:"vehicle" json:"vehicle"`
	GroundStation GroundStationConfig `yaml:"groundStation" json:"groundStation"`
	Sensor        SensorConfig        `yaml:"sensor" json:"sensor"`
	Flight        FlightConfig        `yaml:"flight" json:"flight"`
	Limits        LimitsConfig        `yaml:"limits" json:"limits"`
	Plan          PlanConfig          `yaml:"plan" json:"plan"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Tracing       TracingConfig       `yaml:"tracing" json:"tracing"`
	Feed          FeedConfig          `yaml:"feed" json:"feed"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel" json:"logLevel"`
	LogFile  string     `yaml:"logFile" json:"logFile"` // append-only, "" disables
}

// VehicleConfig selects and reaches the flight controller
type VehicleConfig struct {
	Type         VehicleType `yaml:"type" json:"type"`
	Address      string      `yaml:"address" json:"address"` // serial device, udp:host:port, tcp:host:port
	Baud         int         `yaml:"baud" json:"baud"`
	ReadyTimeout Duration    `yaml:"readyTimeout" json:"readyTimeout"`
	BootDelay    Duration    `yaml:"bootDelay" json:"bootDelay"`

	Sim SimConfig `yaml:"sim" json:"sim"`
}

// SimConfig places and paces the simulated vehicle. Zero rates keep the
// simulator defaults.
type SimConfig struct {
	Latitude    float64 `yaml:"latitude" json:"latitude"`
	Longitude   float64 `yaml:"longitude" json:"longitude"`
	Speed       float64 `yaml:"speed" json:"speed"`             // m/s horizontal
	ClimbRate   float64 `yaml:"climbRate" json:"climbRate"`     // m/s
	DescentRate float64 `yaml:"descentRate" json:"descentRate"` // m/s in LAND
}

// GroundStationConfig represents the radio modem link to the ground station
type GroundStationConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Port        string   `yaml:"port" json:"port"`
	Baud        int      `yaml:"baud" json:"baud"`
	ReadTimeout Duration `yaml:"readTimeout" json:"readTimeout"`
}

// SensorConfig represents the auxiliary sensor service
type SensorConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Endpoint string   `yaml:"endpoint" json:"endpoint"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
}

// FlightConfig tunes the sequencer
type FlightConfig struct {
	TakeoffAltitude float64  `yaml:"takeoffAltitude" json:"takeoffAltitude"`
	Tick            Duration `yaml:"tick" json:"tick"`
	WaypointTicks   int      `yaml:"waypointTicks" json:"waypointTicks"`
	ArmTicks        int      `yaml:"armTicks" json:"armTicks"`
	TakeoffTicks    int      `yaml:"takeoffTicks" json:"takeoffTicks"`
	LandTicks       int      `yaml:"landTicks" json:"landTicks"`
	SettleDelay     Duration `yaml:"settleDelay" json:"settleDelay"`
	ReachedRadius   float64  `yaml:"reachedRadius" json:"reachedRadius"`
	ReturnHome      bool     `yaml:"returnHome" json:"returnHome"`
}

// LimitsConfig represents the safety envelopes. Runtime defaults to the
// planning limits widened by flight.RuntimeMargin, takeoff to a 10 m radius
// with 10 m of overshoot.
type LimitsConfig struct {
	Planning safety.Limits  `yaml:"planning" json:"planning"`
	Runtime  *safety.Limits `yaml:"runtime" json:"runtime,omitempty"`
	Takeoff  *safety.Limits `yaml:"takeoff" json:"takeoff,omitempty"`
}

// PlanConfig selects where the flight path comes from
type PlanConfig struct {
	Source   PlanSource `yaml:"source" json:"source"`
	Radius   float64    `yaml:"radius" json:"radius"`     // plus pattern only
	Altitude float64    `yaml:"altitude" json:"altitude"` // plus pattern only
}

// StorageConfig represents the flight recorder
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	DataDirectory string `yaml:"dataDirectory" json:"dataDirectory"`
	BatchSize     int    `yaml:"batchSize" json:"batchSize"`
}

// MetricsConfig represents the HTTP endpoint serving /metrics and /feed
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Exporter    string  `yaml:"exporter" json:"exporter"` // stdout | otlp
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio" json:"sampleRatio"`
}

// FeedConfig mirrors ground station traffic to websocket clients on the
// metrics address
type FeedConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// NewConfig returns the defaults of the original airframe: a MAVLink flight
// controller on the Pi serial port, the ground station on a USB radio modem
// and the sensor service on localhost.
func NewConfig() *Config {
	def := flight.DefaultConfig()

	return &Config{
		Settings: Settings{
			LogLevel: slog.LevelInfo,
			LogFile:  defaultLogFile,
		},
		Vehicle: VehicleConfig{
			Type:         VehicleMavlink,
			Address:      "/dev/ttyAMA0",
			Baud:         57600,
			ReadyTimeout: Duration(defaultReadyTimeout),
			BootDelay:    Duration(10 * time.Second),
			Sim:          SimConfig{Latitude: 33.194, Longitude: -87.513},
		},
		GroundStation: GroundStationConfig{
			Enabled:     true,
			Port:        "/dev/ttyUSB0",
			Baud:        9600,
			ReadTimeout: Duration(defaultLinkTimeout),
		},
		Sensor: SensorConfig{
			Enabled:  true,
			Endpoint: defaultSensorAddress,
			Timeout:  Duration(sensor.DefaultTimeout),
		},
		Flight: FlightConfig{
			TakeoffAltitude: def.TakeoffAltitude,
			Tick:            Duration(def.Tick),
			WaypointTicks:   def.WaypointTicks,
			ArmTicks:        def.ArmTicks,
			TakeoffTicks:    def.TakeoffTicks,
			LandTicks:       def.LandTicks,
			SettleDelay:     Duration(def.SettleDelay),
			ReachedRadius:   def.ReachedRadius,
			ReturnHome:      def.ReturnHome,
		},
		Limits: LimitsConfig{
			Planning: def.Planning,
		},
		Plan: PlanConfig{
			Source:   PlanGroundStation,
			Radius:   10,
			Altitude: def.TakeoffAltitude,
		},
		Storage: StorageConfig{
			DataDirectory: defaultStorageDir,
		},
		Metrics: MetricsConfig{
			Address: defaultMetricsAddr,
		},
		Tracing: TracingConfig{
			Exporter:    observability.ExporterStdout,
			SampleRatio: 1,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(p)
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(p []byte) (*Config, error) {
	c := NewConfig()
	if err := yaml.Unmarshal(p, c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	steps := []struct {
		section string
		fn      func() error
	}{
		{section: "vehicle", fn: c.Vehicle.Validate},
		{section: "groundStation", fn: c.GroundStation.Validate},
		{section: "sensor", fn: c.Sensor.Validate},
		{section: "flight", fn: c.Flight.Validate},
		{section: "limits", fn: func() error { return c.FlightConfig().Validate() }},
		{section: "plan", fn: c.Plan.Validate},
		{section: "storage", fn: c.Storage.Validate},
		{section: "metrics", fn: c.Metrics.Validate},
		{section: "tracing", fn: c.Tracing.Validate},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s: %w", s.section, err)
		}
	}

	if c.Plan.Source == PlanGroundStation && !c.GroundStation.Enabled {
		return errors.New("plan: ground station source requires groundStation.enabled")
	}
	if c.Feed.Enabled && c.Metrics.Address == "" {
		return errors.New("feed: requires metrics.address")
	}
	return nil
}

func (v *VehicleConfig) Validate() error {
	if _, ok := validVehicleTypes[v.Type]; !ok {
		return fmt.Errorf("invalid type: %s", v.Type)
	}
	if v.ReadyTimeout < 0 || v.BootDelay < 0 {
		return errors.New("durations must not be negative")
	}
	if v.Type == VehicleSim {
		if v.Sim.Speed < 0 || v.Sim.ClimbRate < 0 || v.Sim.DescentRate < 0 {
			return errors.New("sim: rates must not be negative")
		}
		return nil
	}
	if v.Address == "" {
		return errors.New("address is required")
	}
	if v.Baud <= 0 {
		return fmt.Errorf("baud must be positive: %d", v.Baud)
	}
	return nil
}

func (g *GroundStationConfig) Validate() error {
	if !g.Enabled {
		return nil
	}
	if g.Port == "" {
		return errors.New("port is required")
	}
	if g.Baud <= 0 {
		return fmt.Errorf("baud must be positive: %d", g.Baud)
	}
	if g.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive: %s", g.ReadTimeout)
	}
	return nil
}

func (s *SensorConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %s", s.Timeout)
	}
	return nil
}

func (f *FlightConfig) Validate() error {
	if f.TakeoffAltitude <= 0 {
		return fmt.Errorf("takeoff altitude must be positive: %g", f.TakeoffAltitude)
	}
	if f.Tick <= 0 {
		return fmt.Errorf("tick must be positive: %s", f.Tick)
	}
	if f.WaypointTicks <= 0 || f.ArmTicks <= 0 || f.TakeoffTicks <= 0 || f.LandTicks <= 0 {
		return errors.New("tick budgets must be positive")
	}
	if f.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative: %s", f.SettleDelay)
	}
	if f.ReachedRadius <= 0 {
		return fmt.Errorf("reached radius must be positive: %g", f.ReachedRadius)
	}
	return nil
}

func (p *PlanConfig) Validate() error {
	if _, ok := validPlanSources[p.Source]; !ok {
		return fmt.Errorf("invalid source: %s", p.Source)
	}
	if p.Source == PlanPlus && (p.Radius <= 0 || p.Altitude <= 0) {
		return errors.New("plus pattern needs a positive radius and altitude")
	}
	return nil
}

func (s *StorageConfig) Validate() error {
	if s.Enabled && s.DataDirectory == "" {
		return errors.New("data directory is required")
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative: %d", s.BatchSize)
	}
	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Address == "" {
		return errors.New("address is required")
	}
	return nil
}

func (t *TracingConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if _, ok := validExporters[t.Exporter]; !ok {
		return fmt.Errorf("invalid exporter: %s", t.Exporter)
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("sample ratio must be between 0 and 1: %g", t.SampleRatio)
	}
	return nil
}

// FlightConfig converts the flight and limits sections for the sequencer.
func (c *Config) FlightConfig() flight.Config {
	fc := flight.Config{
		TakeoffAltitude: c.Flight.TakeoffAltitude,
		Tick:            c.Flight.Tick.Std(),
		WaypointTicks:   c.Flight.WaypointTicks,
		ArmTicks:        c.Flight.ArmTicks,
		TakeoffTicks:    c.Flight.TakeoffTicks,
		LandTicks:       c.Flight.LandTicks,
		SettleDelay:     c.Flight.SettleDelay.Std(),
		ReachedRadius:   c.Flight.ReachedRadius,
		ReturnHome:      c.Flight.ReturnHome,
		Planning:        c.Limits.Planning,
		Runtime:         c.Limits.Planning.Widen(flight.RuntimeMargin),
		Takeoff:         flight.TakeoffLimits(c.Flight.TakeoffAltitude),
	}
	if c.Limits.Runtime != nil {
		fc.Runtime = *c.Limits.Runtime
	}
	if c.Limits.Takeoff != nil {
		fc.Takeoff = *c.Limits.Takeoff
	}
	return fc
}
