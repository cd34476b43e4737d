package observability

import (
	"fmt"
	"math"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/team-204/control/internal/flight"
	"github.com/team-204/control/internal/safety"
	"github.com/team-204/control/internal/telemetry"
)

var _ flight.Metrics = (*FlightCollector)(nil)

// FlightCollector bundles Prometheus metrics for a flight and implements
// flight.Metrics so a Sequencer can drive them directly.
type FlightCollector struct {
	gatherer prometheus.Gatherer

	Phase          *prometheus.GaugeVec
	Frames         prometheus.Counter
	FrameIntervals prometheus.Histogram
	Breaches       *prometheus.CounterVec
	Waypoints      prometheus.Counter
	SensorFailures prometheus.Counter

	Altitude    prometheus.Gauge
	Range       prometheus.Gauge
	Temperature prometheus.Gauge

	mu            sync.Mutex
	lastFrameTime *float64
}

// NewFlightCollector registers flight metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewFlightCollector(reg prometheus.Registerer) (*FlightCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	phase, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "control_flight_phase",
		Help: "Current flight phase; 1 for the active phase, 0 for the others.",
	}, []string{"phase"}), "control_flight_phase")
	if err != nil {
		return nil, err
	}

	frames, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "control_telemetry_frames_total",
		Help: "Total number of telemetry frames sent to the ground station.",
	}), "control_telemetry_frames_total")
	if err != nil {
		return nil, err
	}

	intervals, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "control_telemetry_frame_interval_seconds",
		Help:    "Flight time elapsed between consecutive telemetry frames.",
		Buckets: []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 5, 10},
	}), "control_telemetry_frame_interval_seconds")
	if err != nil {
		return nil, err
	}

	breaches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "control_geofence_breaches_total",
		Help: "Total number of safety envelope breaches, labeled by the bound crossed.",
	}, []string{"bound"}), "control_geofence_breaches_total")
	if err != nil {
		return nil, err
	}

	waypoints, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "control_waypoints_reached_total",
		Help: "Total number of waypoints reached within their tick budget.",
	}), "control_waypoints_reached_total")
	if err != nil {
		return nil, err
	}

	sensorFailures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "control_sensor_failures_total",
		Help: "Total number of failed sensor service reads.",
	}), "control_sensor_failures_total")
	if err != nil {
		return nil, err
	}

	altitude, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "control_altitude_meters",
		Help: "Altitude above home in the last telemetry frame.",
	}), "control_altitude_meters")
	if err != nil {
		return nil, err
	}
	rng, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "control_range_meters",
		Help: "Horizontal distance from home in the last telemetry frame.",
	}), "control_range_meters")
	if err != nil {
		return nil, err
	}
	temperature, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "control_temperature_celsius",
		Help: "Last temperature reported by the sensor service.",
	}), "control_temperature_celsius")
	if err != nil {
		return nil, err
	}

	return &FlightCollector{
		gatherer:       gatherer,
		Phase:          phase,
		Frames:         frames,
		FrameIntervals: intervals,
		Breaches:       breaches,
		Waypoints:      waypoints,
		SensorFailures: sensorFailures,
		Altitude:       altitude,
		Range:          rng,
		Temperature:    temperature,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FlightCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *FlightCollector) PhaseChanged(phase flight.Phase) {
	if c == nil {
		return
	}
	for _, p := range flight.Phases() {
		v := 0.0
		if p == phase {
			v = 1
		}
		c.Phase.WithLabelValues(p.String()).Set(v)
	}
}

func (c *FlightCollector) FrameSent(frame telemetry.Frame) {
	if c == nil {
		return
	}
	c.Frames.Inc()
	c.Altitude.Set(frame.Up)
	c.Range.Set(math.Hypot(frame.East, frame.North))
	if frame.Temperature != nil {
		c.Temperature.Set(*frame.Temperature)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFrameTime != nil && frame.FlightTime >= *c.lastFrameTime {
		c.FrameIntervals.Observe(frame.FlightTime - *c.lastFrameTime)
	}
	t := frame.FlightTime
	c.lastFrameTime = &t
}

func (c *FlightCollector) BreachDetected(breach safety.Breach) {
	if c == nil {
		return
	}
	c.Breaches.WithLabelValues(breach.Bound.String()).Inc()
}

func (c *FlightCollector) WaypointReached() {
	if c == nil {
		return
	}
	c.Waypoints.Inc()
}

func (c *FlightCollector) SensorFailed() {
	if c == nil {
		return
	}
	c.SensorFailures.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
