package flight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/safety"
	"github.com/team-204/control/internal/sensor"
	"github.com/team-204/control/internal/telemetry"
	"github.com/team-204/control/internal/vehicle"
)

const tracerName = "github.com/team-204/control/internal/flight"

var (
	// ErrNotReady is returned when the flight is cancelled while the vehicle
	// is still initialising.
	ErrNotReady = errors.New("vehicle not ready")

	// ErrArmTimeout is returned when the vehicle does not arm within the arm
	// tick budget.
	ErrArmTimeout = errors.New("vehicle did not arm")
)

// Downlink receives status strings and telemetry frames.
type Downlink interface {
	Send(v any) error
}

// Sensor supplies the temperature for telemetry frames.
type Sensor interface {
	Read(ctx context.Context) (sensor.Reading, error)
}

// Recorder keeps a history of the flight.
type Recorder interface {
	RecordEvent(at time.Time, phase Phase, message string) error
	RecordFrame(at time.Time, frame telemetry.Frame) error
}

// Metrics receives flight measurements as they happen.
type Metrics interface {
	PhaseChanged(phase Phase)
	FrameSent(frame telemetry.Frame)
	BreachDetected(breach safety.Breach)
	WaypointReached()
	SensorFailed()
}

// WithLogger sets the logger for the sequencer
func WithLogger(logger *slog.Logger) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.logger = logger.With(slog.String("component", "flight"))
	}
}

// WithDownlink adds a destination for status strings and telemetry.
func WithDownlink(d Downlink) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.downlinks = append(s.downlinks, d)
	}
}

// WithSensor adds temperature readings to telemetry.
func WithSensor(sensor Sensor) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.sensor = sensor
	}
}

// WithRecorder records phase changes, status messages and telemetry.
func WithRecorder(r Recorder) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.recorder = r
	}
}

// WithMetrics reports flight measurements to m.
func WithMetrics(m Metrics) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.metrics = m
	}
}

// WithClock replaces the system clock.
func WithClock(clock Clock) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.clock = clock
	}
}

// Result summarises a completed flight.
type Result struct {
	Origin    geo.Position
	Waypoints []safety.Waypoint
	Reached   int            // waypoints reached within their tick budget
	Aborted   bool           // an operator took the vehicle out of guided mode
	Breach    *safety.Breach // set when the envelope forced a landing
}

// stop says why a flight stage ended.
type stop int

const (
	proceed stop = iota
	breached
	overridden
	stalled
)

// Sequencer owns a flight: it arms the vehicle, takes off, visits each
// waypoint, lands, and waits for the vehicle to disarm. Flights run one at a
// time on the caller's goroutine.
type Sequencer struct {
	vehicle vehicle.Vehicle
	cfg     Config
	clock   Clock

	downlinks []Downlink
	sensor    Sensor
	recorder  Recorder
	metrics   Metrics

	phase atomic.Int32

	// vehicle state last echoed to the ground station
	lastMode  string
	lastArmed bool

	result Result

	tracer trace.Tracer
	logger *slog.Logger
}

// New creates a Sequencer flying v.
func New(v vehicle.Vehicle, cfg Config, options ...func(s *Sequencer)) *Sequencer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Sequencer{
		vehicle: v,
		cfg:     cfg.withDefaults(),
		clock:   SystemClock(),
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Phase returns the current phase. It is safe to call from other goroutines.
func (s *Sequencer) Phase() Phase {
	return Phase(s.phase.Load())
}

// AwaitPlan polls receive once per tick until it yields a flight path.
func (s *Sequencer) AwaitPlan(ctx context.Context, receive func() ([]geo.OffsetPoint, bool)) ([]geo.OffsetPoint, error) {
	s.notify(slog.LevelInfo, "Waiting to receive flight path from GCS")

	for {
		if plan, ok := receive(); ok {
			s.logger.Info("flight path received", slog.Int("waypoints", len(plan)))
			return plan, nil
		}

		if err := s.wait(ctx, s.cfg.Tick); err != nil {
			return nil, fmt.Errorf("waiting for flight path: %w", err)
		}
	}
}

// Fly validates plan against the origin, then flies it. The origin is the
// vehicle position just before arming.
//
// ctx is only consulted until the vehicle is armed. From then on the flight
// ends when the vehicle disarms, and an operator stops it by switching the
// vehicle out of guided mode.
func (s *Sequencer) Fly(ctx context.Context, plan []geo.OffsetPoint) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "flight", trace.WithAttributes(attribute.Int("plan.points", len(plan))))
	defer span.End()

	s.result = Result{}
	s.lastMode, s.lastArmed = s.vehicle.Mode(), s.vehicle.Armed()
	s.setPhase(Disconnected, "")

	if err := s.waitArmable(ctx); err != nil {
		return s.fail(span, err)
	}

	origin := s.vehicle.Position()
	s.result.Origin = origin
	s.logger.Info("origin captured", slog.String("origin", origin.String()))

	waypoints, err := safety.ValidatePlan(origin, plan, s.cfg.Planning)
	if err != nil {
		s.rejectPlan(plan, err)
		span.RecordError(err)
		return s.result, err
	}

	if s.cfg.ReturnHome {
		home := origin
		home.Altitude = s.cfg.TakeoffAltitude
		home.Timestamp = 0
		waypoints = append(waypoints, safety.Waypoint{
			Position: home,
			Offset:   geo.OffsetPoint{Up: s.cfg.TakeoffAltitude},
		})
	}
	s.result.Waypoints = waypoints

	for i, wp := range waypoints {
		s.logger.Debug(fmt.Sprintf("destination %d: %s", i, wp.Position))
	}

	if err = s.arm(ctx); err != nil {
		return s.fail(span, err)
	}

	// airborne: only the vehicle can end the flight now
	ctx = context.WithoutCancel(ctx)

	why := s.takeoff(ctx, origin)
	if why == proceed {
		why = s.navigate(ctx, origin, waypoints)
	}

	switch {
	case why == overridden:
		s.abort()
	case why == breached:
		s.land(ctx)
	case s.vehicle.Mode() == vehicle.ModeGuided:
		s.land(ctx)
	default:
		s.abort()
	}

	s.monitor(ctx)
	s.setPhase(Grounded, "")
	s.notify(slog.LevelInfo, "Finished program.")

	span.SetAttributes(
		attribute.Int("waypoints.reached", s.result.Reached),
		attribute.Bool("aborted", s.result.Aborted),
		attribute.Bool("breach", s.result.Breach != nil),
	)
	return s.result, nil
}

// fail echoes a fatal error to every downlink before Fly returns it.
func (s *Sequencer) fail(span trace.Span, err error) (Result, error) {
	span.RecordError(err)
	s.notify(slog.LevelError, fmt.Sprintf("Flight failed: %s", err.Error()))
	return s.result, err
}

func (s *Sequencer) waitArmable(ctx context.Context) error {
	for !s.vehicle.Armable() {
		s.notify(slog.LevelInfo, "Waiting for vehicle to initialise...")
		if err := s.wait(ctx, s.cfg.Tick); err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}
	}
	return nil
}

func (s *Sequencer) rejectPlan(plan []geo.OffsetPoint, err error) {
	var rejection *safety.RejectionError
	if errors.As(err, &rejection) && rejection.Index >= 0 && rejection.Index < len(plan) {
		s.notify(slog.LevelError, fmt.Sprintf("Waypoint is %s", plan[rejection.Index]))
	}
	s.notify(slog.LevelError, err.Error())
	s.notify(slog.LevelError, "Invalid points received from GCS")
}

func (s *Sequencer) arm(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "arm")
	defer span.End()

	if err := s.vehicle.SetMode(vehicle.ModeGuided); err != nil {
		return fmt.Errorf("setting %s mode: %w", vehicle.ModeGuided, err)
	}

	for i := 0; ; i++ {
		s.watch()
		if s.vehicle.Armed() {
			s.setPhase(Armed, "")
			return nil
		}
		if i == s.cfg.ArmTicks {
			break
		}

		s.notify(slog.LevelInfo, "Trying to arm...")
		if err := s.vehicle.SetArmed(true); err != nil {
			s.logger.Warn(fmt.Sprintf("arm command failed: %s", err.Error()))
		}

		if err := s.wait(ctx, s.cfg.Tick); err != nil {
			// the arm command may still land, make sure it does not
			if dErr := s.vehicle.SetArmed(false); dErr != nil {
				s.logger.Warn(fmt.Sprintf("disarm command failed: %s", dErr.Error()))
			}
			return fmt.Errorf("arming: %w", err)
		}
	}

	s.notify(slog.LevelError, fmt.Sprintf("Vehicle did not arm after %d attempts", s.cfg.ArmTicks))
	return fmt.Errorf("%w after %d attempts", ErrArmTimeout, s.cfg.ArmTicks)
}

func (s *Sequencer) takeoff(ctx context.Context, origin geo.Position) stop {
	_, span := s.tracer.Start(ctx, "takeoff")
	defer span.End()

	target := s.cfg.TakeoffAltitude
	s.setPhase(TakingOff, "")
	s.notify(slog.LevelInfo, fmt.Sprintf("Attempting simple takeoff to %s m...", humanize.Ftoa(target)))

	if err := s.vehicle.Takeoff(target); err != nil {
		s.logger.Error(fmt.Sprintf("takeoff command failed: %s", err.Error()))
	}

	for tick := 0; tick < s.cfg.TakeoffTicks; tick++ {
		s.sleep(s.cfg.Tick)
		s.watch()

		pos := s.vehicle.Position()
		guided := s.vehicle.Mode() == vehicle.ModeGuided
		s.logger.Debug("climbing", slog.String("position", pos.String()))

		if b, ok := safety.CheckRuntime(origin, pos, s.cfg.Takeoff, s.Phase().Autonomous() && guided); ok {
			s.breach(b)
			return breached
		}
		if pos.Altitude >= target*takeoffCompletion {
			s.notify(slog.LevelInfo, "Reached target altitude")
			return proceed
		}
		if !guided {
			return overridden
		}
	}

	s.notify(slog.LevelError, fmt.Sprintf("Takeoff did not reach %s m after %d ticks", humanize.Ftoa(target), s.cfg.TakeoffTicks))
	return stalled
}

func (s *Sequencer) navigate(ctx context.Context, origin geo.Position, waypoints []safety.Waypoint) stop {
	ctx, span := s.tracer.Start(ctx, "navigate", trace.WithAttributes(attribute.Int("waypoints", len(waypoints))))
	defer span.End()

	s.setPhase(Navigating, "")
	start := s.clock.Now()

	for i, wp := range waypoints {
		s.notify(slog.LevelInfo, fmt.Sprintf("Destination: %s", wp.Position))
		if s.vehicle.Mode() != vehicle.ModeGuided {
			return overridden
		}

		if err := s.vehicle.Goto(wp.Position); err != nil {
			s.logger.Warn(fmt.Sprintf("goto command failed: %s", err.Error()))
		}

		reached := false
		for tick := 0; tick < s.cfg.WaypointTicks; tick++ {
			s.watch()
			if s.vehicle.Mode() != vehicle.ModeGuided {
				return overridden
			}

			pos := s.vehicle.Position()
			b, breach := safety.CheckRuntime(origin, pos, s.cfg.Runtime, s.Phase().Autonomous())

			s.emit(ctx, telemetry.NewFrame(origin, pos, s.clock.Now().Sub(start)))

			if breach {
				s.breach(b)
				return breached
			}

			d := geo.Distance(pos, wp.Position)
			s.logger.Debug(fmt.Sprintf("distance from destination %d: %s m", i, humanize.FtoaWithDigits(d, 2)))

			if d < s.cfg.ReachedRadius {
				reached = true
				s.result.Reached++
				if s.metrics != nil {
					s.metrics.WaypointReached()
				}
				s.notify(slog.LevelInfo, "Destination Reached")
				s.sleep(s.cfg.SettleDelay)
				break
			}

			s.sleep(s.cfg.Tick)
		}

		if !reached {
			s.logger.Warn("destination not reached, advancing",
				slog.Int("waypoint", i),
				slog.Int("ticks", s.cfg.WaypointTicks),
			)
		}
	}

	return proceed
}

func (s *Sequencer) breach(b safety.Breach) {
	r := b
	s.result.Breach = &r
	if s.metrics != nil {
		s.metrics.BreachDetected(b)
	}

	s.logger.Error("envelope breached",
		slog.String("bound", b.Bound.String()),
		slog.Float64("limit", b.Limit),
		slog.Float64("value", b.Value),
	)

	if b.Bound == safety.BoundRadius {
		s.notify(slog.LevelError, "GEOFENCE DISTANCE EXCEEDED. LANDING...")
	} else {
		s.notify(slog.LevelError, "GEOFENCE ALTITUDE EXCEEDED. LANDING...")
	}
}

func (s *Sequencer) abort() {
	s.result.Aborted = true
	s.notify(slog.LevelWarn, "Mode no longer guided")
	s.setPhase(Aborted, s.vehicle.Mode())
}

// land switches to LAND and waits, at most LandTicks, for touchdown or disarm.
func (s *Sequencer) land(ctx context.Context) {
	_, span := s.tracer.Start(ctx, "land")
	defer span.End()

	s.setPhase(Landing, "")
	s.notify(slog.LevelInfo, "Landing...")

	if err := s.vehicle.SetMode(vehicle.ModeLand); err != nil {
		s.logger.Error(fmt.Sprintf("land command failed: %s", err.Error()))
	}

	for tick := 0; tick < s.cfg.LandTicks; tick++ {
		s.sleep(s.cfg.Tick)
		s.watch()

		pos := s.vehicle.Position()
		s.logger.Debug("descending", slog.String("position", pos.String()))

		if pos.Altitude < groundAltitude {
			s.logger.Info("reached ground")
			return
		}
		if !s.vehicle.Armed() {
			s.logger.Info("reached ground (assuming since no longer armed)")
			return
		}
	}

	s.notify(slog.LevelError, fmt.Sprintf("Vehicle still airborne after %d ticks, waiting for disarm", s.cfg.LandTicks))
}

// monitor blocks until the vehicle reports disarmed. Nothing else ends it.
func (s *Sequencer) monitor(ctx context.Context) {
	_, span := s.tracer.Start(ctx, "monitor")
	defer span.End()

	for s.vehicle.Armed() {
		s.logger.Debug("waiting for disarm", slog.String("position", s.vehicle.Position().String()))
		s.sleep(s.cfg.Tick)
		s.watch()
	}
}

// emit completes frame with a sensor reading and sends it everywhere.
func (s *Sequencer) emit(ctx context.Context, frame telemetry.Frame) {
	if s.sensor != nil {
		if c, err := s.temperature(ctx); err != nil {
			s.logger.Warn(fmt.Sprintf("telemetry without temperature: %s", err.Error()))
			if s.metrics != nil {
				s.metrics.SensorFailed()
			}
		} else {
			frame = frame.WithTemperature(c)
		}
	}

	for _, d := range s.downlinks {
		if err := d.Send(frame); err != nil {
			s.logger.Warn(fmt.Sprintf("error sending telemetry: %s", err.Error()))
		}
	}

	if s.recorder != nil {
		if err := s.recorder.RecordFrame(s.clock.Now(), frame); err != nil {
			s.logger.Warn(fmt.Sprintf("error recording telemetry: %s", err.Error()))
		}
	}
	if s.metrics != nil {
		s.metrics.FrameSent(frame)
	}
}

func (s *Sequencer) temperature(ctx context.Context) (float64, error) {
	r, err := s.sensor.Read(ctx)
	if err != nil {
		return 0, err
	}
	return r.Celsius()
}

// watch echoes mode and arm state changes to the ground station.
func (s *Sequencer) watch() {
	if mode := s.vehicle.Mode(); mode != s.lastMode {
		s.lastMode = mode
		s.notify(slog.LevelInfo, fmt.Sprintf("Mode: %s", mode))
	}
	if armed := s.vehicle.Armed(); armed != s.lastArmed {
		s.lastArmed = armed
		s.notify(slog.LevelInfo, fmt.Sprintf("Armed: %t", armed))
	}
}

func (s *Sequencer) setPhase(p Phase, detail string) {
	prev := Phase(s.phase.Swap(int32(p)))

	attrs := []any{slog.String("from", prev.String()), slog.String("to", p.String())}
	if detail != "" {
		attrs = append(attrs, slog.String("detail", detail))
	}
	s.logger.Info("phase changed", attrs...)

	if s.metrics != nil {
		s.metrics.PhaseChanged(p)
	}
	s.record(p, fmt.Sprintf("phase %s", p))
}

// notify logs msg and echoes it to every downlink.
func (s *Sequencer) notify(level slog.Level, msg string) {
	s.logger.Log(context.Background(), level, msg)

	for _, d := range s.downlinks {
		if err := d.Send(msg); err != nil {
			s.logger.Warn(fmt.Sprintf("error sending status: %s", err.Error()))
		}
	}
	s.record(s.Phase(), msg)
}

func (s *Sequencer) record(p Phase, msg string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordEvent(s.clock.Now(), p, msg); err != nil {
		s.logger.Warn(fmt.Sprintf("error recording event: %s", err.Error()))
	}
}

// wait sleeps for d unless ctx is done first.
func (s *Sequencer) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

func (s *Sequencer) sleep(d time.Duration) {
	<-s.clock.After(d)
}
