package sim

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/vehicle"
)

const (
	DefaultSpeed       = 5.0 // m/s horizontal
	DefaultClimbRate   = 2.5 // m/s
	DefaultDescentRate = 1.0 // m/s in LAND

	// disarming is refused above this altitude
	groundAltitude = 0.1
)

var knownModes = map[string]bool{
	vehicle.ModeStabilize: true,
	vehicle.ModeAltHold:   true,
	vehicle.ModeAuto:      true,
	vehicle.ModeGuided:    true,
	vehicle.ModeLoiter:    true,
	vehicle.ModeRTL:       true,
	vehicle.ModeLand:      true,
}

// Clock supplies the time the simulation advances to.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// WithLogger sets the logger for the vehicle
func WithLogger(logger *slog.Logger) func(v *Vehicle) {
	return func(v *Vehicle) {
		v.logger = logger.With(slog.String("component", "sim"))
	}
}

// WithClock drives the simulation from clock instead of the wall clock.
func WithClock(clock Clock) func(v *Vehicle) {
	return func(v *Vehicle) {
		v.clock = clock
	}
}

// WithBootDelay keeps the vehicle unarmable for d after creation.
func WithBootDelay(d time.Duration) func(v *Vehicle) {
	return func(v *Vehicle) {
		v.bootDelay = d
	}
}

// WithRates sets the horizontal speed, climb rate and LAND descent rate in
// meters per second. Non-positive values keep the defaults.
func WithRates(speed, climb, descent float64) func(v *Vehicle) {
	return func(v *Vehicle) {
		if speed > 0 {
			v.speed = speed
		}
		if climb > 0 {
			v.climbRate = climb
		}
		if descent > 0 {
			v.descentRate = descent
		}
	}
}

// Vehicle is a kinematic multicopter that follows guided commands in a
// straight line at constant rates. State advances lazily to the clock's
// current time whenever it is read or commanded.
type Vehicle struct {
	clock  Clock
	home   geo.Position
	booted time.Time

	bootDelay   time.Duration
	speed       float64
	climbRate   float64
	descentRate float64

	mu     sync.Mutex
	last   time.Time
	closed bool

	mode  string
	armed bool

	// meters relative to home
	east, north, up float64

	hasTarget                   bool
	targetE, targetN, targetAlt float64

	logger *slog.Logger
}

// New places a disarmed vehicle on the ground at home.
func New(home geo.Position, options ...func(v *Vehicle)) *Vehicle {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	v := Vehicle{
		clock:       wallClock{},
		home:        home,
		speed:       DefaultSpeed,
		climbRate:   DefaultClimbRate,
		descentRate: DefaultDescentRate,
		mode:        vehicle.ModeStabilize,
		logger:      logger,
	}

	for _, option := range options {
		option(&v)
	}

	v.home.Altitude = 0
	v.home.Timestamp = 0
	v.booted = v.clock.Now()
	v.last = v.booted

	return &v
}

func (v *Vehicle) Mode() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.advance()
	return v.mode
}

// SetMode switches modes immediately. Leaving GUIDED drops the current target
// so the vehicle holds position.
func (v *Vehicle) SetMode(mode string) error {
	if !knownModes[mode] {
		return fmt.Errorf("%w: %s", vehicle.ErrUnknownMode, mode)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return vehicle.ErrNotConnected
	}

	v.advance()
	if v.mode != mode {
		v.logger.Info("mode changed", slog.String("from", v.mode), slog.String("to", mode))
	}
	v.mode = mode
	if mode != vehicle.ModeGuided {
		v.hasTarget = false
	}
	return nil
}

func (v *Vehicle) Armed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.advance()
	return v.armed
}

func (v *Vehicle) Armable() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.armable()
}

func (v *Vehicle) armable() bool {
	return !v.closed && v.clock.Now().Sub(v.booted) >= v.bootDelay
}

// SetArmed arms only in GUIDED once the boot delay passed, and disarms only on
// the ground. Refused requests are ignored like a flight controller rejecting
// the command.
func (v *Vehicle) SetArmed(armed bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return vehicle.ErrNotConnected
	}

	v.advance()

	switch {
	case armed && (!v.armable() || v.mode != vehicle.ModeGuided):
		v.logger.Debug("arming refused", slog.String("mode", v.mode))
		return nil
	case !armed && v.up > groundAltitude:
		v.logger.Debug("disarm refused in flight", slog.Float64("altitude", v.up))
		return nil
	}

	if v.armed != armed {
		v.logger.Info("armed state changed", slog.Bool("armed", armed))
	}
	v.armed = armed
	if !armed {
		v.hasTarget = false
	}
	return nil
}

func (v *Vehicle) Position() geo.Position {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.advance()

	p := geo.Offset(v.home, v.north, v.east)
	p.Altitude = v.up
	p.Timestamp = v.last.Sub(v.booted).Seconds()
	return p
}

func (v *Vehicle) Takeoff(altitude float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return vehicle.ErrNotConnected
	}

	v.advance()
	if !v.armed || v.mode != vehicle.ModeGuided {
		return fmt.Errorf("takeoff refused: armed=%t mode=%s", v.armed, v.mode)
	}

	v.hasTarget = true
	v.targetE, v.targetN, v.targetAlt = v.east, v.north, altitude
	return nil
}

func (v *Vehicle) Goto(target geo.Position) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return vehicle.ErrNotConnected
	}

	v.advance()
	if v.mode != vehicle.ModeGuided {
		return fmt.Errorf("goto refused in mode %s", v.mode)
	}

	v.hasTarget = true
	v.targetE, v.targetN = geo.Relative(v.home, target)
	v.targetAlt = target.Altitude
	return nil
}

func (v *Vehicle) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closed = true
	return nil
}

// advance moves the vehicle from the last update to now. Callers hold v.mu.
func (v *Vehicle) advance() {
	now := v.clock.Now()
	dt := now.Sub(v.last).Seconds()
	v.last = now

	if dt <= 0 || !v.armed {
		return
	}

	if v.mode == vehicle.ModeLand {
		v.up = math.Max(0, v.up-v.descentRate*dt)
		if v.up == 0 {
			v.armed = false
			v.logger.Info("landed, disarming")
		}
		return
	}

	if v.mode != vehicle.ModeGuided || !v.hasTarget {
		return
	}

	v.up = approach(v.up, v.targetAlt, v.climbRate*dt)

	de, dn := v.targetE-v.east, v.targetN-v.north
	dist := math.Hypot(de, dn)
	step := v.speed * dt
	if dist <= step {
		v.east, v.north = v.targetE, v.targetN
		return
	}
	v.east += de / dist * step
	v.north += dn / dist * step
}

func approach(cur, target, maxStep float64) float64 {
	diff := target - cur
	if math.Abs(diff) <= maxStep {
		return target
	}
	return cur + math.Copysign(maxStep, diff)
}
