package flight

import (
	"errors"
	"fmt"
	"time"

	"github.com/team-204/control/internal/safety"
)

const (
	DefaultTakeoffAltitude = 10.0
	DefaultTick            = time.Second
	DefaultWaypointTicks   = 60
	DefaultArmTicks        = 30
	DefaultTakeoffTicks    = 60
	DefaultLandTicks       = 120
	DefaultSettleDelay     = 5 * time.Second
	DefaultReachedRadius   = 1.0

	// RuntimeMargin widens the planning limits while flying.
	RuntimeMargin = 10.0

	// takeoff counts as complete at this share of the target altitude
	takeoffCompletion = 0.95
	// below this altitude a landing counts as touched down
	groundAltitude = 1.0
)

// Config tunes a Sequencer. Zero values are replaced by defaults, except the
// limits, which must be set.
type Config struct {
	TakeoffAltitude float64
	Tick            time.Duration
	WaypointTicks   int
	ArmTicks        int
	TakeoffTicks    int // ticks allowed to reach the takeoff altitude
	LandTicks       int // ticks allowed to touch down after LAND
	SettleDelay     time.Duration
	ReachedRadius   float64
	ReturnHome      bool

	Planning safety.Limits // applied to the plan before arming
	Runtime  safety.Limits // applied every tick while navigating
	Takeoff  safety.Limits // applied every tick while climbing
}

// DefaultConfig returns the limits and timing of the original airframe.
func DefaultConfig() Config {
	planning := safety.Limits{MaxRadius: 250, MaxAltitude: 50, MinAltitude: 3}

	return Config{
		TakeoffAltitude: DefaultTakeoffAltitude,
		Tick:            DefaultTick,
		WaypointTicks:   DefaultWaypointTicks,
		ArmTicks:        DefaultArmTicks,
		TakeoffTicks:    DefaultTakeoffTicks,
		LandTicks:       DefaultLandTicks,
		SettleDelay:     DefaultSettleDelay,
		ReachedRadius:   DefaultReachedRadius,
		ReturnHome:      true,
		Planning:        planning,
		Runtime:         planning.Widen(RuntimeMargin),
		Takeoff:         TakeoffLimits(DefaultTakeoffAltitude),
	}
}

// TakeoffLimits is the envelope used while climbing to altitude: a 10 m
// radius and 10 m of overshoot.
func TakeoffLimits(altitude float64) safety.Limits {
	return safety.Limits{MaxRadius: 10, MaxAltitude: altitude + 10}
}

func (c Config) withDefaults() Config {
	if c.TakeoffAltitude <= 0 {
		c.TakeoffAltitude = DefaultTakeoffAltitude
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.WaypointTicks <= 0 {
		c.WaypointTicks = DefaultWaypointTicks
	}
	if c.ArmTicks <= 0 {
		c.ArmTicks = DefaultArmTicks
	}
	if c.TakeoffTicks <= 0 {
		c.TakeoffTicks = DefaultTakeoffTicks
	}
	if c.LandTicks <= 0 {
		c.LandTicks = DefaultLandTicks
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.ReachedRadius <= 0 {
		c.ReachedRadius = DefaultReachedRadius
	}
	if c.Takeoff == (safety.Limits{}) {
		c.Takeoff = TakeoffLimits(c.TakeoffAltitude)
	}
	return c
}

// Validate checks the limits are usable and the takeoff altitude lies inside
// both the planning and takeoff envelopes.
func (c Config) Validate() error {
	c = c.withDefaults()

	if err := c.Planning.Validate(); err != nil {
		return fmt.Errorf("planning limits: %w", err)
	}
	if err := c.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime limits: %w", err)
	}
	if c.Takeoff.MaxRadius <= 0 {
		return errors.New("takeoff limits: max radius must be positive")
	}
	if c.TakeoffAltitude > c.Planning.MaxAltitude {
		return fmt.Errorf("takeoff altitude %g exceeds planning max altitude %g", c.TakeoffAltitude, c.Planning.MaxAltitude)
	}
	if c.TakeoffAltitude > c.Takeoff.MaxAltitude {
		return fmt.Errorf("takeoff altitude %g exceeds takeoff max altitude %g", c.TakeoffAltitude, c.Takeoff.MaxAltitude)
	}
	return nil
}
