package vehicle

import (
	"errors"

	"github.com/team-204/control/internal/geo"
)

// Flight modes understood by the supervisor. Backends map them to their
// autopilot's own representation.
const (
	ModeStabilize = "STABILIZE"
	ModeAltHold   = "ALT_HOLD"
	ModeAuto      = "AUTO"
	ModeGuided    = "GUIDED"
	ModeLoiter    = "LOITER"
	ModeRTL       = "RTL"
	ModeLand      = "LAND"
)

var (
	// ErrConnection is returned when the flight controller cannot be reached.
	ErrConnection = errors.New("flight controller connection failed")

	// ErrNotConnected is returned by commands issued after Close.
	ErrNotConnected = errors.New("flight controller not connected")

	// ErrUnknownMode is returned by SetMode for a mode the backend cannot map.
	ErrUnknownMode = errors.New("unknown flight mode")
)

// Vehicle is the flight controller as seen by the supervisor. Commands are
// fire-and-forget: they return once sent, and their effect is observed through
// the state accessors on later ticks.
type Vehicle interface {
	// Mode returns the current flight mode, for example ModeGuided.
	Mode() string
	SetMode(mode string) error

	Armed() bool
	// Armable reports whether pre-arm checks pass.
	Armable() bool
	SetArmed(armed bool) error

	// Position returns the latest global position with altitude relative
	// to home.
	Position() geo.Position

	// Takeoff climbs to altitude meters above home. The vehicle must be
	// armed and guided.
	Takeoff(altitude float64) error
	Goto(target geo.Position) error

	Close() error
}
