package safety

import (
	"errors"
	"fmt"

	"github.com/team-204/control/internal/geo"
)

const (
	BoundRadius      Bound = "radius"
	BoundMaxAltitude Bound = "max-altitude"
	BoundMinAltitude Bound = "min-altitude"
)

// Bound names the envelope limit a position violated.
type Bound string

func (b Bound) String() string {
	return string(b)
}

// Limits describes a cylinder around the home position. Planning limits are
// strict; runtime limits carry a margin because live GPS is noisier than a
// planned path.
type Limits struct {
	MaxRadius   float64 `yaml:"maxRadius" json:"maxRadius"`     // meters from home
	MaxAltitude float64 `yaml:"maxAltitude" json:"maxAltitude"` // meters above home
	MinAltitude float64 `yaml:"minAltitude" json:"minAltitude"` // meters above home
}

// Validate checks the limits describe a non-empty envelope.
func (l Limits) Validate() error {
	if l.MaxRadius <= 0 {
		return fmt.Errorf("max radius must be positive: %g", l.MaxRadius)
	}
	if l.MaxAltitude <= l.MinAltitude {
		return fmt.Errorf("max altitude %g must be above min altitude %g", l.MaxAltitude, l.MinAltitude)
	}
	return nil
}

// Widen returns a copy of the limits with the radius and maximum altitude
// extended by margin meters.
func (l Limits) Widen(margin float64) Limits {
	return Limits{
		MaxRadius:   l.MaxRadius + margin,
		MaxAltitude: l.MaxAltitude + margin,
		MinAltitude: l.MinAltitude,
	}
}

// Waypoint is a validated target position derived from a ground-station
// offset and the flight origin.
type Waypoint struct {
	Position geo.Position
	Offset   geo.OffsetPoint
}

// RejectionError reports the waypoint that failed planning validation and the
// bound it violated.
type RejectionError struct {
	Index int // position of the waypoint in the plan, -1 for a single point
	Point geo.Position
	Bound Bound
	Limit float64
	Value float64
}

func (e *RejectionError) Error() string {
	var what string
	switch e.Bound {
	case BoundRadius:
		what = fmt.Sprintf("exceeds max allowed radius of %gm (distance %.2fm)", e.Limit, e.Value)
	case BoundMaxAltitude:
		what = fmt.Sprintf("exceeds max allowed altitude of %gm (altitude %.2fm)", e.Limit, e.Value)
	case BoundMinAltitude:
		what = fmt.Sprintf("under min allowed altitude of %gm (altitude %.2fm)", e.Limit, e.Value)
	default:
		what = fmt.Sprintf("violates %s limit %g (value %g)", e.Bound, e.Limit, e.Value)
	}

	if e.Index >= 0 {
		return fmt.Sprintf("waypoint %d %s", e.Index, what)
	}
	return fmt.Sprintf("waypoint %s", what)
}

// ValidateWaypoint accepts candidate if it lies within limits of origin.
// Violations are rejected, never clamped.
func ValidateWaypoint(origin, candidate geo.Position, limits Limits) (Waypoint, error) {
	reject := func(b Bound, limit, value float64) (Waypoint, error) {
		return Waypoint{}, &RejectionError{Index: -1, Point: candidate, Bound: b, Limit: limit, Value: value}
	}

	if d := geo.Distance(origin, candidate); d > limits.MaxRadius {
		return reject(BoundRadius, limits.MaxRadius, d)
	}
	if candidate.Altitude > limits.MaxAltitude {
		return reject(BoundMaxAltitude, limits.MaxAltitude, candidate.Altitude)
	}
	if candidate.Altitude < limits.MinAltitude {
		return reject(BoundMinAltitude, limits.MinAltitude, candidate.Altitude)
	}

	east, north := geo.Relative(origin, candidate)
	return Waypoint{
		Position: candidate,
		Offset:   geo.OffsetPoint{East: east, North: north, Up: candidate.Altitude},
	}, nil
}

// ValidatePlan converts every offset into a waypoint relative to origin. A
// single rejected point voids the whole plan.
func ValidatePlan(origin geo.Position, plan []geo.OffsetPoint, limits Limits) ([]Waypoint, error) {
	if len(plan) == 0 {
		return nil, errors.New("empty flight path")
	}

	waypoints := make([]Waypoint, 0, len(plan))
	for i, point := range plan {
		candidate := geo.Offset(origin, point.North, point.East)
		candidate.Altitude = point.Up

		wp, err := ValidateWaypoint(origin, candidate, limits)
		if err != nil {
			var rejection *RejectionError
			if errors.As(err, &rejection) {
				rejection.Index = i
			}
			return nil, err
		}

		wp.Offset = point
		waypoints = append(waypoints, wp)
	}

	return waypoints, nil
}

// Breach describes a live position outside the runtime envelope.
type Breach struct {
	Bound Bound
	Limit float64
	Value float64
}

func (b Breach) String() string {
	return fmt.Sprintf("%s limit %g exceeded: %.2f", b.Bound, b.Limit, b.Value)
}

// Evaluate tests current against limits around home. The radius is checked
// first; altitude is only evaluated when the radius passes.
func Evaluate(home, current geo.Position, limits Limits) (Breach, bool) {
	if d := geo.Distance(home, current); d > limits.MaxRadius {
		return Breach{Bound: BoundRadius, Limit: limits.MaxRadius, Value: d}, true
	}
	if current.Altitude > limits.MaxAltitude {
		return Breach{Bound: BoundMaxAltitude, Limit: limits.MaxAltitude, Value: current.Altitude}, true
	}
	return Breach{}, false
}

// CheckRuntime is Evaluate gated on autonomy: while an operator flies the
// vehicle no breach is reported.
func CheckRuntime(home, current geo.Position, limits Limits, autonomous bool) (Breach, bool) {
	if !autonomous {
		return Breach{}, false
	}
	return Evaluate(home, current, limits)
}
