package mavlink

import (
	"fmt"

	"github.com/team-204/control/internal/vehicle"
)

// ArduCopter custom modes.
var copterModes = map[string]uint32{
	vehicle.ModeStabilize: 0,
	vehicle.ModeAltHold:   2,
	vehicle.ModeAuto:      3,
	vehicle.ModeGuided:    4,
	vehicle.ModeLoiter:    5,
	vehicle.ModeRTL:       6,
	vehicle.ModeLand:      9,
}

func customMode(mode string) (uint32, bool) {
	m, ok := copterModes[mode]
	return m, ok
}

func modeName(custom uint32) string {
	for name, m := range copterModes {
		if m == custom {
			return name
		}
	}
	return fmt.Sprintf("MODE(%d)", custom)
}
