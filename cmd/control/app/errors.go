package app

import (
	"errors"

	"github.com/team-204/control/internal/safety"
	"github.com/team-204/control/internal/vehicle"
)

// ErrConnection wraps failures to reach the ground station or the sensor
// service. Flight controller failures carry vehicle.ErrConnection instead.
var ErrConnection = errors.New("connection failed")

// Process exit codes
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitConnection = 2
	ExitRejected   = 3
)

// ExitCode maps an error returned by Run to the process exit status.
func ExitCode(err error) int {
	var rejection *safety.RejectionError

	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConnection), errors.Is(err, vehicle.ErrConnection):
		return ExitConnection
	case errors.As(err, &rejection):
		return ExitRejected
	default:
		return ExitFailure
	}
}
