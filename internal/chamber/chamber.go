// Package chamber holds the units and error kinds shared by the controller packages.
package chamber

import (
	"errors"
	"math"
)

// FswPerBar converts gauge bar to feet of sea water.
const FswPerBar = 33.4

// MaxValveAngle is the fully open valve position in degrees.
const MaxValveAngle = 90.0

// ErrConfiguration marks setup or command-time failures: degenerate calibration,
// non-positive treatment duration, unknown speed class, unrecognized profile shape.
// Commands failing with it are rejected, never applied half way.
var ErrConfiguration = errors.New("configuration error")

// ConfigError wraps ErrConfiguration with a reason.
func ConfigError(reason string) error {
	return &configError{reason: reason}
}

type configError struct {
	reason string
}

func (e *configError) Error() string { return "configuration error: " + e.reason }

func (e *configError) Unwrap() error { return ErrConfiguration }

// BarToFsw converts a gauge pressure in bar to fsw.
func BarToFsw(bar float64) float64 { return bar * FswPerBar }

// ClampValve limits a valve command to [0, MaxValveAngle]. Non-finite input closes the valve.
func ClampValve(angle float64) float64 {
	if math.IsNaN(angle) || angle < 0 {
		return 0
	}
	if angle > MaxValveAngle {
		return MaxValveAngle
	}
	return angle
}
