// Package sensors turns raw PLC analog counts into filtered engineering values.
package sensors

import (
	"fmt"
	"math"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
)

// Calibration maps one physical sensor's analog range onto its engineering range.
type Calibration struct {
	Name        string  `yaml:"name" json:"name"`
	EngLower    float64 `yaml:"eng_lower" json:"eng_lower"`
	EngUpper    float64 `yaml:"eng_upper" json:"eng_upper"`
	AnalogLower float64 `yaml:"analog_lower" json:"analog_lower"`
	AnalogUpper float64 `yaml:"analog_upper" json:"analog_upper"`
	Decimals    int     `yaml:"decimals" json:"decimals"`
}

// Validate rejects a calibration whose analog bounds collapse.
func (c Calibration) Validate() error {
	if c.AnalogLower == c.AnalogUpper {
		return chamber.ConfigError(fmt.Sprintf("sensor %q: analog bounds must differ", c.Name))
	}
	if c.Decimals < 0 {
		return chamber.ConfigError(fmt.Sprintf("sensor %q: negative decimal precision", c.Name))
	}
	return nil
}

// Convert maps a raw count to engineering units at the sensor's precision.
// The result is not clamped to the nominal band; out-of-band values feed fault detection.
func Convert(c Calibration, raw float64) float64 {
	return LinearConversion(c.EngLower, c.EngUpper, c.AnalogLower, c.AnalogUpper, raw, c.Decimals)
}

// LinearConversion is the affine map used for sensor inputs and for valve outputs:
// value in [analogLower, analogUpper] lands in [lower, upper], rounded to decimals.
// Degenerate analog bounds return lower.
func LinearConversion(lower, upper, analogLower, analogUpper, value float64, decimals int) float64 {
	if analogUpper == analogLower {
		return Round(lower, decimals)
	}
	out := lower + (value-analogLower)*(upper-lower)/(analogUpper-analogLower)
	return Round(out, decimals)
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
