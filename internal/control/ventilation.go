package control

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
)

// ErrVentilationInactive is returned when adjusting ventilation that was not started.
var ErrVentilationInactive = errors.New("ventilation is not active")

// VentilationIntensity is the default decompressor opening per mode.
var VentilationIntensity = map[int]float64{1: 20, 2: 35, 3: 50}

// Ventilation holds a fixed decompressor opening while the compressor keeps
// the chamber at the setpoint.
type Ventilation struct {
	Mode      int     `json:"mode"`
	Intensity float64 `json:"intensity"`
}

func (v Ventilation) Active() bool { return v.Mode > 0 }

// Law returns the valve pair for a ventilation tick.
func (v Ventilation) Law(g Gains, errFsw, avg, fsw float64) (comp, decomp float64) {
	switch {
	case errFsw > 0.5:
		comp = g.CompOffset + g.CompGain*avg + fsw/g.CompDepth
		if comp < 15 {
			comp = 16
		}
	case errFsw >= 0:
		comp = 2 * v.Intensity / 3
	case errFsw > -0.3:
		comp = 5 * v.Intensity / 9
	default:
		comp = 0
	}
	return comp, v.Intensity
}

// StartVentilation switches to mode 1..3. A nil intensity uses the mode default.
func (c *Controller) StartVentilation(mode int, intensity *float64) error {
	def, ok := VentilationIntensity[mode]
	if !ok {
		return chamber.ConfigError(fmt.Sprintf("unknown ventilation mode %d", mode))
	}
	if intensity != nil {
		def = chamber.ClampValve(*intensity)
	}
	c.vent = Ventilation{Mode: mode, Intensity: def}
	return nil
}

// SetVentilationIntensity changes the opening of active ventilation.
func (c *Controller) SetVentilationIntensity(intensity float64) error {
	if !c.vent.Active() {
		return ErrVentilationInactive
	}
	c.vent.Intensity = chamber.ClampValve(intensity)
	return nil
}

// StopVentilation ends ventilation and closes both valves.
func (c *Controller) StopVentilation() {
	c.vent = Ventilation{}
	c.comp, c.decomp = 0, 0
}

func (c *Controller) Ventilation() Ventilation { return c.vent }
