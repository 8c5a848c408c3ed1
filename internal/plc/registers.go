// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package plc

import (
	"fmt"
	"math"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
)

// Registers names the PLC addresses driven by the controller.
type Registers struct {
	Door         string `yaml:"door"`
	Buzzer       string `yaml:"buzzer"`
	Oxygen       string `yaml:"oxygen"`
	SessionStart string `yaml:"session_start"`
	// Drain shares M0120 with the session start bit on the chambers in service.
	Drain      string `yaml:"drain"`
	LiveBit    string `yaml:"live_bit"`
	AlarmReset string `yaml:"alarm_reset"`

	DoorOpen     string `yaml:"door_open"`
	DoorClose    string `yaml:"door_close"`
	DoorForward  string `yaml:"door_forward"`
	DoorBackward string `yaml:"door_backward"`

	CompValve   string `yaml:"comp_valve"`
	DecompValve string `yaml:"decomp_valve"`
	Fan         string `yaml:"fan"`

	// Valve outputs map 0..90 degrees onto [AnalogLower, ValveAnalogUpper].
	CompAnalogLower   float64 `yaml:"comp_analog_lower"`
	DecompAnalogLower float64 `yaml:"decomp_analog_lower"`
	ValveAnalogUpper  float64 `yaml:"valve_analog_upper"`

	// FanSpeeds is the register value per fan step 0..4.
	FanSpeeds [5]int `yaml:"fan_speeds"`
}

// DefaultRegisters is the map of the chambers in service.
var DefaultRegisters = Registers{
	Door:         "M0100",
	Buzzer:       "M0101",
	Oxygen:       "M0110",
	SessionStart: "M0120",
	Drain:        "M0120",
	LiveBit:      "M0121",
	AlarmReset:   "M0400",

	DoorOpen:     "M0300",
	DoorClose:    "M0301",
	DoorForward:  "M0302",
	DoorBackward: "M0303",

	CompValve:   "R01000",
	DecompValve: "R01001",
	Fan:         "R01700",

	CompAnalogLower:   4000,
	DecompAnalogLower: 2500,
	ValveAnalogUpper:  16383,

	FanSpeeds: [5]int{0, 50, 70, 100, 150},
}

// ValveCounts converts a valve angle to the analog output value. The angle is
// clamped to 0..90 and rounded to whole degrees first.
func ValveCounts(analogLower, analogUpper, angle float64) int {
	angle = math.Round(chamber.ClampValve(angle))
	return int(sensors.LinearConversion(analogLower, analogUpper, 0, chamber.MaxValveAngle, angle, 0))
}

// ValveAngle is the inverse of ValveCounts.
func ValveAngle(analogLower, analogUpper float64, counts int) float64 {
	return chamber.ClampValve(sensors.LinearConversion(0, chamber.MaxValveAngle, analogLower, analogUpper, float64(counts), 1))
}

// Writer sends bit and register writes to the PLC.
type Writer interface {
	WriteBit(register string, on bool) error
	WriteRegister(register string, value int) error
}

// Actuator maps chamber outputs onto PLC registers.
type Actuator struct {
	w    Writer
	regs Registers
}

func NewActuator(w Writer, regs Registers) *Actuator {
	return &Actuator{w: w, regs: regs}
}

func (a *Actuator) CompValve(angle float64) error {
	return a.w.WriteRegister(a.regs.CompValve, ValveCounts(a.regs.CompAnalogLower, a.regs.ValveAnalogUpper, angle))
}

func (a *Actuator) DecompValve(angle float64) error {
	return a.w.WriteRegister(a.regs.DecompValve, ValveCounts(a.regs.DecompAnalogLower, a.regs.ValveAnalogUpper, angle))
}

// Door writes the door latch: 1 closes, 0 opens.
func (a *Actuator) Door(closed bool) error { return a.w.WriteBit(a.regs.Door, closed) }

func (a *Actuator) Buzzer(on bool) error { return a.w.WriteBit(a.regs.Buzzer, on) }

func (a *Actuator) OxygenValve(on bool) error { return a.w.WriteBit(a.regs.Oxygen, on) }

func (a *Actuator) SessionStartBit(on bool) error { return a.w.WriteBit(a.regs.SessionStart, on) }

func (a *Actuator) Drain(on bool) error { return a.w.WriteBit(a.regs.Drain, on) }

func (a *Actuator) Fan(speed int) error {
	if speed < 0 || speed >= len(a.regs.FanSpeeds) {
		return fmt.Errorf("fan speed %d outside 0..%d", speed, len(a.regs.FanSpeeds)-1)
	}
	return a.w.WriteRegister(a.regs.Fan, a.regs.FanSpeeds[speed])
}

// DoorControl engages or releases one door motor direction.
func (a *Actuator) DoorControl(direction string, engage bool) error {
	var reg string
	switch direction {
	case "open":
		reg = a.regs.DoorOpen
	case "close":
		reg = a.regs.DoorClose
	case "forward":
		reg = a.regs.DoorForward
	case "backward":
		reg = a.regs.DoorBackward
	default:
		return fmt.Errorf("unknown door direction %q", direction)
	}
	return a.w.WriteBit(reg, engage)
}

// ResetAlarmLatch clears the PLC alarm latch.
func (a *Actuator) ResetAlarmLatch() error { return a.w.WriteBit(a.regs.AlarmReset, false) }
