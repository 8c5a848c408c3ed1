// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package alarm

import (
	"math"
	"time"
)

// Limits configure the supervisor.
type Limits struct {
	DeviationFsw   float64       `yaml:"deviation_fsw"`
	DeviationTicks int           `yaml:"deviation_ticks"`
	Cooldown       time.Duration `yaml:"cooldown"`
	PurgeAngle     float64       `yaml:"purge_angle"`
	PurgeDuration  time.Duration `yaml:"purge_duration"`
	O2Percent      float64       `yaml:"o2_percent"`
	HumidityPct    float64       `yaml:"humidity_percent"`
	LevelRearm     time.Duration `yaml:"level_rearm"`
	// HighO2Ticks is how many consecutive high O2 ticks start ventilation.
	HighO2Ticks int `yaml:"high_o2_ticks"`
	// AlarmDuration is the display time of patient and fire alarms, in seconds.
	AlarmDuration int `yaml:"alarm_duration"`
}

// DefaultLimits match the chambers in service.
var DefaultLimits = Limits{
	DeviationFsw:   5,
	DeviationTicks: 10,
	Cooldown:       10 * time.Minute,
	PurgeAngle:     35,
	PurgeDuration:  15 * time.Second,
	O2Percent:      23.5,
	HumidityPct:    70,
	LevelRearm:     10 * time.Minute,
	HighO2Ticks:    5,
	AlarmDuration:  10,
}

// Status word bits.
const (
	BitAlarm   = 0
	BitPatient = 1
	BitFire    = 2
)

// StatusEvent is the result of feeding a status word.
type StatusEvent struct {
	Rising  bool
	Falling bool
	// Kind is KindFire or KindPatient on a rising edge with a cause bit set.
	Kind    Kind
	Message string
}

// Supervisor holds the counters and debounce flags of the alarm rules. It raises
// nothing itself: callers act on the returned decisions and schedule the
// cooldown and re-arm tasks. Not safe for concurrent use.
type Supervisor struct {
	limits Limits

	deviationCount int
	suppressed     bool

	o2Fired       bool
	humidityFired bool
	highO2Ticks   int

	statusHigh bool
}

func NewSupervisor(l Limits) *Supervisor {
	return &Supervisor{limits: l}
}

func (s *Supervisor) Limits() Limits { return s.limits }

// CheckDeviation counts consecutive ticks with |error| above the limit. It
// returns true exactly once when the count passes the threshold in auto mode,
// then stays quiet until EndCooldown.
func (s *Supervisor) CheckDeviation(errFsw float64, auto bool) bool {
	if math.Abs(errFsw) > s.limits.DeviationFsw {
		s.deviationCount++
	} else {
		s.deviationCount = 0
	}
	if s.deviationCount > s.limits.DeviationTicks && auto && !s.suppressed {
		s.suppressed = true
		return true
	}
	return false
}

// DeviationCount reports the current consecutive count.
func (s *Supervisor) DeviationCount() int { return s.deviationCount }

// Suppressed reports whether a deviation cooldown is running.
func (s *Supervisor) Suppressed() bool { return s.suppressed }

// EndCooldown re-enables the deviation rule and resets its counter.
func (s *Supervisor) EndCooldown() {
	s.suppressed = false
	s.deviationCount = 0
}

// CheckLevels returns the level alarms that fire now. A fired kind stays quiet
// until Rearm.
func (s *Supervisor) CheckLevels(o2, humidity float64) []Kind {
	var fired []Kind
	if o2 > s.limits.O2Percent && !s.o2Fired {
		s.o2Fired = true
		fired = append(fired, KindHighO2)
	}
	if humidity > s.limits.HumidityPct && !s.humidityFired {
		s.humidityFired = true
		fired = append(fired, KindHighHumidity)
	}
	return fired
}

// Rearm lets a level alarm fire again.
func (s *Supervisor) Rearm(kind Kind) {
	switch kind {
	case KindHighO2:
		s.o2Fired = false
	case KindHighHumidity:
		s.humidityFired = false
	}
}

// HighO2Sustained counts consecutive ticks above the O2 limit. It reports
// true while the count exceeds HighO2Ticks and recovered once O2 is back in range.
func (s *Supervisor) HighO2Sustained(o2 float64) (high, recovered bool) {
	if o2 > s.limits.O2Percent {
		s.highO2Ticks++
		return s.highO2Ticks > s.limits.HighO2Ticks, false
	}
	wasHigh := s.highO2Ticks > s.limits.HighO2Ticks
	s.highO2Ticks = 0
	return false, wasHigh
}

// StatusWord decodes the PLC status bits. Bit 0 is the alarm latch: its rising
// edge reports fire (bit 2) before patient (bit 1). The falling edge clears.
func (s *Supervisor) StatusWord(word int) StatusEvent {
	high := word&(1<<BitAlarm) != 0
	var ev StatusEvent
	switch {
	case high && !s.statusHigh:
		ev.Rising = true
		switch {
		case word&(1<<BitFire) != 0:
			ev.Kind, ev.Message = KindFire, MsgFire
		case word&(1<<BitPatient) != 0:
			ev.Kind, ev.Message = KindPatient, MsgPatient
		}
	case !high && s.statusHigh:
		ev.Falling = true
	}
	s.statusHigh = high
	return ev
}

// ResetSession clears per-session counters. Debounce flags and the status latch
// belong to the chamber and survive.
func (s *Supervisor) ResetSession() {
	s.deviationCount = 0
	s.suppressed = false
	s.highO2Ticks = 0
}
