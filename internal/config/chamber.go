// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/control"
	"github.com/relabs-tech/hyperbaric_controller/internal/plc"
	"github.com/relabs-tech/hyperbaric_controller/internal/profile"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
	"github.com/relabs-tech/hyperbaric_controller/internal/tuning"
)

// Chamber describes one hardware variant: how it plans, how its sensors are
// scaled and how its PLC is wired.
type Chamber struct {
	Name    string         `yaml:"name"`
	Planner profile.Config `yaml:"planner"`

	Pressure    sensors.Calibration `yaml:"pressure"`
	Temperature sensors.Calibration `yaml:"temperature"`
	Humidity    sensors.Calibration `yaml:"humidity"`
	O2Decimals  int                 `yaml:"o2_decimals"`
	// O2Points are the three (raw, percent) calibration points.
	O2Points [3]sensors.CalPoint `yaml:"o2_points"`

	Gains   control.Gains  `yaml:"gains"`
	Control control.Params `yaml:"control"`
	Alarms  alarm.Limits   `yaml:"alarms"`
	// AutoVentilationAngle is the decompressor opening used when high O2 starts ventilation.
	AutoVentilationAngle float64 `yaml:"auto_ventilation_angle"`

	Registers plc.Registers `yaml:"registers"`

	TuningLimits     map[tuning.Param]tuning.Range `yaml:"tuning_limits"`
	TuningThresholds tuning.Thresholds             `yaml:"tuning_thresholds"`
}

// DefaultChamber returns the values of the chambers in service.
func DefaultChamber() *Chamber {
	limits := make(map[tuning.Param]tuning.Range, len(tuning.DefaultLimits))
	for k, v := range tuning.DefaultLimits {
		limits[k] = v
	}
	return &Chamber{
		Name:    "chamber",
		Planner: profile.DefaultConfig(),
		Pressure: sensors.Calibration{
			Name: "pressure", EngLower: 0, EngUpper: 5,
			AnalogLower: 4000, AnalogUpper: 20000, Decimals: 2,
		},
		Temperature: sensors.Calibration{
			Name: "temperature", EngLower: 0, EngUpper: 50,
			AnalogLower: 4000, AnalogUpper: 20000, Decimals: 1,
		},
		Humidity: sensors.Calibration{
			Name: "humidity", EngLower: 0, EngUpper: 100,
			AnalogLower: 4000, AnalogUpper: 20000, Decimals: 1,
		},
		O2Decimals:           1,
		O2Points:             [3]sensors.CalPoint{{Raw: 0, Actual: 0}, {Raw: 860, Actual: 21}, {Raw: 4600, Actual: 100}},
		Gains:                control.DefaultGains,
		Control:              control.DefaultParams,
		Alarms:               alarm.DefaultLimits,
		AutoVentilationAngle: 30,
		Registers:            plc.DefaultRegisters,
		TuningLimits:         limits,
		TuningThresholds:     tuning.DefaultThresholds,
	}
}

// Validate checks the parts that would fail at runtime.
func (c *Chamber) Validate() error {
	if err := c.Planner.Validate(); err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	for _, cal := range []sensors.Calibration{c.Pressure, c.Temperature, c.Humidity} {
		if err := cal.Validate(); err != nil {
			return err
		}
	}
	if _, err := c.O2Model(); err != nil {
		return err
	}
	if err := c.Gains.Validate(); err != nil {
		return fmt.Errorf("gains: %w", err)
	}
	return nil
}

// O2Model builds the quadratic from the configured points.
func (c *Chamber) O2Model() (*sensors.O2Model, error) {
	return sensors.NewO2Model(c.O2Points[0], c.O2Points[1], c.O2Points[2])
}

// TuningRules returns the tuner rule set of this chamber.
func (c *Chamber) TuningRules() tuning.Rules {
	return tuning.Rules{Limits: c.TuningLimits, Thresholds: c.TuningThresholds}
}

// ReadChamber reads and validates the chamber file. Keys missing from the
// file keep their DefaultChamber values.
func ReadChamber(path string) (*Chamber, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chamber file: %w", err)
	}

	cfg := DefaultChamber()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing chamber file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("chamber file %s: %w", path, err)
	}
	return cfg, nil
}

// WriteChamber writes cfg to path, creating the directory if needed.
func WriteChamber(path string, cfg *Chamber) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating chamber directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling chamber file: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing chamber file: %w", err)
	}
	return nil
}

// ApplyOverrides copies the process config alarm overrides onto the chamber limits.
func (c *Chamber) ApplyOverrides(p *Config) {
	if p.O2AlarmPercent > 0 {
		c.Alarms.O2Percent = p.O2AlarmPercent
	}
	if p.HumidityAlarmPercent > 0 {
		c.Alarms.HumidityPct = p.HumidityAlarmPercent
	}
}
