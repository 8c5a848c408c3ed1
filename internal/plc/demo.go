// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package plc

import (
	"bytes"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/go-logr/logr"

	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

// PlantConfig describes the simulated chamber.
type PlantConfig struct {
	Interval    time.Duration
	Registers   Registers
	Pressure    sensors.Calibration
	Temperature sensors.Calibration
	Humidity    sensors.Calibration
	// O2Raw21 is the raw O2 count in ambient air.
	O2Raw21 float64
	// SupplyBar is the compressor supply pressure.
	SupplyBar float64
	// CompRate and DecompRate are the fill and vent time constants, per second,
	// with the valve fully open.
	CompRate   float64
	DecompRate float64
}

// DefaultPlant is a small monoplace chamber.
var DefaultPlant = PlantConfig{
	Interval:   time.Second,
	Registers:  DefaultRegisters,
	O2Raw21:    8000,
	SupplyBar:  3,
	CompRate:   0.05,
	DecompRate: 0.08,
}

// DemoPlant is a simulated PLC gateway: a first-order chamber driven by the
// valve writes, read and written through the same sentences as the serial link.
type DemoPlant struct {
	cfg    PlantConfig
	logger logr.Logger
	parser *nmea.SentenceParser

	mu        sync.Mutex
	pressure  float64
	o2        float64
	humidity  float64
	bits      map[string]bool
	registers map[string]int
	seq       int
	pending   bytes.Buffer

	pr   *io.PipeReader
	pw   *io.PipeWriter
	stop chan struct{}
	once sync.Once
}

// NewDemoPlant starts the simulation. Close stops it.
func NewDemoPlant(logger logr.Logger, cfg PlantConfig) *DemoPlant {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	pr, pw := io.Pipe()
	d := &DemoPlant{
		cfg:       cfg,
		logger:    logger,
		parser:    NewParser(),
		o2:        21,
		humidity:  45,
		bits:      map[string]bool{cfg.Registers.Door: true},
		registers: map[string]int{},
		pr:        pr,
		pw:        pw,
		stop:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *DemoPlant) run() {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.Step(d.cfg.Interval.Seconds())
			if _, err := io.WriteString(d.pw, EncodeFrame(d.Frame())); err != nil {
				return
			}
		}
	}
}

// Step advances the plant by dt seconds.
func (d *DemoPlant) Step(dt float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := d.cfg.Registers
	comp := ValveAngle(r.CompAnalogLower, r.ValveAnalogUpper, d.registers[r.CompValve]) / 90
	decomp := ValveAngle(r.DecompAnalogLower, r.ValveAnalogUpper, d.registers[r.DecompValve]) / 90

	fill := comp * d.cfg.CompRate * math.Max(d.cfg.SupplyBar-d.pressure, 0)
	vent := decomp * d.cfg.DecompRate * d.pressure
	d.pressure = math.Max(d.pressure+(fill-vent)*dt, 0)

	// Mask leakage enriches the chamber slowly; venting pulls it back to air.
	switch {
	case d.bits[r.Oxygen]:
		d.o2 += 0.01 * dt
	case d.o2 > 21:
		d.o2 = math.Max(21, d.o2-(0.005+0.05*decomp)*dt)
	}
	d.seq = (d.seq + 1) % 65536
}

// Pressure is the simulated gauge pressure in bar.
func (d *DemoPlant) Pressure() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pressure
}

// Frame renders the plant state as a PLC sample vector.
func (d *DemoPlant) Frame() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	f := make([]float64, session.FrameDoor+1)
	f[0] = float64(d.seq)
	f[session.FramePressure] = math.Round(analog(d.cfg.Pressure, d.pressure))
	f[session.FrameO2] = math.Round(d.cfg.O2Raw21 * d.o2 / 21)
	f[session.FrameTemperature] = math.Round(analog(d.cfg.Temperature, 22+2*d.pressure))
	f[session.FrameHumidity] = math.Round(analog(d.cfg.Humidity, d.humidity))
	if d.bits[d.cfg.Registers.Door] {
		f[session.FrameDoor] = 1
	}
	return f
}

// analog is the inverse of the sensor calibration.
func analog(c sensors.Calibration, v float64) float64 {
	return sensors.LinearConversion(c.AnalogLower, c.AnalogUpper, c.EngLower, c.EngUpper, v, 0)
}

func (d *DemoPlant) Read(p []byte) (int, error) { return d.pr.Read(p) }

// Write accepts bit and register sentences; anything else is ignored.
func (d *DemoPlant) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.Write(p)
	for {
		line, err := d.pending.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			d.pending.Reset()
			d.pending.WriteString(line)
			return len(p), nil
		}
		d.apply(line)
	}
}

func (d *DemoPlant) apply(line string) {
	s, err := d.parser.Parse(strings.TrimSpace(line))
	if err != nil {
		d.logger.V(1).Info("demo plant ignoring sentence", "line", line, "error", err.Error())
		return
	}
	w, ok := s.(WriteSentence)
	if !ok {
		return
	}
	if w.Bit() {
		d.bits[w.Register] = w.Value != 0
		return
	}
	d.registers[w.Register] = int(w.Value)
}

func (d *DemoPlant) Close() error {
	d.once.Do(func() {
		close(d.stop)
		_ = d.pw.Close()
	})
	return nil
}
