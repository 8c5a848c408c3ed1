// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package control implements the per-tick pressure control law.
package control

import (
	"fmt"
	"math"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
	"github.com/relabs-tech/hyperbaric_controller/internal/profile"
)

// Trend is the direction of the planned pressure at the current second.
type Trend int

const (
	// Descending means the setpoint is falling (decompression).
	Descending Trend = iota
	// Ascending means the setpoint is rising (compression).
	Ascending
	Flat
)

func (t Trend) String() string {
	switch t {
	case Descending:
		return "descending"
	case Ascending:
		return "ascending"
	case Flat:
		return "flat"
	}
	return fmt.Sprintf("trend(%d)", int(t))
}

// Gains are the live controller coefficients.
type Gains struct {
	CompOffset   float64 `json:"comp_offset" yaml:"comp_offset"`
	CompGain     float64 `json:"comp_gain" yaml:"comp_gain"`
	CompDepth    float64 `json:"comp_depth" yaml:"comp_depth"`
	DecompOffset float64 `json:"decomp_offset" yaml:"decomp_offset"`
	DecompGain   float64 `json:"decomp_gain" yaml:"decomp_gain"`
	DecompDepth  float64 `json:"decomp_depth" yaml:"decomp_depth"`
}

// DefaultGains are the factory coefficients.
var DefaultGains = Gains{
	CompOffset:   12,
	CompGain:     8,
	CompDepth:    100,
	DecompOffset: 14,
	DecompGain:   7,
	DecompDepth:  100,
}

// Validate rejects gains that would divide by zero.
func (g Gains) Validate() error {
	if g.CompDepth == 0 {
		return chamber.ConfigError("comp_depth must not be zero")
	}
	return nil
}

// Params are the thresholds around the law.
type Params struct {
	MinimumValve float64 `yaml:"minimum_valve"`
	// StartDelay is the number of seconds after start before the law engages.
	StartDelay int `yaml:"start_delay"`
	// EndWindow is how many seconds before the profile end the session may finish.
	EndWindow int `yaml:"end_window"`
	// SurfaceFsw is the pressure considered to be at the surface.
	SurfaceFsw float64 `yaml:"surface_fsw"`
	// MinDecompFsw is the lowest pressure at which the decompressor law is evaluated.
	MinDecompFsw float64 `yaml:"min_decomp_fsw"`
	// DisplayBand shows the setpoint instead of the measurement when tracking is this close.
	DisplayBand float64 `yaml:"display_band"`
	ErrorWindow int     `yaml:"error_window"`
}

// DefaultParams match the chambers in service.
var DefaultParams = Params{
	MinimumValve: 12,
	StartDelay:   5,
	EndWindow:    60,
	SurfaceFsw:   0.9,
	MinDecompFsw: 0.5,
	DisplayBand:  2.5,
	ErrorWindow:  3,
}

// Input is everything the law reads for one tick.
type Input struct {
	Elapsed     int
	Profile     *profile.Profile
	PressureBar float64
	// Manual leaves the valves to the operator.
	Manual bool
	// Exiting forces the target to zero and opens the decompressor.
	Exiting bool
}

// Output is the result of one tick.
type Output struct {
	Active      bool
	TargetFsw   float64
	MeasuredFsw float64
	Error       float64
	AvgError    float64
	Trend       Trend
	PrevTrend   Trend
	// Drive is set when Comp and Decomp must be written to the actuators.
	Drive      bool
	Comp       float64
	Decomp     float64
	Finished   bool
	DisplayFsw float64
	Point      profile.Point
	NextPoint  profile.Point
	HasNext    bool
}

// Controller holds the state carried between ticks. It is not safe for
// concurrent use; the session engine owns it.
type Controller struct {
	gains  Gains
	params Params

	errors *ring
	trend  Trend
	comp   float64
	decomp float64

	vent Ventilation
}

func New(gains Gains, params Params) (*Controller, error) {
	if err := gains.Validate(); err != nil {
		return nil, err
	}
	if params.ErrorWindow < 1 {
		params.ErrorWindow = 3
	}
	return &Controller{gains: gains, params: params, errors: newRing(params.ErrorWindow)}, nil
}

func (c *Controller) Gains() Gains   { return c.gains }
func (c *Controller) Params() Params { return c.params }

// SetGains swaps the live coefficients.
func (c *Controller) SetGains(g Gains) error {
	if err := g.Validate(); err != nil {
		return err
	}
	c.gains = g
	return nil
}

// Valves returns the last commanded angles.
func (c *Controller) Valves() (comp, decomp float64) { return c.comp, c.decomp }

// Reset clears tick state. Gains and ventilation intensity presets survive.
func (c *Controller) Reset() {
	c.errors = newRing(c.params.ErrorWindow)
	c.trend = Descending
	c.comp, c.decomp = 0, 0
	c.vent = Ventilation{}
}

// Target is the setpoint in fsw for second t.
func Target(p *profile.Profile, t int, exiting bool) float64 {
	n := p.Len()
	if exiting || n == 0 || t > n {
		return 0
	}
	if pt, ok := p.At(t); ok {
		return chamber.BarToFsw(pt.Depth)
	}
	last, _ := p.Last()
	return chamber.BarToFsw(last.Depth)
}

// TrendAt compares second t with the next one. Without a next point it is Descending.
func TrendAt(p *profile.Profile, t int) Trend {
	cur, ok1 := p.At(t)
	next, ok2 := p.At(t + 1)
	if !ok1 || !ok2 {
		return Descending
	}
	switch {
	case cur.Depth > next.Depth:
		return Descending
	case cur.Depth < next.Depth:
		return Ascending
	}
	return Flat
}

// Step evaluates one tick.
func (c *Controller) Step(in Input) Output {
	out := Output{
		MeasuredFsw: chamber.BarToFsw(in.PressureBar),
		PrevTrend:   c.trend,
	}
	out.Point, _ = in.Profile.At(in.Elapsed)
	out.NextPoint, out.HasNext = in.Profile.At(in.Elapsed + 1)
	out.DisplayFsw = out.MeasuredFsw

	if in.Elapsed <= c.params.StartDelay {
		out.Trend = c.trend
		out.Comp, out.Decomp = c.comp, c.decomp
		return out
	}
	out.Active = true

	out.TargetFsw = Target(in.Profile, in.Elapsed, in.Exiting)
	out.Trend = TrendAt(in.Profile, in.Elapsed)
	c.trend = out.Trend

	out.Error = out.TargetFsw - out.MeasuredFsw
	c.errors.push(out.Error)
	out.AvgError = c.errors.mean()

	if math.Abs(out.Error) < c.params.DisplayBand && out.Point.Time > 0 {
		out.DisplayFsw = chamber.BarToFsw(out.Point.Depth)
	}

	if !in.Manual && !in.Exiting {
		c.applyLaw(out.Trend, out.Error, out.AvgError, out.MeasuredFsw)
		if c.vent.Active() {
			c.comp, c.decomp = c.vent.Law(c.gains, out.Error, out.AvgError, out.MeasuredFsw)
		}
		out.Drive = true
	}

	if in.Exiting {
		c.comp, c.decomp = 0, chamber.MaxValveAngle
		out.Drive = true
	}

	n := in.Profile.Len()
	if (in.Elapsed > n-c.params.EndWindow || in.Exiting) && out.MeasuredFsw <= c.params.SurfaceFsw {
		out.Finished = true
		c.comp, c.decomp = 0, chamber.MaxValveAngle
		out.Drive = true
	}

	c.comp = chamber.ClampValve(c.comp)
	c.decomp = chamber.ClampValve(c.decomp)
	out.Comp, out.Decomp = c.comp, c.decomp
	return out
}

// CompressorLaw is offset + gain*error + fsw/depth, floored at the minimum valve.
func CompressorLaw(g Gains, minimum, errFsw, fsw float64) float64 {
	v := g.CompOffset + g.CompGain*errFsw + fsw/g.CompDepth
	if v < minimum {
		v = minimum
	}
	return v
}

// DecompressorLaw is offset - gain*error + depth/fsw. ok is false when fsw is
// too low for the formula.
func DecompressorLaw(g Gains, minFsw, errFsw, fsw float64) (v float64, ok bool) {
	if !(fsw > minFsw) || fsw <= 0 {
		return 0, false
	}
	return g.DecompOffset - g.DecompGain*errFsw + g.DecompDepth/fsw, true
}

func (c *Controller) applyLaw(trend Trend, errFsw, avg, fsw float64) {
	comp := CompressorLaw(c.gains, c.params.MinimumValve, errFsw, fsw)
	decomp, decompOK := DecompressorLaw(c.gains, c.params.MinDecompFsw, errFsw, fsw)

	switch trend {
	case Ascending:
		switch {
		case errFsw > 0.1:
			c.comp, c.decomp = comp, 0
		case avg < -1.5:
			c.comp, c.decomp = 0, 0
		case avg < -0.6:
			c.comp, c.decomp = c.params.MinimumValve, 0
		}
	case Flat:
		switch {
		case avg > 0.1:
			c.comp, c.decomp = comp, 0
		case avg < -1:
			c.comp = 0
			if decompOK {
				c.decomp = decomp
			}
		default:
			c.comp, c.decomp = 0, 0
		}
	default:
		c.comp = 0
		if decompOK {
			c.decomp = math.Abs(decomp)
		}
	}
}

type ring struct {
	buf  []float64
	next int
	n    int
}

func newRing(size int) *ring { return &ring{buf: make([]float64, size)} }

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *ring) mean() float64 {
	if r.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < r.n; i++ {
		sum += r.buf[i]
	}
	return sum / float64(r.n)
}
