// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package profile

import (
	"fmt"
	"math"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
)

// Block is one treatment block of an override sequence.
type Block struct {
	Minutes float64 `yaml:"minutes" json:"minutes"`
	Gas     Gas     `yaml:"gas" json:"gas"`
}

// Override is a hand-tuned treatment sequence for a (total, depth, speed) combination.
// Zero Depth or Speed matches any value.
type Override struct {
	TotalMinutes float64 `yaml:"total" json:"total"`
	Depth        float64 `yaml:"depth" json:"depth"`
	Speed        int     `yaml:"speed" json:"speed"`
	Blocks       []Block `yaml:"blocks" json:"blocks"`
}

func (o Override) matches(total, depth float64, speed int) bool {
	if o.TotalMinutes != total {
		return false
	}
	if o.Depth != 0 && math.Abs(o.Depth-depth) > 1e-9 {
		return false
	}
	return o.Speed == 0 || o.Speed == speed
}

func (o Override) specificity() int {
	n := 0
	if o.Depth != 0 {
		n++
	}
	if o.Speed != 0 {
		n++
	}
	return n
}

func (o Override) minutes() float64 {
	var sum float64
	for _, b := range o.Blocks {
		sum += b.Minutes
	}
	return sum
}

// Config is the chamber-variant planning table.
type Config struct {
	// PlanSlopes are bar per 10 minutes, keyed by speed class.
	PlanSlopes map[int]float64 `yaml:"plan_slopes" json:"plan_slopes"`
	// StopSlopes are used for the emergency ramp to surface.
	StopSlopes  map[int]float64 `yaml:"stop_slopes" json:"stop_slopes"`
	OxygenBlock float64         `yaml:"oxygen_block" json:"oxygen_block"`
	AirBreak    float64         `yaml:"air_break" json:"air_break"`
	Overrides   []Override      `yaml:"overrides" json:"overrides"`
}

// DefaultConfig is the 20/5 oxygen chamber variant.
func DefaultConfig() Config {
	o := func(m float64) Block { return Block{Minutes: m, Gas: GasOxygen} }
	a := func(m float64) Block { return Block{Minutes: m, Gas: GasAir} }
	return Config{
		PlanSlopes:  map[int]float64{1: 0.5, 2: 1, 3: 2},
		StopSlopes:  map[int]float64{1: 0.5, 2: 1, 3: 3},
		OxygenBlock: 20,
		AirBreak:    5,
		Overrides: []Override{
			{TotalMinutes: 80, Depth: 0.5, Speed: 2, Blocks: []Block{o(20), a(5), o(20), a(5), o(20)}},
			{TotalMinutes: 80, Blocks: []Block{o(15), a(5), o(20), a(5), o(15)}},
			{TotalMinutes: 110, Blocks: []Block{o(20), a(5), o(20), a(5), o(20), a(5), o(15)}},
		},
	}
}

// Validate checks the slopes and block lengths.
func (c Config) Validate() error {
	if len(c.PlanSlopes) == 0 || len(c.StopSlopes) == 0 {
		return chamber.ConfigError("speed slopes are required")
	}
	for k, v := range c.PlanSlopes {
		if !(v > 0) {
			return chamber.ConfigError(fmt.Sprintf("plan slope for speed %d must be positive", k))
		}
	}
	for k, v := range c.StopSlopes {
		if !(v > 0) {
			return chamber.ConfigError(fmt.Sprintf("stop slope for speed %d must be positive", k))
		}
	}
	if !(c.OxygenBlock > 0) || c.AirBreak < 0 {
		return chamber.ConfigError("oxygen block must be positive and air break non-negative")
	}
	return nil
}

// Plan is a minute-level treatment plan.
type Plan struct {
	Depth            float64   `json:"depth"`
	TotalMinutes     float64   `json:"totalDuration"`
	Speed            int       `json:"speed"`
	DescentMinutes   float64   `json:"descentDuration"`
	AscentMinutes    float64   `json:"ascentDuration"`
	TreatmentMinutes float64   `json:"treatmentDuration"`
	Segments         []Segment `json:"segments"`
}

// Profile returns the plan as a minute profile.
func (pl Plan) Profile() *Profile {
	return NewByMinute(append([]Segment(nil), pl.Segments...))
}

// Planner turns operator parameters into profiles.
type Planner struct {
	cfg Config
}

func NewPlanner(cfg Config) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Planner{cfg: cfg}, nil
}

func (p *Planner) Config() Config { return p.cfg }

// PlanSlope is the planning slope of a speed class.
func (p *Planner) PlanSlope(speed int) (float64, error) {
	s, ok := p.cfg.PlanSlopes[speed]
	if !ok {
		return 0, chamber.ConfigError(fmt.Sprintf("unknown speed class %d", speed))
	}
	return s, nil
}

// StopSlope is the surface-ramp slope of a speed class.
func (p *Planner) StopSlope(speed int) (float64, error) {
	s, ok := p.cfg.StopSlopes[speed]
	if !ok {
		return 0, chamber.ConfigError(fmt.Sprintf("unknown speed class %d", speed))
	}
	return s, nil
}

// TransitMinutes is the descent (and ascent) duration for depth at a speed class.
func (p *Planner) TransitMinutes(depth float64, speed int) (float64, error) {
	slope, err := p.PlanSlope(speed)
	if err != nil {
		return 0, err
	}
	return math.Round(depth * 10 / slope), nil
}

// Plan builds the minute plan: descent ramp, treatment blocks, ascent ramp.
func (p *Planner) Plan(depth, totalMinutes float64, speed int) (Plan, error) {
	if !(depth > 0) {
		return Plan{}, chamber.ConfigError(fmt.Sprintf("depth %v must be positive", depth))
	}
	transit, err := p.TransitMinutes(depth, speed)
	if err != nil {
		return Plan{}, err
	}
	treatment := totalMinutes - 2*transit
	if treatment <= 0 {
		return Plan{}, chamber.ConfigError(fmt.Sprintf(
			"treatment duration %v min is not positive (total %v, descent %v, ascent %v)",
			treatment, totalMinutes, transit, transit))
	}

	blocks := p.treatmentBlocks(treatment, depth, totalMinutes, speed)

	segs := make([]Segment, 0, len(blocks)+2)
	segs = append(segs, Segment{Minutes: transit, Depth: depth, Gas: GasAir})
	for _, b := range blocks {
		segs = append(segs, Segment{Minutes: b.Minutes, Depth: depth, Gas: b.Gas})
	}
	segs = append(segs, Segment{Minutes: transit, Depth: 0, Gas: GasAir})

	return Plan{
		Depth:            depth,
		TotalMinutes:     totalMinutes,
		Speed:            speed,
		DescentMinutes:   transit,
		AscentMinutes:    transit,
		TreatmentMinutes: treatment,
		Segments:         segs,
	}, nil
}

// Expand plans and expands in one step.
func (p *Planner) Expand(depth, totalMinutes float64, speed int) (Plan, *Profile, error) {
	pl, err := p.Plan(depth, totalMinutes, speed)
	if err != nil {
		return Plan{}, nil, err
	}
	prof, err := pl.Profile().Expand()
	if err != nil {
		return Plan{}, nil, err
	}
	return pl, prof, nil
}

// treatmentBlocks prefers the most specific matching override whose length
// equals the treatment time, else alternates oxygen and air.
func (p *Planner) treatmentBlocks(treatment, depth, total float64, speed int) []Block {
	if o, ok := p.lookupOverride(total, depth, speed, treatment); ok {
		return append([]Block(nil), o.Blocks...)
	}
	return Alternate(treatment, p.cfg.OxygenBlock, p.cfg.AirBreak)
}

func (p *Planner) lookupOverride(total, depth float64, speed int, treatment float64) (Override, bool) {
	best, found := Override{}, false
	for _, o := range p.cfg.Overrides {
		if !o.matches(total, depth, speed) || math.Abs(o.minutes()-treatment) > 1e-9 {
			continue
		}
		if !found || o.specificity() > best.specificity() {
			best, found = o, true
		}
	}
	return best, found
}

// Alternate fills treatment minutes with oxygen blocks separated by air breaks.
// The final block is cut to the remaining time.
func Alternate(treatment, oxygen, air float64) []Block {
	var blocks []Block
	remaining := treatment
	for remaining > 0 {
		if remaining <= oxygen {
			blocks = append(blocks, Block{Minutes: remaining, Gas: GasOxygen})
			break
		}
		blocks = append(blocks, Block{Minutes: oxygen, Gas: GasOxygen})
		remaining -= oxygen

		if air <= 0 {
			continue
		}
		if remaining <= air {
			blocks = append(blocks, Block{Minutes: remaining, Gas: GasAir})
			break
		}
		blocks = append(blocks, Block{Minutes: air, Gas: GasAir})
		remaining -= air
	}
	return blocks
}
