// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tuning

import (
	"fmt"
	"math"
	"strings"

	"github.com/relabs-tech/hyperbaric_controller/internal/control"
)

// Param names a tunable coefficient.
type Param string

const (
	CompOffset   Param = "comp_offset"
	CompGain     Param = "comp_gain"
	CompDepth    Param = "comp_depth"
	DecompOffset Param = "decomp_offset"
	DecompGain   Param = "decomp_gain"
	DecompDepth  Param = "decomp_depth"
)

// Range is a safe interval for one parameter.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultLimits bound every recommendation.
var DefaultLimits = map[Param]Range{
	CompOffset:   {5, 35},
	CompGain:     {1, 25},
	CompDepth:    {30, 250},
	DecompOffset: {5, 35},
	DecompGain:   {1, 20},
	DecompDepth:  {30, 250},
}

// Thresholds trigger the rules.
type Thresholds struct {
	OvershootWarning   float64 `yaml:"overshoot_warning"`
	OvershootCritical  float64 `yaml:"overshoot_critical"`
	UndershootWarning  float64 `yaml:"undershoot_warning"`
	UndershootCritical float64 `yaml:"undershoot_critical"`
	SettlingTimeMax    int     `yaml:"settling_time_max"`
	OscillationCount   int     `yaml:"oscillation_count"`
	SteadyStateError   float64 `yaml:"steady_state_error"`
}

var DefaultThresholds = Thresholds{
	OvershootWarning:   3,
	OvershootCritical:  8,
	UndershootWarning:  5,
	UndershootCritical: 10,
	SettlingTimeMax:    60,
	OscillationCount:   3,
	SteadyStateError:   0.5,
}

// Adjustment is one rule firing on one parameter.
type Adjustment struct {
	Param  Param   `json:"param"`
	Factor float64 `json:"factor"`
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason"`
}

// Recommendation is the rule engine output. It is never applied automatically.
type Recommendation struct {
	Current     control.Gains `json:"currentParams"`
	Suggested   control.Gains `json:"suggestedParams"`
	Adjustments []Adjustment  `json:"adjustments"`
	Score       float64       `json:"performanceScore"`
	HasChanges  bool          `json:"hasChanges"`
	Summary     string        `json:"summary"`
}

// Rules maps analyses to gain changes.
type Rules struct {
	Limits     map[Param]Range
	Thresholds Thresholds
}

func DefaultRules() Rules {
	return Rules{Limits: DefaultLimits, Thresholds: DefaultThresholds}
}

// Recommend evaluates every rule against current. Rules touching the same
// parameter add their deltas; the sum is clamped to the parameter range and
// rounded to 0.1.
func (r Rules) Recommend(a Analysis, current control.Gains) Recommendation {
	th := r.Thresholds
	var adj []Adjustment
	add := func(p Param, factor float64, format string, args ...any) {
		adj = append(adj, Adjustment{
			Param:  p,
			Factor: factor,
			Delta:  get(current, p) * (factor - 1),
			Reason: fmt.Sprintf(format, args...),
		})
	}

	if rising := a.Rising; !rising.Insufficient {
		switch {
		case rising.OvershootPercent > th.OvershootCritical:
			add(CompGain, 0.85, "critical overshoot while rising (%.1f%%)", rising.OvershootPercent)
		case rising.OvershootPercent > th.OvershootWarning:
			add(CompGain, 0.92, "overshoot while rising (%.1f%%)", rising.OvershootPercent)
		}
		if rising.UndershootPercent > th.UndershootCritical {
			add(CompGain, 1.12, "critical undershoot while rising (%.1f%%)", rising.UndershootPercent)
		}
		if rising.Oscillations > th.OscillationCount {
			add(CompGain, 0.9, "oscillation while rising (%d)", rising.Oscillations)
			add(CompOffset, 1.05, "oscillation while rising (%d)", rising.Oscillations)
		}
		if rising.RiseTime > th.SettlingTimeMax {
			add(CompOffset, 1.1, "slow rise (%ds)", rising.RiseTime)
		}
	}

	if flat := a.Flat; !flat.Insufficient {
		if flat.SteadyStateError > th.SteadyStateError {
			switch {
			case flat.MeanError > 0.3:
				add(CompDepth, 0.95, "steady-state undershoot at depth (%.2f fsw)", flat.SteadyStateError)
			case flat.MeanError < -0.3:
				add(CompDepth, 1.05, "steady-state overshoot at depth (%.2f fsw)", flat.SteadyStateError)
			}
		}
		if flat.Oscillations > 2 {
			add(CompGain, 0.92, "oscillation at depth (%d)", flat.Oscillations)
			add(DecompGain, 0.92, "oscillation at depth (%d)", flat.Oscillations)
		}
	}

	if desc := a.Descending; !desc.Insufficient {
		if desc.OvershootPercent > th.OvershootWarning {
			add(DecompGain, 0.9, "decompression too fast (%.1f%%)", desc.OvershootPercent)
		}
		if desc.UndershootPercent > th.UndershootWarning {
			add(DecompGain, 1.1, "decompression too slow (%.1f%%)", desc.UndershootPercent)
			add(DecompOffset, 1.05, "decompression too slow (%.1f%%)", desc.UndershootPercent)
		}
	}

	deltas := map[Param]float64{}
	for _, x := range adj {
		deltas[x.Param] += x.Delta
	}
	suggested := current
	for p, d := range deltas {
		set(&suggested, p, r.clamp(p, get(current, p)+d))
	}

	score := Score(a.Overall)
	return Recommendation{
		Current:     current,
		Suggested:   suggested,
		Adjustments: adj,
		Score:       score,
		HasChanges:  len(adj) > 0,
		Summary:     summary(adj, score),
	}
}

// Score is 100 minus penalties for time off target and RMS error, within [0, 100].
func Score(o Overall) float64 {
	s := 100 - o.OvershootTimePercent*0.5 - o.UndershootTimePercent*0.3 - o.RMSError*2
	s = math.Max(0, math.Min(100, s))
	return math.Round(s*10) / 10
}

func (r Rules) clamp(p Param, v float64) float64 {
	if l, ok := r.Limits[p]; ok {
		v = math.Max(l.Min, math.Min(l.Max, v))
	}
	return math.Round(v*10) / 10
}

func summary(adj []Adjustment, score float64) string {
	if len(adj) == 0 {
		return fmt.Sprintf("Performance score: %.1f/100. No parameter change recommended.", score)
	}
	seen := map[Param]bool{}
	var names []string
	for _, a := range adj {
		if !seen[a.Param] {
			seen[a.Param] = true
			names = append(names, string(a.Param))
		}
	}
	return fmt.Sprintf("Performance score: %.1f/100. %d adjustments recommended: %s",
		score, len(adj), strings.Join(names, ", "))
}

func get(g control.Gains, p Param) float64 {
	switch p {
	case CompOffset:
		return g.CompOffset
	case CompGain:
		return g.CompGain
	case CompDepth:
		return g.CompDepth
	case DecompOffset:
		return g.DecompOffset
	case DecompGain:
		return g.DecompGain
	case DecompDepth:
		return g.DecompDepth
	}
	return 0
}

func set(g *control.Gains, p Param, v float64) {
	switch p {
	case CompOffset:
		g.CompOffset = v
	case CompGain:
		g.CompGain = v
	case CompDepth:
		g.CompDepth = v
	case DecompOffset:
		g.DecompOffset = v
	case DecompGain:
		g.DecompGain = v
	case DecompDepth:
		g.DecompDepth = v
	}
}
