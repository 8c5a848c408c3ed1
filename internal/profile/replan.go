// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package profile

import (
	"fmt"
	"math"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
)

// Resume rewrites the profile after a pause that lasted from second pauseStart
// to second pauseEnd. The paused interval is held at the pause pressure, then a
// recovery ramp starting at the resume pressure converges back to the target of
// the step the pause happened in. The ramp uses the slope the step was planned
// with and is shortened to fit the remaining profile. Once the ramp arrives, the
// remaining seconds of that step hold at its target.
func (p *Profile) Resume(pauseStart, pauseEnd int, atPause, atResume float64) error {
	if p.kind != BySecond {
		return chamber.ConfigError("resume needs a second profile")
	}
	n := len(p.points)
	if pauseStart < 0 || pauseStart+1 >= n {
		return fmt.Errorf("pause start %d outside profile of %d seconds", pauseStart, n)
	}
	if pauseEnd < pauseStart {
		return fmt.Errorf("pause end %d before pause start %d", pauseEnd, pauseStart)
	}
	if pauseEnd > n {
		pauseEnd = n
	}

	cur := p.points[pauseStart]
	next := p.points[pauseStart+1]
	slope := p.recoverySlope(pauseStart, cur, next)
	target := p.stepTarget(cur.Step)

	for i := pauseStart; i < pauseEnd; i++ {
		p.points[i].Depth = roundDepth(atPause)
		p.points[i].Gas = GasAir
	}

	delta := math.Abs(target - atResume)
	ramp := n - pauseEnd
	if slope > 0 {
		if need := int(math.Ceil(delta / slope)); need < ramp {
			ramp = need
		}
	}
	if delta > 0 && ramp == 0 && pauseEnd < n {
		ramp = 1
	}
	for s := 0; s < ramp; s++ {
		d := atResume + (target-atResume)*float64(s+1)/float64(ramp)
		p.points[pauseEnd+s].Depth = roundDepth(d)
	}
	// The ramp can reach the target before the planned curve does. The rest
	// of the step holds there instead of rejoining the curve behind it.
	for i := pauseEnd + ramp; i < n && p.points[i].Step == cur.Step; i++ {
		p.points[i].Depth = roundDepth(target)
	}
	return nil
}

// recoverySlope is bar per second. Ramps reuse the rate around the pause point;
// flat steps borrow the descent rate of the first second.
func (p *Profile) recoverySlope(at int, cur, next Point) float64 {
	if next.Depth == cur.Depth {
		first := p.points[0]
		if first.Time <= 0 {
			return 0
		}
		return math.Abs(first.Depth) / float64(first.Time)
	}
	if at > 0 {
		if s := math.Abs(cur.Depth - p.points[at-1].Depth); s > 0 {
			return s
		}
	}
	return math.Abs(next.Depth - cur.Depth)
}

// stepTarget is the depth at the end of a step.
func (p *Profile) stepTarget(step Step) float64 {
	for i := len(p.points) - 1; i >= 0; i-- {
		if p.points[i].Step == step {
			return p.points[i].Depth
		}
	}
	return 0
}

// RampToZero replaces the profile from second from with a linear decay of
// pressure (bar) to exactly zero at slope bar per 10 minutes, rounded up to whole
// minutes, and drops every point after it.
func (p *Profile) RampToZero(from int, pressure, slope float64) error {
	if p.kind != BySecond {
		return chamber.ConfigError("ramp to zero needs a second profile")
	}
	if !(slope > 0) {
		return chamber.ConfigError(fmt.Sprintf("stop slope %v must be positive", slope))
	}
	if from < 0 {
		from = 0
	}
	if from > len(p.points) {
		from = len(p.points)
	}

	step := StepDescent
	switch {
	case from < len(p.points):
		step = p.points[from].Step
	case from > 0:
		step = p.points[from-1].Step
	}

	if math.IsNaN(pressure) || pressure < 0 {
		pressure = 0
	}
	p.points = p.points[:from]
	if pressure == 0 {
		p.points = append(p.points, Point{Time: from + 1, Depth: 0, Gas: GasAir, Step: step})
		return nil
	}

	total := int(math.Ceil(pressure*10/slope)) * 60
	if total < 1 {
		total = 1
	}
	for s := 0; s < total; s++ {
		d := pressure * (1 - float64(s+1)/float64(total))
		if d < 0 {
			d = 0
		}
		p.points = append(p.points, Point{Time: from + s + 1, Depth: roundDepth(d), Gas: GasAir, Step: step})
	}
	p.points[len(p.points)-1].Depth = 0
	return nil
}
