package profile

import "math"

// UpdateTreatmentDepth moves the treatment phase to depth, leaving descent and
// ascent untouched.
func (p *Profile) UpdateTreatmentDepth(depth float64) bool {
	if p.Len() == 0 {
		return false
	}
	switch p.kind {
	case BySecond:
		for i := range p.points {
			if p.points[i].Step == StepTreatment {
				p.points[i].Depth = roundDepth(depth)
			}
		}
		return true
	case ByMinute:
		switch n := len(p.segments); {
		case n == 1:
			p.segments[0].Depth = depth
		case n >= 3:
			for i := 1; i < n-1; i++ {
				p.segments[i].Depth = depth
			}
		default:
			return false
		}
		return true
	}
	return false
}

// UpdateTreatmentDuration refits the treatment phase to totalMinutes minus the
// given descent and ascent minutes.
func (p *Profile) UpdateTreatmentDuration(descentMinutes, ascentMinutes, totalMinutes float64) bool {
	treatment := totalMinutes - descentMinutes - ascentMinutes
	if p.Len() == 0 || treatment <= 0 {
		return false
	}
	switch p.kind {
	case ByMinute:
		switch n := len(p.segments); {
		case n == 1:
			p.segments[0].Minutes = totalMinutes
		case n >= 3:
			mid := fitMinutes(p.segments[1:n-1], treatment)
			p.segments = append(append([]Segment{p.segments[0]}, mid...), p.segments[n-1])
		default:
			return false
		}
		return true
	case BySecond:
		descent, mid, ascent := p.split()
		if len(mid) == 0 {
			return false
		}
		depth := mid[0].Depth
		rebuilt := append([]Point(nil), descent...)
		rebuilt = append(rebuilt, treatmentSeconds(mid, depth, seconds(treatment))...)
		rebuilt = append(rebuilt, ascent...)
		p.points = renumber(rebuilt)
		return true
	}
	return false
}

// UpdateDiveAndExitDurations re-ramps descent and ascent over the new durations.
// The treatment phase absorbs the difference so the total stays the same.
func (p *Profile) UpdateDiveAndExitDurations(diveMinutes, exitMinutes, totalMinutes float64) bool {
	treatment := totalMinutes - diveMinutes - exitMinutes
	if p.Len() == 0 || treatment <= 0 || diveMinutes < 0 || exitMinutes < 0 {
		return false
	}
	switch p.kind {
	case ByMinute:
		switch n := len(p.segments); {
		case n == 1:
			p.segments[0].Minutes = totalMinutes
		case n >= 3:
			first, last := p.segments[0], p.segments[n-1]
			first.Minutes = diveMinutes
			last.Minutes = exitMinutes
			mid := fitMinutes(p.segments[1:n-1], treatment)
			p.segments = append(append([]Segment{first}, mid...), last)
		default:
			return false
		}
		return true
	case BySecond:
		_, mid, _ := p.split()
		if len(mid) == 0 {
			return false
		}
		depth := mid[0].Depth
		var rebuilt []Point
		rebuilt = append(rebuilt, ramp(0, depth, seconds(diveMinutes), StepDescent)...)
		rebuilt = append(rebuilt, treatmentSeconds(mid, depth, seconds(treatment))...)
		rebuilt = append(rebuilt, ramp(depth, 0, seconds(exitMinutes), StepAscent)...)
		p.points = renumber(rebuilt)
		return true
	}
	return false
}

func (p *Profile) split() (descent, treatment, ascent []Point) {
	for _, pt := range p.points {
		switch pt.Step {
		case StepDescent:
			descent = append(descent, pt)
		case StepTreatment:
			treatment = append(treatment, pt)
		case StepAscent:
			ascent = append(ascent, pt)
		}
	}
	return descent, treatment, ascent
}

// treatmentSeconds keeps the existing gas pattern and repeats its last gas when extended.
func treatmentSeconds(pattern []Point, depth float64, n int) []Point {
	out := make([]Point, n)
	for i := range out {
		gas := pattern[len(pattern)-1].Gas
		if i < len(pattern) {
			gas = pattern[i].Gas
		}
		out[i] = Point{Depth: depth, Gas: gas, Step: StepTreatment}
	}
	return out
}

func ramp(from, to float64, n int, step Step) []Point {
	out := make([]Point, n)
	for s := range out {
		d := from + (to-from)*float64(s+1)/float64(n)
		out[s] = Point{Depth: roundDepth(d), Gas: GasAir, Step: step}
	}
	return out
}

// fitMinutes truncates or extends the last segment so the sum equals total.
func fitMinutes(segs []Segment, total float64) []Segment {
	out := make([]Segment, 0, len(segs))
	remaining := total
	for _, s := range segs {
		if remaining <= 0 {
			break
		}
		if s.Minutes > remaining {
			s.Minutes = remaining
		}
		out = append(out, s)
		remaining -= s.Minutes
	}
	if remaining > 0 && len(out) > 0 {
		out[len(out)-1].Minutes += remaining
	}
	return out
}

func renumber(points []Point) []Point {
	for i := range points {
		points[i].Time = i + 1
	}
	return points
}

func seconds(minutes float64) int {
	return int(math.Round(minutes * 60))
}
