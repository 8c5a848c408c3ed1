// Package profile builds and edits the pressure setpoint curve of a session.
//
// A Profile is either minute-indexed (the segment plan shown to the operator
// before a session) or second-indexed (the expanded table the controller reads
// every tick). The representation is fixed at construction.
package profile

import (
	"encoding/json"
	"math"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
)

// Gas is the breathing gas delivered during a profile second.
type Gas string

const (
	GasAir    Gas = "air"
	GasOxygen Gas = "o"
)

// Step identifies the phase a profile point belongs to.
type Step int

const (
	StepDescent   Step = 1
	StepTreatment Step = 2
	StepAscent    Step = 3
)

// Segment is one planned block: ramp from the previous depth to Depth over Minutes.
type Segment struct {
	Minutes float64 `json:"minutes" yaml:"minutes"`
	Depth   float64 `json:"depth" yaml:"depth"`
	Gas     Gas     `json:"gas" yaml:"gas"`
}

// Point is one second of an expanded profile. Time is 1-based.
type Point struct {
	Time  int     `json:"time"`
	Depth float64 `json:"depth"`
	Gas   Gas     `json:"gas"`
	Step  Step    `json:"step"`
}

// Kind tags the profile representation.
type Kind int

const (
	BySecond Kind = iota + 1
	ByMinute
)

func (k Kind) String() string {
	switch k {
	case BySecond:
		return "second"
	case ByMinute:
		return "minute"
	}
	return "unknown"
}

// Profile is the tagged setpoint curve.
type Profile struct {
	kind     Kind
	points   []Point
	segments []Segment
}

// NewBySecond wraps an expanded point table. The slice is owned by the profile.
func NewBySecond(points []Point) *Profile {
	return &Profile{kind: BySecond, points: points}
}

// NewByMinute wraps a segment plan. The slice is owned by the profile.
func NewByMinute(segments []Segment) *Profile {
	return &Profile{kind: ByMinute, segments: segments}
}

func (p *Profile) Kind() Kind { return p.kind }

// Len is the number of seconds or segments depending on the kind.
func (p *Profile) Len() int {
	if p == nil {
		return 0
	}
	if p.kind == ByMinute {
		return len(p.segments)
	}
	return len(p.points)
}

// Points exposes the second table. Callers must not modify it.
func (p *Profile) Points() []Point {
	if p == nil || p.kind != BySecond {
		return nil
	}
	return p.points
}

// Segments exposes the minute plan. Callers must not modify it.
func (p *Profile) Segments() []Segment {
	if p == nil || p.kind != ByMinute {
		return nil
	}
	return p.segments
}

// At returns the point at second i.
func (p *Profile) At(i int) (Point, bool) {
	if p == nil || p.kind != BySecond || i < 0 || i >= len(p.points) {
		return Point{}, false
	}
	return p.points[i], true
}

// Last returns the final point of a second profile.
func (p *Profile) Last() (Point, bool) {
	return p.At(p.Len() - 1)
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := &Profile{kind: p.kind}
	if p.points != nil {
		c.points = append([]Point(nil), p.points...)
	}
	if p.segments != nil {
		c.segments = append([]Segment(nil), p.segments...)
	}
	return c
}

// DurationMinutes is the total length of the profile in minutes.
func (p *Profile) DurationMinutes() float64 {
	if p == nil {
		return 0
	}
	if p.kind == ByMinute {
		var sum float64
		for _, s := range p.segments {
			sum += s.Minutes
		}
		return sum
	}
	return float64(len(p.points)) / 60
}

// Expand turns a minute plan into a second table. Each segment ramps linearly
// from the previous depth (0 for the first) to its own depth, so descent and
// ascent are ramps and treatment blocks are flat. A second profile is cloned.
func (p *Profile) Expand() (*Profile, error) {
	switch p.kind {
	case BySecond:
		return p.Clone(), nil
	case ByMinute:
	default:
		return nil, chamber.ConfigError("unrecognized profile shape")
	}

	var points []Point
	prev := 0.0
	last := len(p.segments) - 1
	for i, seg := range p.segments {
		n := int(math.Round(seg.Minutes * 60))
		if n <= 0 {
			continue
		}
		step := stepAt(i, last)
		for s := 0; s < n; s++ {
			d := prev + (seg.Depth-prev)*float64(s+1)/float64(n)
			points = append(points, Point{
				Time:  len(points) + 1,
				Depth: roundDepth(d),
				Gas:   seg.Gas,
				Step:  step,
			})
		}
		prev = seg.Depth
	}
	if len(points) == 0 {
		return nil, chamber.ConfigError("profile has no positive duration")
	}
	return NewBySecond(points), nil
}

// stepAt assigns descent to the first segment, ascent to the last and treatment to the rest.
func stepAt(i, last int) Step {
	switch {
	case i == 0:
		return StepDescent
	case i == last:
		return StepAscent
	}
	return StepTreatment
}

type profileJSON struct {
	Kind     string    `json:"kind"`
	Points   []Point   `json:"points,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// MarshalJSON encodes the profile with its kind tag.
func (p *Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(profileJSON{Kind: p.kind.String(), Points: p.points, Segments: p.segments})
}

func roundDepth(d float64) float64 {
	return math.Round(d*1e4) / 1e4
}
