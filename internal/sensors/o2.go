// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"math"
	"sort"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
)

// CalPoint pairs a raw O2 count with the percentage it represents.
type CalPoint struct {
	Raw    float64 `yaml:"raw" json:"raw"`
	Actual float64 `yaml:"actual" json:"actual"`
}

// O2Model is the quadratic a*x^2 + b*x + c through three calibration points.
type O2Model struct {
	Points [3]CalPoint `json:"points"`
	A      float64     `json:"a"`
	B      float64     `json:"b"`
	C      float64     `json:"c"`
}

// NewO2Model solves the 3x3 Vandermonde system for the three points.
// Raw values must be pairwise distinct.
func NewO2Model(p1, p2, p3 CalPoint) (*O2Model, error) {
	x1, y1 := p1.Raw, p1.Actual
	x2, y2 := p2.Raw, p2.Actual
	x3, y3 := p3.Raw, p3.Actual

	if x1 == x2 || x1 == x3 || x2 == x3 {
		return nil, chamber.ConfigError("o2 calibration raw values must be distinct")
	}

	den := (x1 - x2) * (x1 - x3) * (x2 - x3)
	if math.Abs(den) < 1e-10 {
		return nil, chamber.ConfigError(fmt.Sprintf("o2 calibration points are degenerate (det=%g)", den))
	}

	a := (x3*(y2-y1) + x2*(y1-y3) + x1*(y3-y2)) / den
	b := (x3*x3*(y1-y2) + x2*x2*(y3-y1) + x1*x1*(y2-y3)) / den
	c := (x2*x3*(x2-x3)*y1 + x3*x1*(x3-x1)*y2 + x1*x2*(x1-x2)*y3) / den

	return &O2Model{
		Points: [3]CalPoint{p1, p2, p3},
		A:      a,
		B:      b,
		C:      c,
	}, nil
}

// NewO2ModelFromAirPoint builds the model from the raw count read in ambient air (21%):
// (0,0), (raw21,21) and the extrapolated (raw21/21*100, 100).
func NewO2ModelFromAirPoint(raw21 float64) (*O2Model, error) {
	return NewO2Model(
		CalPoint{Raw: 0, Actual: 0},
		CalPoint{Raw: raw21, Actual: 21},
		CalPoint{Raw: raw21 / 21 * 100, Actual: 100},
	)
}

// AirRaw is the raw count of the calibration point nearest ambient air (21%).
func (m *O2Model) AirRaw() float64 {
	best := m.Points[0]
	for _, p := range m.Points[1:] {
		if math.Abs(p.Actual-21) < math.Abs(best.Actual-21) {
			best = p
		}
	}
	return best.Raw
}

// Percentage evaluates the quadratic at raw.
func (m *O2Model) Percentage(raw float64) float64 {
	return m.A*raw*raw + m.B*raw + m.C
}

// Linear interpolates between the two nearest calibration points,
// extrapolating from the outer pair outside the calibrated span.
func (m *O2Model) Linear(raw float64) float64 {
	pts := m.Points
	sorted := pts[:]
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Raw < sorted[j].Raw })

	lo, hi := sorted[0], sorted[1]
	if raw > sorted[1].Raw {
		lo, hi = sorted[1], sorted[2]
	}
	ratio := (raw - lo.Raw) / (hi.Raw - lo.Raw)
	return lo.Actual + ratio*(hi.Actual-lo.Actual)
}
