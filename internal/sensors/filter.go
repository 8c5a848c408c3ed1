package sensors

import (
	"fmt"
	"math"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
)

// Filter is an exponential moving average for one channel.
// The accumulator keeps two more decimals than the returned value.
type Filter struct {
	alpha    float64
	decimals int

	y      float64
	seeded bool
}

// NewFilter returns a filter with alpha in (0, 1].
func NewFilter(alpha float64, decimals int) (*Filter, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, chamber.ConfigError(fmt.Sprintf("filter alpha %v outside (0,1]", alpha))
	}
	if decimals < 0 {
		decimals = 0
	}
	return &Filter{alpha: alpha, decimals: decimals}, nil
}

// Update feeds one sample and returns the smoothed output.
// The first sample seeds the filter. Non-finite samples return the last output (0 before seeding).
func (f *Filter) Update(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		if !f.seeded {
			return 0
		}
		return Round(f.y, f.decimals)
	}

	if !f.seeded {
		f.y = Round(x, f.decimals)
		f.seeded = true
		return f.y
	}

	next := f.alpha*x + (1-f.alpha)*f.y
	f.y = Round(next, f.decimals+2)
	return Round(f.y, f.decimals)
}

// Last returns the last output and whether the filter has been seeded.
func (f *Filter) Last() (float64, bool) {
	if !f.seeded {
		return 0, false
	}
	return Round(f.y, f.decimals), true
}

// Alpha reports the smoothing factor.
func (f *Filter) Alpha() float64 { return f.alpha }
