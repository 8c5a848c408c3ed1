package control

import "github.com/relabs-tech/hyperbaric_controller/internal/chamber"

// RateTracker reports the pressurization rate over a sliding window of 1 Hz samples.
type RateTracker struct {
	window  int
	samples []float64
}

func NewRateTracker(windowSeconds int) *RateTracker {
	if windowSeconds < 1 {
		windowSeconds = 60
	}
	return &RateTracker{window: windowSeconds}
}

// Push records one measured fsw sample.
func (r *RateTracker) Push(fsw float64) {
	r.samples = append(r.samples, fsw)
	if len(r.samples) > r.window+1 {
		r.samples = r.samples[len(r.samples)-r.window-1:]
	}
}

// FswPerMinute is the slope between the oldest and newest sample in the window.
func (r *RateTracker) FswPerMinute() float64 {
	n := len(r.samples)
	if n < 2 {
		return 0
	}
	span := n - 1
	return (r.samples[n-1] - r.samples[0]) / float64(span) * 60
}

func (r *RateTracker) BarPerMinute() float64 {
	return r.FswPerMinute() / chamber.FswPerBar
}

func (r *RateTracker) Reset() { r.samples = r.samples[:0] }
