// Package tuning records controller tracking error and recommends gain changes.
package tuning

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/hyperbaric_controller/internal/control"
)

// ErrInsufficientData is returned when fewer than MinSamples were recorded.
var ErrInsufficientData = errors.New("insufficient tuning data")

const (
	// MinSamples is the minimum recording length for an analysis.
	MinSamples = 10
	// MinPhaseSamples is the minimum samples for a phase to be analysed.
	MinPhaseSamples = 5

	overshootBand   = 0.5
	oscillationBand = 0.3
	settledBand     = 0.5
	steadyWindow    = 10
	riseFraction    = 0.9
)

// Sample is one tick of recorded tracking.
type Sample struct {
	At          time.Time     `json:"at"`
	Elapsed     int           `json:"elapsed"`
	TargetFsw   float64       `json:"target"`
	MeasuredFsw float64       `json:"measured"`
	Error       float64       `json:"error"`
	Trend       control.Trend `json:"trend"`
	Comp        float64       `json:"comp"`
	Decomp      float64       `json:"decomp"`
	PressureBar float64       `json:"pressure"`
}

// PhaseAnalysis holds the metrics of one trend phase.
type PhaseAnalysis struct {
	Samples      int  `json:"samples"`
	Insufficient bool `json:"insufficient"`

	MeanAbsError float64 `json:"meanAbsoluteError"`
	MaxAbsError  float64 `json:"maxError"`
	MeanError    float64 `json:"meanError"`

	OvershootCount   int     `json:"overshootCount"`
	MaxOvershootFsw  float64 `json:"maxOvershootFsw"`
	OvershootPercent float64 `json:"overshootPercent"`

	UndershootCount   int     `json:"undershootCount"`
	MaxUndershootFsw  float64 `json:"maxUndershootFsw"`
	UndershootPercent float64 `json:"undershootPercent"`

	Oscillations int `json:"oscillationCount"`
	// SettlingTime and RiseTime are sample indexes; -1 when never reached.
	SettlingTime     int     `json:"settlingTime"`
	RiseTime         int     `json:"riseTime"`
	SteadyStateError float64 `json:"steadyStateError"`
}

// Overall holds whole-recording metrics.
type Overall struct {
	MeanAbsError          float64 `json:"meanAbsoluteError"`
	RMSError              float64 `json:"rmsError"`
	MaxAbsError           float64 `json:"maxError"`
	OvershootTimePercent  float64 `json:"overshootTimePercent"`
	UndershootTimePercent float64 `json:"undershootTimePercent"`
	OnTargetTimePercent   float64 `json:"onTargetTimePercent"`
}

// Analysis is the result of analysing a recording.
type Analysis struct {
	TotalSamples int           `json:"totalDataPoints"`
	Rising       PhaseAnalysis `json:"rising"`
	Flat         PhaseAnalysis `json:"flat"`
	Descending   PhaseAnalysis `json:"descending"`
	Overall      Overall       `json:"overall"`
}

// Analyze segments samples by the trend recorded with them and computes the metrics.
func Analyze(samples []Sample) (Analysis, error) {
	if len(samples) < MinSamples {
		return Analysis{}, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(samples), MinSamples)
	}
	return Analysis{
		TotalSamples: len(samples),
		Rising:       analyzePhase(samples, control.Ascending),
		Flat:         analyzePhase(samples, control.Flat),
		Descending:   analyzePhase(samples, control.Descending),
		Overall:      overall(samples),
	}, nil
}

func analyzePhase(all []Sample, trend control.Trend) PhaseAnalysis {
	var phase []Sample
	for _, s := range all {
		if s.Trend == trend {
			phase = append(phase, s)
		}
	}
	pa := PhaseAnalysis{Samples: len(phase), SettlingTime: -1, RiseTime: -1}
	if len(phase) < MinPhaseSamples {
		pa.Insufficient = true
		return pa
	}

	minErr, maxErr := math.Inf(1), math.Inf(-1)
	var peakTarget, sumAbs, sum float64
	for i, s := range phase {
		e := s.Error
		sum += e
		sumAbs += math.Abs(e)
		pa.MaxAbsError = math.Max(pa.MaxAbsError, math.Abs(e))
		minErr = math.Min(minErr, e)
		maxErr = math.Max(maxErr, e)
		peakTarget = math.Max(peakTarget, math.Abs(s.TargetFsw))

		if e < -overshootBand {
			pa.OvershootCount++
		}
		if e > overshootBand {
			pa.UndershootCount++
		}
		if pa.SettlingTime < 0 && math.Abs(e) < settledBand {
			pa.SettlingTime = i
		}
		if i > 0 {
			prev := phase[i-1].Error
			if sign(e) != sign(prev) && math.Abs(e) > oscillationBand && math.Abs(prev) > oscillationBand {
				pa.Oscillations++
			}
		}
	}
	n := float64(len(phase))
	pa.MeanAbsError = sumAbs / n
	pa.MeanError = sum / n

	pa.MaxOvershootFsw = math.Max(0, -minErr)
	pa.MaxUndershootFsw = math.Max(0, maxErr)
	if peakTarget > 0 {
		pa.OvershootPercent = pa.MaxOvershootFsw / peakTarget * 100
		pa.UndershootPercent = pa.MaxUndershootFsw / peakTarget * 100
	}

	tail := phase
	if len(tail) > steadyWindow {
		tail = tail[len(tail)-steadyWindow:]
	}
	var tailAbs float64
	for _, s := range tail {
		tailAbs += math.Abs(s.Error)
	}
	pa.SteadyStateError = tailAbs / float64(len(tail))

	if trend == control.Ascending {
		final := phase[len(phase)-1].TargetFsw
		for i, s := range phase {
			if s.MeasuredFsw >= final*riseFraction {
				pa.RiseTime = i
				break
			}
		}
	}
	return pa
}

func overall(samples []Sample) Overall {
	var o Overall
	var sumAbs, sumSq float64
	var over, under, on int
	for _, s := range samples {
		e := s.Error
		sumAbs += math.Abs(e)
		sumSq += e * e
		o.MaxAbsError = math.Max(o.MaxAbsError, math.Abs(e))
		switch {
		case e < -overshootBand:
			over++
		case e > overshootBand:
			under++
		default:
			on++
		}
	}
	n := float64(len(samples))
	o.MeanAbsError = sumAbs / n
	o.RMSError = math.Sqrt(sumSq / n)
	o.OvershootTimePercent = float64(over) / n * 100
	o.UndershootTimePercent = float64(under) / n * 100
	o.OnTargetTimePercent = float64(on) / n * 100
	return o
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
