package session

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/control"
	"github.com/relabs-tech/hyperbaric_controller/internal/profile"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
	"github.com/relabs-tech/hyperbaric_controller/internal/tuning"
)

// Phase is the session lifecycle state.
type Phase int

const (
	Idle Phase = iota
	Running
	Paused
	Finishing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Finishing:
		return "finishing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Frame is one PLC sample vector, indexed by the Frame* constants.
type Frame []float64

const (
	FramePressure    = 1
	FrameO2          = 2
	FrameTemperature = 4
	FrameHumidity    = 5
	FrameStatus      = 10
	FrameDoor        = 11
)

// At returns index i, or NaN when the frame is too short.
func (f Frame) At(i int) float64 {
	if i < 0 || i >= len(f) {
		return math.NaN()
	}
	return f[i]
}

// Valid reports whether the frame carries data; shorter frames mean the
// gateway lost the PLC.
func (f Frame) Valid() bool { return len(f) >= 2 }

// Raw extracts the analog channels.
func (f Frame) Raw() sensors.RawSample {
	return sensors.RawSample{
		Pressure:    f.At(FramePressure),
		O2:          f.At(FrameO2),
		Temperature: f.At(FrameTemperature),
		Humidity:    f.At(FrameHumidity),
	}
}

// Snapshot is an immutable view of the engine published after every tick.
type Snapshot struct {
	At        time.Time `json:"time"`
	Phase     Phase     `json:"status"`
	Elapsed   int       `json:"elapsed"`
	Manual    bool      `json:"manual"`
	SessionID uuid.UUID `json:"sessionId"`

	Settings   Settings         `json:"settings"`
	Plan       *profile.Plan    `json:"plan,omitempty"`
	Profile    *profile.Profile `json:"-"`
	ProfileLen int              `json:"profileLength"`

	Reading    sensors.Reading   `json:"sensors"`
	Readiness  sensors.Readiness `json:"readiness"`
	StatusWord int               `json:"statusWord"`
	// DoorSensor is -1 until the first frame.
	DoorSensor int               `json:"doorSensor"`
	DoorClosed bool              `json:"doorClosed"`

	TargetFsw    float64       `json:"target"`
	MeasuredFsw  float64       `json:"fsw"`
	DisplayFsw   float64       `json:"displayFsw"`
	Error        float64       `json:"error"`
	AvgError     float64       `json:"avgError"`
	Trend        control.Trend `json:"trend"`
	Gas          profile.Gas   `json:"gas"`
	Oxygen       bool          `json:"oxygen"`
	FswPerMinute float64       `json:"pressRateFswPerMin"`
	BarPerMinute float64       `json:"pressRateBarPerMin"`

	Comp        float64             `json:"compValve"`
	Decomp      float64             `json:"decompValve"`
	Ventilation control.Ventilation `json:"ventilation"`
	Fan         int                 `json:"fan"`
	Drain       bool                `json:"drain"`
	Gains       control.Gains       `json:"gains"`

	Alarms         []alarm.Record `json:"alarms"`
	DeviationCount int            `json:"deviationCount"`
	Tuning         tuning.Status  `json:"tuning"`

	TickDuration time.Duration `json:"-"`
}
