// Package telemetry fans session snapshots out to MQTT and Prometheus.
package telemetry

import (
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/hyperbaric_controller/internal/control"
	"github.com/relabs-tech/hyperbaric_controller/internal/profile"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

// Topic suffixes under the configured prefix.
const (
	TopicSensors = "sensors"
	TopicSession = "session"
	TopicChamber = "chamber"
	TopicValves  = "valves"
	TopicAlarm   = "alarm"
	TopicAll     = "all"
	TopicStatus  = "status"
)

// Topics returns the full topic names for prefix.
func Topics(prefix string) map[string]string {
	out := map[string]string{}
	for _, t := range []string{TopicSensors, TopicSession, TopicChamber, TopicValves, TopicAlarm, TopicAll, TopicStatus} {
		out[t] = prefix + "/" + t
	}
	return out
}

type Sensors struct {
	Time        time.Time `json:"time"`
	Pressure    float64   `json:"pressure"`
	Fsw         float64   `json:"fsw"`
	O2          float64   `json:"o2"`
	O2Raw       float64   `json:"o2RawValue"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
}

type Session struct {
	Time           time.Time        `json:"time"`
	Status         session.Phase    `json:"status"`
	SessionID      uuid.UUID        `json:"sessionId"`
	Elapsed        int              `json:"elapsed"`
	ProfileLength  int              `json:"profileLength"`
	Manual         bool             `json:"manual"`
	Target         float64          `json:"target"`
	Fsw            float64          `json:"fsw"`
	DisplayFsw     float64          `json:"displayFsw"`
	Error          float64          `json:"error"`
	AvgError       float64          `json:"avgError"`
	Trend          string           `json:"trend"`
	Gas            profile.Gas      `json:"gas"`
	Oxygen         bool             `json:"oxygen"`
	FswPerMinute   float64          `json:"pressRateFswPerMin"`
	BarPerMinute   float64          `json:"pressRateBarPerMin"`
	DeviationCount int              `json:"deviationCount"`
	Settings       session.Settings `json:"settings"`
}

type Chamber struct {
	Time       time.Time `json:"time"`
	Ready      bool      `json:"ready"`
	Reason     string    `json:"reason"`
	DoorSensor int       `json:"doorSensor"`
	DoorClosed bool      `json:"doorClosed"`
	StatusWord int       `json:"statusWord"`
	Fan        int       `json:"fan"`
	Drain      bool      `json:"drain"`
}

type Valves struct {
	Time        time.Time           `json:"time"`
	Comp        float64             `json:"compValve"`
	Decomp      float64             `json:"decompValve"`
	Ventilation control.Ventilation `json:"ventilation"`
	Gains       control.Gains       `json:"gains"`
}

func SensorsOf(s *session.Snapshot) Sensors {
	return Sensors{
		Time:        s.At,
		Pressure:    s.Reading.PressureBar,
		Fsw:         s.MeasuredFsw,
		O2:          s.Reading.O2Percent,
		O2Raw:       s.Reading.O2Raw,
		Temperature: s.Reading.TemperatureC,
		Humidity:    s.Reading.HumidityPct,
	}
}

func SessionOf(s *session.Snapshot) Session {
	return Session{
		Time:           s.At,
		Status:         s.Phase,
		SessionID:      s.SessionID,
		Elapsed:        s.Elapsed,
		ProfileLength:  s.ProfileLen,
		Manual:         s.Manual,
		Target:         s.TargetFsw,
		Fsw:            s.MeasuredFsw,
		DisplayFsw:     s.DisplayFsw,
		Error:          s.Error,
		AvgError:       s.AvgError,
		Trend:          s.Trend.String(),
		Gas:            s.Gas,
		Oxygen:         s.Oxygen,
		FswPerMinute:   s.FswPerMinute,
		BarPerMinute:   s.BarPerMinute,
		DeviationCount: s.DeviationCount,
		Settings:       s.Settings,
	}
}

func ChamberOf(s *session.Snapshot) Chamber {
	return Chamber{
		Time:       s.At,
		Ready:      s.Readiness.Ready,
		Reason:     s.Readiness.Reason,
		DoorSensor: s.DoorSensor,
		DoorClosed: s.DoorClosed,
		StatusWord: s.StatusWord,
		Fan:        s.Fan,
		Drain:      s.Drain,
	}
}

func ValvesOf(s *session.Snapshot) Valves {
	return Valves{
		Time:        s.At,
		Comp:        s.Comp,
		Decomp:      s.Decomp,
		Ventilation: s.Ventilation,
		Gains:       s.Gains,
	}
}
