package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/control"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
)

// Directive is a message for the mask and door signaling bridge.
type Directive string

const (
	DirectiveStartSession Directive = "start_session"
	DirectivePutOnMask    Directive = "puton_mask"
	DirectiveTakeOffMask  Directive = "takeoff_mask"
	DirectiveDecoStart    Directive = "deco_start"
	DirectiveEndSession   Directive = "end_session"
)

// Actuator drives the PLC outputs. Calls may block on the link; the engine
// only reaches it through its Executor.
type Actuator interface {
	CompValve(angle float64) error
	DecompValve(angle float64) error
	// Door drives the door motor bit; true closes.
	Door(closed bool) error
	Buzzer(on bool) error
	OxygenValve(on bool) error
	SessionStartBit(on bool) error
	Drain(on bool) error
	Fan(speed int) error
	DoorControl(direction string, engage bool) error
	ResetAlarmLatch() error
}

// Bridge sends directives to the mask bridge.
type Bridge interface {
	Send(ctx context.Context, d Directive) error
}

// Sink receives telemetry. Implementations must return quickly.
type Sink interface {
	PublishSnapshot(s *Snapshot)
	PublishAlarm(r alarm.Record)
}

// Session record status values.
const (
	RecordStarted   = "started"
	RecordCompleted = "completed"
	RecordStopped   = "stopped"
)

// Record describes one treatment session.
type Record struct {
	ID             uuid.UUID  `json:"id"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	Depth          float64    `json:"depth"`
	Speed          int        `json:"speed"`
	TotalMinutes   float64    `json:"totalDuration"`
	DescentMinutes float64    `json:"descentDuration"`
	AscentMinutes  float64    `json:"ascentDuration"`
	Status         string     `json:"status"`
}

// SensorLog is one per-second row logged while a session runs.
type SensorLog struct {
	SessionID uuid.UUID       `json:"sessionId"`
	At        time.Time       `json:"time"`
	Elapsed   int             `json:"elapsed"`
	Reading   sensors.Reading `json:"sensors"`
	TargetFsw float64         `json:"target"`
	Comp      float64         `json:"comp"`
	Decomp    float64         `json:"decomp"`
}

// Settings are the operator parameters kept between sessions.
type Settings struct {
	Depth        float64 `json:"depth" yaml:"depth"`
	TotalMinutes float64 `json:"totalDuration" yaml:"total_duration"`
	Speed        int     `json:"speed" yaml:"speed"`
}

// DefaultSettings are used when nothing was saved yet.
var DefaultSettings = Settings{Depth: 1.4, TotalMinutes: 90, Speed: 2}

// Recorder persists session history and operator settings.
type Recorder interface {
	StartSession(ctx context.Context, r Record) error
	EndSession(ctx context.Context, id uuid.UUID, status string, at time.Time) error
	LogSensors(ctx context.Context, l SensorLog) error
	SaveSettings(ctx context.Context, s Settings) error
	SaveGains(ctx context.Context, g control.Gains) error
}

// Executor runs I/O away from the tick.
type Executor interface {
	Go(name string, fn func(ctx context.Context) error)
}
