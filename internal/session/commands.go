package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrRejected wraps every refusal of an operator command.
	ErrRejected       = errors.New("command rejected")
	ErrUnknownCommand = errors.New("unknown command")
	ErrStopped        = errors.New("session engine stopped")
)

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// Command is one operator command. Name is the wire type tag.
type Command interface {
	Name() string
}

type SessionStart struct {
	Depth         float64 `json:"depth"`
	TotalDuration float64 `json:"totalDuration"`
	Speed         int     `json:"speed"`
}

type SessionPause struct{}
type SessionResume struct{}
type SessionStop struct{}
type DoorOpen struct{}
type DoorClose struct{}

// CompValve and DecompValve put the controller in manual mode.
type CompValve struct {
	Angle float64 `json:"angle"`
}

type DecompValve struct {
	Angle float64 `json:"angle"`
}

type DrainOn struct{}
type DrainOff struct{}

// ChangeSessionPressure edits the treatment depth of the running profile.
type ChangeSessionPressure struct {
	NewDepth float64 `json:"newDepth"`
}

// ChangeSessionDuration edits the treatment length of the running profile.
type ChangeSessionDuration struct {
	NewDuration float64 `json:"newDuration"`
}

// SetDuration, SetPressure and SetSpeed change the settings of the next
// session and re-plan the preview.
type SetDuration struct {
	Duration float64 `json:"duration"`
}

type SetPressure struct {
	Pressure float64 `json:"pressure"`
}

type SetSpeed struct {
	Speed int `json:"speed"`
}

type VentilationStart struct {
	Mode      int      `json:"mode"`
	Intensity *float64 `json:"intensity,omitempty"`
}

type VentilationStop struct{}

type VentilationSetIntensity struct {
	Intensity float64 `json:"intensity"`
}

type Fan struct {
	Speed int `json:"speed"`
}

type DoorControl struct {
	Direction string `json:"direction"`
	Engage    bool   `json:"engage"`
}

type AlarmClear struct{}

// SetO2Calibration rebuilds the O2 model from the raw reading in air.
type SetO2Calibration struct {
	Raw21 float64 `json:"raw21"`
}

type TuningStart struct{}
type TuningStop struct{}
type TuningApply struct{}

func (SessionStart) Name() string            { return "sessionStart" }
func (SessionPause) Name() string            { return "sessionPause" }
func (SessionResume) Name() string           { return "sessionResume" }
func (SessionStop) Name() string             { return "sessionStop" }
func (DoorOpen) Name() string                { return "doorOpen" }
func (DoorClose) Name() string               { return "doorClose" }
func (CompValve) Name() string               { return "compValve" }
func (DecompValve) Name() string             { return "decompValve" }
func (DrainOn) Name() string                 { return "drainOn" }
func (DrainOff) Name() string                { return "drainOff" }
func (ChangeSessionPressure) Name() string   { return "changeSessionPressure" }
func (ChangeSessionDuration) Name() string   { return "changeSessionDuration" }
func (SetDuration) Name() string             { return "duration" }
func (SetPressure) Name() string             { return "pressure" }
func (SetSpeed) Name() string                { return "speed" }
func (VentilationStart) Name() string        { return "ventilationStart" }
func (VentilationStop) Name() string         { return "ventilationStop" }
func (VentilationSetIntensity) Name() string { return "ventilationSetIntensity" }
func (Fan) Name() string                     { return "fan" }
func (DoorControl) Name() string             { return "doorControl" }
func (AlarmClear) Name() string              { return "alarmClear" }
func (SetO2Calibration) Name() string        { return "setO2Calibration" }
func (TuningStart) Name() string             { return "tuningStart" }
func (TuningStop) Name() string              { return "tuningStop" }
func (TuningApply) Name() string             { return "tuningApply" }

var registry = map[string]func(json.RawMessage) (Command, error){}

func register[T Command]() {
	var zero T
	registry[zero.Name()] = func(data json.RawMessage) (Command, error) {
		var c T
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &c); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
}

func init() {
	register[SessionStart]()
	register[SessionPause]()
	register[SessionResume]()
	register[SessionStop]()
	register[DoorOpen]()
	register[DoorClose]()
	register[CompValve]()
	register[DecompValve]()
	register[DrainOn]()
	register[DrainOff]()
	register[ChangeSessionPressure]()
	register[ChangeSessionDuration]()
	register[SetDuration]()
	register[SetPressure]()
	register[SetSpeed]()
	register[VentilationStart]()
	register[VentilationStop]()
	register[VentilationSetIntensity]()
	register[Fan]()
	register[DoorControl]()
	register[AlarmClear]()
	register[SetO2Calibration]()
	register[TuningStart]()
	register[TuningStop]()
	register[TuningApply]()
}

// Envelope is the wire form of a command: {"type": "...", "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode turns an envelope into a typed command.
func Decode(env Envelope) (Command, error) {
	decode, ok := registry[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	cmd, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return cmd, nil
}

// Result is the reply to one command.
type Result struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Reply types.
const (
	ReplyAck              = "ack"
	ReplyRejected         = "commandRejected"
	ReplySessionStarting  = "sessionStarting"
	ReplySessionPaused    = "sessionPaused"
	ReplySessionResumed   = "sessionResumed"
	ReplySessionStopped   = "sessionStopped"
	ReplyPlanPreview      = "planPreview"
	ReplyTuningStatus     = "tuningStatus"
	ReplyTuningResult     = "tuningResult"
	ReplyTuningApplied    = "tuningApplied"
	ReplyO2CalibrationSet = "o2CalibrationSet"
)

// Rejected builds the reply for a failed command.
func Rejected(name string, err error) Result {
	return Result{Type: ReplyRejected, Command: name, Reason: err.Error()}
}
