// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
)

type progress struct {
	Profile     any `json:"profile"`
	CurrentTime int `json:"currentTime"`
}

func (e *Engine) handle(cmd Command) (Result, error) {
	name := cmd.Name()
	res, err := e.dispatch(cmd)
	if err != nil {
		e.logger.Info("command rejected", "command", name, "reason", err.Error())
		return Rejected(name, err), err
	}
	if res.Type == "" {
		res.Type = ReplyAck
	}
	res.Command = name
	e.store(e.cfg.Now(), 0)
	return res, nil
}

func (e *Engine) dispatch(cmd Command) (Result, error) {
	st := &e.st
	switch c := cmd.(type) {
	case SessionStart:
		return e.start(c)
	case SessionPause:
		if st.phase != Running {
			return Result{}, reject("cannot pause while %s", st.phase)
		}
		e.pauseAt()
		e.setValves(0, 0)
		e.logger.Info("session paused", "elapsed", st.elapsed, "pressure", st.pauseBar)
		return Result{Type: ReplySessionPaused, Data: progress{CurrentTime: st.elapsed}}, nil
	case SessionResume:
		return e.resume()
	case SessionStop:
		return e.stop()
	case DoorOpen:
		st.doorClosed = false
		e.act("door open", func(a Actuator) error { return a.Door(false) })
	case DoorClose:
		if st.doorSensor <= 0 {
			e.raise(alarm.KindDoorOpen, alarm.MsgDoorOpen, 0)
			return Result{}, reject("door sensor reports the door open")
		}
		st.doorClosed = true
		e.act("door close", func(a Actuator) error { return a.Door(true) })
	case CompValve:
		e.manual()
		e.setComp(c.Angle)
	case DecompValve:
		e.manual()
		e.setDecomp(c.Angle)
	case DrainOn:
		st.drain = true
		e.act("drain on", func(a Actuator) error { return a.Drain(true) })
	case DrainOff:
		st.drain = false
		e.act("drain off", func(a Actuator) error { return a.Drain(false) })
	case ChangeSessionPressure:
		return e.changePressure(c.NewDepth)
	case ChangeSessionDuration:
		return e.changeDuration(c.NewDuration)
	case SetDuration:
		s := st.settings
		s.TotalMinutes = c.Duration
		return e.replan(s)
	case SetPressure:
		s := st.settings
		s.Depth = c.Pressure
		return e.replan(s)
	case SetSpeed:
		s := st.settings
		s.Speed = c.Speed
		return e.replan(s)
	case VentilationStart:
		if st.phase == Idle {
			return Result{}, reject("ventilation needs an active session")
		}
		if err := e.ctrl.StartVentilation(c.Mode, c.Intensity); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		st.autoVent = false
		e.logger.Info("ventilation started", "mode", c.Mode, "intensity", e.ctrl.Ventilation().Intensity)
	case VentilationStop:
		st.autoVent = false
		e.ctrl.StopVentilation()
		e.setValves(0, 0)
	case VentilationSetIntensity:
		if err := e.ctrl.SetVentilationIntensity(c.Intensity); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
	case Fan:
		if c.Speed < 0 || c.Speed > MaxFanSpeed {
			return Result{}, reject("fan speed %d outside 0..%d", c.Speed, MaxFanSpeed)
		}
		st.fan = c.Speed
		speed := c.Speed
		e.act("fan", func(a Actuator) error { return a.Fan(speed) })
	case DoorControl:
		if !DoorDirections[c.Direction] {
			return Result{}, reject("unknown door direction %q", c.Direction)
		}
		e.act("door control", func(a Actuator) error { return a.DoorControl(c.Direction, c.Engage) })
	case AlarmClear:
		e.board.ClearAll()
		e.act("buzzer off", func(a Actuator) error { return a.Buzzer(false) })
		e.act("alarm latch reset", func(a Actuator) error { return a.ResetAlarmLatch() })
	case SetO2Calibration:
		m, err := sensors.NewO2ModelFromAirPoint(c.Raw21)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		e.pipeline.SetO2Model(m)
		e.logger.Info("o2 calibration updated", "raw21", c.Raw21, "a", m.A, "b", m.B, "c", m.C)
		return Result{Type: ReplyO2CalibrationSet, Data: m}, nil
	case applyGains:
		if err := e.ctrl.SetGains(c.gains); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		if rec := e.cfg.Recorder; rec != nil {
			g := c.gains
			e.exec.Go("save gains", func(ctx context.Context) error { return rec.SaveGains(ctx, g) })
		}
		e.logger.Info("controller gains applied", "gains", c.gains)
		return Result{Type: ReplyTuningApplied, Data: c.gains}, nil
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name())
	}
	return Result{}, nil
}

func (e *Engine) start(c SessionStart) (Result, error) {
	st := &e.st
	if st.phase != Idle {
		return Result{}, reject("session already %s", st.phase)
	}
	pl, prof, err := e.planner.Expand(c.Depth, c.TotalDuration, c.Speed)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	e.sched.cancel(TaskPurgeClose)
	e.sched.cancel(TaskDeviationCooldown)
	e.ctrl.Reset()
	e.sup.ResetSession()
	e.rate.Reset()

	now := e.cfg.Now()
	st.settings = Settings{Depth: c.Depth, TotalMinutes: c.TotalDuration, Speed: c.Speed}
	st.plan = &pl
	st.profile = prof
	st.phase = Running
	st.elapsed = 0
	st.manual = false
	st.oxygen, st.decoStarted, st.stopped, st.autoVent = false, false, false, false
	st.sessionID = uuid.New()
	st.startedAt = now

	e.act("session start bit on", func(a Actuator) error { return a.SessionStartBit(true) })
	if rec := e.cfg.Recorder; rec != nil {
		r := Record{
			ID:             st.sessionID,
			StartedAt:      now,
			Depth:          pl.Depth,
			Speed:          pl.Speed,
			TotalMinutes:   pl.TotalMinutes,
			DescentMinutes: pl.DescentMinutes,
			AscentMinutes:  pl.AscentMinutes,
			Status:         RecordStarted,
		}
		settings := st.settings
		e.exec.Go("session record", func(ctx context.Context) error { return rec.StartSession(ctx, r) })
		e.exec.Go("save settings", func(ctx context.Context) error { return rec.SaveSettings(ctx, settings) })
	}
	e.logger.Info("session started", "id", st.sessionID, "depth", c.Depth, "total", c.TotalDuration,
		"speed", c.Speed, "seconds", prof.Len())
	return Result{Type: ReplySessionStarting, Data: pl}, nil
}

func (e *Engine) resume() (Result, error) {
	st := &e.st
	if st.phase != Paused {
		return Result{}, reject("cannot resume while %s", st.phase)
	}
	prof := st.profile.Clone()
	if err := prof.Resume(st.pauseAt, st.elapsed, st.pauseBar, st.reading.PressureBar); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	st.profile = prof
	e.sched.cancel(TaskPurgeClose)
	st.phase = Running
	st.manual = false
	e.logger.Info("session resumed", "pausedAt", st.pauseAt, "elapsed", st.elapsed)
	return Result{Type: ReplySessionResumed, Data: progress{Profile: prof, CurrentTime: st.elapsed}}, nil
}

func (e *Engine) stop() (Result, error) {
	st := &e.st
	switch {
	case st.phase != Running && st.phase != Paused && st.phase != Finishing:
		return Result{}, reject("cannot stop while %s", st.phase)
	case st.stopped:
		return Result{}, reject("session already stopping")
	}
	slope, err := e.planner.StopSlope(st.settings.Speed)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	prof := st.profile.Clone()
	if err := prof.RampToZero(st.elapsed, st.reading.PressureBar, slope); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	st.profile = prof
	e.sched.cancel(TaskPurgeClose)
	e.setValves(0, 0)
	if st.oxygen {
		e.act("oxygen off", func(a Actuator) error { return a.OxygenValve(false) })
	}
	st.oxygen = false
	st.decoStarted = true
	st.phase = Finishing
	st.manual = false
	st.stopped = true
	e.raise(alarm.KindSessionStop, alarm.MsgSessionStop, 0)
	e.logger.Info("session stop", "elapsed", st.elapsed, "pressure", st.reading.PressureBar, "length", prof.Len())
	return Result{Type: ReplySessionStopped, Data: progress{Profile: prof, CurrentTime: st.elapsed}}, nil
}

func (e *Engine) manual() {
	if e.st.phase != Idle {
		e.st.manual = true
	}
}

func (e *Engine) changePressure(depth float64) (Result, error) {
	st := &e.st
	if st.phase == Idle || st.profile == nil {
		return Result{}, reject("no active session")
	}
	if !(depth > 0) {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, chamber.ConfigError(fmt.Sprintf("depth %v must be positive", depth)))
	}
	prof := st.profile.Clone()
	if !prof.UpdateTreatmentDepth(depth) {
		return Result{}, reject("profile has no treatment phase")
	}
	st.profile = prof
	st.settings.Depth = depth
	e.logger.Info("treatment depth changed", "depth", depth)
	return Result{Data: progress{Profile: prof, CurrentTime: st.elapsed}}, nil
}

func (e *Engine) changeDuration(total float64) (Result, error) {
	st := &e.st
	if st.phase == Idle || st.profile == nil || st.plan == nil {
		return Result{}, reject("no active session")
	}
	prof := st.profile.Clone()
	if !prof.UpdateTreatmentDuration(st.plan.DescentMinutes, st.plan.AscentMinutes, total) {
		return Result{}, reject("treatment duration cannot be set to %v minutes", total)
	}
	if prof.Len() <= st.elapsed {
		return Result{}, reject("new duration ends before the current second %d", st.elapsed)
	}
	st.profile = prof
	st.settings.TotalMinutes = total
	e.logger.Info("session duration changed", "total", total, "seconds", prof.Len())
	return Result{Data: progress{Profile: prof, CurrentTime: st.elapsed}}, nil
}

// replan validates settings for the next session and updates the preview.
func (e *Engine) replan(s Settings) (Result, error) {
	if e.st.phase != Idle {
		return Result{}, reject("settings are locked while %s", e.st.phase)
	}
	pl, err := e.planner.Plan(s.Depth, s.TotalMinutes, s.Speed)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	e.st.settings = s
	e.st.plan = &pl
	return Result{Type: ReplyPlanPreview, Data: pl}, nil
}
