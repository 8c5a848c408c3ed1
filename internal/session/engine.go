// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session owns the chamber session state. A single goroutine runs the
// 1 Hz tick, applies PLC frames, operator commands and scheduled tasks in
// arrival order; everything else reads published snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
	"github.com/relabs-tech/hyperbaric_controller/internal/control"
	"github.com/relabs-tech/hyperbaric_controller/internal/profile"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
	"github.com/relabs-tech/hyperbaric_controller/internal/tuning"
)

// DoorDirections are the door motor directions accepted by DoorControl.
var DoorDirections = map[string]bool{"open": true, "close": true, "forward": true, "backward": true}

// MaxFanSpeed is the highest fan speed step.
const MaxFanSpeed = 4

// Config wires the engine. Tuner, Bridge and Recorder are optional.
type Config struct {
	Logger     logr.Logger
	Planner    *profile.Planner
	Pipeline   *sensors.Pipeline
	Controller *control.Controller
	Supervisor *alarm.Supervisor
	Board      *alarm.Board
	Tuner      *tuning.Tuner
	Actuator   Actuator
	Bridge     Bridge
	Sinks      []Sink
	Recorder   Recorder
	Executor   Executor

	Faults   sensors.FaultThresholds
	Settings Settings

	TickInterval time.Duration
	// RateWindow is the pressurization rate window in ticks.
	RateWindow int
	// AutoVentilationAngle is the decompressor opening used when high O2 starts ventilation.
	AutoVentilationAngle float64

	AfterFunc AfterFunc
	Now       func() time.Time
}

type reply struct {
	res Result
	err error
}

type request struct {
	cmd   Command
	reply chan reply
}

// applyGains is posted after the tuner approved a recommendation.
type applyGains struct {
	gains control.Gains
}

func (applyGains) Name() string { return TuningApply{}.Name() }

type state struct {
	phase     Phase
	elapsed   int
	profile   *profile.Profile
	plan      *profile.Plan
	settings  Settings
	sessionID uuid.UUID
	startedAt time.Time
	manual    bool

	pauseAt  int
	pauseBar float64

	oxygen      bool
	decoStarted bool
	stopped     bool
	autoVent    bool

	reading    sensors.Reading
	readiness  sensors.Readiness
	statusWord int
	doorSensor int
	doorClosed bool

	out    control.Output
	comp   float64
	decomp float64
	fan    int
	drain  bool
}

// Engine is the session actor.
type Engine struct {
	cfg    Config
	logger logr.Logger

	planner  *profile.Planner
	pipeline *sensors.Pipeline
	ctrl     *control.Controller
	sup      *alarm.Supervisor
	board    *alarm.Board
	tuner    *tuning.Tuner
	actuator Actuator
	exec     Executor
	rate     *control.RateTracker
	sched    *scheduler

	commands chan request
	frames   chan Frame
	fires    chan firing
	done     chan struct{}
	running  atomic.Bool

	snap atomic.Pointer[Snapshot]
	st   state
}

// New validates the wiring and publishes the initial snapshot.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Planner == nil:
		return nil, errors.New("session: planner is required")
	case cfg.Pipeline == nil:
		return nil, errors.New("session: sensor pipeline is required")
	case cfg.Controller == nil:
		return nil, errors.New("session: controller is required")
	case cfg.Supervisor == nil:
		return nil, errors.New("session: alarm supervisor is required")
	case cfg.Actuator == nil:
		return nil, errors.New("session: actuator is required")
	case cfg.Executor == nil:
		return nil, errors.New("session: executor is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Board == nil {
		cfg.Board = alarm.NewBoard(cfg.Now)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 60
	}
	if cfg.AutoVentilationAngle <= 0 {
		cfg.AutoVentilationAngle = 30
	}
	if cfg.Faults == (sensors.FaultThresholds{}) {
		cfg.Faults = sensors.DefaultFaultThresholds
	}
	if cfg.Settings.Depth <= 0 {
		cfg.Settings = DefaultSettings
	}

	e := &Engine{
		cfg:      cfg,
		logger:   cfg.Logger,
		planner:  cfg.Planner,
		pipeline: cfg.Pipeline,
		ctrl:     cfg.Controller,
		sup:      cfg.Supervisor,
		board:    cfg.Board,
		tuner:    cfg.Tuner,
		actuator: cfg.Actuator,
		exec:     cfg.Executor,
		rate:     control.NewRateTracker(cfg.RateWindow),
		commands: make(chan request),
		frames:   make(chan Frame, 8),
		fires:    make(chan firing, 8),
		done:     make(chan struct{}),
	}
	e.sched = newScheduler(cfg.AfterFunc, e.fires, e.done)
	e.st.settings = cfg.Settings
	e.st.readiness = sensors.CommunicationFault()
	e.st.doorSensor = -1
	e.preview()
	e.store(cfg.Now(), 0)
	return e, nil
}

// Run drives the engine until ctx is cancelled. It must be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("session: engine already running")
	}
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	defer func() {
		close(e.done)
		e.sched.cancelAll()
	}()

	e.logger.Info("session engine started", "tick", e.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("session engine stopping")
			return nil
		case <-ticker.C:
			e.tick(e.cfg.Now())
		case f := <-e.frames:
			e.handleFrame(f)
		case req := <-e.commands:
			res, err := e.handle(req.cmd)
			req.reply <- reply{res: res, err: err}
		case f := <-e.fires:
			e.fire(f)
		}
	}
}

// OfferFrame hands a PLC frame to the engine without blocking. It reports
// false when the frame was dropped.
func (e *Engine) OfferFrame(f Frame) bool {
	select {
	case e.frames <- f:
		return true
	default:
		return false
	}
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

// Do executes one operator command. A rejected command returns the
// commandRejected result together with an error wrapping ErrRejected.
func (e *Engine) Do(ctx context.Context, cmd Command) (Result, error) {
	switch cmd.(type) {
	case TuningStart, TuningStop, TuningApply:
		return e.doTuning(ctx, cmd)
	}
	return e.post(ctx, cmd)
}

func (e *Engine) post(ctx context.Context, cmd Command) (Result, error) {
	req := request{cmd: cmd, reply: make(chan reply, 1)}
	select {
	case e.commands <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-e.done:
		return Result{}, ErrStopped
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// doTuning runs the tuner outside the engine goroutine; its persistence may block.
func (e *Engine) doTuning(ctx context.Context, cmd Command) (Result, error) {
	name := cmd.Name()
	if e.tuner == nil {
		err := reject("auto-tuner is not configured")
		return Rejected(name, err), err
	}
	switch cmd.(type) {
	case TuningStart:
		snap := e.Snapshot()
		s, err := e.tuner.Start(ctx, snap.Gains, snap.Settings.Depth, snap.Settings.TotalMinutes)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrRejected, err)
			return Rejected(name, err), err
		}
		return Result{Type: ReplyTuningStatus, Command: name, Data: s}, nil
	case TuningStop:
		s, err := e.tuner.Stop(ctx)
		if errors.Is(err, tuning.ErrNotCollecting) {
			err = fmt.Errorf("%w: %w", ErrRejected, err)
			return Rejected(name, err), err
		}
		// An analysis failure still seals the session; report it with the result.
		return Result{Type: ReplyTuningResult, Command: name, Data: s}, nil
	default:
		id, gains, err := e.tuner.Recommended()
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrRejected, err)
			return Rejected(name, err), err
		}
		res, err := e.post(ctx, applyGains{gains: gains})
		if err != nil {
			return res, err
		}
		if err := e.tuner.Approve(ctx, id); err != nil {
			e.logger.Info("applied gains no longer match the last recommendation", "id", id)
		}
		return res, nil
	}
}

func (e *Engine) handleFrame(f Frame) {
	st := &e.st
	if !f.Valid() {
		e.setReadiness(sensors.CommunicationFault())
		return
	}
	raw := f.Raw()
	e.setReadiness(sensors.CheckReadiness(raw, e.cfg.Faults))
	st.reading = e.pipeline.Process(raw)

	if v := f.At(FrameStatus); !math.IsNaN(v) {
		st.statusWord = int(v)
		e.statusWord(st.statusWord)
	}
	if v := f.At(FrameDoor); !math.IsNaN(v) {
		st.doorSensor = int(v)
	}
}

func (e *Engine) statusWord(word int) {
	ev := e.sup.StatusWord(word)
	switch {
	case ev.Rising:
		e.act("alarm latch reset", func(a Actuator) error { return a.ResetAlarmLatch() })
		if ev.Kind != "" {
			e.raise(ev.Kind, ev.Message, e.sup.Limits().AlarmDuration)
			e.act("buzzer on", func(a Actuator) error { return a.Buzzer(true) })
		}
	case ev.Falling:
		e.board.Clear(alarm.KindFire)
		e.board.Clear(alarm.KindPatient)
	}
}

func (e *Engine) tick(now time.Time) {
	st := &e.st
	if st.phase == Idle {
		e.levelAlarms()
		e.rate.Push(chamber.BarToFsw(st.reading.PressureBar))
		e.publish(now, e.cfg.Now().Sub(now))
		return
	}

	st.elapsed++
	if st.elapsed == 1 {
		e.raise(alarm.KindSessionStarting, alarm.MsgSessionStarting, 0)
		e.send(DirectiveStartSession)
		e.setDecomp(0)
	}

	n := st.profile.Len()
	exiting := st.phase == Finishing && st.elapsed >= n
	out := e.ctrl.Step(control.Input{
		Elapsed:     st.elapsed,
		Profile:     st.profile,
		PressureBar: st.reading.PressureBar,
		Manual:      st.manual,
		Exiting:     exiting,
	})
	st.out = out
	e.logger.V(1).Info("tick", "elapsed", st.elapsed, "target", out.TargetFsw, "fsw", out.MeasuredFsw,
		"error", out.Error, "trend", out.Trend.String(), "comp", out.Comp, "decomp", out.Decomp)

	if out.Active && !exiting {
		e.gasTransitions(out)
	}

	deviated := false
	if out.Active && e.sup.CheckDeviation(out.Error, !st.manual && st.phase == Running) {
		e.deviation()
		deviated = true
	}

	if out.Drive && !deviated && st.phase != Paused {
		e.setValves(out.Comp, out.Decomp)
	}

	if st.phase == Running && n > 0 && st.elapsed >= n-e.ctrl.Params().EndWindow {
		st.phase = Finishing
		e.logger.Info("session entering final window", "elapsed", st.elapsed, "length", n)
	}

	if out.Finished && st.phase == Finishing {
		e.finalize(now)
		e.publish(now, e.cfg.Now().Sub(now))
		return
	}

	e.levelAlarms()
	e.highO2()
	e.rate.Push(out.MeasuredFsw)

	if e.tuner != nil && out.Active {
		e.tuner.Collect(tuning.Sample{
			At:          now,
			Elapsed:     st.elapsed,
			TargetFsw:   out.TargetFsw,
			MeasuredFsw: out.MeasuredFsw,
			Error:       out.Error,
			Trend:       out.Trend,
			Comp:        st.comp,
			Decomp:      st.decomp,
			PressureBar: st.reading.PressureBar,
		})
	}

	if rec := e.cfg.Recorder; rec != nil {
		l := SensorLog{
			SessionID: st.sessionID,
			At:        now,
			Elapsed:   st.elapsed,
			Reading:   st.reading,
			TargetFsw: out.TargetFsw,
			Comp:      st.comp,
			Decomp:    st.decomp,
		}
		e.exec.Go("sensor log", func(ctx context.Context) error { return rec.LogSensors(ctx, l) })
	}

	e.publish(now, e.cfg.Now().Sub(now))
}

// gasTransitions follows the planned gas and step tags. Decompression starts
// where the plan leaves treatment, so a recovery ramp after a resume never
// announces it.
func (e *Engine) gasTransitions(out control.Output) {
	st := &e.st
	if !out.HasNext {
		return
	}
	cur, next := out.Point.Gas, out.NextPoint.Gas
	switch {
	case cur == profile.GasAir && next == profile.GasOxygen && !st.oxygen:
		st.oxygen = true
		e.raise(alarm.KindOxygenBreak, alarm.MsgOxygenOn, 0)
		e.send(DirectivePutOnMask)
		e.act("oxygen on", func(a Actuator) error { return a.OxygenValve(true) })
	case !st.decoStarted && out.NextPoint.Step == profile.StepAscent && out.Point.Step != profile.StepDescent:
		st.decoStarted = true
		st.oxygen = false
		e.raise(alarm.KindTreatmentFinished, alarm.MsgTreatmentFinished, 0)
		e.send(DirectiveDecoStart)
		e.act("oxygen off", func(a Actuator) error { return a.OxygenValve(false) })
	case cur == profile.GasOxygen && next == profile.GasAir && st.oxygen:
		st.oxygen = false
		e.raise(alarm.KindOxygenBreak, alarm.MsgOxygenOff, 0)
		e.send(DirectiveTakeOffMask)
		e.act("oxygen off", func(a Actuator) error { return a.OxygenValve(false) })
	}
}

func (e *Engine) deviation() {
	st := &e.st
	l := e.sup.Limits()
	e.logger.Info("deviation, pausing session", "elapsed", st.elapsed, "error", st.out.Error)
	e.pauseAt()
	e.raise(alarm.KindDeviation, alarm.MsgDeviation, 0)
	e.setValves(0, l.PurgeAngle)
	e.sched.schedule(TaskPurgeClose, l.PurgeDuration)
	e.sched.schedule(TaskDeviationCooldown, l.Cooldown)
}

func (e *Engine) pauseAt() {
	st := &e.st
	st.phase = Paused
	st.manual = true
	st.pauseAt = st.elapsed
	st.pauseBar = st.reading.PressureBar
}

func (e *Engine) fire(f firing) {
	if !e.sched.claim(f) {
		e.logger.V(1).Info("stale task ignored", "task", f.key)
		return
	}
	switch f.key {
	case TaskPurgeClose:
		e.setDecomp(0)
	case TaskDeviationCooldown:
		e.sup.EndCooldown()
	case TaskRearmO2:
		e.sup.Rearm(alarm.KindHighO2)
	case TaskRearmHumidity:
		e.sup.Rearm(alarm.KindHighHumidity)
	}
}

func (e *Engine) levelAlarms() {
	r := e.st.reading
	l := e.sup.Limits()
	for _, k := range e.sup.CheckLevels(r.O2Percent, r.HumidityPct) {
		switch k {
		case alarm.KindHighO2:
			e.raise(k, alarm.MsgHighO2, 0)
			e.sched.schedule(TaskRearmO2, l.LevelRearm)
		case alarm.KindHighHumidity:
			e.raise(k, alarm.MsgHighHumidity, 0)
			e.sched.schedule(TaskRearmHumidity, l.LevelRearm)
		}
	}
}

func (e *Engine) highO2() {
	st := &e.st
	high, recovered := e.sup.HighO2Sustained(st.reading.O2Percent)
	switch {
	case high && !e.ctrl.Ventilation().Active():
		angle := e.cfg.AutoVentilationAngle
		if err := e.ctrl.StartVentilation(1, &angle); err != nil {
			e.logger.Error(err, "automatic ventilation not started")
			return
		}
		st.autoVent = true
		e.raise(alarm.KindVentilation, alarm.MsgHighO2Ventilation, 0)
		if st.oxygen {
			st.oxygen = false
			e.send(DirectiveTakeOffMask)
			e.act("oxygen off", func(a Actuator) error { return a.OxygenValve(false) })
		}
	case recovered && st.autoVent:
		st.autoVent = false
		e.ctrl.StopVentilation()
		e.setValves(0, 0)
		e.logger.Info("o2 recovered, automatic ventilation stopped")
	}
}

func (e *Engine) finalize(now time.Time) {
	st := &e.st
	status := RecordCompleted
	if st.stopped {
		status = RecordStopped
	}
	e.logger.Info("session finished", "id", st.sessionID, "status", status, "elapsed", st.elapsed)

	e.act("session start bit off", func(a Actuator) error { return a.SessionStartBit(false) })
	if st.oxygen {
		e.act("oxygen off", func(a Actuator) error { return a.OxygenValve(false) })
	}
	e.send(DirectiveEndSession)
	if rec := e.cfg.Recorder; rec != nil {
		id := st.sessionID
		e.exec.Go("session end", func(ctx context.Context) error { return rec.EndSession(ctx, id, status, now) })
	}

	e.sched.cancel(TaskPurgeClose)
	e.sched.cancel(TaskDeviationCooldown)
	e.ctrl.Reset()
	e.sup.ResetSession()
	e.board.ClearAll()
	e.rate.Reset()

	settings, readiness, reading := st.settings, st.readiness, st.reading
	word, door, doorClosed, fan, drain := st.statusWord, st.doorSensor, st.doorClosed, st.fan, st.drain
	comp, decomp := st.comp, st.decomp
	*st = state{
		settings:   settings,
		readiness:  readiness,
		reading:    reading,
		statusWord: word,
		doorSensor: door,
		doorClosed: doorClosed,
		fan:        fan,
		drain:      drain,
		comp:       comp,
		decomp:     decomp,
	}
	e.preview()
	e.raise(alarm.KindEndOfSession, alarm.MsgEndOfSession, 0)
}

// preview plans the next session from the current settings.
func (e *Engine) preview() {
	s := e.st.settings
	pl, err := e.planner.Plan(s.Depth, s.TotalMinutes, s.Speed)
	if err != nil {
		e.logger.Info("settings do not plan a session", "reason", err.Error())
		e.st.plan = nil
		return
	}
	e.st.plan = &pl
}

// setReadiness raises a sensor fault when one begins or changes reason and
// clears it once the chamber reads ready again.
func (e *Engine) setReadiness(ready sensors.Readiness) {
	st := &e.st
	prev := st.readiness
	st.readiness = ready
	if ready != prev {
		e.logger.Info("chamber readiness changed", "ready", ready.Ready, "reason", ready.Reason)
	}
	switch {
	case ready.Ready:
		e.board.Clear(alarm.KindSensorFault)
	case ready != prev || !e.board.IsActive(alarm.KindSensorFault):
		e.raise(alarm.KindSensorFault, ready.Reason, 0)
	}
}

func (e *Engine) raise(kind alarm.Kind, msg string, duration int) {
	r := e.board.Raise(kind, msg, duration)
	e.logger.Info("alarm raised", "kind", kind, "message", msg)
	for _, s := range e.cfg.Sinks {
		s.PublishAlarm(r)
	}
}

func (e *Engine) act(name string, fn func(Actuator) error) {
	a := e.actuator
	e.exec.Go(name, func(context.Context) error { return fn(a) })
}

func (e *Engine) send(d Directive) {
	b := e.cfg.Bridge
	if b == nil {
		return
	}
	e.exec.Go("bridge "+string(d), func(ctx context.Context) error { return b.Send(ctx, d) })
}

func (e *Engine) setValves(comp, decomp float64) {
	e.setComp(comp)
	e.setDecomp(decomp)
}

func (e *Engine) setComp(angle float64) {
	angle = chamber.ClampValve(angle)
	e.st.comp = angle
	e.act("comp valve", func(a Actuator) error { return a.CompValve(angle) })
}

func (e *Engine) setDecomp(angle float64) {
	angle = chamber.ClampValve(angle)
	e.st.decomp = angle
	e.act("decomp valve", func(a Actuator) error { return a.DecompValve(angle) })
}

func (e *Engine) snapshot(now time.Time, took time.Duration) *Snapshot {
	st := &e.st
	s := &Snapshot{
		At:             now,
		Phase:          st.phase,
		Elapsed:        st.elapsed,
		Manual:         st.manual,
		SessionID:      st.sessionID,
		Settings:       st.settings,
		Plan:           st.plan,
		Profile:        st.profile,
		ProfileLen:     st.profile.Len(),
		Reading:        st.reading,
		Readiness:      st.readiness,
		StatusWord:     st.statusWord,
		DoorSensor:     st.doorSensor,
		DoorClosed:     st.doorClosed,
		TargetFsw:      st.out.TargetFsw,
		MeasuredFsw:    chamber.BarToFsw(st.reading.PressureBar),
		DisplayFsw:     chamber.BarToFsw(st.reading.PressureBar),
		Error:          st.out.Error,
		AvgError:       st.out.AvgError,
		Trend:          st.out.Trend,
		Gas:            st.out.Point.Gas,
		Oxygen:         st.oxygen,
		FswPerMinute:   e.rate.FswPerMinute(),
		BarPerMinute:   e.rate.BarPerMinute(),
		Comp:           st.comp,
		Decomp:         st.decomp,
		Ventilation:    e.ctrl.Ventilation(),
		Fan:            st.fan,
		Drain:          st.drain,
		Gains:          e.ctrl.Gains(),
		Alarms:         e.board.Active(),
		DeviationCount: e.sup.DeviationCount(),
		TickDuration:   took,
	}
	if st.phase != Idle {
		s.DisplayFsw = st.out.DisplayFsw
	}
	if e.tuner != nil {
		s.Tuning = e.tuner.Status()
	}
	return s
}

// store makes the current state visible to readers without notifying sinks.
func (e *Engine) store(now time.Time, took time.Duration) *Snapshot {
	s := e.snapshot(now, took)
	e.snap.Store(s)
	return s
}

func (e *Engine) publish(now time.Time, took time.Duration) {
	s := e.store(now, took)
	for _, sink := range e.cfg.Sinks {
		sink.PublishSnapshot(s)
	}
}
