// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import "time"

// TaskKey identifies a deferred action. At most one task per key is pending.
type TaskKey string

const (
	TaskPurgeClose        TaskKey = "purgeClose"
	TaskDeviationCooldown TaskKey = "deviationCooldown"
	TaskRearmO2           TaskKey = "rearmO2"
	TaskRearmHumidity     TaskKey = "rearmHumidity"
)

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc wraps time.AfterFunc.
func RealAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type firing struct {
	key TaskKey
	gen uint64
}

type pending struct {
	gen   uint64
	timer Timer
}

// scheduler keys tasks by a generation counter: a timer that fires after its
// task was cancelled or replaced carries a stale generation and is ignored.
// Timers only post to the engine mailbox; the action runs on the engine goroutine.
type scheduler struct {
	after AfterFunc
	fire  chan<- firing
	done  <-chan struct{}

	gen   uint64
	tasks map[TaskKey]pending
}

func newScheduler(after AfterFunc, fire chan<- firing, done <-chan struct{}) *scheduler {
	if after == nil {
		after = RealAfterFunc
	}
	return &scheduler{after: after, fire: fire, done: done, tasks: map[TaskKey]pending{}}
}

func (s *scheduler) schedule(key TaskKey, d time.Duration) {
	s.cancel(key)
	s.gen++
	f := firing{key: key, gen: s.gen}
	s.tasks[key] = pending{gen: f.gen, timer: s.after(d, func() {
		select {
		case s.fire <- f:
		case <-s.done:
		}
	})}
}

func (s *scheduler) cancel(key TaskKey) {
	if p, ok := s.tasks[key]; ok {
		p.timer.Stop()
		delete(s.tasks, key)
	}
}

func (s *scheduler) cancelAll() {
	for k := range s.tasks {
		s.cancel(k)
	}
}

// claim reports whether f is the live task for its key and removes it.
func (s *scheduler) claim(f firing) bool {
	p, ok := s.tasks[f.key]
	if !ok || p.gen != f.gen {
		return false
	}
	delete(s.tasks, f.key)
	return true
}

func (s *scheduler) isPending(key TaskKey) bool {
	_, ok := s.tasks[key]
	return ok
}
