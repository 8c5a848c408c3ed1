// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Dispatcher runs jobs in submission order on one background worker. Jobs are
// dropped, never blocked on, when the queue is full.
type Dispatcher struct {
	logger  logr.Logger
	timeout time.Duration
	onError func(name string, err error)

	jobs     chan job
	stopChan chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher starts the worker. onError may be nil.
func NewDispatcher(logger logr.Logger, size int, timeout time.Duration, onError func(string, error)) *Dispatcher {
	if size < 1 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := &Dispatcher{
		logger:   logger,
		timeout:  timeout,
		onError:  onError,
		jobs:     make(chan job, size),
		stopChan: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

func (d *Dispatcher) Go(name string, fn func(ctx context.Context) error) {
	select {
	case d.jobs <- job{name: name, fn: fn}:
	default:
		d.logger.Info("dispatch queue full, dropping job", "job", name)
		if d.onError != nil {
			d.onError(name, context.DeadlineExceeded)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.jobs:
			d.run(j)
		case <-d.stopChan:
			for {
				select {
				case j := <-d.jobs:
					d.run(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := j.fn(ctx); err != nil {
		d.logger.Error(err, "job failed", "job", j.name)
		if d.onError != nil {
			d.onError(j.name, err)
		}
	}
}

// Close runs what is queued and stops the worker.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}
