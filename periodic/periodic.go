// Copyright 2018 Anapaya Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Modified for the smart-bin gateway: zap logging, task names and panic
// recovery.

// Package periodic runs tasks on a fixed cadence.
package periodic

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Ticker abstracts time.Ticker so tests can drive runs by hand.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type defaultTicker struct {
	*time.Ticker
}

func (t *defaultTicker) Chan() <-chan time.Time {
	return t.C
}

// NewTicker returns a Ticker backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return &defaultTicker{Ticker: time.NewTicker(d)}
}

// A Task that has to be periodically executed.
type Task interface {
	// Name identifies the task in logs.
	Name() string
	// Run executes the task once. It should return within the context's
	// timeout.
	Run(context.Context)
}

// Runner runs a task periodically.
type Runner struct {
	task         Task
	ticker       Ticker
	timeout      time.Duration
	logger       *zap.Logger
	stop         chan struct{}
	loopFinished chan struct{}
	ctx          context.Context
	cancelF      context.CancelFunc
	trigger      chan struct{}
}

// Start creates and starts a Runner for task. Every run gets a context
// bounded by timeout; a run that overruns the period delays the next one
// instead of overlapping it.
func Start(task Task, ticker Ticker, timeout time.Duration, logger *zap.Logger) *Runner {
	ctx, cancelF := context.WithCancel(context.Background())
	r := &Runner{
		task:         task,
		ticker:       ticker,
		timeout:      timeout,
		logger:       logger.Named("periodic").With(zap.String("task", task.Name())),
		stop:         make(chan struct{}),
		loopFinished: make(chan struct{}),
		ctx:          ctx,
		cancelF:      cancelF,
		trigger:      make(chan struct{}),
	}
	go r.runLoop()
	return r
}

// Stop stops the periodic execution. If the task is running, Stop blocks
// until it returns.
func (r *Runner) Stop() {
	r.ticker.Stop()
	close(r.stop)
	<-r.loopFinished
}

// Kill is like Stop but also cancels the context of a running task.
func (r *Runner) Kill() {
	r.ticker.Stop()
	close(r.stop)
	r.cancelF()
	<-r.loopFinished
}

// TriggerRun runs the task now without shifting the regular cadence. It
// blocks until the run started or the runner was stopped.
func (r *Runner) TriggerRun() {
	select {
	case <-r.stop:
	case r.trigger <- struct{}{}:
	}
}

func (r *Runner) runLoop() {
	defer close(r.loopFinished)
	defer r.cancelF()
	r.logger.Debug("Task started")
	for {
		select {
		case <-r.stop:
			r.logger.Debug("Task stopped")
			return
		case <-r.ticker.Chan():
			r.onTick()
		case <-r.trigger:
			r.onTick()
		}
	}
}

func (r *Runner) onTick() {
	select {
	// Stop wins when both channels are ready.
	case <-r.stop:
		return
	default:
		ctx, cancelF := context.WithTimeout(r.ctx, r.timeout)
		defer cancelF()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Task panicked", zap.Any("panic", p), zap.Stack("stack"))
			}
		}()
		r.task.Run(ctx)
	}
}
