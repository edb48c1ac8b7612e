// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package worker provides a queue of tasks, executed one after another by a
// single goroutine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrShutdown is returned when submitting to a Worker which is shutting down.
	ErrShutdown = errors.New("worker is shut down")

	// ErrForcedShutdown is returned by Shutdown if the queue could not be
	// finished in time and the remaining tasks were cancelled.
	ErrForcedShutdown = errors.New("worker was forced to shut down")
)

// Task is a unit of work. The context is cancelled if the Worker is forced to
// shut down; long running tasks must return soon afterwards.
type Task func(ctx context.Context)

// Worker executes submitted Tasks serially in their submission order.
type Worker struct {
	name string

	mutex  sync.Mutex
	queue  []Task
	closed bool

	signal chan struct{}
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates and starts a Worker. The name is only used for logging.
func NewWorker(name string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		name:   name,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	go w.handler()

	return w
}

func (w *Worker) log() *log.Entry {
	return log.WithField("worker", w.name)
}

func (w *Worker) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Worker) handler() {
	defer close(w.done)
	defer w.cancel()

	for {
		w.mutex.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mutex.Unlock()

			if closed {
				w.log().Debug("Worker finished its queue")
				return
			}

			<-w.signal
			continue
		}

		task := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mutex.Unlock()

		w.run(task)
	}
}

func (w *Worker) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			w.log().WithField("panic", r).Error("Task panicked")
		}
	}()

	task(w.ctx)
}

// Submit a Task to the end of the queue. This method does not block.
func (w *Worker) Submit(task Task) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrShutdown
	}

	w.queue = append(w.queue, task)
	w.notify()

	return nil
}

// Pending is the amount of queued Tasks, not including a running one.
func (w *Worker) Pending() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return len(w.queue)
}

// Shutdown stops accepting Tasks and waits up to timeout for the queue to be
// finished. Afterwards, queued Tasks are dropped and the running Task's
// context is cancelled. Shutdown returns after the running Task returned.
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.mutex.Lock()
	w.closed = true
	w.mutex.Unlock()
	w.notify()

	select {
	case <-w.done:
		return nil

	case <-time.After(timeout):
	}

	w.mutex.Lock()
	dropped := len(w.queue)
	w.queue = nil
	w.mutex.Unlock()

	w.log().WithFields(log.Fields{
		"timeout": timeout,
		"dropped": dropped,
	}).Warn("Worker did not finish in time, cancelling")

	w.cancel()
	<-w.done

	return fmt.Errorf("%w: dropped %d tasks", ErrForcedShutdown, dropped)
}

// Done is closed after the Worker has stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
