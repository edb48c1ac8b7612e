// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package drain empties a session's bundle queue on a dedicated worker.
package drain

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/session"
	"github.com/dtn7/dtnrecv/pkg/worker"
)

// Fetcher fetches one bundle at a time, e.g., the session.Manager.
type Fetcher interface {
	FetchNext(ctx context.Context) (bool, error)
}

// Loop drains a Fetcher's queue on request. Concurrent requests are coalesced:
// at most one drain is running and one is pending.
type Loop struct {
	fetcher Fetcher
	worker  *worker.Worker

	mutex     sync.Mutex
	closed    bool
	scheduled bool
	pending   bool
	drains    uint64
}

// NewLoop for a Fetcher, started with its own worker.
func NewLoop(fetcher Fetcher) *Loop {
	return &Loop{
		fetcher: fetcher,
		worker:  worker.NewWorker("drain"),
	}
}

// Request a drain. This method never blocks.
func (l *Loop) Request() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	switch {
	case l.closed:
		log.Debug("Ignoring drain request for a closed loop")

	case l.scheduled:
		l.pending = true

	default:
		l.schedule()
	}
}

// schedule a drain; the mutex must be held.
func (l *Loop) schedule() {
	if err := l.worker.Submit(l.run); err != nil {
		log.WithError(err).Debug("Cannot schedule drain")
		return
	}
	l.scheduled = true
}

func (l *Loop) run(ctx context.Context) {
	l.drain(ctx)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.drains++
	l.scheduled = false

	if l.pending && !l.closed {
		l.pending = false
		l.schedule()
	}
}

// drain fetches bundles until the queue is empty or a stop condition occurs.
func (l *Loop) drain(ctx context.Context) {
	for fetched := 0; ; fetched++ {
		if ctx.Err() != nil {
			log.WithField("fetched", fetched).Debug("Drain was cancelled")
			return
		}

		more, err := l.fetcher.FetchNext(ctx)
		switch {
		case session.IsStopCondition(err):
			log.WithError(err).WithField("fetched", fetched).Debug("Drain stopped")
			return

		case err != nil:
			log.WithError(err).WithField("fetched", fetched).Warn("Fetching bundle errored, ending drain")
			return

		case !more:
			log.WithField("fetched", fetched).Debug("Drained bundle queue")
			return
		}
	}
}

// Drains counts the finished drains.
func (l *Loop) Drains() uint64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.drains
}

// Stop rejects further requests and drops a coalesced pending drain. This
// method never blocks; a running drain continues.
func (l *Loop) Stop() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.closed = true
	l.pending = false
}

// Close stops the Loop and waits up to timeout for the running drain.
// Afterwards, it is cancelled and awaited.
func (l *Loop) Close(timeout time.Duration) error {
	l.Stop()
	return l.worker.Shutdown(timeout)
}
