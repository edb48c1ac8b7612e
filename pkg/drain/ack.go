// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drain

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/worker"
)

// Marker marks bundles as delivered, e.g., the session.Manager. The context is
// cancelled when the Acknowledger is forced to close.
type Marker interface {
	MarkDelivered(ctx context.Context, bid bpv7.BundleID)
}

// MarkerFunc is a function acting as a Marker.
type MarkerFunc func(ctx context.Context, bid bpv7.BundleID)

func (f MarkerFunc) MarkDelivered(ctx context.Context, bid bpv7.BundleID) {
	f(ctx, bid)
}

// Acknowledger is a receiver.Acknowledger, passing each acknowledgment to its
// own worker. Thus, acknowledging never blocks the drain.
type Acknowledger struct {
	marker Marker
	worker *worker.Worker
}

// NewAcknowledger for a Marker, started with its own worker.
func NewAcknowledger(marker Marker) *Acknowledger {
	return &Acknowledger{
		marker: marker,
		worker: worker.NewWorker("ack"),
	}
}

func (a *Acknowledger) Acknowledge(bid bpv7.BundleID) {
	err := a.worker.Submit(func(ctx context.Context) {
		a.marker.MarkDelivered(ctx, bid)
	})
	if err != nil {
		log.WithField("bundle", bid).WithError(err).Warn("Cannot schedule delivery acknowledgment")
	}
}

// Pending acknowledgments, not including a running one.
func (a *Acknowledger) Pending() int {
	return a.worker.Pending()
}

// Close waits up to timeout for the scheduled acknowledgments. Afterwards, the
// remaining ones are dropped and the running one is cancelled.
func (a *Acknowledger) Close(timeout time.Duration) error {
	return a.worker.Shutdown(timeout)
}
