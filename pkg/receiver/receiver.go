// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package receiver

import (
	"errors"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/sink"
)

// State of a Receiver.
type State int

const (
	Idle State = iota
	InBundle
	InBlock
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InBundle:
		return "in bundle"
	case InBlock:
		return "in block"
	default:
		return "unknown"
	}
}

// Stats are counters of a Receiver's lifetime.
type Stats struct {
	Bundles   uint64
	Abandoned uint64
	Blocks    uint64
	Dropped   uint64
	Fetches   uint64
}

// Receiver is a Handler, receiving one bundle at a time. A Receiver must only
// be used from one goroutine, the worker executing the fetches.
type Receiver struct {
	mode    CallbackMode
	factory sink.Factory
	ack     Acknowledger
	app     Application

	state     State
	bundle    bpv7.BundleID
	block     bpv7.Block
	sink      sink.Sink
	artifacts []sink.Artifact
	progress  uint64

	stats Stats
}

// NewReceiver for the given CallbackMode. Payload blocks are stored in sinks
// from the Factory, completed bundles are passed to the Acknowledger and to
// the Application afterwards.
func NewReceiver(mode CallbackMode, factory sink.Factory, ack Acknowledger, app Application) *Receiver {
	return &Receiver{
		mode:    mode,
		factory: factory,
		ack:     ack,
		app:     app,
	}
}

func (r *Receiver) log() *log.Entry {
	return log.WithFields(log.Fields{
		"bundle": r.bundle,
		"state":  r.state,
	})
}

// State of this Receiver.
func (r *Receiver) State() State {
	return r.state
}

// Stats of this Receiver.
func (r *Receiver) Stats() Stats {
	return r.stats
}

func (r *Receiver) Mode() CallbackMode {
	return r.mode
}

func (r *Receiver) StartBundle(b bpv7.Bundle) {
	if r.state != Idle {
		r.log().WithField("next bundle", b.ID()).Warn("New bundle started before the previous one ended, abandoning it")
		r.Reset()
	}

	r.state = InBundle
	r.bundle = b.ID()
	r.artifacts = nil

	r.log().WithField("destination", b.Destination).Debug("Started bundle")

	if exp := b.Expiration(); !exp.IsZero() && bpv7.DtnTimeNow().Time().After(exp) {
		r.log().WithField("expiration", exp).Warn("Receiving an expired bundle")
	}
}

func (r *Receiver) StartBlock(block bpv7.Block) {
	switch r.state {
	case Idle:
		r.log().WithField("block", block).Warn("Block started outside of a bundle, ignoring it")
		return

	case InBlock:
		r.log().WithField("block", r.block).Warn("Block started before the previous one ended")
		r.EndBlock()
	}

	r.state = InBlock
	r.block = block
	r.progress = 0
	r.stats.Blocks++

	if !block.IsPayload() {
		return
	}

	if s, err := r.factory.Open(r.bundle, block); err != nil {
		r.log().WithField("block", block).WithError(err).Error("Cannot create payload sink, dropping the block's payload")
	} else {
		r.sink = s
	}
}

func (r *Receiver) EndBlock() {
	if r.state != InBlock {
		r.log().Warn("Block ended without being started")
		return
	}

	r.releaseSink()
	r.state = InBundle
}

// releaseSink closes the current sink, if any, and keeps its artifact.
func (r *Receiver) releaseSink() {
	if r.sink == nil {
		return
	}

	s := r.sink
	r.sink = nil

	if err := s.Close(); err != nil {
		r.log().WithField("block", r.block).WithError(err).Error("Closing payload sink errored, dropping the block")
		return
	}

	artifact := s.Artifact()
	if artifact.IsFile() {
		r.log().WithField("file", artifact.Path).Info("File received")
	}
	r.artifacts = append(r.artifacts, artifact)
}

func (r *Receiver) EndBundle() {
	switch r.state {
	case Idle:
		r.log().Warn("Bundle ended without being started")
		return

	case InBlock:
		r.log().WithField("block", r.block).Warn("Bundle ended before its block")
		r.EndBlock()
	}

	received := r.bundle
	artifacts := r.artifacts

	r.ack.Acknowledge(received)

	r.state = Idle
	r.bundle = bpv7.BundleID{}
	r.artifacts = nil
	r.stats.Bundles++

	log.WithFields(log.Fields{
		"bundle":    received,
		"artifacts": len(artifacts),
	}).Info("Received bundle")

	if r.app != nil {
		r.app.OnBundleReceived(received, artifacts)
	}
}

func (r *Receiver) Writer() io.Writer {
	if r.state != InBlock || r.sink == nil {
		return nil
	}
	return r.sink
}

func (r *Receiver) Payload(data []byte) {
	if r.state != InBlock || r.sink == nil {
		r.stats.Dropped++
		r.log().WithField("length", len(data)).Debug("Dropping payload without a sink")
		return
	}

	if _, err := r.sink.Write(data); err != nil {
		r.log().WithError(err).Warn("Writing payload into sink errored")
	}
}

func (r *Receiver) Characters(text string) {
	if r.state != InBlock || r.sink == nil {
		r.stats.Dropped++
		r.log().WithField("length", len(text)).Debug("Dropping characters without a sink")
		return
	}

	if _, err := r.sink.WriteString(text); err != nil {
		r.log().WithError(err).Warn("Writing characters into sink errored")
	}
}

func (r *Receiver) Progress(current, total uint64) {
	if current < r.progress {
		r.log().WithFields(log.Fields{
			"current":  current,
			"previous": r.progress,
		}).Warn("Progress decreased")
	}
	r.progress = current

	logger := r.log().WithField("current", current)
	if total != bpv7.LengthUnknown {
		logger = logger.WithField("total", total)
	}
	logger.Debug("Payload progress")
}

func (r *Receiver) Finished(token uint64) {
	r.stats.Fetches++

	if r.state != Idle {
		r.log().WithField("token", token).Warn("Fetch finished within a bundle, abandoning it")
		r.Reset()
		return
	}

	log.WithField("token", token).Debug("Fetch finished")
}

// Reset abandons a partially received bundle. Its open sink and already
// received artifacts are discarded and the bundle is not acknowledged.
func (r *Receiver) Reset() {
	if r.state == Idle && r.sink == nil && r.artifacts == nil {
		return
	}

	if r.sink != nil {
		if err := r.sink.Discard(); err != nil {
			r.log().WithError(err).Warn("Discarding payload sink errored")
		}
		r.sink = nil
	}

	for _, artifact := range r.artifacts {
		if !artifact.IsFile() {
			continue
		}
		if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log().WithField("file", artifact.Path).WithError(err).Warn("Removing abandoned payload file errored")
		}
	}

	if r.state != Idle {
		r.stats.Abandoned++
	}

	r.state = Idle
	r.bundle = bpv7.BundleID{}
	r.artifacts = nil
}
