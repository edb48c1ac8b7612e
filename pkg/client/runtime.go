// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package client hosts the reception of bundles for an application: a daemon
// session, the drain of its bundle queue and the asynchronous acknowledgments.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/bridge"
	"github.com/dtn7/dtnrecv/pkg/drain"
	"github.com/dtn7/dtnrecv/pkg/receiver"
	"github.com/dtn7/dtnrecv/pkg/session"
	"github.com/dtn7/dtnrecv/pkg/sink"
)

const defaultShutdownTimeout = 5 * time.Second

var (
	// ErrAlreadyStarted is returned when starting a Runtime twice.
	ErrAlreadyStarted = errors.New("runtime was already started")

	// ErrNotStarted is returned when stopping a Runtime which was never started.
	ErrNotStarted = errors.New("runtime was not started")
)

// Config of a Runtime.
type Config struct {
	// Mode of the callbacks, either streaming into files or buffering in memory.
	Mode receiver.CallbackMode

	// PayloadDir for files in the receiver.FileDescriptor mode. The system's
	// temporary directory is used if empty.
	PayloadDir string

	// ShutdownTimeout bounds the wait for the drain and the acknowledgments.
	ShutdownTimeout time.Duration

	Session session.Config
}

// Runtime receives bundles from a Daemon and passes them to an Application.
type Runtime struct {
	daemon  session.Daemon
	app     receiver.Application
	conf    Config
	sources []bridge.Source

	mutex   sync.Mutex
	started bool
	stopped bool

	manager *session.Manager
	loop    *drain.Loop
	acker   *drain.Acknowledger
	bridge  *bridge.Bridge
}

// NewRuntime for a Daemon and an Application. The Sources will be attached
// for the registered endpoint's notifications on Start.
func NewRuntime(daemon session.Daemon, app receiver.Application, conf Config, sources ...bridge.Source) *Runtime {
	if conf.ShutdownTimeout <= 0 {
		conf.ShutdownTimeout = defaultShutdownTimeout
	}

	return &Runtime{
		daemon:  daemon,
		app:     app,
		conf:    conf,
		sources: sources,
	}
}

func (r *Runtime) factory() sink.Factory {
	if r.conf.Mode == receiver.FileDescriptor {
		return sink.FileFactory{Dir: r.conf.PayloadDir}
	}
	return sink.MemoryFactory{}
}

// Start the session for a Registration. Only a failed connection to the daemon
// is reported, matching session.ErrServiceUnavailable. In this case, the
// Runtime is already stopped.
func (r *Runtime) Start(ctx context.Context, reg session.Registration) error {
	r.mutex.Lock()
	if r.started {
		r.mutex.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true

	var manager *session.Manager
	r.acker = drain.NewAcknowledger(drain.MarkerFunc(func(ctx context.Context, bid bpv7.BundleID) {
		manager.MarkDelivered(ctx, bid)
	}))

	recv := receiver.NewReceiver(r.conf.Mode, r.factory(), r.acker, r.app)
	manager = session.NewManager(r.daemon, recv, r.conf.Session)
	r.manager = manager

	r.loop = drain.NewLoop(manager)
	manager.SetConnectHook(r.loop.Request)

	r.bridge = bridge.NewBridge(reg.String(), r.loop.Request)
	for _, src := range r.sources {
		if err := r.bridge.Attach(src); err != nil {
			log.WithError(err).Warn("Attaching notification source errored")
		}
	}
	r.mutex.Unlock()

	log.WithFields(log.Fields{
		"registration": reg,
		"mode":         r.conf.Mode,
	}).Info("Starting bundle reception")

	if err := manager.Initialize(ctx, reg); err != nil {
		if stopErr := r.Stop(); stopErr != nil {
			log.WithError(stopErr).Debug("Stopping after a failed start errored")
		}
		return err
	}
	return nil
}

// RequestDrain of the bundle queue, e.g., triggered by the host. This method
// never blocks.
func (r *Runtime) RequestDrain() {
	r.mutex.Lock()
	loop := r.loop
	r.mutex.Unlock()

	if loop == nil {
		log.Debug("Ignoring drain request for an unstarted runtime")
		return
	}
	loop.Request()
}

// State of the underlying session.
func (r *Runtime) State() session.State {
	r.mutex.Lock()
	manager := r.manager
	r.mutex.Unlock()

	if manager == nil {
		return session.Disconnected
	}
	return manager.State()
}

// Stop the Runtime. Notifications and drain requests are rejected first, a
// blocked fetch is interrupted, the drain and the acknowledgments are awaited up to the
// ShutdownTimeout each, and the session is terminated last.
func (r *Runtime) Stop() (err error) {
	r.mutex.Lock()
	if !r.started {
		r.mutex.Unlock()
		return ErrNotStarted
	}
	if r.stopped {
		r.mutex.Unlock()
		return nil
	}
	r.stopped = true
	r.mutex.Unlock()

	if bridgeErr := r.bridge.Close(); bridgeErr != nil {
		err = multierror.Append(err, bridgeErr)
	}

	r.loop.Stop()
	r.manager.Interrupt()

	if loopErr := r.loop.Close(r.conf.ShutdownTimeout); loopErr != nil {
		log.WithError(loopErr).Warn("Drain did not stop in time")
		err = multierror.Append(err, loopErr)
	}

	if ackErr := r.acker.Close(r.conf.ShutdownTimeout); ackErr != nil {
		log.WithError(ackErr).Warn("Acknowledgments did not finish in time")
		err = multierror.Append(err, ackErr)
	}

	if termErr := r.manager.Terminate(); termErr != nil {
		err = multierror.Append(err, termErr)
	}

	if err != nil {
		log.WithError(err).Warn("Stopped bundle reception with errors")
	} else {
		log.Info("Stopped bundle reception")
	}
	return
}
