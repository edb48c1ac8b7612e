// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/receiver"
)

const (
	defaultAckTimeout = 30 * time.Second
	initialBackoff    = time.Second
	defaultMaxBackoff = time.Minute
)

// Config of a Manager.
type Config struct {
	// Reconnect after an established connection was lost.
	Reconnect bool

	// MaxBackoff limits the exponential backoff between reconnection attempts.
	MaxBackoff time.Duration

	// AckTimeout limits each delivery acknowledgment.
	AckTimeout time.Duration
}

// resetter is implemented by Handlers which can abandon a partial bundle,
// e.g., the receiver.Receiver.
type resetter interface {
	Reset()
}

// Manager owns a Daemon and the session's lifecycle.
//
// FetchNext must only be called from one goroutine at a time, the drain
// worker. MarkDelivered might be called concurrently.
type Manager struct {
	daemon  Daemon
	handler receiver.Handler
	conf    Config

	mutex        sync.Mutex
	state        State
	registration Registration
	connectHook  func()
	reconnecting bool

	ctx    context.Context
	cancel context.CancelFunc

	interruptCtx    context.Context
	interruptCancel context.CancelFunc

	inflight sync.WaitGroup
}

// NewManager for a Daemon. Fetched bundles are passed to the Handler.
func NewManager(daemon Daemon, handler receiver.Handler, conf Config) *Manager {
	if conf.AckTimeout <= 0 {
		conf.AckTimeout = defaultAckTimeout
	}
	if conf.MaxBackoff <= 0 {
		conf.MaxBackoff = defaultMaxBackoff
	}

	m := &Manager{
		daemon:  daemon,
		handler: handler,
		conf:    conf,
		state:   Disconnected,
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.interruptCtx, m.interruptCancel = context.WithCancel(m.ctx)

	return m
}

// log must not acquire the mutex; the registration is only written once
// before the Daemon is connected.
func (m *Manager) log() *log.Entry {
	return log.WithField("registration", m.registration)
}

// SetConnectHook sets a function to be called after each established
// connection, e.g., to request draining the bundle queue.
func (m *Manager) SetConnectHook(hook func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.connectHook = hook
}

// State of this session.
func (m *Manager) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.state
}

// Registration used for this session.
func (m *Manager) Registration() Registration {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.registration
}

// Initialize the session by connecting to the daemon. The connection is
// signaled asynchronously by OnConnected. An unreachable daemon results in
// ErrServiceUnavailable, which will not be retried.
func (m *Manager) Initialize(ctx context.Context, reg Registration) error {
	m.mutex.Lock()
	switch m.state {
	case Destroyed:
		m.mutex.Unlock()
		return ErrSessionDestroyed

	case Disconnected:
		m.state = Connecting
		m.registration = reg
		m.inflight.Add(1)

	default:
		m.mutex.Unlock()
		return fmt.Errorf("session is already initialized, state %v", m.state)
	}
	m.mutex.Unlock()
	defer m.inflight.Done()

	m.log().Debug("Connecting to daemon")

	if err := m.daemon.Connect(ctx, reg, m); err != nil {
		m.mutex.Lock()
		if m.state == Connecting {
			m.state = Disconnected
		}
		m.mutex.Unlock()

		m.log().WithError(err).Warn("Connecting to daemon failed")

		if errors.Is(err, ErrServiceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	return nil
}

// OnConnected transitions into a connected state and calls the connect hook.
func (m *Manager) OnConnected(online bool) {
	m.mutex.Lock()
	if m.state == Destroyed {
		m.mutex.Unlock()
		return
	}

	if online {
		m.state = ConnectedOnline
	} else {
		m.state = ConnectedOffline
	}
	hook := m.connectHook
	state := m.state
	m.mutex.Unlock()

	m.log().WithField("state", state).Info("DTN session connected")

	if hook != nil {
		hook()
	}
}

func (m *Manager) setConnectedState(state State) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.state.IsConnected() {
		m.log().WithField("next state", state).Debug("Ignoring state change of an unconnected session")
		return
	}

	m.state = state
}

// OnOnline marks the daemon as online.
func (m *Manager) OnOnline() {
	m.setConnectedState(ConnectedOnline)
	log.Info("DTN is online")
}

// OnOffline marks the daemon as offline.
func (m *Manager) OnOffline() {
	m.setConnectedState(ConnectedOffline)
	log.Info("DTN is offline")
}

// OnDisconnected marks a lost connection and starts reconnecting, if
// configured.
func (m *Manager) OnDisconnected(err error) {
	m.mutex.Lock()
	if m.state == Destroyed {
		m.mutex.Unlock()
		return
	}

	m.state = Disconnected
	startReconnect := m.conf.Reconnect && !m.reconnecting
	if startReconnect {
		m.reconnecting = true
	}
	m.mutex.Unlock()

	m.log().WithError(err).Warn("DTN session disconnected")

	if startReconnect {
		go m.reconnect()
	}
}

func (m *Manager) reconnect() {
	defer func() {
		m.mutex.Lock()
		m.reconnecting = false
		m.mutex.Unlock()
	}()

	backoff := initialBackoff

	for attempt := 1; ; attempt++ {
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(backoff):
		}

		m.mutex.Lock()
		if m.state != Disconnected {
			m.mutex.Unlock()
			return
		}
		m.state = Connecting
		reg := m.registration
		m.inflight.Add(1)
		m.mutex.Unlock()

		err := m.daemon.Connect(m.ctx, reg, m)
		m.inflight.Done()

		if err == nil {
			if m.State() == Destroyed {
				m.log().WithField("attempt", attempt).Debug("Reconnected while terminating")
			} else {
				m.log().WithField("attempt", attempt).Info("Reconnected to daemon")
			}
			return
		}

		m.mutex.Lock()
		if m.state == Connecting {
			m.state = Disconnected
		}
		m.mutex.Unlock()

		m.log().WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"backoff": backoff,
		}).Warn("Reconnecting to daemon failed")

		if backoff *= 2; backoff > m.conf.MaxBackoff {
			backoff = m.conf.MaxBackoff
		}
	}
}

// withCancelOn derives a context from ctx, which is also cancelled as soon as
// done is closed.
func withCancelOn(ctx context.Context, done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// enter registers an in-flight call into the Daemon. It fails for destroyed
// sessions, so that no call happens after Terminate.
func (m *Manager) enter() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state == Destroyed {
		return ErrSessionDestroyed
	}
	m.inflight.Add(1)
	return nil
}

// FetchNext fetches the next pending bundle and drives it through the
// Handler. It returns true if a bundle was processed and false for an empty
// queue. Errors matching IsStopCondition indicate that draining should stop.
func (m *Manager) FetchNext(ctx context.Context) (bool, error) {
	if err := m.enter(); err != nil {
		return false, err
	}
	defer m.inflight.Done()

	m.mutex.Lock()
	state := m.state
	interruptCtx := m.interruptCtx
	m.mutex.Unlock()

	if !state.IsConnected() {
		return false, ErrNotConnected
	}

	fetchCtx, fetchCancel := withCancelOn(ctx, interruptCtx.Done())
	defer fetchCancel()

	more, err := m.daemon.Fetch(fetchCtx, m.handler)
	if err == nil {
		return more, nil
	}

	if r, ok := m.handler.(resetter); ok {
		r.Reset()
	}

	switch {
	case m.State() == Destroyed:
		return false, fmt.Errorf("%w: %v", ErrSessionDestroyed, err)

	case fetchCtx.Err() != nil, errors.Is(err, context.Canceled):
		return false, fmt.Errorf("%w: %v", ErrInterrupted, err)

	default:
		return false, err
	}
}

// MarkDelivered acknowledges a bundle's delivery. The acknowledgment is
// bounded by the AckTimeout and cancelled with ctx or by Terminate. Failures
// are logged, but neither retried nor returned.
func (m *Manager) MarkDelivered(ctx context.Context, bid bpv7.BundleID) {
	logger := log.WithField("bundle", bid)

	if err := m.enter(); err != nil {
		logger.WithError(fmt.Errorf("%w: %v", ErrAckFailed, err)).Warn("Can not mark bundle as delivered")
		return
	}
	defer m.inflight.Done()

	ackCtx, ackCancel := withCancelOn(ctx, m.ctx.Done())
	defer ackCancel()

	ackCtx, timeoutCancel := context.WithTimeout(ackCtx, m.conf.AckTimeout)
	defer timeoutCancel()

	if err := m.daemon.Delivered(ackCtx, bid); err != nil {
		logger.WithError(fmt.Errorf("%w: %v", ErrAckFailed, err)).Warn("Can not mark bundle as delivered")
		return
	}

	logger.Debug("Marked bundle as delivered")
}

// Interrupt cancels in-flight fetches without terminating the session.
func (m *Manager) Interrupt() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.interruptCancel()
	if m.state != Destroyed {
		m.interruptCtx, m.interruptCancel = context.WithCancel(m.ctx)
	}
}

// Terminate the session. Further calls fail with ErrSessionDestroyed. In-flight
// calls are interrupted and awaited before the Daemon is disconnected. The
// drain worker should be stopped beforehand.
func (m *Manager) Terminate() error {
	m.mutex.Lock()
	if m.state == Destroyed {
		m.mutex.Unlock()
		return nil
	}
	m.state = Destroyed
	m.cancel()
	m.mutex.Unlock()

	m.inflight.Wait()

	err := m.daemon.Disconnect()
	if err != nil {
		m.log().WithError(err).Warn("Disconnecting from daemon errored")
	} else {
		m.log().Info("DTN session terminated")
	}
	return err
}
