// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bridge forwards "new bundle" notifications from various sources
// into drain requests.
package bridge

import (
	"errors"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned when attaching to a closed Bridge.
var ErrClosed = errors.New("bridge is closed")

// Notification announces a new bundle for some recipient, an endpoint ID.
type Notification struct {
	Recipient string
}

// Source of Notifications. The channel must be closed by Close.
type Source interface {
	Notifications() <-chan Notification
	Close() error
}

// Bridge passes Notifications addressed to its identity to a trigger.
type Bridge struct {
	identity string
	trigger  func()

	mutex     sync.Mutex
	closed    bool
	sources   []Source
	forwarded uint64
	dropped   uint64

	wg sync.WaitGroup
}

// NewBridge for the given identity. Each matching Notification calls trigger,
// which must not block.
func NewBridge(identity string, trigger func()) *Bridge {
	return &Bridge{
		identity: identity,
		trigger:  trigger,
	}
}

// Attach a Source. The Source will be closed together with the Bridge.
func (b *Bridge) Attach(src Source) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.sources = append(b.sources, src)

	b.wg.Add(1)
	go b.forward(src)

	return nil
}

func (b *Bridge) forward(src Source) {
	defer b.wg.Done()

	for n := range src.Notifications() {
		b.deliver(n)
	}
}

func (b *Bridge) deliver(n Notification) {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return
	}

	match := n.Recipient == b.identity
	if match {
		b.forwarded++
	} else {
		b.dropped++
	}
	b.mutex.Unlock()

	logger := log.WithFields(log.Fields{
		"recipient": n.Recipient,
		"identity":  b.identity,
	})

	if !match {
		logger.Debug("Dropping notification for another recipient")
		return
	}

	logger.Debug("Received notification, requesting drain")
	b.trigger()
}

// Stats counts the forwarded and dropped Notifications.
func (b *Bridge) Stats() (forwarded, dropped uint64) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.forwarded, b.dropped
}

// Close stops forwarding and closes all attached Sources. After Close returned,
// the trigger will not be called anymore.
func (b *Bridge) Close() (err error) {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	sources := b.sources
	b.sources = nil
	b.mutex.Unlock()

	for _, src := range sources {
		if srcErr := src.Close(); srcErr != nil {
			err = multierror.Append(err, srcErr)
		}
	}

	b.wg.Wait()
	return
}
