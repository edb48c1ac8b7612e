// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wsdaemon connects to a dtnd's WebSocket agent API and implements the
// session.Daemon on top of it.
package wsdaemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/bridge"
	"github.com/dtn7/dtnrecv/pkg/receiver"
	"github.com/dtn7/dtnrecv/pkg/session"
)

const (
	streamBuffer     = 64
	handshakeTimeout = 10 * time.Second
)

// Daemon is a session.Daemon, speaking to a dtnd over a WebSocket.
type Daemon struct {
	url    string
	dialer *websocket.Dialer

	mutex sync.Mutex
	conn  *connection

	notifyMutex   sync.Mutex
	notifyClosed  bool
	notifications chan bridge.Notification
}

// NewDaemon for the WebSocket URL of a dtnd, e.g., "ws://localhost:8080/ws".
func NewDaemon(url string) *Daemon {
	return &Daemon{
		url:           url,
		dialer:        &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		notifications: make(chan bridge.Notification, streamBuffer),
	}
}

func (d *Daemon) current() *connection {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.conn
}

// Connect dials the daemon, registers the endpoint and awaits the node state.
func (d *Daemon) Connect(ctx context.Context, reg session.Registration, events session.Events) error {
	if d.current() != nil {
		return fmt.Errorf("daemon is already connected")
	}

	ws, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrServiceUnavailable, err)
	}

	c := newConnection(ws)
	online, err := c.handshake(ctx, reg)
	if err != nil {
		_ = ws.Close()
		return err
	}

	d.mutex.Lock()
	d.conn = c
	d.mutex.Unlock()

	log.WithFields(log.Fields{
		"url":          d.url,
		"registration": reg,
		"online":       online,
	}).Info("Connected to daemon")

	events.OnConnected(online)

	go d.reader(c, events)

	return nil
}

// reader dispatches incoming messages of a connection until it fails.
func (d *Daemon) reader(c *connection, events session.Events) {
	defer close(c.done)

	for {
		msg, err := c.readMessage()
		if err != nil {
			c.err = err
			break
		}

		switch msg := msg.(type) {
		case *nodeStateMessage:
			if msg.online {
				events.OnOnline()
			} else {
				events.OnOffline()
			}

		case *notifyMessage:
			d.notify(bridge.Notification{Recipient: msg.recipient})

		default:
			select {
			case c.stream <- msg:
			case <-c.quit:
				c.err = errConnectionDropped
			}
		}

		if c.err != nil {
			break
		}
	}

	d.mutex.Lock()
	if d.conn == c {
		d.conn = nil
	}
	d.mutex.Unlock()

	if c.isClosing() {
		log.WithError(c.err).Debug("Connection to daemon was closed")
		return
	}

	_ = c.ws.Close()
	log.WithError(c.err).Warn("Connection to daemon was lost")
	events.OnDisconnected(c.err)
}

// Fetch requests the next bundle and drives the Handler through its stream.
func (d *Daemon) Fetch(ctx context.Context, h receiver.Handler) (bool, error) {
	c := d.current()
	if c == nil {
		return false, session.ErrNotConnected
	}

	f := &fetch{handler: h, streamed: h.Mode() == receiver.FileDescriptor}
	if err := c.writeMessage(ctx, &fetchMessage{streamed: f.streamed}); err != nil {
		return false, err
	}

	for {
		select {
		case <-ctx.Done():
			// The remaining stream cannot be associated to a later fetch.
			c.drop()
			return false, fmt.Errorf("%w: %v", session.ErrInterrupted, ctx.Err())

		case <-c.done:
			return false, fmt.Errorf("connection lost during fetch: %w", c.err)

		case msg := <-c.stream:
			finished, more, err := f.handle(msg)
			if err != nil {
				c.drop()
				return false, err
			}
			if finished {
				return more, nil
			}
		}
	}
}

// Delivered sends a delivery acknowledgment. It might be called concurrently
// to Fetch.
func (d *Daemon) Delivered(ctx context.Context, bid bpv7.BundleID) error {
	c := d.current()
	if c == nil {
		return session.ErrNotConnected
	}

	return c.writeMessage(ctx, &deliveredMessage{bid: bid})
}

// Disconnect closes the current connection and waits for its reader.
func (d *Daemon) Disconnect() error {
	d.mutex.Lock()
	c := d.conn
	d.conn = nil
	d.mutex.Unlock()

	if c == nil {
		return nil
	}

	err := c.close()
	<-c.done
	return err
}

func (d *Daemon) notify(n bridge.Notification) {
	d.notifyMutex.Lock()
	defer d.notifyMutex.Unlock()

	if d.notifyClosed {
		return
	}

	select {
	case d.notifications <- n:
	default:
		log.WithField("recipient", n.Recipient).Debug("Notification buffer is full, dropping notification")
	}
}

// Notifications pushed by the daemon, as a bridge.Source.
func (d *Daemon) Notifications() bridge.Source {
	return notificationSource{d}
}

type notificationSource struct {
	d *Daemon
}

func (ns notificationSource) Notifications() <-chan bridge.Notification {
	return ns.d.notifications
}

func (ns notificationSource) Close() error {
	ns.d.notifyMutex.Lock()
	defer ns.d.notifyMutex.Unlock()

	if !ns.d.notifyClosed {
		ns.d.notifyClosed = true
		close(ns.d.notifications)
	}
	return nil
}
