// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wsdaemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dtn7/dtnrecv/pkg/session"
)

var errConnectionDropped = errors.New("connection was dropped")

// connection is one WebSocket connection to the daemon. Writes are serialized;
// reads are performed by the Daemon's reader only, after the handshake.
type connection struct {
	ws         *websocket.Conn
	writeMutex sync.Mutex

	stream chan message
	done   chan struct{}
	err    error

	quit      chan struct{}
	quitOnce  sync.Once
	quitMutex sync.Mutex
	closing   bool
}

func newConnection(ws *websocket.Conn) *connection {
	return &connection{
		ws:     ws,
		stream: make(chan message, streamBuffer),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
}

func deadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if fallback > 0 {
		return time.Now().Add(fallback)
	}
	return time.Time{}
}

// handshake registers the endpoint and returns the initial node state.
func (c *connection) handshake(ctx context.Context, reg session.Registration) (online bool, err error) {
	if err = c.writeMessage(ctx, &registerMessage{endpoint: reg.String()}); err != nil {
		return
	}

	if err = c.ws.SetReadDeadline(deadline(ctx, handshakeTimeout)); err != nil {
		return
	}
	defer func() {
		if dlErr := c.ws.SetReadDeadline(time.Time{}); dlErr != nil && err == nil {
			err = dlErr
		}
	}()

	if msg, msgErr := c.readMessage(); msgErr != nil {
		err = msgErr
		return
	} else if status, ok := msg.(*statusMessage); !ok {
		err = fmt.Errorf("expected status message, got %T", msg)
		return
	} else if status.errorMsg != "" {
		err = fmt.Errorf("registration was rejected: %s", status.errorMsg)
		return
	}

	if msg, msgErr := c.readMessage(); msgErr != nil {
		err = msgErr
	} else if state, ok := msg.(*nodeStateMessage); !ok {
		err = fmt.Errorf("expected node state message, got %T", msg)
	} else {
		online = state.online
	}
	return
}

func (c *connection) writeMessage(ctx context.Context, msg message) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.ws.SetWriteDeadline(deadline(ctx, 0)); err != nil {
		return err
	}

	wc, err := c.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := marshalMessage(msg, wc); err != nil {
		return err
	}
	return wc.Close()
}

func (c *connection) readMessage() (message, error) {
	mt, r, err := c.ws.NextReader()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("expected binary message, got %d", mt)
	}
	return unmarshalMessage(r)
}

func (c *connection) isClosing() bool {
	c.quitMutex.Lock()
	defer c.quitMutex.Unlock()

	return c.closing
}

func (c *connection) stop(closing bool) {
	c.quitMutex.Lock()
	c.closing = c.closing || closing
	c.quitMutex.Unlock()

	c.quitOnce.Do(func() {
		close(c.quit)
	})
}

// drop the connection, e.g., after an interrupted fetch. The loss will be
// reported as a disconnect.
func (c *connection) drop() {
	c.stop(false)
	_ = c.ws.Close()
}

// close the connection gracefully.
func (c *connection) close() error {
	c.stop(true)

	c.writeMutex.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMutex.Unlock()

	return c.ws.Close()
}
