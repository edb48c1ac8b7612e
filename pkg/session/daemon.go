// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session manages the connection to a local bundle daemon.
//
// A Daemon is the client side of the daemon's API. The Manager owns exactly
// one Daemon, tracks the session's State based on the Daemon's Events and
// provides the two primitives used for bundle reception: FetchNext, which
// drives the next pending bundle through a receiver.Handler, and
// MarkDelivered, which acknowledges a bundle afterwards.
package session

import (
	"context"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/receiver"
)

// Registration is the opaque identity of an application, usually its
// endpoint ID, e.g., "dtn://node/app".
type Registration string

// Endpoint parses this Registration as an endpoint ID.
func (reg Registration) Endpoint() (bpv7.EndpointID, error) {
	return bpv7.NewEndpointID(string(reg))
}

func (reg Registration) String() string {
	return string(reg)
}

// Events are callbacks from a Daemon to its session.
type Events interface {
	// OnConnected is called after a connection was established.
	OnConnected(online bool)

	// OnOnline is called when the daemon's node becomes online.
	OnOnline()

	// OnOffline is called when the daemon's node becomes offline.
	OnOffline()

	// OnDisconnected is called when an established connection was lost.
	OnDisconnected(err error)
}

// Daemon is a connection to a bundle daemon.
type Daemon interface {
	// Connect to the daemon and register. If the daemon is not reachable,
	// ErrServiceUnavailable must be returned. Afterwards, OnConnected will be
	// called, possibly from another goroutine.
	Connect(ctx context.Context, reg Registration, events Events) error

	// Fetch the next pending bundle and drive it through the Handler. Fetch
	// blocks until a bundle was processed or the queue was reported to be
	// empty; the latter results in false. Fetch must return when ctx is done.
	Fetch(ctx context.Context, h receiver.Handler) (bool, error)

	// Delivered marks a bundle as processed. It must be safe to call Delivered
	// concurrently to Fetch.
	Delivered(ctx context.Context, bid bpv7.BundleID) error

	// Disconnect from the daemon.
	Disconnect() error
}
