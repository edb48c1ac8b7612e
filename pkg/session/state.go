// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

// State of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	ConnectedOnline
	ConnectedOffline
	Destroyed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ConnectedOnline:
		return "connected (online)"
	case ConnectedOffline:
		return "connected (offline)"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// IsConnected is true for both online and offline connections.
func (s State) IsConnected() bool {
	return s == ConnectedOnline || s == ConnectedOffline
}
