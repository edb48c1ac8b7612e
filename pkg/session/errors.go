// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import "errors"

var (
	// ErrServiceUnavailable indicates that the daemon is not installed or not
	// reachable. This is terminal for a session; it is not retried.
	ErrServiceUnavailable = errors.New("daemon service is not available")

	// ErrSessionDestroyed is returned for calls on a terminated session.
	ErrSessionDestroyed = errors.New("session was destroyed")

	// ErrInterrupted is returned by a fetch which was cancelled while waiting.
	ErrInterrupted = errors.New("fetch was interrupted")

	// ErrNotConnected is returned for fetches while no connection exists.
	ErrNotConnected = errors.New("session is not connected")

	// ErrAckFailed describes a failed delivery acknowledgment. It is only logged.
	ErrAckFailed = errors.New("delivery acknowledgment failed")
)

// IsStopCondition reports if a fetch error should end draining without being
// treated as a failure.
func IsStopCondition(err error) bool {
	return errors.Is(err, ErrSessionDestroyed) ||
		errors.Is(err, ErrInterrupted) ||
		errors.Is(err, ErrNotConnected)
}
