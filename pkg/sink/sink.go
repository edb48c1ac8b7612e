// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sink provides destinations for a single block's payload bytes.
//
// A Sink is opened by a Factory when a payload block starts and must be closed
// when that block ends. Afterwards, its Artifact describes the received data,
// either as the path of a file or as an in-memory buffer.
package sink

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
)

// ErrSinkCreationFailed wraps errors of a Factory while opening a new Sink.
var ErrSinkCreationFailed = errors.New("sink creation failed")

// Sink is a destination for one block's payload. Implementations own at most
// one resource, which is released by the first call to Close. Further calls to
// Close are no-ops.
type Sink interface {
	io.Writer

	// WriteString delivers textual block data.
	WriteString(s string) (int, error)

	// Close releases the Sink's resource.
	Close() error

	// Discard closes the Sink and drops already received data, e.g., for a
	// bundle whose reception was aborted.
	Discard() error

	// Artifact describes the received data. It is only complete after Close.
	Artifact() Artifact
}

// Factory opens a new Sink for a block of a bundle.
type Factory interface {
	Open(bid bpv7.BundleID, block bpv7.Block) (Sink, error)
}

// Artifact is a block's received payload as handed to the application.
// Either Path names a file, now owned by the application, or Data holds the
// payload in memory.
type Artifact struct {
	Bundle bpv7.BundleID
	Block  uint64

	Path string
	Data []byte
	Text bool
}

// IsFile reports if this Artifact's payload is stored in a file.
func (a Artifact) IsFile() bool {
	return a.Path != ""
}

// Open the Artifact's payload for reading.
func (a Artifact) Open() (io.ReadCloser, error) {
	if a.IsFile() {
		return os.Open(a.Path)
	}
	return io.NopCloser(bytes.NewReader(a.Data)), nil
}
