// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sink

import (
	"bytes"
	"os"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
)

// MemoryFactory opens MemorySinks.
type MemoryFactory struct{}

func (MemoryFactory) Open(bid bpv7.BundleID, block bpv7.Block) (Sink, error) {
	return &MemorySink{bundle: bid, block: block.Number}, nil
}

// MemorySink accumulates a block's payload in memory.
type MemorySink struct {
	buff   bytes.Buffer
	bundle bpv7.BundleID
	block  uint64
	text   bool
	closed bool
}

func (ms *MemorySink) Write(p []byte) (int, error) {
	if ms.closed {
		return 0, os.ErrClosed
	}
	return ms.buff.Write(p)
}

// WriteString marks this Sink's payload as text.
func (ms *MemorySink) WriteString(s string) (int, error) {
	if ms.closed {
		return 0, os.ErrClosed
	}
	ms.text = true
	return ms.buff.WriteString(s)
}

func (ms *MemorySink) Close() error {
	ms.closed = true
	return nil
}

func (ms *MemorySink) Discard() error {
	ms.closed = true
	ms.buff.Reset()
	return nil
}

// Artifact holds a copy of the received bytes; an empty payload results in an
// empty, non-nil slice.
func (ms *MemorySink) Artifact() Artifact {
	data := make([]byte, ms.buff.Len())
	copy(data, ms.buff.Bytes())

	return Artifact{
		Bundle: ms.bundle,
		Block:  ms.block,
		Data:   data,
		Text:   ms.text,
	}
}
