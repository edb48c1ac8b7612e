// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wsdaemon

import (
	"bytes"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/receiver"
)

// fetch translates the message stream of one fetch into Handler callbacks.
type fetch struct {
	handler  receiver.Handler
	streamed bool

	inBlock  bool
	block    bpv7.Block
	writer   io.Writer
	buffer   bytes.Buffer
	progress uint64
}

// handle the next message. The fetch is finished after a finishedMessage,
// with a bundle, or after a queueEmptyMessage, without one.
func (f *fetch) handle(msg message) (finished, more bool, err error) {
	switch msg := msg.(type) {
	case *bundleStartMessage:
		f.handler.StartBundle(msg.bundle)

	case *blockStartMessage:
		f.inBlock = true
		f.block = msg.block
		f.progress = 0
		f.buffer.Reset()

		f.handler.StartBlock(msg.block)
		if f.streamed {
			f.writer = f.handler.Writer()
		}

	case *blockDataMessage:
		if !f.inBlock {
			err = fmt.Errorf("block data outside of a block")
			return
		}
		f.data(msg.data)

	case *blockEndMessage:
		if !f.inBlock {
			err = fmt.Errorf("block %d ended outside of a block", msg.number)
			return
		}
		f.endBlock()

	case *bundleEndMessage:
		f.handler.EndBundle()

	case *finishedMessage:
		f.handler.Finished(msg.token)
		finished, more = true, true

	case *queueEmptyMessage:
		finished, more = true, false

	case *statusMessage:
		err = fmt.Errorf("daemon reported an error: %s", msg.errorMsg)

	default:
		err = fmt.Errorf("unexpected message %T during fetch", msg)
	}
	return
}

func (f *fetch) data(data []byte) {
	if !f.streamed {
		f.buffer.Write(data)
		return
	}

	if f.writer != nil {
		if _, err := f.writer.Write(data); err != nil {
			log.WithField("block", f.block).WithError(err).Warn("Writing block data errored")
		}
	}

	f.progress += uint64(len(data))
	f.handler.Progress(f.progress, f.block.Length)
}

func (f *fetch) endBlock() {
	if !f.streamed {
		if f.block.Textual {
			f.handler.Characters(f.buffer.String())
		} else {
			f.handler.Payload(append([]byte(nil), f.buffer.Bytes()...))
		}
	}

	f.handler.EndBlock()

	f.inBlock = false
	f.writer = nil
	f.buffer.Reset()
}
