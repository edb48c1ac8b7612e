// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package receiver implements the reception of bundles, block by block.
//
// A daemon session drives a Handler through the callbacks of one bundle:
//
//	StartBundle (StartBlock (Writer|Payload|Characters|Progress)* EndBlock)* EndBundle Finished
//
// The Receiver is the Handler used by this runtime. It opens a sink for every
// payload block, collects the resulting artifacts, hands them to an
// Application and asynchronously acknowledges each completed bundle.
package receiver

import (
	"fmt"
	"io"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/sink"
)

// CallbackMode selects how a daemon delivers payload data to a Handler.
type CallbackMode int

const (
	// Simple delivers a block's complete data with one Payload or Characters call.
	Simple CallbackMode = iota

	// FileDescriptor streams a block's data into the Handler's Writer and
	// reports the progress.
	FileDescriptor
)

func (cm CallbackMode) String() string {
	switch cm {
	case Simple:
		return "simple"
	case FileDescriptor:
		return "file"
	default:
		return fmt.Sprintf("unknown mode %d", int(cm))
	}
}

// ParseCallbackMode parses the String representation of a CallbackMode.
func ParseCallbackMode(s string) (CallbackMode, error) {
	switch s {
	case "simple":
		return Simple, nil
	case "file", "filedescriptor":
		return FileDescriptor, nil
	default:
		return Simple, fmt.Errorf("unknown callback mode %q", s)
	}
}

// Handler receives the callbacks for the bundles of one fetch.
type Handler interface {
	// Mode requested by this Handler.
	Mode() CallbackMode

	StartBundle(b bpv7.Bundle)
	EndBundle()

	StartBlock(block bpv7.Block)
	EndBlock()

	// Writer for the current block's data in FileDescriptor mode. A nil Writer
	// indicates that this block's data should be skipped.
	Writer() io.Writer

	// Payload delivers a complete block in Simple mode.
	Payload(data []byte)

	// Characters delivers a complete textual block in Simple mode.
	Characters(text string)

	// Progress reports the amount of streamed bytes. The total might be
	// bpv7.LengthUnknown.
	Progress(current, total uint64)

	// Finished terminates the callbacks of one fetch.
	Finished(token uint64)
}

// Acknowledger marks completed bundles as delivered. Acknowledge must not
// block; the acknowledgment happens asynchronously.
type Acknowledger interface {
	Acknowledge(bid bpv7.BundleID)
}

// Application consumes received bundles.
type Application interface {
	OnBundleReceived(bid bpv7.BundleID, artifacts []sink.Artifact)
}

// ApplicationFunc adapts a function to the Application interface.
type ApplicationFunc func(bid bpv7.BundleID, artifacts []sink.Artifact)

func (f ApplicationFunc) OnBundleReceived(bid bpv7.BundleID, artifacts []sink.Artifact) {
	f(bid, artifacts)
}
