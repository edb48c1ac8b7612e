// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// Bundle describes a bundle in flight, as announced by a daemon at the start
// of its reception. Blocks are not part of the descriptor; they follow one
// after another.
type Bundle struct {
	Id          BundleID
	Destination EndpointID
	ReportTo    EndpointID

	// Lifetime in milliseconds, relative to the creation timestamp.
	Lifetime uint64
}

// ID of this Bundle.
func (b Bundle) ID() BundleID {
	return b.Id
}

// Expiration is the point in time after which this Bundle is obsolete. A zero
// creation time cannot be used to calculate an expiration and results in a
// zero time.Time.
func (b Bundle) Expiration() time.Time {
	if b.Id.Timestamp.IsZeroTime() {
		return time.Time{}
	}
	return b.Id.Timestamp.DtnTime().Time().Add(time.Duration(b.Lifetime) * time.Millisecond)
}

// CheckValid checks the endpoints of this descriptor.
func (b Bundle) CheckValid() (errs error) {
	if err := b.Id.SourceNode.CheckValid(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("source: %w", err))
	}
	if err := b.Destination.CheckValid(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("destination: %w", err))
	}
	if b.ReportTo.EndpointType != nil {
		if err := b.ReportTo.CheckValid(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("report-to: %w", err))
		}
	}
	return
}

func (b Bundle) String() string {
	return b.Id.String()
}

// MarshalCbor writes the descriptor as an array of four elements. An unset
// ReportTo is written as dtn:none.
func (b *Bundle) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	reportTo := b.ReportTo
	if reportTo.EndpointType == nil {
		reportTo = DtnNone()
	}

	for _, f := range []cboring.CborMarshaler{&b.Id, &b.Destination, &reportTo} {
		if err := cboring.Marshal(f, w); err != nil {
			return err
		}
	}

	return cboring.WriteUInt(b.Lifetime, w)
}

// UnmarshalCbor reads a descriptor written by MarshalCbor and checks its
// endpoints afterwards.
func (b *Bundle) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 4 {
		return fmt.Errorf("bundle descriptor expected array of 4 elements, got %d", n)
	}

	for _, f := range []cboring.CborMarshaler{&b.Id, &b.Destination, &b.ReportTo} {
		if err := cboring.Unmarshal(f, r); err != nil {
			return err
		}
	}

	lifetime, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	b.Lifetime = lifetime

	return b.CheckValid()
}
