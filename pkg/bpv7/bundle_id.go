// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/dtn7/cboring"
)

// BundleID identifies a bundle by its source node and creation timestamp. For
// fragments, the fragment offset and the total application data length are
// part of the identity as well.
//
// BundleIDs are values and compare with ==.
type BundleID struct {
	SourceNode EndpointID
	Timestamp  CreationTimestamp

	IsFragment      bool
	FragmentOffset  uint64
	TotalDataLength uint64
}

func (bid BundleID) String() string {
	var bldr strings.Builder

	_, _ = fmt.Fprintf(&bldr, "%v-%d-%d", bid.SourceNode, bid.Timestamp[0], bid.Timestamp[1])
	if bid.IsFragment {
		_, _ = fmt.Fprintf(&bldr, "-%d-%d", bid.FragmentOffset, bid.TotalDataLength)
	}

	return bldr.String()
}

// Hex is a filesystem safe representation of this BundleID.
func (bid BundleID) Hex() string {
	return hex.EncodeToString([]byte(bid.String()))
}

// IsZero reports if this BundleID was never set.
func (bid BundleID) IsZero() bool {
	return bid == BundleID{}
}

// MarshalCbor writes this BundleID as an array of two elements, or four
// elements for fragments.
func (bid *BundleID) MarshalCbor(w io.Writer) error {
	fields := uint64(2)
	if bid.IsFragment {
		fields = 4
	}
	if err := cboring.WriteArrayLength(fields, w); err != nil {
		return err
	}

	if err := cboring.Marshal(&bid.SourceNode, w); err != nil {
		return fmt.Errorf("marshalling source node failed: %w", err)
	}

	if err := cboring.Marshal(&bid.Timestamp, w); err != nil {
		return fmt.Errorf("marshalling timestamp failed: %w", err)
	}

	if bid.IsFragment {
		for _, f := range []uint64{bid.FragmentOffset, bid.TotalDataLength} {
			if err := cboring.WriteUInt(f, w); err != nil {
				return err
			}
		}
	}

	return nil
}

// UnmarshalCbor reads a BundleID written by MarshalCbor.
func (bid *BundleID) UnmarshalCbor(r io.Reader) (err error) {
	var fields uint64
	if fields, err = cboring.ReadArrayLength(r); err != nil {
		return
	} else if fields != 2 && fields != 4 {
		return fmt.Errorf("bundle ID expected array of 2 or 4 elements, got %d", fields)
	}

	if err = cboring.Unmarshal(&bid.SourceNode, r); err != nil {
		return fmt.Errorf("unmarshalling source node failed: %w", err)
	}

	if err = cboring.Unmarshal(&bid.Timestamp, r); err != nil {
		return fmt.Errorf("unmarshalling timestamp failed: %w", err)
	}

	bid.IsFragment = fields == 4
	if bid.IsFragment {
		for _, f := range []*uint64{&bid.FragmentOffset, &bid.TotalDataLength} {
			if *f, err = cboring.ReadUInt(r); err != nil {
				return
			}
		}
	}

	return nil
}
