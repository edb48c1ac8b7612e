// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
)

// DtnTime counts milliseconds since the start of the year 2000 (UTC).
type DtnTime uint64

const (
	unixMilliAt2k int64 = 946684800000

	// DtnTimeEpoch is the zero DtnTime, indicating a node without an accurate clock.
	DtnTimeEpoch DtnTime = 0
)

// Time converts this DtnTime into a UTC time.Time.
func (t DtnTime) Time() time.Time {
	return time.UnixMilli(int64(t) + unixMilliAt2k).UTC()
}

func (t DtnTime) String() string {
	return t.Time().Format("2006-01-02 15:04:05.000")
}

// DtnTimeFromTime converts a time.Time into a DtnTime.
func DtnTimeFromTime(t time.Time) DtnTime {
	return DtnTime(t.UTC().UnixMilli() - unixMilliAt2k)
}

// DtnTimeNow is the current time as a DtnTime.
func DtnTimeNow() DtnTime {
	return DtnTimeFromTime(time.Now())
}

// CreationTimestamp pairs a bundle's creation DtnTime with a sequence number to
// distinguish bundles created within the same millisecond.
type CreationTimestamp [2]uint64

// NewCreationTimestamp from a DtnTime and a sequence number.
func NewCreationTimestamp(t DtnTime, sequence uint64) CreationTimestamp {
	return CreationTimestamp{uint64(t), sequence}
}

// DtnTime part of the timestamp.
func (ct CreationTimestamp) DtnTime() DtnTime {
	return DtnTime(ct[0])
}

// SequenceNumber part of the timestamp.
func (ct CreationTimestamp) SequenceNumber() uint64 {
	return ct[1]
}

// IsZeroTime is true for bundles created without an accurate clock.
func (ct CreationTimestamp) IsZeroTime() bool {
	return ct.DtnTime() == DtnTimeEpoch
}

func (ct CreationTimestamp) String() string {
	return fmt.Sprintf("(%v, %d)", ct.DtnTime(), ct.SequenceNumber())
}

// MarshalCbor writes the timestamp as an array of two unsigned integers.
func (ct *CreationTimestamp) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, f := range ct {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalCbor reads a timestamp written by MarshalCbor.
func (ct *CreationTimestamp) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("creation timestamp expected array of 2 elements, got %d", l)
	}

	for i := range ct {
		f, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		ct[i] = f
	}
	return nil
}
