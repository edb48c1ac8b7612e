// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"math"

	"github.com/dtn7/cboring"
)

// BlockType is a canonical block's type code.
type BlockType uint64

const (
	// PayloadBlock carries the bundle's application data.
	PayloadBlock BlockType = 1

	// PreviousNodeBlock names the node which forwarded the bundle.
	PreviousNodeBlock BlockType = 6

	// BundleAgeBlock holds the bundle's age for nodes without an accurate clock.
	BundleAgeBlock BlockType = 7

	// HopCountBlock limits the number of hops.
	HopCountBlock BlockType = 10
)

func (bt BlockType) String() string {
	switch bt {
	case PayloadBlock:
		return "payload"
	case PreviousNodeBlock:
		return "previous node"
	case BundleAgeBlock:
		return "bundle age"
	case HopCountBlock:
		return "hop count"
	default:
		return fmt.Sprintf("block type %d", uint64(bt))
	}
}

// LengthUnknown is used as a Block's Length or as a progress total if the
// amount of data is not known beforehand.
const LengthUnknown uint64 = math.MaxUint64

// Block announces one canonical block of a bundle in reception.
type Block struct {
	Number uint64
	Type   BlockType

	// Length of the block-type-specific data or LengthUnknown.
	Length uint64

	// Textual marks data known to be text, delivered as characters.
	Textual bool
}

// IsPayload reports if this is the payload block.
func (blk Block) IsPayload() bool {
	return blk.Type == PayloadBlock
}

func (blk Block) String() string {
	return fmt.Sprintf("%v (%d)", blk.Type, blk.Number)
}

// MarshalCbor writes this Block as an array of four elements.
func (blk *Block) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}
	for _, f := range []uint64{blk.Number, uint64(blk.Type), blk.Length} {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}
	return cboring.WriteBoolean(blk.Textual, w)
}

// UnmarshalCbor reads a Block written by MarshalCbor.
func (blk *Block) UnmarshalCbor(r io.Reader) (err error) {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 4 {
		return fmt.Errorf("block expected array of 4 elements, got %d", n)
	}

	var blockType uint64
	for _, f := range []*uint64{&blk.Number, &blockType, &blk.Length} {
		if *f, err = cboring.ReadUInt(r); err != nil {
			return
		}
	}
	blk.Type = BlockType(blockType)

	blk.Textual, err = cboring.ReadBoolean(r)
	return
}
