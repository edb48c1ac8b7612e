// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bpv7 contains the subset of the Bundle Protocol Version 7 data model a
// receiving application needs: endpoint identifiers, creation timestamps, bundle
// identifiers and lightweight descriptors for bundles and their blocks.
//
// A daemon delivers bundles block by block. Thus, a Bundle in this package is
// only a descriptor of the primary block's metadata; its blocks are announced
// incrementally as Block values and are never materialized as a list.
//
//	bid := bpv7.BundleID{
//	  SourceNode: bpv7.MustNewEndpointID("dtn://src/app"),
//	  Timestamp:  bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 0),
//	}
//
// Endpoint IDs, timestamps and bundle IDs can be serialized with the cboring
// library.
package bpv7
