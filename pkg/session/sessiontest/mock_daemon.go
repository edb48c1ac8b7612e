// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sessiontest provides an in-memory session.Daemon for tests.
package sessiontest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/receiver"
	"github.com/dtn7/dtnrecv/pkg/session"
)

// MockBlock is a block and its data, as served by a MockDaemon.
type MockBlock struct {
	Block bpv7.Block
	Data  []byte
}

// MockBundle is a pending bundle of a MockDaemon's queue.
type MockBundle struct {
	Bundle bpv7.Bundle
	Blocks []MockBlock
}

// NewPayloadBundle creates a MockBundle with a single payload block.
func NewPayloadBundle(source string, seq uint64, data []byte) MockBundle {
	return MockBundle{
		Bundle: bpv7.Bundle{
			Id: bpv7.BundleID{
				SourceNode: bpv7.MustNewEndpointID(source),
				Timestamp:  bpv7.NewCreationTimestamp(42, seq),
			},
			Destination: bpv7.MustNewEndpointID("dtn://dst/app"),
			ReportTo:    bpv7.DtnNone(),
			Lifetime:    3600000,
		},
		Blocks: []MockBlock{{
			Block: bpv7.Block{Number: 1, Type: bpv7.PayloadBlock, Length: uint64(len(data))},
			Data:  data,
		}},
	}
}

// MockDaemon implements session.Daemon by serving bundles from a queue.
type MockDaemon struct {
	mutex sync.Mutex

	connectErr     error
	connectDelay   time.Duration
	deliveredErr   error
	deliveredDelay time.Duration
	online         bool
	blockFetch     bool
	chunkSize      int

	queue  []MockBundle
	events session.Events
	token  uint64

	disconnected    bool
	connects        int
	fetches         int
	delivered       []bpv7.BundleID
	afterDisconnect int
}

// NewMockDaemon with an online node and the given pending bundles.
func NewMockDaemon(bundles ...MockBundle) *MockDaemon {
	return &MockDaemon{
		online:    true,
		chunkSize: 4,
		queue:     bundles,
	}
}

// SetConnectErr lets the following Connect calls fail.
func (md *MockDaemon) SetConnectErr(err error) {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	md.connectErr = err
}

// SetConnectDelay slows down each Connect call, ignoring its context.
func (md *MockDaemon) SetConnectDelay(delay time.Duration) {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	md.connectDelay = delay
}

// SetDeliveredErr lets the following Delivered calls fail.
func (md *MockDaemon) SetDeliveredErr(err error) {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	md.deliveredErr = err
}

// SetDeliveredDelay slows down each Delivered call.
func (md *MockDaemon) SetDeliveredDelay(delay time.Duration) {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	md.deliveredDelay = delay
}

// SetBlockFetch lets a Fetch on an empty queue block until its context is done.
func (md *MockDaemon) SetBlockFetch(block bool) {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	md.blockFetch = block
}

// SetOnline changes the initial node state for Connect.
func (md *MockDaemon) SetOnline(online bool) {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	md.online = online
}

// Push bundles to the queue.
func (md *MockDaemon) Push(bundles ...MockBundle) {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	md.queue = append(md.queue, bundles...)
}

func (md *MockDaemon) currentEvents() session.Events {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	return md.events
}

// NodeState signals a changed node state to the connected Events.
func (md *MockDaemon) NodeState(online bool) {
	events := md.currentEvents()
	if events == nil {
		return
	}

	if online {
		events.OnOnline()
	} else {
		events.OnOffline()
	}
}

// Drop simulates a lost connection.
func (md *MockDaemon) Drop(err error) {
	md.mutex.Lock()
	events := md.events
	md.events = nil
	md.mutex.Unlock()

	if events != nil {
		events.OnDisconnected(err)
	}
}

func (md *MockDaemon) Connect(ctx context.Context, reg session.Registration, events session.Events) error {
	md.mutex.Lock()
	md.connects++
	delay := md.connectDelay
	md.mutex.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	md.mutex.Lock()
	defer md.mutex.Unlock()

	if md.disconnected {
		md.afterDisconnect++
		return fmt.Errorf("connect after disconnect")
	}
	if md.connectErr != nil {
		return md.connectErr
	}
	if _, err := reg.Endpoint(); err != nil {
		return fmt.Errorf("%w: %v", session.ErrServiceUnavailable, err)
	}

	md.events = events

	online := md.online
	go events.OnConnected(online)

	return nil
}

func (md *MockDaemon) Fetch(ctx context.Context, h receiver.Handler) (bool, error) {
	md.mutex.Lock()
	if md.disconnected {
		md.afterDisconnect++
	}
	md.fetches++

	if len(md.queue) == 0 {
		block := md.blockFetch
		md.mutex.Unlock()

		if !block {
			return false, nil
		}
		<-ctx.Done()
		return false, ctx.Err()
	}

	b := md.queue[0]
	md.queue = md.queue[1:]
	md.token++
	token := md.token
	chunkSize := md.chunkSize
	md.mutex.Unlock()

	h.StartBundle(b.Bundle)
	for _, blk := range b.Blocks {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		h.StartBlock(blk.Block)
		if h.Mode() == receiver.FileDescriptor {
			streamBlock(h, blk, chunkSize)
		} else if blk.Block.Textual {
			h.Characters(string(blk.Data))
		} else {
			h.Payload(blk.Data)
		}
		h.EndBlock()
	}
	h.EndBundle()
	h.Finished(token)

	return true, nil
}

func streamBlock(h receiver.Handler, blk MockBlock, chunkSize int) {
	w := h.Writer()

	var current uint64
	for off := 0; off < len(blk.Data); off += chunkSize {
		end := off + chunkSize
		if end > len(blk.Data) {
			end = len(blk.Data)
		}

		if w != nil {
			_, _ = w.Write(blk.Data[off:end])
		}
		current += uint64(end - off)
		h.Progress(current, blk.Block.Length)
	}
}

func (md *MockDaemon) Delivered(ctx context.Context, bid bpv7.BundleID) error {
	md.mutex.Lock()
	if md.disconnected {
		md.afterDisconnect++
	}
	delay := md.deliveredDelay
	md.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	md.mutex.Lock()
	defer md.mutex.Unlock()

	if md.deliveredErr != nil {
		return md.deliveredErr
	}
	md.delivered = append(md.delivered, bid)
	return nil
}

func (md *MockDaemon) Disconnect() error {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	md.disconnected = true
	md.events = nil
	return nil
}

// DeliveredIDs returns the acknowledged BundleIDs in their order.
func (md *MockDaemon) DeliveredIDs() []bpv7.BundleID {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	return append([]bpv7.BundleID(nil), md.delivered...)
}

// Connects counts Connect calls.
func (md *MockDaemon) Connects() int {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	return md.connects
}

// Fetches counts Fetch calls.
func (md *MockDaemon) Fetches() int {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	return md.fetches
}

// Pending bundles within the queue.
func (md *MockDaemon) Pending() int {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	return len(md.queue)
}

// Disconnected reports whether Disconnect was called.
func (md *MockDaemon) Disconnected() bool {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	return md.disconnected
}

// CallsAfterDisconnect counts Connect, Fetch and Delivered calls after
// Disconnect.
func (md *MockDaemon) CallsAfterDisconnect() int {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	return md.afterDisconnect
}

// WaitFor polls cond until it holds or the timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
