// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wsdaemon

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/receiver"
	"github.com/dtn7/dtnrecv/pkg/session"
	"github.com/dtn7/dtnrecv/pkg/sink"
)

type fakeBlock struct {
	block bpv7.Block
	data  []byte
}

type fakeBundle struct {
	bundle bpv7.Bundle
	blocks []fakeBlock
}

func newFakeBundle(seq uint64, blocks ...fakeBlock) fakeBundle {
	return fakeBundle{
		bundle: bpv7.Bundle{
			Id: bpv7.BundleID{
				SourceNode: bpv7.MustNewEndpointID("dtn://src/"),
				Timestamp:  bpv7.NewCreationTimestamp(1000, seq),
			},
			Destination: bpv7.MustNewEndpointID("dtn://dst/app"),
			ReportTo:    bpv7.DtnNone(),
			Lifetime:    60000,
		},
		blocks: blocks,
	}
}

func payloadBlock(data string) fakeBlock {
	return fakeBlock{
		block: bpv7.Block{Number: 1, Type: bpv7.PayloadBlock, Length: uint64(len(data))},
		data:  []byte(data),
	}
}

// fakeDtnd serves the daemon's side of the WebSocket agent API.
type fakeDtnd struct {
	upgrader websocket.Upgrader

	mutex         sync.Mutex
	queue         []fakeBundle
	online        bool
	reject        string
	holdFetch     bool
	registrations []string
	delivered     []bpv7.BundleID
	token         uint64

	conn       *websocket.Conn
	writeMutex sync.Mutex
	connected  chan struct{}
}

func newFakeDtnd(bundles ...fakeBundle) *fakeDtnd {
	return &fakeDtnd{
		queue:     bundles,
		online:    true,
		connected: make(chan struct{}, 1),
	}
}

func (fd *fakeDtnd) send(msg message) error {
	fd.writeMutex.Lock()
	defer fd.writeMutex.Unlock()

	fd.mutex.Lock()
	conn := fd.conn
	fd.mutex.Unlock()

	wc, err := conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := marshalMessage(msg, wc); err != nil {
		return err
	}
	return wc.Close()
}

func (fd *fakeDtnd) read(conn *websocket.Conn) (message, error) {
	_, r, err := conn.NextReader()
	if err != nil {
		return nil, err
	}
	return unmarshalMessage(r)
}

func (fd *fakeDtnd) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := fd.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	fd.mutex.Lock()
	fd.conn = conn
	fd.mutex.Unlock()

	msg, err := fd.read(conn)
	if err != nil {
		return
	}
	reg, ok := msg.(*registerMessage)
	if !ok {
		return
	}

	fd.mutex.Lock()
	fd.registrations = append(fd.registrations, reg.endpoint)
	reject, online := fd.reject, fd.online
	fd.mutex.Unlock()

	if reject != "" {
		_ = fd.send(newStatusMessage(errors.New(reject)))
		return
	}
	if fd.send(newStatusMessage(nil)) != nil || fd.send(&nodeStateMessage{online: online}) != nil {
		return
	}

	fd.connected <- struct{}{}

	for {
		msg, err := fd.read(conn)
		if err != nil {
			return
		}

		switch msg := msg.(type) {
		case *fetchMessage:
			if err := fd.serveFetch(); err != nil {
				return
			}

		case *deliveredMessage:
			fd.mutex.Lock()
			fd.delivered = append(fd.delivered, msg.bid)
			fd.mutex.Unlock()
		}
	}
}

func (fd *fakeDtnd) serveFetch() error {
	fd.mutex.Lock()
	if fd.holdFetch {
		fd.mutex.Unlock()
		return nil
	}

	fd.token++
	token := fd.token

	if len(fd.queue) == 0 {
		fd.mutex.Unlock()
		return fd.send(&queueEmptyMessage{token: token})
	}

	b := fd.queue[0]
	fd.queue = fd.queue[1:]
	fd.mutex.Unlock()

	msgs := []message{&bundleStartMessage{bundle: b.bundle}}
	for _, blk := range b.blocks {
		msgs = append(msgs, &blockStartMessage{block: blk.block})
		for off := 0; off < len(blk.data); off += 3 {
			end := off + 3
			if end > len(blk.data) {
				end = len(blk.data)
			}
			msgs = append(msgs, &blockDataMessage{data: blk.data[off:end]})
		}
		msgs = append(msgs, &blockEndMessage{number: blk.block.Number})
	}
	msgs = append(msgs, &bundleEndMessage{bid: b.bundle.ID()}, &finishedMessage{token: token})

	for _, msg := range msgs {
		if err := fd.send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (fd *fakeDtnd) deliveredIDs() []bpv7.BundleID {
	fd.mutex.Lock()
	defer fd.mutex.Unlock()

	return append([]bpv7.BundleID(nil), fd.delivered...)
}

type recordedEvents struct {
	mutex        sync.Mutex
	connected    []bool
	states       []bool
	disconnected chan error
}

func newRecordedEvents() *recordedEvents {
	return &recordedEvents{disconnected: make(chan error, 1)}
}

func (re *recordedEvents) OnConnected(online bool) {
	re.mutex.Lock()
	defer re.mutex.Unlock()
	re.connected = append(re.connected, online)
}

func (re *recordedEvents) OnOnline() {
	re.mutex.Lock()
	defer re.mutex.Unlock()
	re.states = append(re.states, true)
}

func (re *recordedEvents) OnOffline() {
	re.mutex.Lock()
	defer re.mutex.Unlock()
	re.states = append(re.states, false)
}

func (re *recordedEvents) OnDisconnected(err error) {
	re.disconnected <- err
}

func (re *recordedEvents) nodeStates() []bool {
	re.mutex.Lock()
	defer re.mutex.Unlock()
	return append([]bool(nil), re.states...)
}

type collectingApp struct {
	artifacts map[bpv7.BundleID][]sink.Artifact
	order     []bpv7.BundleID
}

func (ca *collectingApp) OnBundleReceived(bid bpv7.BundleID, artifacts []sink.Artifact) {
	if ca.artifacts == nil {
		ca.artifacts = make(map[bpv7.BundleID][]sink.Artifact)
	}
	ca.artifacts[bid] = artifacts
	ca.order = append(ca.order, bid)
}

type directAck struct {
	d *Daemon
}

func (da directAck) Acknowledge(bid bpv7.BundleID) {
	if err := da.d.Delivered(context.Background(), bid); err != nil {
		log.WithError(err).Warn("Test acknowledgment errored")
	}
}

func startFakeDtnd(t *testing.T, fd *fakeDtnd) (*Daemon, *recordedEvents, func()) {
	srv := httptest.NewServer(fd)

	d := NewDaemon("ws" + strings.TrimPrefix(srv.URL, "http"))
	events := newRecordedEvents()

	if err := d.Connect(context.Background(), session.Registration("dtn://dst/app"), events); err != nil {
		srv.Close()
		t.Fatalf("Connect errored: %v", err)
	}

	select {
	case <-fd.connected:
	case <-time.After(time.Second):
		t.Fatal("Fake daemon did not register the client")
	}

	return d, events, srv.Close
}

func TestDaemonServiceUnavailable(t *testing.T) {
	log.SetLevel(log.DebugLevel)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	d := NewDaemon(url)
	err := d.Connect(context.Background(), session.Registration("dtn://dst/app"), newRecordedEvents())
	if !errors.Is(err, session.ErrServiceUnavailable) {
		t.Fatalf("Connect returned %v", err)
	}
}

func TestDaemonRegistrationRejected(t *testing.T) {
	fd := newFakeDtnd()
	fd.reject = "endpoint is taken"

	srv := httptest.NewServer(fd)
	defer srv.Close()

	d := NewDaemon("ws" + strings.TrimPrefix(srv.URL, "http"))
	err := d.Connect(context.Background(), session.Registration("dtn://dst/app"), newRecordedEvents())
	if err == nil || !strings.Contains(err.Error(), fd.reject) {
		t.Fatalf("Connect returned %v", err)
	}
}

func TestDaemonFetchSimple(t *testing.T) {
	text := fakeBlock{
		block: bpv7.Block{Number: 2, Type: bpv7.PayloadBlock, Length: 11, Textual: true},
		data:  []byte("hello world"),
	}
	hop := fakeBlock{
		block: bpv7.Block{Number: 3, Type: bpv7.HopCountBlock, Length: 2},
		data:  []byte{0x82, 0x00},
	}

	fd := newFakeDtnd(
		newFakeBundle(1, hop, payloadBlock("some payload")),
		newFakeBundle(2, text),
		newFakeBundle(3, payloadBlock("")))

	d, events, stop := startFakeDtnd(t, fd)
	defer stop()

	app := &collectingApp{}
	recv := receiver.NewReceiver(receiver.Simple, sink.MemoryFactory{}, directAck{d}, app)

	for i, expected := range []bool{true, true, true, false} {
		more, err := d.Fetch(context.Background(), recv)
		if err != nil {
			t.Fatalf("Fetch %d errored: %v", i, err)
		}
		if more != expected {
			t.Fatalf("Fetch %d returned %t", i, more)
		}
	}

	if len(app.order) != 3 {
		t.Fatalf("Received %d bundles", len(app.order))
	}

	first := app.artifacts[app.order[0]]
	if len(first) != 1 || !bytes.Equal(first[0].Data, []byte("some payload")) {
		t.Fatalf("First bundle's artifacts are %v", first)
	}

	second := app.artifacts[app.order[1]]
	if len(second) != 1 || !second[0].Text || string(second[0].Data) != "hello world" {
		t.Fatalf("Second bundle's artifacts are %v", second)
	}

	third := app.artifacts[app.order[2]]
	if len(third) != 1 || third[0].Data == nil || len(third[0].Data) != 0 {
		t.Fatalf("Third bundle's artifacts are %v", third)
	}

	waitDelivered := func() bool { return len(fd.deliveredIDs()) == 3 }
	for deadline := time.Now().Add(time.Second); !waitDelivered() && time.Now().Before(deadline); {
		time.Sleep(5 * time.Millisecond)
	}
	if !reflect.DeepEqual(fd.deliveredIDs(), app.order) {
		t.Fatalf("Delivered %v, expected %v", fd.deliveredIDs(), app.order)
	}

	if err := d.Disconnect(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-events.disconnected:
		t.Fatalf("Disconnect was reported as a lost connection: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := d.Fetch(context.Background(), recv); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("Fetch after disconnect returned %v", err)
	}
}

func TestDaemonFetchStreamed(t *testing.T) {
	payload := "a streamed payload, split into chunks"
	fd := newFakeDtnd(newFakeBundle(1, payloadBlock(payload)))

	d, _, stop := startFakeDtnd(t, fd)
	defer stop()
	defer d.Disconnect()

	app := &collectingApp{}
	recv := receiver.NewReceiver(receiver.FileDescriptor, sink.FileFactory{Dir: t.TempDir()}, directAck{d}, app)

	if more, err := d.Fetch(context.Background(), recv); err != nil || !more {
		t.Fatalf("Fetch returned %t, %v", more, err)
	}

	artifacts := app.artifacts[app.order[0]]
	if len(artifacts) != 1 || !artifacts[0].IsFile() {
		t.Fatalf("Artifacts are %v", artifacts)
	}

	data, err := os.ReadFile(artifacts[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != payload {
		t.Fatalf("File contains %q", data)
	}
}

func TestDaemonFetchInvalidBundle(t *testing.T) {
	invalid := newFakeBundle(1, payloadBlock("never read"))
	invalid.bundle.Destination = bpv7.EndpointID{EndpointType: bpv7.DtnEndpoint{Ssp: "garbage"}}

	fd := newFakeDtnd(invalid)

	d, events, stop := startFakeDtnd(t, fd)
	defer stop()

	app := &collectingApp{}
	recv := receiver.NewReceiver(receiver.Simple, sink.MemoryFactory{}, directAck{d}, app)

	_, err := d.Fetch(context.Background(), recv)
	if err == nil || !strings.Contains(err.Error(), "destination") {
		t.Fatalf("Fetch of an invalid bundle returned %v", err)
	}
	if len(app.order) != 0 {
		t.Fatalf("Invalid bundle was received: %v", app.order)
	}

	select {
	case <-events.disconnected:
	case <-time.After(time.Second):
		t.Fatal("Broken connection was not reported")
	}
}

func TestDaemonNodeStateAndNotify(t *testing.T) {
	fd := newFakeDtnd()
	fd.online = false

	d, events, stop := startFakeDtnd(t, fd)
	defer stop()
	defer d.Disconnect()

	events.mutex.Lock()
	if !reflect.DeepEqual(events.connected, []bool{false}) {
		t.Fatalf("Connected events are %v", events.connected)
	}
	events.mutex.Unlock()

	for _, msg := range []message{
		&nodeStateMessage{online: true},
		&notifyMessage{recipient: "dtn://dst/app"},
		&nodeStateMessage{online: false},
	} {
		if err := fd.send(msg); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case n := <-d.Notifications().Notifications():
		if n.Recipient != "dtn://dst/app" {
			t.Fatalf("Notification for %q", n.Recipient)
		}
	case <-time.After(time.Second):
		t.Fatal("No notification was received")
	}

	for deadline := time.Now().Add(time.Second); len(events.nodeStates()) < 2 && time.Now().Before(deadline); {
		time.Sleep(5 * time.Millisecond)
	}
	if states := events.nodeStates(); !reflect.DeepEqual(states, []bool{true, false}) {
		t.Fatalf("Node states are %v", states)
	}

	src := d.Notifications()
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-src.Notifications(); ok {
		t.Fatal("Notification channel is still open")
	}
}

func TestDaemonFetchInterrupted(t *testing.T) {
	fd := newFakeDtnd()
	fd.holdFetch = true

	d, events, stop := startFakeDtnd(t, fd)
	defer stop()

	recv := receiver.NewReceiver(receiver.Simple, sink.MemoryFactory{}, directAck{d}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := d.Fetch(ctx, recv); !errors.Is(err, session.ErrInterrupted) {
		t.Fatalf("Fetch returned %v", err)
	}

	select {
	case <-events.disconnected:
	case <-time.After(time.Second):
		t.Fatal("Dropped connection was not reported")
	}

	if err := d.Delivered(context.Background(), bpv7.BundleID{}); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("Delivered on a dropped connection returned %v", err)
	}
}

func TestDaemonConnectionLost(t *testing.T) {
	fd := newFakeDtnd()

	d, events, stop := startFakeDtnd(t, fd)
	defer stop()

	fd.mutex.Lock()
	_ = fd.conn.Close()
	fd.mutex.Unlock()

	select {
	case err := <-events.disconnected:
		if err == nil {
			t.Fatal("Lost connection has no error")
		}
	case <-time.After(time.Second):
		t.Fatal("Lost connection was not reported")
	}

	if err := d.Disconnect(); err != nil {
		t.Fatalf("Disconnect after a lost connection returned %v", err)
	}
}

func TestMessageCodec(t *testing.T) {
	bundle := newFakeBundle(7, payloadBlock("x")).bundle

	tests := []message{
		newStatusMessage(errors.New("oof")),
		&fetchMessage{streamed: true},
		&bundleStartMessage{bundle: bundle},
		&blockStartMessage{block: bpv7.Block{Number: 1, Type: bpv7.PayloadBlock, Length: bpv7.LengthUnknown}},
		&blockDataMessage{data: []byte{0x00, 0xff}},
		&deliveredMessage{bid: bundle.ID()},
		&nodeStateMessage{online: true},
	}

	for _, msg := range tests {
		var buf bytes.Buffer
		if err := marshalMessage(msg, &buf); err != nil {
			t.Fatalf("Marshalling %T errored: %v", msg, err)
		}

		msg2, err := unmarshalMessage(&buf)
		if err != nil {
			t.Fatalf("Unmarshalling %T errored: %v", msg, err)
		}
		if !reflect.DeepEqual(msg, msg2) {
			t.Fatalf("Unmarshalled %v, expected %v", msg2, msg)
		}
	}

	var buf bytes.Buffer
	buf.Write([]byte{0x82, 0x18, 0x63, 0x00})
	if _, err := unmarshalMessage(&buf); err == nil {
		t.Fatal("Unknown type code did not error")
	}
}
