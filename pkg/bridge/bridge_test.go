// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

type chanSource struct {
	ch     chan Notification
	closed bool
	err    error
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan Notification)}
}

func (cs *chanSource) Notifications() <-chan Notification { return cs.ch }

func (cs *chanSource) Close() error {
	if !cs.closed {
		cs.closed = true
		close(cs.ch)
	}
	return cs.err
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestBridgeFiltersRecipient(t *testing.T) {
	log.SetLevel(log.DebugLevel)

	var triggers int32
	b := NewBridge("dtn://node/app", func() { atomic.AddInt32(&triggers, 1) })

	src := newChanSource()
	if err := b.Attach(src); err != nil {
		t.Fatal(err)
	}

	src.ch <- Notification{Recipient: "dtn://node/app"}
	src.ch <- Notification{Recipient: "dtn://node/other"}
	src.ch <- Notification{Recipient: "dtn://node/app"}

	if !waitFor(time.Second, func() bool { f, d := b.Stats(); return f+d == 3 }) {
		t.Fatal("Notifications were not processed")
	}
	if forwarded, dropped := b.Stats(); forwarded != 2 || dropped != 1 {
		t.Fatalf("Bridge forwarded %d and dropped %d", forwarded, dropped)
	}
	if n := atomic.LoadInt32(&triggers); n != 2 {
		t.Fatalf("Trigger was called %d times", n)
	}

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if !src.closed {
		t.Fatal("Source was not closed")
	}
	if err := b.Attach(newChanSource()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Attach after close returned %v", err)
	}
}

func TestBridgeCloseErrors(t *testing.T) {
	b := NewBridge("dtn://node/app", func() {})

	srcA, srcB := newChanSource(), newChanSource()
	srcA.err = errors.New("a")
	srcB.err = errors.New("b")

	for _, src := range []*chanSource{srcA, srcB, newChanSource()} {
		if err := b.Attach(src); err != nil {
			t.Fatal(err)
		}
	}

	err := b.Close()
	if err == nil {
		t.Fatal("Close did not report source errors")
	}
	for _, srcErr := range []error{srcA.err, srcB.err} {
		if !errors.Is(err, srcErr) {
			t.Fatalf("Close error %v misses %v", err, srcErr)
		}
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Second close returned %v", err)
	}
}

func TestHTTPSource(t *testing.T) {
	hs := NewHTTPSource()
	srv := httptest.NewServer(hs)
	defer srv.Close()

	var triggers int32
	b := NewBridge("dtn://node/app", func() { atomic.AddInt32(&triggers, 1) })
	if err := b.Attach(hs); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		recipient string
		status    int
	}{
		{"dtn://node/app", http.StatusAccepted},
		{"dtn://node/other", http.StatusAccepted},
		{"ipn:23.42", http.StatusAccepted},
	}

	for _, test := range tests {
		resp, err := http.Post(srv.URL+"/notify/"+url.PathEscape(test.recipient), "text/plain", nil)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()

		if resp.StatusCode != test.status {
			t.Fatalf("Notification for %s resulted in %d", test.recipient, resp.StatusCode)
		}
	}

	getResp, err := http.Get(srv.URL + "/notify/foo")
	if err != nil {
		t.Fatal(err)
	}
	_ = getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET request resulted in %d", getResp.StatusCode)
	}

	if !waitFor(time.Second, func() bool { f, d := b.Stats(); return f+d == 3 }) {
		t.Fatal("Notifications were not processed")
	}
	if n := atomic.LoadInt32(&triggers); n != 1 {
		t.Fatalf("Trigger was called %d times", n)
	}

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(srv.URL+"/notify/"+url.PathEscape("dtn://node/app"), "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Notification after close resulted in %d", resp.StatusCode)
	}
}

func TestListenHTTPSource(t *testing.T) {
	hs, err := ListenHTTPSource("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if err := hs.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-hs.Notifications(); ok {
		t.Fatal("Notification channel is still open")
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()

	// A notification spooled before watching.
	early := filepath.Join(dir, SpoolName("dtn://node/app"))
	if err := os.WriteFile(early, nil, 0600); err != nil {
		t.Fatal(err)
	}

	ds, err := NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}

	var triggers int32
	b := NewBridge("dtn://node/app", func() { atomic.AddInt32(&triggers, 1) })
	if err := b.Attach(ds); err != nil {
		t.Fatal(err)
	}

	if !waitFor(time.Second, func() bool { return atomic.LoadInt32(&triggers) == 1 }) {
		t.Fatal("Spooled notification was not processed")
	}

	for _, name := range []string{SpoolName("dtn://node/other"), "not-hex", SpoolName("dtn://node/app")} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0600); err != nil {
			t.Fatal(err)
		}
	}

	if !waitFor(2*time.Second, func() bool { return atomic.LoadInt32(&triggers) == 2 }) {
		t.Fatalf("Trigger was called %d times", atomic.LoadInt32(&triggers))
	}
	if !waitFor(time.Second, func() bool { _, d := b.Stats(); return d == 1 }) {
		t.Fatal("Notification for another recipient was not dropped")
	}

	if _, err := os.Stat(early); !os.IsNotExist(err) {
		t.Fatalf("Spooled file still exists: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "not-hex")); err != nil {
		t.Fatalf("Unrelated file was touched: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDirSourceMissingDirectory(t *testing.T) {
	if _, err := NewDirSource(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("Watching a missing directory did not error")
	}
}
