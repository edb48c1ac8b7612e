// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const notificationBuffer = 16

// HTTPSource receives Notifications as "POST /notify/{endpoint}" requests with
// an URL-escaped endpoint ID, e.g., "/notify/dtn:%2F%2Fnode%2Fapp".
type HTTPSource struct {
	router *mux.Router
	server *http.Server

	mutex         sync.Mutex
	closed        bool
	notifications chan Notification
}

// NewHTTPSource creates a HTTPSource to be used as a http.Handler.
func NewHTTPSource() *HTTPSource {
	hs := &HTTPSource{
		router:        mux.NewRouter().UseEncodedPath(),
		notifications: make(chan Notification, notificationBuffer),
	}

	hs.router.HandleFunc("/notify/{endpoint}", hs.handleNotify).Methods(http.MethodPost)

	return hs
}

// ListenHTTPSource creates a HTTPSource, serving on the given address.
func ListenHTTPSource(addr string) (hs *HTTPSource, err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return
	}

	hs = NewHTTPSource()
	hs.server = &http.Server{Handler: hs.router}

	log.WithField("address", ln.Addr()).Info("Listening for HTTP notifications")

	go func() {
		if err := hs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("HTTP notification server errored")
		}
	}()

	return
}

// ServeHTTP is a http.Handler, e.g., for a httptest.Server.
func (hs *HTTPSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs.router.ServeHTTP(w, r)
}

func (hs *HTTPSource) handleNotify(w http.ResponseWriter, r *http.Request) {
	recipient, err := url.PathUnescape(mux.Vars(r)["endpoint"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hs.mutex.Lock()
	defer hs.mutex.Unlock()

	if hs.closed {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	select {
	case hs.notifications <- Notification{Recipient: recipient}:
	default:
		log.WithField("recipient", recipient).Debug("Notification buffer is full, dropping notification")
	}

	w.WriteHeader(http.StatusAccepted)
}

func (hs *HTTPSource) Notifications() <-chan Notification {
	return hs.notifications
}

func (hs *HTTPSource) Close() (err error) {
	hs.mutex.Lock()
	if hs.closed {
		hs.mutex.Unlock()
		return nil
	}
	hs.closed = true
	close(hs.notifications)
	hs.mutex.Unlock()

	if hs.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err = hs.server.Shutdown(ctx)
	}
	return
}
