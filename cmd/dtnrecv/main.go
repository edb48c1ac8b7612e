// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	s, err := parseSettings(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	runtime, err := buildRuntime(s)
	if err != nil {
		log.WithError(err).Fatal("Failed to create runtime")
	}

	if err := runtime.Start(context.Background(), s.registration); err != nil {
		log.WithError(err).Fatal("Failed to connect to the daemon")
	}

	waitSigint()
	log.Info("Shutting down..")

	if err := runtime.Stop(); err != nil {
		log.WithError(err).Warn("Shutdown errored")
	}
}
