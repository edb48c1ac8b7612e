// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DirSource watches a spool directory. Each file, named by the hex encoded
// recipient's endpoint ID, is a Notification. Files are removed after reading.
type DirSource struct {
	directory string
	watcher   *fsnotify.Watcher

	notifications chan Notification
	stopSyn       chan struct{}
	stopAck       chan struct{}
}

// NewDirSource for a directory. Files already present are reported first.
func NewDirSource(directory string) (ds *DirSource, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err = watcher.Add(directory); err != nil {
		_ = watcher.Close()
		return
	}

	ds = &DirSource{
		directory:     directory,
		watcher:       watcher,
		notifications: make(chan Notification, notificationBuffer),
		stopSyn:       make(chan struct{}),
		stopAck:       make(chan struct{}),
	}

	go ds.handler()

	return
}

// SpoolName is the file name for a Notification within a spool directory.
func SpoolName(recipient string) string {
	return hex.EncodeToString([]byte(recipient))
}

func (ds *DirSource) handler() {
	defer close(ds.stopAck)
	defer close(ds.notifications)

	if entries, err := os.ReadDir(ds.directory); err != nil {
		log.WithField("directory", ds.directory).WithError(err).Warn("Reading spool directory errored")
	} else {
		for _, entry := range entries {
			if !entry.IsDir() && !ds.handleFile(filepath.Join(ds.directory, entry.Name())) {
				return
			}
		}
	}

	for {
		select {
		case <-ds.stopSyn:
			return

		case e, ok := <-ds.watcher.Events:
			if !ok {
				return
			}

			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			if !ds.handleFile(e.Name) {
				return
			}

		case err, ok := <-ds.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("fsnotify errored")
		}
	}
}

// handleFile reports a spooled Notification. It returns false if the
// DirSource was closed meanwhile.
func (ds *DirSource) handleFile(file string) bool {
	logger := log.WithField("file", file)

	recipient, err := hex.DecodeString(filepath.Base(file))
	if err != nil {
		logger.WithError(err).Debug("Ignoring file without a hex encoded name")
		return true
	}

	if err := os.Remove(file); err != nil {
		// Create and Write events might both be reported for one file.
		logger.WithError(err).Debug("Removing spooled notification errored, skipping it")
		return true
	}

	select {
	case ds.notifications <- Notification{Recipient: string(recipient)}:
		return true
	case <-ds.stopSyn:
		return false
	}
}

func (ds *DirSource) Notifications() <-chan Notification {
	return ds.notifications
}

func (ds *DirSource) Close() error {
	select {
	case <-ds.stopSyn:
		return nil
	default:
		close(ds.stopSyn)
	}

	err := ds.watcher.Close()
	<-ds.stopAck
	return err
}
