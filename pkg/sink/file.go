// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sink

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
)

// FileFactory opens FileSinks within Dir. An empty Dir uses the operating
// system's temporary directory.
type FileFactory struct {
	Dir string
}

// Open creates a new, uniquely named temporary file for this block.
func (ff FileFactory) Open(bid bpv7.BundleID, block bpv7.Block) (Sink, error) {
	pattern := fmt.Sprintf("payload-%s-%d-*.dat", bid.Hex(), block.Number)

	f, err := os.CreateTemp(ff.Dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkCreationFailed, err)
	}

	log.WithFields(log.Fields{
		"bundle": bid,
		"block":  block.Number,
		"file":   f.Name(),
	}).Debug("Created payload file")

	return &FileSink{
		file:     f,
		bundle:   bid,
		block:    block.Number,
		filePath: f.Name(),
	}, nil
}

// FileSink streams a block's payload into a temporary file.
type FileSink struct {
	file     *os.File
	bundle   bpv7.BundleID
	block    uint64
	filePath string
	text     bool

	closeOnce sync.Once
	closeErr  error
}

func (fs *FileSink) Write(p []byte) (int, error) {
	if fs.file == nil {
		return 0, os.ErrClosed
	}
	return fs.file.Write(p)
}

func (fs *FileSink) WriteString(s string) (int, error) {
	if fs.file == nil {
		return 0, os.ErrClosed
	}
	fs.text = true
	return fs.file.WriteString(s)
}

// Path of the backing file.
func (fs *FileSink) Path() string {
	return fs.filePath
}

// Close the backing file. If closing fails, the possibly incomplete file is
// removed and the Artifact has no path.
func (fs *FileSink) Close() error {
	fs.closeOnce.Do(func() {
		f := fs.file
		fs.file = nil

		if fs.closeErr = f.Close(); fs.closeErr != nil {
			logger := log.WithField("file", fs.filePath).WithError(fs.closeErr)
			if rmErr := os.Remove(fs.filePath); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.WithField("remove error", rmErr).Warn("Closing payload file errored, removing it failed")
			} else {
				logger.Warn("Closing payload file errored, removed it")
			}
			fs.filePath = ""
		}
	})
	return fs.closeErr
}

// Discard closes and removes the backing file.
func (fs *FileSink) Discard() error {
	closeErr := fs.Close()

	if fs.filePath != "" {
		if err := os.Remove(fs.filePath); err != nil && !os.IsNotExist(err) {
			return err
		}
		fs.filePath = ""
	}
	return closeErr
}

func (fs *FileSink) Artifact() Artifact {
	return Artifact{
		Bundle: fs.bundle,
		Block:  fs.block,
		Path:   fs.filePath,
		Text:   fs.text,
	}
}
