// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
	"github.com/dtn7/dtnrecv/pkg/sink"
)

// outputApp logs received bundles and stores their artifacts in an optional
// output directory, named by the hex encoded bundle ID and the block number.
type outputApp struct {
	dir string
}

func (oa *outputApp) OnBundleReceived(bid bpv7.BundleID, artifacts []sink.Artifact) {
	logger := log.WithFields(log.Fields{
		"bundle":    bid,
		"artifacts": len(artifacts),
	})

	if oa.dir == "" {
		for _, artifact := range artifacts {
			logger.WithFields(log.Fields{
				"block": artifact.Block,
				"file":  artifact.Path,
				"size":  len(artifact.Data),
				"text":  artifact.Text,
			}).Info("Received payload")
		}
		return
	}

	for _, artifact := range artifacts {
		file, err := oa.store(bid, artifact)
		if err != nil {
			logger.WithField("block", artifact.Block).WithError(err).Error("Storing payload errored")
			continue
		}
		logger.WithField("file", file).Info("Stored payload")
	}
}

func (oa *outputApp) store(bid bpv7.BundleID, artifact sink.Artifact) (file string, err error) {
	file = filepath.Join(oa.dir, fmt.Sprintf("%s-%d", bid.Hex(), artifact.Block))
	if artifact.Text {
		file += ".txt"
	}

	if artifact.IsFile() {
		err = os.Rename(artifact.Path, file)
	} else {
		err = os.WriteFile(file, artifact.Data, 0644)
	}
	return
}
