// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnrecv/pkg/bridge"
	"github.com/dtn7/dtnrecv/pkg/client"
	"github.com/dtn7/dtnrecv/pkg/receiver"
	"github.com/dtn7/dtnrecv/pkg/session"
	"github.com/dtn7/dtnrecv/pkg/wsdaemon"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Daemon   daemonConf
	Receiver receiverConf
	Drain    drainConf
	Session  sessionConf
	Notify   notifyConf
	Logging  logConf
}

// daemonConf describes the Daemon-configuration block.
type daemonConf struct {
	Url          string
	Registration string
}

// receiverConf describes the Receiver-configuration block.
type receiverConf struct {
	Mode       string
	PayloadDir string `toml:"payload-dir"`
	OutputDir  string `toml:"output-dir"`
}

// drainConf describes the Drain-configuration block.
type drainConf struct {
	ShutdownTimeout string `toml:"shutdown-timeout"`
}

// sessionConf describes the Session-configuration block.
type sessionConf struct {
	Reconnect  bool
	MaxBackoff string `toml:"max-backoff"`
	AckTimeout string `toml:"ack-timeout"`
}

// notifyConf describes the optional notification sources.
type notifyConf struct {
	HttpListen string `toml:"http-listen"`
	SpoolDir   string `toml:"spool-dir"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// settings are the validated values of a tomlConfig.
type settings struct {
	url          string
	registration session.Registration
	runtime      client.Config
	outputDir    string
	httpListen   string
	spoolDir     string
}

func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseDuration of an optional field. Errors are collected in errs.
func parseDuration(field, value string, errs *error) time.Duration {
	if value == "" {
		return 0
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: %w", field, err))
	}
	return d
}

func checkDir(field, dir string, errs *error) {
	if dir == "" {
		return
	}

	if fi, err := os.Stat(dir); err != nil {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: %w", field, err))
	} else if !fi.IsDir() {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: %s is no directory", field, dir))
	}
}

// validate a tomlConfig and collect all errors.
func (conf tomlConfig) validate() (s settings, errs error) {
	if conf.Daemon.Url == "" {
		errs = multierror.Append(errs, fmt.Errorf("daemon.url is empty"))
	}
	s.url = conf.Daemon.Url

	s.registration = session.Registration(conf.Daemon.Registration)
	if _, err := s.registration.Endpoint(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("daemon.registration: %w", err))
	}

	if conf.Receiver.Mode != "" {
		mode, err := receiver.ParseCallbackMode(conf.Receiver.Mode)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("receiver.mode: %w", err))
		}
		s.runtime.Mode = mode
	}

	checkDir("receiver.payload-dir", conf.Receiver.PayloadDir, &errs)
	checkDir("receiver.output-dir", conf.Receiver.OutputDir, &errs)
	checkDir("notify.spool-dir", conf.Notify.SpoolDir, &errs)

	s.runtime.PayloadDir = conf.Receiver.PayloadDir
	s.runtime.ShutdownTimeout = parseDuration("drain.shutdown-timeout", conf.Drain.ShutdownTimeout, &errs)
	s.runtime.Session = session.Config{
		Reconnect:  conf.Session.Reconnect,
		MaxBackoff: parseDuration("session.max-backoff", conf.Session.MaxBackoff, &errs),
		AckTimeout: parseDuration("session.ack-timeout", conf.Session.AckTimeout, &errs),
	}

	s.outputDir = conf.Receiver.OutputDir
	s.httpListen = conf.Notify.HttpListen
	s.spoolDir = conf.Notify.SpoolDir

	return
}

// parseSettings reads a TOML file, configures the logging and validates it.
func parseSettings(filename string) (s settings, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	configureLogging(conf.Logging)

	return conf.validate()
}

// buildRuntime creates the Runtime and its notification sources.
func buildRuntime(s settings) (r *client.Runtime, err error) {
	daemon := wsdaemon.NewDaemon(s.url)
	sources := []bridge.Source{daemon.Notifications()}

	if s.httpListen != "" {
		hs, hsErr := bridge.ListenHTTPSource(s.httpListen)
		if hsErr != nil {
			err = fmt.Errorf("notify.http-listen: %w", hsErr)
			return
		}
		sources = append(sources, hs)
	}

	if s.spoolDir != "" {
		ds, dsErr := bridge.NewDirSource(s.spoolDir)
		if dsErr != nil {
			for _, src := range sources {
				_ = src.Close()
			}
			err = fmt.Errorf("notify.spool-dir: %w", dsErr)
			return
		}
		sources = append(sources, ds)
	}

	r = client.NewRuntime(daemon, &outputApp{dir: s.outputDir}, s.runtime, sources...)
	return
}
