// Package nlog is the PMD core's package-level logger. It keeps the
// teacher's call shape (Infoln, Warningln, Errorln, Infof...) so callers read
// the same as the rest of the pack, but is backed by logrus rather than the
// teacher's vendored glog fork — logrus is the structured-logging library
// the pack actually lists as a go.mod dependency.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts verbosity; accepts the usual logrus level names.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}

func Infoln(args ...any)            { log.Infoln(args...) }
func Infof(format string, a ...any) { log.Infof(format, a...) }

func Warningln(args ...any)            { log.Warnln(args...) }
func Warningf(format string, a ...any) { log.Warnf(format, a...) }

func Errorln(args ...any)            { log.Errorln(args...) }
func Errorf(format string, a ...any) { log.Errorf(format, a...) }

func Flush() {} // logrus writes synchronously; kept for call-site parity with the teacher
