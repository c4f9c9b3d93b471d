// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobserver

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger defines an interface that implementers can use to redirect
// logging into their own application. Printf covers ordinary progress
// lines; Fatalf is for the small number of call sites that report a
// permanent, server-stopping error (spec error taxonomy class 3) and
// must stand out from routine logging.
type Logger interface {
	Printf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
}

// zeroLogger implements Logger by wrapping a zerolog.Logger. This is the
// default used by New when no logger is configured via SetLogger.
type zeroLogger struct {
	log zerolog.Logger
}

// newZeroLogger builds the default logger, writing leveled, structured
// lines to stderr under the "jobserver.Manager" category.
func newZeroLogger() zeroLogger {
	return zeroLogger{
		log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			With().
			Timestamp().
			Str("logger", "jobserver.Manager").
			Logger(),
	}
}

func (l zeroLogger) Printf(format string, v ...interface{}) {
	l.log.Info().Msgf(format, v...)
}

func (l zeroLogger) Fatalf(format string, v ...interface{}) {
	l.log.Error().Msgf(format, v...)
}
