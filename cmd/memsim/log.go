package main

//
// helper functions for logging and tracing
//

import (
	"os"

	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/Microsoft/memsim/internal/log"
	"github.com/Microsoft/memsim/internal/oc"
)

// setupLogging sends the diagnostic log to path, or stderr so the tables on
// stdout stay readable. The opened file, if any, is returned for closing.
func setupLogging(level, path string, tracing bool) (*os.File, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: log.TimeFormat,
		FullTimestamp:   true,
	})
	logrus.AddHook(log.NewHook())

	var f *os.File
	if path != "" {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		logrus.SetOutput(f)
	} else {
		logrus.SetOutput(os.Stderr)
	}

	if tracing {
		trace.ApplyConfig(trace.Config{DefaultSampler: oc.DefaultSampler})
		trace.RegisterExporter(&oc.LogrusExporter{})
	}
	return f, nil
}
