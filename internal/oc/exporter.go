package oc

import (
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/Microsoft/memsim/internal/log"
	"github.com/Microsoft/memsim/internal/logfields"
)

const spanMessage = "span"

// attributeFields renames span attributes to the field names used by the
// rest of the log. The "name" attribute is a variable, not the span.
var attributeFields = map[string]string{
	"pid":    logfields.ProcessID,
	"name":   logfields.Segment,
	"page":   logfields.Page,
	"slot":   logfields.Slot,
	"frames": logfields.Frame,
}

// LogrusExporter writes finished memsim spans to the log. Successful spans
// go out at Level (Debug when unset). A failed span is logged at Warn with
// its status, or at Error when the status marks a fatal condition.
type LogrusExporter struct {
	Level logrus.Level
}

var _ trace.Exporter = &LogrusExporter{}

func (le *LogrusExporter) ExportSpan(s *trace.SpanData) {
	data := make(logrus.Fields, len(s.Attributes)+6)
	for k, v := range s.Attributes {
		if f, ok := attributeFields[k]; ok {
			k = f
		}
		data[k] = v
	}
	data[logfields.Span] = s.Name
	data[logfields.TraceID] = s.TraceID.String()
	data[logfields.SpanID] = s.SpanID.String()
	if s.ParentSpanID != (trace.SpanID{}) {
		data[logfields.ParentSpanID] = s.ParentSpanID.String()
	}
	data[logfields.Duration] = s.EndTime.Sub(s.StartTime)

	level := le.Level
	if level == logrus.PanicLevel {
		level = logrus.DebugLevel
	}
	if s.Status.Code != trace.StatusCodeOK {
		data[logrus.ErrorKey] = s.Status.Message
		data[logfields.Code] = s.Status.Code
		level = logrus.WarnLevel
		if fatalCode(s.Status.Code) {
			level = logrus.ErrorLevel
		}
	}

	e := log.L.WithFields(data)
	e.Time = s.StartTime
	e.Log(level, spanMessage)
}

// fatalCode reports whether code is one toStatusCode gives to errors that
// end a memsim session.
func fatalCode(code int32) bool {
	switch code {
	case trace.StatusCodeInternal, trace.StatusCodeDataLoss:
		return true
	}
	return false
}
