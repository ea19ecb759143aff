package log

import (
	"reflect"
	"time"

	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/Microsoft/memsim/internal/logfields"
)

const nullString = "null"

// Hook keeps every memsim entry on one line of text output and stamps it with
// the ids of the span active in [logrus.Entry.Context].
//
// Frame lists and page or segment descriptors are written as compact JSON,
// times with [TimeFormat] and durations as fractional seconds.
type Hook struct{}

var _ logrus.Hook = &Hook{}

func NewHook() *Hook {
	return &Hook{}
}

func (*Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (*Hook) Fire(e *logrus.Entry) error {
	for k, v := range e.Data {
		if k == logrus.ErrorKey {
			continue
		}
		if fv, ok := flatten(v); ok {
			e.Data[k] = fv
		}
	}

	if e.Context == nil {
		return nil
	}
	if span := trace.FromContext(e.Context); span != nil {
		sc := span.SpanContext()
		e.Data[logfields.TraceID] = sc.TraceID.String()
		e.Data[logfields.SpanID] = sc.SpanID.String()
	}
	return nil
}

// flatten returns the logged form of v, and false if v is logged as is.
func flatten(v interface{}) (interface{}, bool) {
	switch vv := v.(type) {
	case time.Time:
		return FormatTime(vv), true
	case time.Duration:
		return vv.Seconds(), true
	case []int, []uint32, []string:
		return jsonString(v), true
	case error:
		return v, false
	}

	// page and segment descriptors, by value or pointer
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nullString, true
		}
		if rv.Elem().Kind() != reflect.Struct {
			return v, false
		}
	case reflect.Struct:
	default:
		return v, false
	}
	return jsonString(v), true
}

func jsonString(v interface{}) string {
	b, err := encode(v)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
