package oc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opencensus.io/trace"

	"github.com/Microsoft/memsim/internal/logfields"
	"github.com/Microsoft/memsim/internal/memerror"
)

func TestToStatusCode(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int32
	}{
		{context.Canceled, trace.StatusCodeCancelled},
		{fmt.Errorf("pid 9: %w", errdefs.ErrNotFound), trace.StatusCodeNotFound},
		{errdefs.ErrInvalidArgument, trace.StatusCodeInvalidArgument},
		{errdefs.ErrAlreadyExists, trace.StatusCodeAlreadyExists},
		{memerror.ErrOutOfPagingSpace, trace.StatusCodeResourceExhausted},
		{memerror.ErrMemoryExhausted, trace.StatusCodeResourceExhausted},
		{memerror.New(errdefs.ErrFailedPrecondition, "get", 1024, "a"), trace.StatusCodeFailedPrecondition},
		{errdefs.ErrOutOfRange, trace.StatusCodeOutOfRange},
		{memerror.Invariantf("frame %d owned twice", 3), trace.StatusCodeInternal},
		{memerror.ErrSwapIO, trace.StatusCodeDataLoss},
		{errors.New("something else"), trace.StatusCodeUnknown},
	} {
		if got := toStatusCode(tc.err); got != tc.want {
			t.Errorf("%v: expected code %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestLogrusExporter(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	lvl := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(lvl)

	le := &LogrusExporter{}
	start := time.Now()
	le.ExportSpan(&trace.SpanData{
		Name:      "vmm::Manager::Allocate",
		StartTime: start,
		EndTime:   start.Add(time.Millisecond),
		Attributes: map[string]interface{}{
			"pid":   int64(1024),
			"name":  "a",
			"count": int64(10),
		},
	})
	e := hook.LastEntry()
	if e == nil {
		t.Fatal("no entry exported")
	}
	if e.Level != logrus.DebugLevel || e.Message != spanMessage {
		t.Fatalf("unexpected entry %s %q", e.Level, e.Message)
	}
	for k, want := range map[string]interface{}{
		logfields.Span:      "vmm::Manager::Allocate",
		logfields.ProcessID: int64(1024),
		logfields.Segment:   "a",
		logfields.Count:     int64(10),
		logfields.Duration:  time.Millisecond,
	} {
		if got := e.Data[k]; got != want {
			t.Errorf("field %s: expected %v, got %v", k, want, got)
		}
	}
	if _, ok := e.Data[logfields.ParentSpanID]; ok {
		t.Error("root span exported a parent id")
	}

	for _, tc := range []struct {
		code  int32
		level logrus.Level
	}{
		{trace.StatusCodeNotFound, logrus.WarnLevel},
		{trace.StatusCodeResourceExhausted, logrus.WarnLevel},
		{trace.StatusCodeInternal, logrus.ErrorLevel},
		{trace.StatusCodeDataLoss, logrus.ErrorLevel},
	} {
		le.ExportSpan(&trace.SpanData{
			Name:   "vmm::Manager::Free",
			Status: trace.Status{Code: tc.code, Message: "failed"},
		})
		e = hook.LastEntry()
		if e.Level != tc.level {
			t.Errorf("code %d: expected level %s, got %s", tc.code, tc.level, e.Level)
		}
		if e.Data[logrus.ErrorKey] != "failed" || e.Data[logfields.Code] != tc.code {
			t.Errorf("code %d: status not exported: %v", tc.code, e.Data)
		}
	}
}

func TestSetSpanStatus(t *testing.T) {
	trace.ApplyConfig(trace.Config{DefaultSampler: DefaultSampler})
	hook := test.NewGlobal()
	defer hook.Reset()

	exported := &recorder{}
	trace.RegisterExporter(exported)
	defer trace.UnregisterExporter(exported)

	_, span := StartSpan(context.Background(), "test", WithServerSpanKind)
	SetSpanStatus(span, memerror.ErrNoFreeRange)
	span.End()

	if len(exported.spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(exported.spans))
	}
	s := exported.spans[0]
	if s.Status.Code != trace.StatusCodeResourceExhausted || s.SpanKind != trace.SpanKindServer {
		t.Fatalf("unexpected span %+v", s)
	}
}

type recorder struct {
	spans []*trace.SpanData
}

func (r *recorder) ExportSpan(s *trace.SpanData) {
	r.spans = append(r.spans, s)
}
