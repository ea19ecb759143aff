package log

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/Microsoft/memsim/internal/logfields"
)

type page struct {
	Number int
	Frame  int
}

func TestHook_Encode(t *testing.T) {
	h := NewHook()
	e := logrus.NewEntry(logrus.StandardLogger()).WithFields(logrus.Fields{
		"page":             page{Number: 3, Frame: 7},
		logfields.Frame:    []int{1, 2},
		logfields.Duration: 1500 * time.Millisecond,
		logfields.Count:    4,
		"nil":              (*page)(nil),
		"victim":           &page{Number: 1, Frame: 9},
		"start":            time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		logrus.ErrorKey:    page{},
	})
	if err := h.Fire(e); err != nil {
		t.Fatal(err)
	}
	for k, want := range map[string]interface{}{
		"page":             `{"Number":3,"Frame":7}`,
		logfields.Frame:    `[1,2]`,
		logfields.Duration: 1.5,
		logfields.Count:    4,
		"nil":              nullString,
		"victim":           `{"Number":1,"Frame":9}`,
		"start":            "2024-01-02T03:04:05Z",
		logrus.ErrorKey:    page{},
	} {
		if got := e.Data[k]; got != want {
			t.Errorf("field %s: expected %v, got %v", k, want, got)
		}
	}
}

func TestHook_SpanContext(t *testing.T) {
	ctx, span := trace.StartSpan(context.Background(), "test", trace.WithSampler(trace.AlwaysSample()))
	defer span.End()

	e := G(ctx).WithField(logfields.ProcessID, 1024)
	if err := NewHook().Fire(e); err != nil {
		t.Fatal(err)
	}
	if got, want := e.Data[logfields.TraceID], span.SpanContext().TraceID.String(); got != want {
		t.Fatalf("expected trace id %s, got %v", want, got)
	}
	if got, want := e.Data[logfields.SpanID], span.SpanContext().SpanID.String(); got != want {
		t.Fatalf("expected span id %s, got %v", want, got)
	}
}

func TestSetEntry(t *testing.T) {
	ctx, _ := S(context.Background(), logrus.Fields{logfields.ProcessID: 1024})
	ctx, _ = S(ctx, logrus.Fields{logfields.Segment: "a"})
	e := G(ctx)
	if e.Data[logfields.ProcessID] != 1024 || e.Data[logfields.Segment] != "a" {
		t.Fatalf("fields not carried by context: %v", e.Data)
	}
	if got := Format(ctx, []int{4, 5}); got != "[4,5]" {
		t.Fatalf("expected [4,5], got %q", got)
	}
}
