package oc

import (
	"context"

	"go.opencensus.io/trace"

	"github.com/Microsoft/memsim/internal/log"
)

// DefaultSampler records every span; the CLI installs it with --trace.
var DefaultSampler = trace.AlwaysSample()

// Span kinds: shell commands are served, swap traffic is a call out to the
// backing store.
var (
	WithServerSpanKind = trace.WithSpanKind(trace.SpanKindServer)
	WithClientSpanKind = trace.WithSpanKind(trace.SpanKindClient)
)

// StartSpan starts span name under ctx. A sampled span is bound into the
// context's log entry so lines logged below it carry its ids.
func StartSpan(ctx context.Context, name string, o ...trace.StartOption) (context.Context, *trace.Span) {
	ctx, s := trace.StartSpan(ctx, name, o...)
	if s.IsRecordingEvents() {
		ctx = log.UpdateContext(ctx)
	}
	return ctx, s
}

// SetSpanStatus records err on span, classified by its errdefs class. A nil
// err leaves the span OK.
func SetSpanStatus(span *trace.Span, err error) {
	if err == nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeOK})
		return
	}
	span.SetStatus(trace.Status{Code: toStatusCode(err), Message: err.Error()})
}
