package oc

import (
	"context"

	"github.com/containerd/errdefs"
	"go.opencensus.io/trace"

	"github.com/Microsoft/memsim/internal/memerror"
)

// toStatusCode maps the errdefs class wrapped by err onto an OpenCensus status code.
func toStatusCode(err error) int32 {
	switch {
	case memerror.IsAny(err, context.Canceled):
		return trace.StatusCodeCancelled
	case memerror.IsAny(err, context.DeadlineExceeded):
		return trace.StatusCodeDeadlineExceeded
	case errdefs.IsInvalidArgument(err):
		return trace.StatusCodeInvalidArgument
	case errdefs.IsNotFound(err):
		return trace.StatusCodeNotFound
	case errdefs.IsAlreadyExists(err):
		return trace.StatusCodeAlreadyExists
	case errdefs.IsResourceExhausted(err):
		return trace.StatusCodeResourceExhausted
	case errdefs.IsFailedPrecondition(err):
		return trace.StatusCodeFailedPrecondition
	case errdefs.IsOutOfRange(err):
		return trace.StatusCodeOutOfRange
	case errdefs.IsInternal(err):
		return trace.StatusCodeInternal
	case errdefs.IsDataLoss(err):
		return trace.StatusCodeDataLoss
	default:
		return trace.StatusCodeUnknown
	}
}
