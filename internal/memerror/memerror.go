// Package memerror carries the error taxonomy of the memory manager.
//
// Every failure returned by the manager wraps one of the
// [github.com/containerd/errdefs] classes, so callers classify with
// errdefs.IsNotFound, errdefs.IsInvalidArgument, etc. Failures detected by
// [IsFatal] end the session.
package memerror

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrOutOfPagingSpace is returned when a segment is larger than the free
	// virtual space left in its process. Recoverable.
	ErrOutOfPagingSpace = fmt.Errorf("segment exceeds the process paging space: %w", errdefs.ErrResourceExhausted)
	// ErrNoFreeRange is returned when no free-space segment of the process is
	// large enough for the requested size. Recoverable.
	ErrNoFreeRange = fmt.Errorf("no free virtual range large enough: %w", errdefs.ErrResourceExhausted)
	// ErrMemoryExhausted is returned when RAM and swap are both full. Fatal.
	ErrMemoryExhausted = fmt.Errorf("physical memory and swap exhausted: %w", errdefs.ErrResourceExhausted)
	// ErrInvariant marks bookkeeping that disagrees with itself. Fatal.
	ErrInvariant = fmt.Errorf("memory manager invariant violated: %w", errdefs.ErrInternal)
	// ErrSwapIO marks a failed transfer between RAM and the backing store. Fatal.
	ErrSwapIO = fmt.Errorf("swap transfer failed: %w", errdefs.ErrDataLoss)
)

// Error records the manager operation and the target that failed.
type Error struct {
	Op   string
	PID  uint32
	Name string
	Err  error
}

var _ error = &Error{}

func (e *Error) Error() string {
	s := e.Op
	if e.PID != 0 {
		s += fmt.Sprintf(" pid %d", e.PID)
	}
	if e.Name != "" {
		s += fmt.Sprintf(" %q", e.Name)
	}
	if e.Err == nil {
		return s + ": <nil>"
	}
	return s + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the operation and target. A nil err returns nil.
func New(err error, op string, pid uint32, name string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, PID: pid, Name: name, Err: err}
}

// IsFatal reports whether err must end the session rather than be reported
// and retried.
func IsFatal(err error) bool {
	return IsAny(err, ErrMemoryExhausted, ErrInvariant, ErrSwapIO) ||
		errdefs.IsInternal(err) || errdefs.IsDataLoss(err)
}

// IsAny returns true if errors.Is is true for any of the provided errors, errs.
func IsAny(err error, errs ...error) bool {
	for _, e := range errs {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Invariantf builds an [ErrInvariant] with a description of the broken bookkeeping.
func Invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvariant)
}
