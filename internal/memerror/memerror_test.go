package memerror

import (
	"testing"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

func TestError_Message(t *testing.T) {
	err := New(errdefs.ErrNotFound, "allocate", 1024, "a")
	if got, want := err.Error(), `allocate pid 1024 "a": not found`; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if !errdefs.IsNotFound(err) {
		t.Fatal("wrapped class lost")
	}
}

func TestNew_Nil(t *testing.T) {
	if err := New(nil, "free", 1, "x"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIsFatal(t *testing.T) {
	type config struct {
		name  string
		err   error
		fatal bool
	}

	testCases := []config{
		{name: "Exhausted", err: errors.Wrap(ErrMemoryExhausted, "placing page"), fatal: true},
		{name: "Invariant", err: Invariantf("frame %d owned twice", 3), fatal: true},
		{name: "SwapIO", err: errors.Wrap(ErrSwapIO, "evicting page 3"), fatal: true},
		{name: "PagingSpace", err: New(ErrOutOfPagingSpace, "allocate", 1024, "a"), fatal: false},
		{name: "NoRange", err: ErrNoFreeRange, fatal: false},
		{name: "NotFound", err: errdefs.ErrNotFound, fatal: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsFatal(tc.err); got != tc.fatal {
				t.Fatalf("expected fatal=%t, got %t for %v", tc.fatal, got, tc.err)
			}
		})
	}
}

func TestCapacityErrorsAreResourceExhausted(t *testing.T) {
	for _, err := range []error{ErrOutOfPagingSpace, ErrNoFreeRange, ErrMemoryExhausted} {
		if !errdefs.IsResourceExhausted(err) {
			t.Fatalf("%v is not classified as resource exhausted", err)
		}
	}
}
