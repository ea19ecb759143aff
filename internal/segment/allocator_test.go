package segment

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"

	"github.com/Microsoft/memsim/internal/memerror"
)

func holeRanges(a *Allocator, pid uint32) [][2]int {
	var out [][2]int
	for _, h := range a.Holes(pid) {
		out = append(out, [2]int{h.VirtualAddress, h.Size})
	}
	return out
}

func newTestAllocator(t *testing.T, size int) *Allocator {
	t.Helper()
	a := NewAllocator()
	if err := a.Init(1024, size); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	return a
}

func mustReserve(t *testing.T, a *Allocator, size int) int {
	t.Helper()
	addr, err := a.Reserve(1024, size)
	if err != nil {
		t.Fatalf("unexpected error reserving %d bytes: %s", size, err)
	}
	return addr
}

func Test_Allocator_ReserveSequential(t *testing.T) {
	a := newTestAllocator(t, 1000)
	for i, want := range []int{0, 100, 300} {
		size := []int{100, 200, 50}[i]
		if got := mustReserve(t, a, size); got != want {
			t.Fatalf("expected address %d, got %d", want, got)
		}
	}
	if diff := cmp.Diff([][2]int{{350, 650}}, holeRanges(a, 1024)); diff != "" {
		t.Fatalf("unexpected holes (-want +got):\n%s", diff)
	}
}

func Test_Allocator_FirstFitByAddress(t *testing.T) {
	a := newTestAllocator(t, 1000)
	x := mustReserve(t, a, 100)
	mustReserve(t, a, 100)
	y := mustReserve(t, a, 300)
	mustReserve(t, a, 100)

	// holes: [0,100) and [200,500) and [600,1000)
	if err := a.Release(1024, x, 100); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := a.Release(1024, y, 300); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// the 300 byte hole fits exactly but the lower address wins
	if got := mustReserve(t, a, 50); got != 0 {
		t.Fatalf("expected lowest address 0, got %d", got)
	}
	if got := mustReserve(t, a, 200); got != 200 {
		t.Fatalf("expected address 200, got %d", got)
	}
}

func Test_Allocator_CoalesceBothSides(t *testing.T) {
	a := newTestAllocator(t, 300)
	x := mustReserve(t, a, 100)
	y := mustReserve(t, a, 100)
	z := mustReserve(t, a, 100)

	if err := a.Release(1024, x, 100); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := a.Release(1024, z, 100); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if diff := cmp.Diff([][2]int{{0, 100}, {200, 100}}, holeRanges(a, 1024)); diff != "" {
		t.Fatalf("unexpected holes (-want +got):\n%s", diff)
	}

	if err := a.Release(1024, y, 100); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if diff := cmp.Diff([][2]int{{0, 300}}, holeRanges(a, 1024)); diff != "" {
		t.Fatalf("holes not merged (-want +got):\n%s", diff)
	}
}

func Test_Allocator_ReserveReleaseRestores(t *testing.T) {
	a := newTestAllocator(t, 4096)
	mustReserve(t, a, 1000)
	before := holeRanges(a, 1024)

	addr := mustReserve(t, a, 40)
	if err := a.Release(1024, addr, 40); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if diff := cmp.Diff(before, holeRanges(a, 1024)); diff != "" {
		t.Fatalf("free list not restored (-want +got):\n%s", diff)
	}
	if a.Free(1024) != 3096 {
		t.Fatalf("expected 3096 free bytes, got %d", a.Free(1024))
	}
}

func Test_Allocator_NoFit(t *testing.T) {
	a := newTestAllocator(t, 100)
	mustReserve(t, a, 60)
	before := holeRanges(a, 1024)

	_, err := a.Reserve(1024, 41)
	if !errors.Is(err, memerror.ErrNoFreeRange) {
		t.Fatalf("expected error=%s, got %v", memerror.ErrNoFreeRange, err)
	}
	if diff := cmp.Diff(before, holeRanges(a, 1024)); diff != "" {
		t.Fatalf("failed reserve changed holes (-want +got):\n%s", diff)
	}
}

func Test_Allocator_UnknownPID(t *testing.T) {
	a := NewAllocator()
	if _, err := a.Reserve(7, 1); !errdefs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func Test_Allocator_ReleaseOverlap(t *testing.T) {
	a := newTestAllocator(t, 100)
	mustReserve(t, a, 50)

	err := a.Release(1024, 40, 20)
	if !memerror.IsFatal(err) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func Test_Allocator_ZeroSize(t *testing.T) {
	a := newTestAllocator(t, 100)
	mustReserve(t, a, 10)
	if got := mustReserve(t, a, 0); got != 10 {
		t.Fatalf("expected address 10, got %d", got)
	}
	if a.Free(1024) != 90 {
		t.Fatalf("zero size reserve consumed space: %d free", a.Free(1024))
	}
}
