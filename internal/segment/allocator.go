package segment

import (
	"fmt"
	"slices"

	"github.com/containerd/errdefs"

	"github.com/Microsoft/memsim/internal/datatype"
	"github.com/Microsoft/memsim/internal/memerror"
)

// hole is a free range of a process's virtual space.
type hole struct {
	addr int
	size int
}

func (h hole) end() int {
	return h.addr + h.size
}

// Allocator manages the free-space segments of every process. Holes of a
// process are kept sorted by address and never touch each other.
type Allocator struct {
	holes map[uint32][]hole
}

// NewAllocator returns an allocator that knows no process.
func NewAllocator() *Allocator {
	return &Allocator{
		holes: make(map[uint32][]hole),
	}
}

// Init installs a single hole covering [0, size) for pid.
func (a *Allocator) Init(pid uint32, size int) error {
	if _, ok := a.holes[pid]; ok {
		return fmt.Errorf("free list for pid %d: %w", pid, errdefs.ErrAlreadyExists)
	}
	a.holes[pid] = []hole{{addr: 0, size: size}}
	return nil
}

// Drop forgets every hole of pid.
func (a *Allocator) Drop(pid uint32) {
	delete(a.holes, pid)
}

// Reserve takes size bytes from the low end of the lowest-addressed hole of pid
// that can hold them and returns the address of the reserved range.
func (a *Allocator) Reserve(pid uint32, size int) (int, error) {
	hs, ok := a.holes[pid]
	if !ok {
		return 0, fmt.Errorf("free list for pid %d: %w", pid, errdefs.ErrNotFound)
	}
	if size < 0 {
		return 0, fmt.Errorf("reserve %d bytes: %w", size, errdefs.ErrInvalidArgument)
	}
	for i := range hs {
		if hs[i].size < size {
			continue
		}
		addr := hs[i].addr
		if size == 0 {
			return addr, nil
		}
		hs[i].addr += size
		hs[i].size -= size
		if hs[i].size == 0 {
			hs = slices.Delete(hs, i, i+1)
		}
		a.holes[pid] = hs
		return addr, nil
	}
	return 0, fmt.Errorf("reserve %d bytes for pid %d: %w", size, pid, memerror.ErrNoFreeRange)
}

// Release returns [addr, addr+size) to pid's free list, merging it with the
// holes that touch it on either side.
func (a *Allocator) Release(pid uint32, addr, size int) error {
	hs, ok := a.holes[pid]
	if !ok {
		return fmt.Errorf("free list for pid %d: %w", pid, errdefs.ErrNotFound)
	}
	if size == 0 {
		return nil
	}
	h := hole{addr: addr, size: size}

	i, _ := slices.BinarySearchFunc(hs, addr, func(x hole, target int) int { return x.addr - target })
	if i > 0 && hs[i-1].end() > h.addr {
		return memerror.Invariantf("release [%#x, %#x) overlaps free range [%#x, %#x) of pid %d",
			h.addr, h.end(), hs[i-1].addr, hs[i-1].end(), pid)
	}
	if i < len(hs) && h.end() > hs[i].addr {
		return memerror.Invariantf("release [%#x, %#x) overlaps free range [%#x, %#x) of pid %d",
			h.addr, h.end(), hs[i].addr, hs[i].end(), pid)
	}

	hs = slices.Insert(hs, i, h)
	// merge with the higher neighbour, then the lower one
	if i+1 < len(hs) && hs[i].end() == hs[i+1].addr {
		hs[i].size += hs[i+1].size
		hs = slices.Delete(hs, i+1, i+2)
	}
	if i > 0 && hs[i-1].end() == hs[i].addr {
		hs[i-1].size += hs[i].size
		hs = slices.Delete(hs, i, i+1)
	}
	a.holes[pid] = hs
	return nil
}

// Free returns the number of unreserved bytes of pid.
func (a *Allocator) Free(pid uint32) int {
	n := 0
	for _, h := range a.holes[pid] {
		n += h.size
	}
	return n
}

// Holes returns the free-space segments of pid ordered by address.
func (a *Allocator) Holes(pid uint32) []*Segment {
	hs := a.holes[pid]
	out := make([]*Segment, 0, len(hs))
	for _, h := range hs {
		out = append(out, &Segment{
			PID:             pid,
			Name:            FreeSpaceName,
			Type:            datatype.FreeSpace,
			Size:            h.size,
			VirtualAddress:  h.addr,
			PhysicalAddress: -1,
		})
	}
	return out
}
