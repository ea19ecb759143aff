package paging

import (
	"github.com/containerd/errdefs"
	"github.com/pkg/errors"

	"github.com/Microsoft/memsim/internal/memory"
)

// PageUnit is one page of a process's virtual space.
type PageUnit struct {
	PID      uint32
	PageSize int
	Number   int
	// Frame is the frame id backing the page, or memory.NoFrame before the
	// first byte is placed in it. Ids at or above the RAM frame count name a
	// slot of the backing store.
	Frame     int
	FreeBytes int
	Resident  bool
}

// HasFrame reports whether the page is backed by a frame.
func (pu *PageUnit) HasFrame() bool {
	return pu.Frame != memory.NoFrame
}

// PageTable holds every page of one process, created up front.
type PageTable struct {
	PID      uint32
	PageSize int
	Pages    []*PageUnit
	// Current is the page most recently filled by placement.
	Current int
}

// NewPageTable returns a table of virtualSize/pageSize untouched pages.
func NewPageTable(pid uint32, pageSize, virtualSize int) *PageTable {
	n := virtualSize / pageSize
	pt := &PageTable{
		PID:      pid,
		PageSize: pageSize,
		Pages:    make([]*PageUnit, n),
	}
	for i := range pt.Pages {
		pt.Pages[i] = &PageUnit{
			PID:       pid,
			PageSize:  pageSize,
			Number:    i,
			Frame:     memory.NoFrame,
			FreeBytes: pageSize,
		}
	}
	return pt
}

// Page returns page n.
func (pt *PageTable) Page(n int) (*PageUnit, error) {
	if n < 0 || n >= len(pt.Pages) {
		return nil, errors.Wrapf(errdefs.ErrOutOfRange, "page %d of pid %d", n, pt.PID)
	}
	return pt.Pages[n], nil
}

// Free returns the free bytes summed over every page.
func (pt *PageTable) Free() int {
	n := 0
	for _, pu := range pt.Pages {
		n += pu.FreeBytes
	}
	return n
}

// Frames returns the frame ids owned by the table's pages, in page order.
func (pt *PageTable) Frames() []int {
	var out []int
	for _, pu := range pt.Pages {
		if pu.HasFrame() {
			out = append(out, pu.Frame)
		}
	}
	return out
}

// Size returns the virtual space covered by the table.
func (pt *PageTable) Size() int {
	return len(pt.Pages) * pt.PageSize
}
