package vmm

import (
	"cmp"
	"context"
	"slices"

	"github.com/Microsoft/memsim/internal/memerror"
	"github.com/Microsoft/memsim/internal/oc"
	"github.com/Microsoft/memsim/internal/paging"
	"github.com/Microsoft/memsim/internal/segment"
)

// ProcessInfo summarizes one process.
type ProcessInfo struct {
	PID         uint32
	CodeSize    int
	GlobalsSize int
	StackSize   int
	// FreeBytes is the virtual space not holding a segment.
	FreeBytes int
	Variables int
	Frames    int
}

// Usage is the occupancy of the frames.
type Usage struct {
	PageSize int
	// Resident and Swapped count frame-bearing pages in RAM and in the
	// backing store.
	Resident int
	Swapped  int
	InUse    int
}

// ListProcesses returns every process ordered by pid.
func (m *Manager) ListProcesses(ctx context.Context) []ProcessInfo {
	_, span := oc.StartSpan(ctx, "vmm::Manager::ListProcesses")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ProcessInfo
	for _, p := range m.processes.List() {
		vars := 0
		for _, s := range m.segments.ForPID(p.PID) {
			if s.IsVariable() {
				vars++
			}
		}
		out = append(out, ProcessInfo{
			PID:         p.PID,
			CodeSize:    p.CodeSize,
			GlobalsSize: p.GlobalsSize,
			StackSize:   p.StackSize,
			FreeBytes:   p.TotalFree(),
			Variables:   vars,
			Frames:      len(p.Table.Frames()),
		})
	}
	return out
}

// DumpSegments returns a copy of every segment, free-space holes included,
// ordered by pid and virtual address. Physical addresses are computed from
// the current frame of each segment's first page; Swapped marks those that
// point into the backing store.
func (m *Manager) DumpSegments(ctx context.Context) []*segment.Segment {
	_, span := oc.StartSpan(ctx, "vmm::Manager::DumpSegments")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*segment.Segment
	for _, p := range m.processes.List() {
		segs := m.segments.ForPID(p.PID)
		for _, s := range segs {
			c := s.Clone()
			if s.Size > 0 {
				if addr, swapped, err := m.pager.Locate(p.Table, s); err == nil {
					c.PhysicalAddress, c.Swapped = addr, swapped
				}
			}
			out = append(out, c)
		}
		out = append(out, m.allocator.Holes(p.PID)...)
	}
	slices.SortStableFunc(out, func(a, b *segment.Segment) int {
		if c := cmp.Compare(a.PID, b.PID); c != 0 {
			return c
		}
		return cmp.Compare(a.VirtualAddress, b.VirtualAddress)
	})
	return out
}

// DumpPages returns a copy of every page backed by a frame, ordered by pid
// and page number.
func (m *Manager) DumpPages(ctx context.Context) []paging.PageUnit {
	_, span := oc.StartSpan(ctx, "vmm::Manager::DumpPages")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []paging.PageUnit
	for _, pt := range m.pager.Tables() {
		for _, pu := range pt.Pages {
			if pu.HasFrame() {
				out = append(out, *pu)
			}
		}
	}
	return out
}

// Usage returns the current frame occupancy.
func (m *Manager) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	ram, swapped := m.pager.Usage()
	return Usage{
		PageSize: m.pageSize,
		Resident: ram,
		Swapped:  swapped,
		InUse:    m.frames.InUse(),
	}
}

// Verify checks the bookkeeping of every process against itself:
//   - free bytes of the page table equal the virtual space not holding a segment
//   - each page's free bytes plus the bytes segments record in it equal the page size
//   - holes and segments tile the virtual space
//   - no frame id is held by two pages, and the recycler agrees on the ids in use
func (m *Manager) Verify() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners := make(map[int]uint32)
	for _, p := range m.processes.List() {
		pt := p.Table
		segs := m.segments.ForPID(p.PID)

		used := make(map[int]int)
		reserved := 0
		for _, s := range segs {
			reserved += s.Size
			for n, b := range s.Pages {
				used[n] += b
			}
		}
		if free := m.allocator.Free(p.PID); free+reserved != m.virtualSize {
			return memerror.Invariantf("pid %d: %d free + %d reserved != %d", p.PID, free, reserved, m.virtualSize)
		}
		if pt.Free() != m.allocator.Free(p.PID) {
			return memerror.Invariantf("pid %d: page table has %d free bytes, free list %d", p.PID, pt.Free(), m.allocator.Free(p.PID))
		}

		ranges := append(segs, m.allocator.Holes(p.PID)...)
		slices.SortFunc(ranges, func(a, b *segment.Segment) int { return a.VirtualAddress - b.VirtualAddress })
		next := 0
		for _, r := range ranges {
			if r.Size == 0 {
				continue
			}
			if r.VirtualAddress != next {
				return memerror.Invariantf("pid %d: %q starts at %#x, expected %#x", p.PID, r.Name, r.VirtualAddress, next)
			}
			next = r.End()
		}
		if next != m.virtualSize {
			return memerror.Invariantf("pid %d: virtual space covered up to %#x of %#x", p.PID, next, m.virtualSize)
		}

		for _, pu := range pt.Pages {
			if pu.FreeBytes+used[pu.Number] != m.pageSize {
				return memerror.Invariantf("pid %d page %d: %d free + %d used != %d", p.PID, pu.Number, pu.FreeBytes, used[pu.Number], m.pageSize)
			}
			if pu.FreeBytes < m.pageSize && !pu.HasFrame() {
				return memerror.Invariantf("pid %d page %d holds data but has no frame", p.PID, pu.Number)
			}
			if !pu.HasFrame() {
				continue
			}
			if o, ok := owners[pu.Frame]; ok {
				return memerror.Invariantf("frame %d held by pid %d and pid %d", pu.Frame, o, p.PID)
			}
			owners[pu.Frame] = p.PID
			if !m.frames.IsUsed(pu.Frame) {
				return memerror.Invariantf("frame %d of pid %d page %d is free in the recycler", pu.Frame, p.PID, pu.Number)
			}
		}
	}
	if len(owners) != m.frames.InUse() {
		return memerror.Invariantf("%d frames owned by pages, %d in use", len(owners), m.frames.InUse())
	}
	return nil
}

// Segment returns a copy of the segment name of pid with its physical
// address refreshed.
func (m *Manager) Segment(ctx context.Context, pid uint32, name string) (*segment.Segment, error) {
	_, span := oc.StartSpan(ctx, "vmm::Manager::Segment")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.processes.Get(pid)
	if err != nil {
		return nil, memerror.New(err, "lookup", pid, name)
	}
	s, err := m.segments.Get(pid, name)
	if err != nil {
		return nil, memerror.New(err, "lookup", pid, name)
	}
	c := s.Clone()
	if s.Size > 0 {
		if addr, swapped, err := m.pager.Locate(p.Table, s); err == nil {
			c.PhysicalAddress, c.Swapped = addr, swapped
		}
	}
	return c, nil
}
