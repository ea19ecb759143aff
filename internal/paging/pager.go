// Package paging maps the virtual pages of every process onto frames and
// moves page images between RAM and the backing store.
package paging

import (
	"context"
	"maps"
	"slices"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/Microsoft/memsim/internal/log"
	"github.com/Microsoft/memsim/internal/logfields"
	"github.com/Microsoft/memsim/internal/memerror"
	"github.com/Microsoft/memsim/internal/memory"
	"github.com/Microsoft/memsim/internal/oc"
	"github.com/Microsoft/memsim/internal/segment"
	"github.com/Microsoft/memsim/internal/swap"
)

// Pager owns the page tables of every process together with the frames
// that back them.
//
// Frame ids below the RAM frame count address the physical store. Higher
// ids, up to the combined capacity, address page images in the backing
// store. Every RAM frame in use is held by a resident page.
type Pager struct {
	pageSize    int
	ramFrames   int
	totalFrames int

	store   *memory.Store
	frames  memory.Frames
	backing swap.Backing

	tables map[uint32]*PageTable
}

// NewPager returns a pager over store, spilling to backing once the store
// is full. totalSize is the combined RAM and swap capacity in bytes.
func NewPager(store *memory.Store, frames memory.Frames, backing swap.Backing, totalSize int) *Pager {
	return &Pager{
		pageSize:    store.PageSize(),
		ramFrames:   store.Frames(),
		totalFrames: totalSize / store.PageSize(),
		store:       store,
		frames:      frames,
		backing:     backing,
		tables:      make(map[uint32]*PageTable),
	}
}

// PageSize returns the page and frame size.
func (p *Pager) PageSize() int { return p.pageSize }

// AddTable registers the page table of a new process.
func (p *Pager) AddTable(pt *PageTable) error {
	if pt.PageSize != p.pageSize {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "page table of pid %d has page size %d, expected %d", pt.PID, pt.PageSize, p.pageSize)
	}
	if _, ok := p.tables[pt.PID]; ok {
		return errors.Wrapf(errdefs.ErrAlreadyExists, "page table of pid %d", pt.PID)
	}
	p.tables[pt.PID] = pt
	return nil
}

// Table returns the page table of pid.
func (p *Pager) Table(pid uint32) (*PageTable, error) {
	pt, ok := p.tables[pid]
	if !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "page table of pid %d", pid)
	}
	return pt, nil
}

// Tables returns every page table ordered by pid.
func (p *Pager) Tables() []*PageTable {
	out := make([]*PageTable, 0, len(p.tables))
	for _, pid := range slices.Sorted(maps.Keys(p.tables)) {
		out = append(out, p.tables[pid])
	}
	return out
}

// RemoveTable drops the page table of pid and releases every frame its pages
// own. The released ids are returned in ascending order.
func (p *Pager) RemoveTable(ctx context.Context, pid uint32) ([]int, error) {
	pt, err := p.Table(pid)
	if err != nil {
		return nil, err
	}
	var released []int
	for _, pu := range pt.Pages {
		if !pu.HasFrame() {
			continue
		}
		released = append(released, pu.Frame)
		if err := p.release(pu); err != nil {
			return nil, err
		}
	}
	delete(p.tables, pid)
	slices.Sort(released)

	log.G(ctx).WithFields(logrus.Fields{
		logfields.ProcessID: pid,
		logfields.Count:     len(released),
	}).Debug("released page table")
	return released, nil
}

// Usage returns the number of frames held in RAM and in the backing store.
func (p *Pager) Usage() (ram, swapped int) {
	for _, pt := range p.tables {
		for _, pu := range pt.Pages {
			switch {
			case !pu.HasFrame():
			case pu.Resident:
				ram++
			default:
				swapped++
			}
		}
	}
	return ram, swapped
}

// pageSpan returns how many bytes of [addr, addr+size) land in page n.
func (p *Pager) pageSpan(addr, size, n int) int {
	lo := max(addr, n*p.pageSize)
	hi := min(addr+size, (n+1)*p.pageSize)
	return hi - lo
}

// Place records seg in the pages covering its virtual range, backing every
// untouched page with a fresh frame. Nothing is modified when an error other
// than a swap failure is returned.
func (p *Pager) Place(ctx context.Context, pt *PageTable, seg *segment.Segment) error {
	if seg.Size > pt.Free() {
		return errors.Wrapf(memerror.ErrOutOfPagingSpace, "%d bytes requested, %d free", seg.Size, pt.Free())
	}
	seg.Pages = make(map[int]int)
	if seg.Size == 0 {
		seg.PhysicalAddress = -1
		return nil
	}
	if seg.VirtualAddress < 0 || seg.End() > pt.Size() {
		return errors.Wrapf(errdefs.ErrOutOfRange, "segment [%#x, %#x) outside virtual space of %#x", seg.VirtualAddress, seg.End(), pt.Size())
	}

	first, last := seg.VirtualAddress/p.pageSize, (seg.End()-1)/p.pageSize
	need := 0
	for n := first; n <= last; n++ {
		pu := pt.Pages[n]
		if b := p.pageSpan(seg.VirtualAddress, seg.Size, n); pu.FreeBytes < b {
			return memerror.Invariantf("page %d of pid %d has %d free bytes, %d needed", n, pt.PID, pu.FreeBytes, b)
		}
		if !pu.HasFrame() {
			need++
		}
	}
	if p.frames.InUse()+need > p.totalFrames {
		log.G(ctx).WithFields(logrus.Fields{
			logfields.ProcessID: pt.PID,
			logfields.Count:     need,
		}).Error("no frame left in RAM or swap")
		return errors.Wrapf(memerror.ErrMemoryExhausted, "%d frames needed, %d of %d in use", need, p.frames.InUse(), p.totalFrames)
	}

	for n := first; n <= last; n++ {
		pu := pt.Pages[n]
		if !pu.HasFrame() {
			if err := p.assign(ctx, pu); err != nil {
				return err
			}
		}
		b := p.pageSpan(seg.VirtualAddress, seg.Size, n)
		pu.FreeBytes -= b
		seg.Pages[n] = b
		pt.Current = n
	}
	seg.PhysicalAddress = p.address(pt.Pages[first], seg.VirtualAddress)

	log.G(ctx).WithFields(logrus.Fields{
		logfields.ProcessID:       pt.PID,
		logfields.Segment:         seg.Name,
		logfields.VirtualAddress:  seg.VirtualAddress,
		logfields.PhysicalAddress: seg.PhysicalAddress,
		logfields.Count:           len(seg.Pages),
	}).Debug("placed segment")
	return nil
}

// assign backs an untouched page with the lowest free frame id. When that id
// lies past RAM, the first resident page is written out to it and the new
// page takes over its RAM frame.
func (p *Pager) assign(ctx context.Context, pu *PageUnit) (err error) {
	id := p.frames.Acquire()
	if id < p.ramFrames {
		pu.Frame = id
		pu.Resident = true
		log.G(ctx).WithFields(logrus.Fields{
			logfields.ProcessID: pu.PID,
			logfields.Page:      pu.Number,
			logfields.Frame:     id,
		}).Debug("assigned frame")
		return nil
	}

	ctx, span := oc.StartSpan(ctx, "paging::Pager::swapOut", oc.WithClientSpanKind)
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(
		trace.Int64Attribute("pid", int64(pu.PID)),
		trace.Int64Attribute("page", int64(pu.Number)),
		trace.Int64Attribute("slot", int64(id)))

	victim := p.firstResident(nil)
	if victim == nil {
		return memerror.Invariantf("RAM is full but no page is resident")
	}
	ram, err := p.store.Frame(victim.Frame)
	if err != nil {
		return memerror.Invariantf("resident page %d of pid %d: %v", victim.Number, victim.PID, err)
	}
	if err := p.backing.WritePage(id, ram); err != nil {
		return errors.Wrapf(memerror.ErrSwapIO, "write out frame %d: %v", id, err)
	}
	clear(ram)

	pu.Frame, pu.Resident = victim.Frame, true
	victim.Frame, victim.Resident = id, false

	log.G(ctx).WithFields(logrus.Fields{
		logfields.ProcessID: pu.PID,
		logfields.Page:      pu.Number,
		logfields.Frame:     pu.Frame,
		logfields.Victim:    *victim,
		logfields.Slot:      id,
	}).Info("swapped out page")
	return nil
}

// firstResident returns the resident page with the lowest (pid, page number)
// that skip does not exclude.
func (p *Pager) firstResident(skip func(*PageUnit) bool) *PageUnit {
	for _, pt := range p.Tables() {
		for _, pu := range pt.Pages {
			if pu.Resident && (skip == nil || !skip(pu)) {
				return pu
			}
		}
	}
	return nil
}

// Reclaim gives the bytes seg recorded back to its pages. A page left with
// no bytes in use returns its frame to the recycler.
func (p *Pager) Reclaim(ctx context.Context, pt *PageTable, seg *segment.Segment) error {
	for n, b := range seg.Pages {
		pu, err := pt.Page(n)
		if err != nil {
			return memerror.Invariantf("segment %q of pid %d: %v", seg.Name, pt.PID, err)
		}
		if pu.FreeBytes+b > p.pageSize {
			return memerror.Invariantf("page %d of pid %d would have %d free bytes", n, pt.PID, pu.FreeBytes+b)
		}
		if b > 0 && !pu.HasFrame() {
			return memerror.Invariantf("page %d of pid %d holds data but has no frame", n, pt.PID)
		}
	}

	for _, n := range slices.Sorted(maps.Keys(seg.Pages)) {
		pu := pt.Pages[n]
		pu.FreeBytes += seg.Pages[n]
		if pu.FreeBytes == p.pageSize && pu.HasFrame() {
			log.G(ctx).WithFields(logrus.Fields{
				logfields.ProcessID: pt.PID,
				logfields.Page:      n,
				logfields.Frame:     pu.Frame,
			}).Debug("released frame")
			if err := p.release(pu); err != nil {
				return err
			}
		}
	}
	seg.Pages = nil
	return nil
}

func (p *Pager) release(pu *PageUnit) error {
	if pu.Resident {
		if err := p.store.Zero(pu.Frame); err != nil {
			return memerror.Invariantf("page %d of pid %d: %v", pu.Number, pu.PID, err)
		}
	}
	if err := p.frames.Release(pu.Frame); err != nil {
		return memerror.Invariantf("page %d of pid %d: %v", pu.Number, pu.PID, err)
	}
	pu.Frame = memory.NoFrame
	pu.Resident = false
	return nil
}

// Resolve brings every page of seg into RAM and refreshes its physical
// address.
func (p *Pager) Resolve(ctx context.Context, pt *PageTable, seg *segment.Segment) error {
	if len(seg.Pages) > p.ramFrames {
		return errors.Wrapf(errdefs.ErrResourceExhausted, "segment spans %d pages, RAM holds %d", len(seg.Pages), p.ramFrames)
	}
	for _, n := range slices.Sorted(maps.Keys(seg.Pages)) {
		pu, err := pt.Page(n)
		if err != nil {
			return memerror.Invariantf("segment %q of pid %d: %v", seg.Name, pt.PID, err)
		}
		if !pu.HasFrame() {
			return memerror.Invariantf("page %d of pid %d holds data but has no frame", n, pt.PID)
		}
		if pu.Resident {
			continue
		}
		if err := p.faultIn(ctx, pu, seg); err != nil {
			return err
		}
	}
	if seg.Size > 0 {
		seg.PhysicalAddress = p.address(pt.Pages[seg.VirtualAddress/p.pageSize], seg.VirtualAddress)
	}
	return nil
}

// faultIn reads pu back into RAM. A free RAM frame is used when there is one;
// otherwise pu trades places with the first resident page outside seg.
func (p *Pager) faultIn(ctx context.Context, pu *PageUnit, seg *segment.Segment) (err error) {
	slot := pu.Frame
	ctx, span := oc.StartSpan(ctx, "paging::Pager::swapIn", oc.WithClientSpanKind)
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(
		trace.Int64Attribute("pid", int64(pu.PID)),
		trace.Int64Attribute("page", int64(pu.Number)),
		trace.Int64Attribute("slot", int64(slot)))

	entry := log.G(ctx).WithFields(logrus.Fields{
		logfields.ProcessID: pu.PID,
		logfields.Page:      pu.Number,
		logfields.Slot:      slot,
	})

	if p.frames.Peek() < p.ramFrames {
		id := p.frames.Acquire()
		ram, err := p.store.Frame(id)
		if err != nil {
			return memerror.Invariantf("frame %d: %v", id, err)
		}
		if err := p.backing.ReadPage(slot, ram); err != nil {
			return errors.Wrapf(memerror.ErrSwapIO, "read back frame %d: %v", slot, err)
		}
		if err := p.frames.Release(slot); err != nil {
			return memerror.Invariantf("page %d of pid %d: %v", pu.Number, pu.PID, err)
		}
		pu.Frame, pu.Resident = id, true
		entry.WithField(logfields.Frame, id).Info("swapped in page")
		return nil
	}

	victim := p.firstResident(func(v *PageUnit) bool {
		_, ok := seg.Pages[v.Number]
		return v.PID == seg.PID && ok
	})
	if victim == nil {
		return memerror.Invariantf("RAM is full but no page outside %q is resident", seg.Name)
	}
	ram, err := p.store.Frame(victim.Frame)
	if err != nil {
		return memerror.Invariantf("resident page %d of pid %d: %v", victim.Number, victim.PID, err)
	}
	in := make([]byte, p.pageSize)
	if err := p.backing.ReadPage(slot, in); err != nil {
		return errors.Wrapf(memerror.ErrSwapIO, "read back frame %d: %v", slot, err)
	}
	if err := p.backing.WritePage(slot, ram); err != nil {
		return errors.Wrapf(memerror.ErrSwapIO, "write out frame %d: %v", slot, err)
	}
	copy(ram, in)

	pu.Frame, pu.Resident = victim.Frame, true
	victim.Frame, victim.Resident = slot, false
	entry.WithFields(logrus.Fields{
		logfields.Frame:  pu.Frame,
		logfields.Victim: *victim,
	}).Info("exchanged page with swap")
	return nil
}

// address returns frame × pageSize + vaddr % pageSize for the page holding vaddr.
func (p *Pager) address(pu *PageUnit, vaddr int) int {
	return pu.Frame*p.pageSize + vaddr%p.pageSize
}

// Translate returns the physical address of byte off of seg. The address
// names a RAM location only while the page is resident.
func (p *Pager) Translate(pt *PageTable, seg *segment.Segment, off int) (int, error) {
	if off < 0 || off >= seg.Size {
		return 0, errors.Wrapf(errdefs.ErrOutOfRange, "offset %d of %d byte segment", off, seg.Size)
	}
	vaddr := seg.VirtualAddress + off
	pu, err := pt.Page(vaddr / p.pageSize)
	if err != nil {
		return 0, err
	}
	if !pu.HasFrame() {
		return 0, memerror.Invariantf("page %d of pid %d holds data but has no frame", pu.Number, pt.PID)
	}
	return p.address(pu, vaddr), nil
}

// Locate returns the address of the first byte of seg and whether its page
// is swapped out. For a swapped page the address is the byte offset of its
// slot in the backing store.
func (p *Pager) Locate(pt *PageTable, seg *segment.Segment) (addr int, swapped bool, err error) {
	addr, err = p.Translate(pt, seg, 0)
	if err != nil {
		return 0, false, err
	}
	return addr, !pt.Pages[seg.VirtualAddress/p.pageSize].Resident, nil
}

// Write stores data at byte off of seg, faulting its pages in first.
func (p *Pager) Write(ctx context.Context, pt *PageTable, seg *segment.Segment, off int, data []byte) error {
	if off < 0 || off+len(data) > seg.Size {
		return errors.Wrapf(errdefs.ErrOutOfRange, "write of %d bytes at offset %d of %d byte segment", len(data), off, seg.Size)
	}
	if err := p.Resolve(ctx, pt, seg); err != nil {
		return err
	}
	return p.copyPages(pt, seg, off, len(data), func(addr, i, n int) error {
		return p.store.WriteAt(data[i:i+n], addr)
	})
}

// Read returns the bytes of seg, faulting its pages in first.
func (p *Pager) Read(ctx context.Context, pt *PageTable, seg *segment.Segment) ([]byte, error) {
	if err := p.Resolve(ctx, pt, seg); err != nil {
		return nil, err
	}
	out := make([]byte, seg.Size)
	err := p.copyPages(pt, seg, 0, seg.Size, func(addr, i, n int) error {
		return p.store.ReadAt(out[i:i+n], addr)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// copyPages calls fn once per page piece of [off, off+size) of seg with the
// physical address of the piece, its offset in the range and its length.
func (p *Pager) copyPages(pt *PageTable, seg *segment.Segment, off, size int, fn func(addr, i, n int) error) error {
	for i := 0; i < size; {
		vaddr := seg.VirtualAddress + off + i
		n := min(size-i, p.pageSize-vaddr%p.pageSize)
		addr, err := p.Translate(pt, seg, off+i)
		if err != nil {
			return err
		}
		if err := fn(addr, i, n); err != nil {
			return memerror.Invariantf("segment %q of pid %d: %v", seg.Name, pt.PID, err)
		}
		i += n
	}
	return nil
}
