// Package vmm is the memory manager of the simulator. A [Manager] owns the
// physical store, the frame recycler, the page tables and the segment and
// process directories, and runs every operation on them as one atomic unit.
package vmm

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/Microsoft/memsim/internal/config"
	"github.com/Microsoft/memsim/internal/datatype"
	"github.com/Microsoft/memsim/internal/log"
	"github.com/Microsoft/memsim/internal/logfields"
	"github.com/Microsoft/memsim/internal/memerror"
	"github.com/Microsoft/memsim/internal/memory"
	"github.com/Microsoft/memsim/internal/oc"
	"github.com/Microsoft/memsim/internal/paging"
	"github.com/Microsoft/memsim/internal/process"
	"github.com/Microsoft/memsim/internal/segment"
	"github.com/Microsoft/memsim/internal/swap"
)

// Manager is the memory-manager context. It is safe for concurrent use;
// operations are serialized.
type Manager struct {
	mu sync.Mutex

	pageSize    int
	virtualSize int

	frames    *memory.FrameAllocator
	pager     *paging.Pager
	allocator *segment.Allocator
	segments  *segment.Directory
	processes *process.Directory
}

// New returns a manager for the validated configuration c. Page images that
// do not fit in RAM go to backing, which the caller owns. A nil sizes draws
// initial segment sizes from the configured seed.
func New(c *config.Config, backing swap.Backing, sizes process.SizeFunc) (*Manager, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if sizes == nil {
		sizes = process.RandomSizes(c.Seed)
	}
	frames := memory.NewFrameAllocator()
	store := memory.NewStore(c.RAMSize, c.PageSize)
	return &Manager{
		pageSize:    c.PageSize,
		virtualSize: c.VirtualSize,
		frames:      frames,
		pager:       paging.NewPager(store, frames, backing, c.TotalSize()),
		allocator:   segment.NewAllocator(),
		segments:    segment.NewDirectory(),
		processes:   process.NewDirectory(sizes),
	}, nil
}

// PageSize returns the configured page size.
func (m *Manager) PageSize() int {
	return m.pageSize
}

func isReserved(name string) bool {
	return strings.HasPrefix(name, "<")
}

// CreateProcess creates a process and places its TEXT, GLOBALS and STACK
// segments.
func (m *Manager) CreateProcess(ctx context.Context) (pid uint32, err error) {
	ctx, span := oc.StartSpan(ctx, "vmm::Manager::CreateProcess")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.processes.New(m.pageSize, m.virtualSize)
	span.AddAttributes(trace.Int64Attribute("pid", int64(p.PID)))
	ctx, entry := log.S(ctx, logrus.Fields{logfields.ProcessID: p.PID})

	if err := m.allocator.Init(p.PID, m.virtualSize); err != nil {
		return 0, memerror.New(err, "create", p.PID, "")
	}
	if err := m.pager.AddTable(p.Table); err != nil {
		m.allocator.Drop(p.PID)
		return 0, memerror.New(err, "create", p.PID, "")
	}
	if err := m.processes.Add(p); err != nil {
		m.discard(ctx, p.PID)
		return 0, memerror.New(err, "create", p.PID, "")
	}
	for _, s := range p.InitialSegments() {
		if err := m.allocate(ctx, p, s.Name, datatype.Opaque, s.Size); err != nil {
			if !memerror.IsAny(err, memerror.ErrSwapIO, memerror.ErrInvariant) {
				m.discard(ctx, p.PID)
			}
			return 0, memerror.New(err, "create", p.PID, s.Name)
		}
	}

	entry.WithFields(logrus.Fields{
		"code":    p.CodeSize,
		"globals": p.GlobalsSize,
		"stack":   p.StackSize,
	}).Info("created process")
	return p.PID, nil
}

// discard removes every trace of a process whose creation failed.
func (m *Manager) discard(ctx context.Context, pid uint32) {
	for _, s := range m.segments.RemoveAll(pid) {
		log.G(ctx).WithField(logfields.Segment, s.Name).Debug("rolling back segment")
	}
	if _, err := m.pager.RemoveTable(ctx, pid); err != nil {
		log.G(ctx).WithError(err).Warn("failed to release page table")
	}
	m.allocator.Drop(pid)
	_ = m.processes.Remove(pid)
}

// allocate reserves size bytes for a new segment of p and places it. On a
// recoverable failure nothing is left behind.
func (m *Manager) allocate(ctx context.Context, p *process.Process, name string, typ datatype.Type, size int) error {
	if m.segments.Has(p.PID, name) {
		return errors.Wrapf(errdefs.ErrAlreadyExists, "segment %q", name)
	}
	if size > p.TotalFree() {
		return errors.Wrapf(memerror.ErrOutOfPagingSpace, "%d bytes requested, %d free", size, p.TotalFree())
	}
	addr, err := m.allocator.Reserve(p.PID, size)
	if err != nil {
		return err
	}
	seg := &segment.Segment{
		PID:            p.PID,
		Name:           name,
		Type:           typ,
		Size:           size,
		VirtualAddress: addr,
	}
	if err := m.pager.Place(ctx, p.Table, seg); err != nil {
		if memerror.IsAny(err, memerror.ErrSwapIO, memerror.ErrInvariant) {
			return err
		}
		if rerr := m.allocator.Release(p.PID, addr, size); rerr != nil {
			return rerr
		}
		return err
	}
	if err := m.segments.Add(seg); err != nil {
		return err
	}
	log.G(ctx).WithFields(logrus.Fields{
		logfields.Segment:         name,
		logfields.Type:            typ.String(),
		logfields.Size:            size,
		logfields.VirtualAddress:  seg.VirtualAddress,
		logfields.PhysicalAddress: seg.PhysicalAddress,
	}).Debug("allocated segment")
	return nil
}

// Allocate creates the variable name of count elements of typ in process pid.
func (m *Manager) Allocate(ctx context.Context, pid uint32, name string, typ datatype.Type, count int) (err error) {
	ctx, span := oc.StartSpan(ctx, "vmm::Manager::Allocate")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(
		trace.Int64Attribute("pid", int64(pid)),
		trace.StringAttribute("name", name),
		trace.StringAttribute("type", typ.String()),
		trace.Int64Attribute("count", int64(count)))

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.processes.Get(pid)
	if err != nil {
		return memerror.New(err, "allocate", pid, name)
	}
	switch {
	case name == "" || isReserved(name):
		err = errors.Wrapf(errdefs.ErrInvalidArgument, "invalid variable name %q", name)
	case !typ.IsElement():
		err = errors.Wrapf(errdefs.ErrInvalidArgument, "type %s cannot hold a variable", typ)
	case count <= 0:
		err = errors.Wrapf(errdefs.ErrInvalidArgument, "element count %d", count)
	}
	if err != nil {
		return memerror.New(err, "allocate", pid, name)
	}

	// Checked before multiplying so count*width cannot wrap.
	if count > p.TotalFree()/typ.Width() {
		err = errors.Wrapf(memerror.ErrOutOfPagingSpace, "%d %s elements requested, %d bytes free", count, typ, p.TotalFree())
		return memerror.New(err, "allocate", pid, name)
	}

	ctx, _ = log.S(ctx, logrus.Fields{logfields.ProcessID: pid})
	if err := m.allocate(ctx, p, name, typ, count*typ.Width()); err != nil {
		return memerror.New(err, "allocate", pid, name)
	}
	return nil
}

// variable returns the user variable name of pid with its page table.
func (m *Manager) variable(pid uint32, name string) (*process.Process, *segment.Segment, error) {
	p, err := m.processes.Get(pid)
	if err != nil {
		return nil, nil, err
	}
	seg, err := m.segments.Get(pid, name)
	if err != nil {
		return nil, nil, err
	}
	if !seg.IsVariable() {
		return nil, nil, errors.Wrapf(errdefs.ErrInvalidArgument, "segment %q is not a variable", name)
	}
	return p, seg, nil
}

// Set writes values into the variable name of pid starting at element offset.
func (m *Manager) Set(ctx context.Context, pid uint32, name string, offset int, values []string) (err error) {
	ctx, span := oc.StartSpan(ctx, "vmm::Manager::Set")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(
		trace.Int64Attribute("pid", int64(pid)),
		trace.StringAttribute("name", name),
		trace.Int64Attribute("offset", int64(offset)),
		trace.Int64Attribute("count", int64(len(values))))

	m.mu.Lock()
	defer m.mu.Unlock()

	p, seg, err := m.variable(pid, name)
	if err != nil {
		return memerror.New(err, "set", pid, name)
	}
	if offset < 0 || len(values) == 0 {
		return memerror.New(errors.Wrapf(errdefs.ErrInvalidArgument, "offset %d with %d values", offset, len(values)), "set", pid, name)
	}
	if offset > seg.Count() || len(values) > seg.Count()-offset {
		return memerror.New(errors.Wrapf(errdefs.ErrOutOfRange, "%d elements at offset %d exceed %d", len(values), offset, seg.Count()), "set", pid, name)
	}
	data, err := datatype.Encode(seg.Type, values)
	if err != nil {
		return memerror.New(err, "set", pid, name)
	}
	off := offset * seg.Type.Width()
	if err := m.pager.Write(ctx, p.Table, seg, off, data); err != nil {
		return memerror.New(err, "set", pid, name)
	}
	seg.Set = true

	log.G(ctx).WithFields(logrus.Fields{
		logfields.ProcessID:       pid,
		logfields.Segment:         name,
		logfields.Offset:          off,
		logfields.Bytes:           len(data),
		logfields.PhysicalAddress: seg.PhysicalAddress,
	}).Debug("stored values")
	return nil
}

// Get returns every element of the variable name of pid. The bytes are read
// when Get is called; the sequence decodes them lazily and can be ranged over
// more than once.
func (m *Manager) Get(ctx context.Context, pid uint32, name string) (_ iter.Seq[datatype.Value], err error) {
	ctx, span := oc.StartSpan(ctx, "vmm::Manager::Get")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(
		trace.Int64Attribute("pid", int64(pid)),
		trace.StringAttribute("name", name))

	m.mu.Lock()
	defer m.mu.Unlock()

	p, seg, err := m.variable(pid, name)
	if err != nil {
		return nil, memerror.New(err, "get", pid, name)
	}
	if !seg.Set {
		return nil, memerror.New(errors.Wrap(errdefs.ErrFailedPrecondition, "variable has no value"), "get", pid, name)
	}
	data, err := m.pager.Read(ctx, p.Table, seg)
	if err != nil {
		return nil, memerror.New(err, "get", pid, name)
	}
	return datatype.Decode(seg.Type, data), nil
}

// Free releases the variable name of pid, returning its range to the free
// list and any page it leaves empty to the frame recycler.
func (m *Manager) Free(ctx context.Context, pid uint32, name string) (err error) {
	ctx, span := oc.StartSpan(ctx, "vmm::Manager::Free")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(
		trace.Int64Attribute("pid", int64(pid)),
		trace.StringAttribute("name", name))

	m.mu.Lock()
	defer m.mu.Unlock()

	p, seg, err := m.variable(pid, name)
	if err != nil {
		return memerror.New(err, "free", pid, name)
	}
	if err := m.pager.Reclaim(ctx, p.Table, seg); err != nil {
		return memerror.New(err, "free", pid, name)
	}
	if err := m.allocator.Release(pid, seg.VirtualAddress, seg.Size); err != nil {
		return memerror.New(err, "free", pid, name)
	}
	if _, err := m.segments.Remove(pid, name); err != nil {
		return memerror.New(err, "free", pid, name)
	}

	log.G(ctx).WithFields(logrus.Fields{
		logfields.ProcessID:      pid,
		logfields.Segment:        name,
		logfields.VirtualAddress: seg.VirtualAddress,
		logfields.Size:           seg.Size,
	}).Debug("freed segment")
	return nil
}

// Terminate removes process pid and every segment it owns. The frame ids its
// pages held are returned in ascending order.
func (m *Manager) Terminate(ctx context.Context, pid uint32) (_ []int, err error) {
	ctx, span := oc.StartSpan(ctx, "vmm::Manager::Terminate")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.Int64Attribute("pid", int64(pid)))

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.processes.Get(pid); err != nil {
		return nil, memerror.New(err, "terminate", pid, "")
	}
	released, err := m.pager.RemoveTable(ctx, pid)
	if err != nil {
		return nil, memerror.New(err, "terminate", pid, "")
	}
	segs := m.segments.RemoveAll(pid)
	m.allocator.Drop(pid)
	if err := m.processes.Remove(pid); err != nil {
		return nil, memerror.New(err, "terminate", pid, "")
	}

	span.AddAttributes(trace.StringAttribute("frames", log.Format(ctx, released)))
	log.G(ctx).WithFields(logrus.Fields{
		logfields.ProcessID: pid,
		logfields.Count:     len(segs),
		logfields.Frame:     released,
	}).Info("terminated process")
	return released, nil
}
