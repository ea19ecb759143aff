package process

import (
	"maps"
	"slices"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"

	"github.com/Microsoft/memsim/internal/paging"
	"github.com/Microsoft/memsim/internal/segment"
)

// Directory maps pid to process record.
type Directory struct {
	next      uint32
	sizes     SizeFunc
	processes map[uint32]*Process
}

// NewDirectory returns an empty directory drawing segment sizes from sizes.
func NewDirectory(sizes SizeFunc) *Directory {
	return &Directory{
		next:      FirstPID,
		sizes:     sizes,
		processes: make(map[uint32]*Process),
	}
}

// New builds the record of the next process with an untouched page table.
// The record is not added until Add is called; a rejected creation still
// consumes its pid.
func (d *Directory) New(pageSize, virtualSize int) *Process {
	p := &Process{
		PID:         d.next,
		CodeSize:    d.sizes(segment.Text),
		GlobalsSize: d.sizes(segment.Globals),
		StackSize:   d.sizes(segment.Stack),
		Table:       paging.NewPageTable(d.next, pageSize, virtualSize),
	}
	d.next++
	return p
}

// Add records p.
func (d *Directory) Add(p *Process) error {
	if _, ok := d.processes[p.PID]; ok {
		return errors.Wrapf(errdefs.ErrAlreadyExists, "pid %d", p.PID)
	}
	d.processes[p.PID] = p
	return nil
}

// Get returns the process pid.
func (d *Directory) Get(pid uint32) (*Process, error) {
	p, ok := d.processes[pid]
	if !ok {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "pid %d", pid)
	}
	return p, nil
}

// Remove forgets the process pid.
func (d *Directory) Remove(pid uint32) error {
	if _, err := d.Get(pid); err != nil {
		return err
	}
	delete(d.processes, pid)
	return nil
}

// List returns every process ordered by pid.
func (d *Directory) List() []*Process {
	out := make([]*Process, 0, len(d.processes))
	for _, pid := range slices.Sorted(maps.Keys(d.processes)) {
		out = append(out, d.processes[pid])
	}
	return out
}

// Len returns the number of processes.
func (d *Directory) Len() int {
	return len(d.processes)
}
