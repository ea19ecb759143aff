package segment

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/containerd/errdefs"
	"github.com/samber/lo"
)

type key struct {
	pid  uint32
	name string
}

// Directory maps (pid, name) to the segment descriptor.
type Directory struct {
	segments map[key]*Segment
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		segments: make(map[key]*Segment),
	}
}

// Add records s. It fails if s.PID already has a segment named s.Name.
func (d *Directory) Add(s *Segment) error {
	k := key{s.PID, s.Name}
	if _, ok := d.segments[k]; ok {
		return fmt.Errorf("segment %q of pid %d: %w", s.Name, s.PID, errdefs.ErrAlreadyExists)
	}
	d.segments[k] = s
	return nil
}

// Get returns the segment named name of pid.
func (d *Directory) Get(pid uint32, name string) (*Segment, error) {
	s, ok := d.segments[key{pid, name}]
	if !ok {
		return nil, fmt.Errorf("segment %q of pid %d: %w", name, pid, errdefs.ErrNotFound)
	}
	return s, nil
}

// Has reports whether pid has a segment named name.
func (d *Directory) Has(pid uint32, name string) bool {
	_, ok := d.segments[key{pid, name}]
	return ok
}

// Remove deletes the segment named name of pid and returns it.
func (d *Directory) Remove(pid uint32, name string) (*Segment, error) {
	s, err := d.Get(pid, name)
	if err != nil {
		return nil, err
	}
	delete(d.segments, key{pid, name})
	return s, nil
}

// RemoveAll deletes every segment of pid and returns them ordered by address.
func (d *Directory) RemoveAll(pid uint32) []*Segment {
	out := d.ForPID(pid)
	for _, s := range out {
		delete(d.segments, key{s.PID, s.Name})
	}
	return out
}

// ForPID returns the segments of pid ordered by virtual address.
func (d *Directory) ForPID(pid uint32) []*Segment {
	out := lo.Filter(lo.Values(d.segments), func(s *Segment, _ int) bool {
		return s.PID == pid
	})
	slices.SortFunc(out, byAddress)
	return out
}

// All returns every segment ordered by pid, then virtual address.
func (d *Directory) All() []*Segment {
	out := lo.Values(d.segments)
	slices.SortFunc(out, byAddress)
	return out
}

// Len returns the number of segments recorded.
func (d *Directory) Len() int {
	return len(d.segments)
}

func byAddress(a, b *Segment) int {
	if c := cmp.Compare(a.PID, b.PID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.VirtualAddress, b.VirtualAddress); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}
