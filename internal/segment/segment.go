package segment

import (
	"maps"

	"github.com/Microsoft/memsim/internal/datatype"
)

// Names of the segments every process is created with.
const (
	Text    = "<TEXT>"
	Globals = "<GLOBALS>"
	Stack   = "<STACK>"
)

// FreeSpaceName is the name shown for holes.
const FreeSpaceName = "<FREE_SPACE>"

// Segment is a named contiguous range of a process's virtual address space.
type Segment struct {
	PID  uint32
	Name string
	Type datatype.Type
	// Size in bytes.
	Size int
	// VirtualAddress is the offset of the first byte in the process's virtual region.
	VirtualAddress int
	// PhysicalAddress of the first byte, as of the last placement or access.
	PhysicalAddress int
	// Swapped is set in dumps when the first page is in the backing store.
	// PhysicalAddress is then an offset into the store, not into RAM.
	Swapped bool
	// Pages maps page number to the number of bytes of this segment stored in it.
	Pages map[int]int
	// Set is true once a value has been written to a user variable.
	Set bool
}

// End returns the first virtual address past the segment.
func (s *Segment) End() int {
	return s.VirtualAddress + s.Size
}

// Count returns the number of elements the segment holds.
func (s *Segment) Count() int {
	return s.Size / s.Type.Width()
}

// IsVariable reports whether the segment was allocated by the user.
func (s *Segment) IsVariable() bool {
	return s.Type.IsElement()
}

// Clone returns a deep copy of s.
func (s *Segment) Clone() *Segment {
	c := *s
	c.Pages = maps.Clone(s.Pages)
	return &c
}
