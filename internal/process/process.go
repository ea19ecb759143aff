// Package process keeps the record of every simulated process.
package process

import (
	"math/rand/v2"
	"time"

	"github.com/Microsoft/memsim/internal/paging"
	"github.com/Microsoft/memsim/internal/segment"
)

// FirstPID is the pid given to the first process created.
const FirstPID uint32 = 1024

// Segment size limits of a new process.
const (
	MinTextSize    = 2048
	MaxTextSize    = 16384
	MinGlobalsSize = 0
	MaxGlobalsSize = 1024
	StackSize      = 65536
)

// SizeFunc returns the size of the initial segment called name.
type SizeFunc func(name string) int

// RandomSizes draws TEXT and GLOBALS sizes uniformly from their ranges. A zero
// seed is replaced by the current time.
func RandomSizes(seed uint64) SizeFunc {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func(name string) int {
		switch name {
		case segment.Text:
			return MinTextSize + r.IntN(MaxTextSize-MinTextSize+1)
		case segment.Globals:
			return MinGlobalsSize + r.IntN(MaxGlobalsSize-MinGlobalsSize+1)
		default:
			return StackSize
		}
	}
}

// Process is the record of one simulated process.
type Process struct {
	PID         uint32
	CodeSize    int
	GlobalsSize int
	StackSize   int
	Table       *paging.PageTable
}

// TotalFree returns the bytes of virtual space not yet holding a segment.
func (p *Process) TotalFree() int {
	return p.Table.Free()
}

// InitialSegment is one of the segments every process starts with.
type InitialSegment struct {
	Name string
	Size int
}

// InitialSegments returns the TEXT, GLOBALS and STACK sizes in placement order.
func (p *Process) InitialSegments() []InitialSegment {
	return []InitialSegment{
		{segment.Text, p.CodeSize},
		{segment.Globals, p.GlobalsSize},
		{segment.Stack, p.StackSize},
	}
}
