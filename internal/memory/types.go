package memory

import "github.com/pkg/errors"

const (
	KiB = 1024
	MiB = KiB * 1024
	GiB = MiB * 1024
)

const (
	// DefaultRAMSize is the size of the simulated physical memory.
	DefaultRAMSize = 64 * MiB
	// DefaultTotalSize is the combined RAM and swap capacity.
	DefaultTotalSize = 512 * MiB
)

// NoFrame marks a page that has never been backed by a frame.
const NoFrame = -1

var (
	ErrOutOfBounds  = errors.New("physical access out of bounds")
	ErrNotAllocated = errors.New("frame is not allocated")
	ErrInvalidFrame = errors.New("invalid frame number")
)

// Frames is the interface a frame-id recycler implements.
type Frames interface {
	// Acquire returns the numerically smallest unused frame id and marks it used.
	Acquire() int
	// Peek returns the id Acquire would return without marking it.
	Peek() int
	// Release returns a used frame id to the pool.
	Release(frame int) error
	// InUse returns the number of frame ids currently handed out.
	InUse() int
}
