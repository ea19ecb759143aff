package memory

import (
	"container/heap"
	"fmt"
)

// idHeap is a min-heap of recycled frame ids.
type idHeap []int

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x interface{}) {
	*h = append(*h, x.(int))
}

func (h *idHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// FrameAllocator hands out frame ids, always the lowest one not in use.
//
// Every recycled id is below next, so the heap minimum (when present) is the
// lowest free id overall.
type FrameAllocator struct {
	next     int
	recycled idHeap
	used     map[int]struct{}
}

var _ Frames = &FrameAllocator{}

// NewFrameAllocator returns an allocator with no frames in use.
func NewFrameAllocator() *FrameAllocator {
	return &FrameAllocator{
		used: make(map[int]struct{}),
	}
}

// Peek returns the id the next call to Acquire will return.
func (fa *FrameAllocator) Peek() int {
	if len(fa.recycled) > 0 {
		return fa.recycled[0]
	}
	return fa.next
}

// Acquire returns the lowest free frame id and marks it used.
func (fa *FrameAllocator) Acquire() int {
	var id int
	if len(fa.recycled) > 0 {
		id = heap.Pop(&fa.recycled).(int)
	} else {
		id = fa.next
		fa.next++
	}
	fa.used[id] = struct{}{}
	return id
}

// Release returns frame to the pool.
func (fa *FrameAllocator) Release(frame int) error {
	if frame < 0 {
		return fmt.Errorf("release frame %d: %w", frame, ErrInvalidFrame)
	}
	if _, ok := fa.used[frame]; !ok {
		return fmt.Errorf("release frame %d: %w", frame, ErrNotAllocated)
	}
	delete(fa.used, frame)
	heap.Push(&fa.recycled, frame)
	return nil
}

// InUse returns the number of frame ids handed out.
func (fa *FrameAllocator) InUse() int {
	return len(fa.used)
}

// IsUsed reports whether frame is currently handed out.
func (fa *FrameAllocator) IsUsed(frame int) bool {
	_, ok := fa.used[frame]
	return ok
}
