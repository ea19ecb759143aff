package memory

import "fmt"

// Store is the flat byte pool backing the RAM frames.
type Store struct {
	pageSize int
	data     []byte
}

// NewStore returns a zeroed store of size bytes split into pageSize frames.
func NewStore(size, pageSize int) *Store {
	return &Store{
		pageSize: pageSize,
		data:     make([]byte, size),
	}
}

// Size returns the capacity of the store in bytes.
func (s *Store) Size() int {
	return len(s.data)
}

// Frames returns the number of frames the store holds.
func (s *Store) Frames() int {
	return len(s.data) / s.pageSize
}

// PageSize returns the frame size of the store.
func (s *Store) PageSize() int {
	return s.pageSize
}

// ReadAt copies len(p) bytes starting at physical address addr into p.
func (s *Store) ReadAt(p []byte, addr int) error {
	if err := s.check(addr, len(p)); err != nil {
		return err
	}
	copy(p, s.data[addr:addr+len(p)])
	return nil
}

// WriteAt copies p into the store starting at physical address addr.
func (s *Store) WriteAt(p []byte, addr int) error {
	if err := s.check(addr, len(p)); err != nil {
		return err
	}
	copy(s.data[addr:], p)
	return nil
}

// Frame returns the bytes of frame f. The slice aliases the store.
func (s *Store) Frame(f int) ([]byte, error) {
	if f < 0 || f >= s.Frames() {
		return nil, fmt.Errorf("frame %d: %w", f, ErrInvalidFrame)
	}
	off := f * s.pageSize
	return s.data[off : off+s.pageSize], nil
}

// Zero clears frame f.
func (s *Store) Zero(f int) error {
	b, err := s.Frame(f)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}

func (s *Store) check(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > len(s.data) {
		return fmt.Errorf("access [%#x, %#x) of %#x: %w", addr, addr+n, len(s.data), ErrOutOfBounds)
	}
	return nil
}
