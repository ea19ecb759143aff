package swap

import (
	"os"

	"github.com/pkg/errors"
)

// FileBacking keeps page images in a capacity-sized file.
type FileBacking struct {
	f        *os.File
	size     int64
	pageSize int
}

var _ Backing = &FileBacking{}

// OpenFile opens the swap file at path. A missing file is created sparse at
// size bytes; an existing file must already be exactly size bytes.
func OpenFile(path string, size int64, pageSize int) (*FileBacking, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open swap file")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to stat swap file")
	}
	switch fi.Size() {
	case size:
	case 0:
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "failed to size swap file")
		}
	default:
		f.Close()
		return nil, errors.Wrapf(ErrInvalidSize, "%s is %d bytes, expected %d", path, fi.Size(), size)
	}
	return &FileBacking{f: f, size: size, pageSize: pageSize}, nil
}

func (fb *FileBacking) ReadPage(frame int, p []byte) error {
	if err := checkFrame(frame, fb.pageSize, fb.size, len(p)); err != nil {
		return err
	}
	_, err := fb.f.ReadAt(p, int64(frame)*int64(fb.pageSize))
	return errors.Wrapf(err, "read frame %d", frame)
}

func (fb *FileBacking) WritePage(frame int, p []byte) error {
	if err := checkFrame(frame, fb.pageSize, fb.size, len(p)); err != nil {
		return err
	}
	_, err := fb.f.WriteAt(p, int64(frame)*int64(fb.pageSize))
	return errors.Wrapf(err, "write frame %d", frame)
}

func (fb *FileBacking) Close() error {
	return fb.f.Close()
}
