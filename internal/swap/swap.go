// Package swap holds the backing store that extends physical memory.
//
// Frame ids at or above the RAM frame count do not live in the physical
// store; their page images are kept by a [Backing] at offset
// frame × pageSize.
package swap

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Microsoft/memsim/internal/log"
	"github.com/Microsoft/memsim/internal/logfields"
)

// Backend names accepted by [Open].
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

var (
	ErrInvalidSize = errors.New("backing store has the wrong size")
	ErrOutOfRange  = errors.New("frame is outside the backing store")
)

//go:generate mockgen -source=swap.go -package=mock -destination=mock/backing.go

// Backing stores page images for frames that are not resident in RAM.
type Backing interface {
	// ReadPage fills p with the image stored for frame. A frame never written
	// reads as zeroes.
	ReadPage(frame int, p []byte) error
	// WritePage stores p as the image of frame.
	WritePage(frame int, p []byte) error
	// Close releases the store.
	Close() error
}

// Config describes the backing store to open.
type Config struct {
	// Backend is BackendFile or BackendBolt.
	Backend string
	// Path of the swap file or bolt database.
	Path string
	// Size is the combined RAM and swap capacity in bytes.
	Size int64
	// PageSize is the size of one page image.
	PageSize int
}

// Open opens (creating if needed) the backing store described by c.
func Open(c Config) (b Backing, err error) {
	switch c.Backend {
	case "", BackendFile:
		b, err = OpenFile(c.Path, c.Size, c.PageSize)
	case BackendBolt:
		b, err = OpenBolt(c.Path, c.Size, c.PageSize)
	default:
		return nil, errors.Errorf("unknown swap backend %q", c.Backend)
	}
	if err != nil {
		return nil, err
	}
	log.L.WithFields(logrus.Fields{
		logfields.Backend: c.Backend,
		logfields.Path:    c.Path,
		logfields.Size:    c.Size,
	}).Debug("opened backing store")
	return b, nil
}

func checkFrame(frame, pageSize int, size int64, n int) error {
	if n != pageSize {
		return errors.Errorf("page image of %d bytes, expected %d", n, pageSize)
	}
	if frame < 0 || int64(frame+1)*int64(pageSize) > size {
		return errors.Wrapf(ErrOutOfRange, "frame %d", frame)
	}
	return nil
}
