package swap

import (
	"encoding/binary"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/Microsoft/memsim/internal/log"
	"github.com/Microsoft/memsim/internal/logfields"
)

const schemaVersion = "v1"

var (
	bucketKeyVersion = []byte(schemaVersion)

	bucketKeyMeta  = []byte("meta")
	bucketKeyPages = []byte("pages")

	keyPageSize = []byte("pagesize")
	keySize     = []byte("size")
)

// Below is the current database schema. This should be updated any time the schema is
// changed or updated. The version should be incremented if breaking changes are made.
//  └──v1                             - Schema version bucket
//     ├──meta                        - Geometry of the store
//     │    ├──pagesize : <uint64>
//     │    └──size     : <uint64>
//     └──pages                       - Page images
//          └──frame (big endian uint64) : <pageSize bytes>

// openTimeout bounds a single attempt to take the database file lock.
const openTimeout = 250 * time.Millisecond

// BoltBacking keeps page images in a bolt database keyed by frame id.
type BoltBacking struct {
	db       *bolt.DB
	size     int64
	pageSize int
}

var _ Backing = &BoltBacking{}

// OpenBolt opens the database at path, retrying while another process holds
// its lock. A database created with a different geometry is rejected.
func OpenBolt(path string, size int64, pageSize int) (*BoltBacking, error) {
	var db *bolt.DB
	op := func() (err error) {
		db, err = bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
		if err != nil && !errors.Is(err, bolt.ErrTimeout) {
			return backoff.Permanent(err)
		}
		return err
	}
	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		log.L.WithFields(logrus.Fields{
			logfields.Path:     path,
			logfields.Attempt:  attempt,
			logfields.Timeout:  openTimeout,
			logfields.Duration: wait,
		}).WithError(err).Warn("swap database is locked, retrying")
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, errors.Wrap(err, "failed to open swap database")
	}

	bb := &BoltBacking{db: db, size: size, pageSize: pageSize}
	if err := bb.checkGeometry(); err != nil {
		db.Close()
		return nil, err
	}
	return bb, nil
}

func (bb *BoltBacking) checkGeometry() error {
	return bb.db.Update(func(tx *bolt.Tx) error {
		bkt, err := createBucketIfNotExists(tx, bucketKeyVersion, bucketKeyMeta)
		if err != nil {
			return err
		}
		ps, sz := bkt.Get(keyPageSize), bkt.Get(keySize)
		if ps == nil || sz == nil {
			if err := bkt.Put(keyPageSize, encodeUint(uint64(bb.pageSize))); err != nil {
				return err
			}
			return bkt.Put(keySize, encodeUint(uint64(bb.size)))
		}
		if binary.BigEndian.Uint64(ps) != uint64(bb.pageSize) || binary.BigEndian.Uint64(sz) != uint64(bb.size) {
			return errors.Wrapf(ErrInvalidSize, "database has page size %d and size %d, expected %d and %d",
				binary.BigEndian.Uint64(ps), binary.BigEndian.Uint64(sz), bb.pageSize, bb.size)
		}
		return nil
	})
}

func (bb *BoltBacking) ReadPage(frame int, p []byte) error {
	if err := checkFrame(frame, bb.pageSize, bb.size, len(p)); err != nil {
		return err
	}
	return bb.db.View(func(tx *bolt.Tx) error {
		clear(p)
		bkt := getBucket(tx, bucketKeyVersion, bucketKeyPages)
		if bkt == nil {
			return nil
		}
		// the value is only valid for the life of the transaction
		copy(p, bkt.Get(encodeUint(uint64(frame))))
		return nil
	})
}

func (bb *BoltBacking) WritePage(frame int, p []byte) error {
	if err := checkFrame(frame, bb.pageSize, bb.size, len(p)); err != nil {
		return err
	}
	return bb.db.Update(func(tx *bolt.Tx) error {
		bkt, err := createBucketIfNotExists(tx, bucketKeyVersion, bucketKeyPages)
		if err != nil {
			return err
		}
		return bkt.Put(encodeUint(uint64(frame)), append([]byte(nil), p...))
	})
}

func (bb *BoltBacking) Close() error {
	return bb.db.Close()
}

func encodeUint(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// taken from containerd/containerd/metadata/buckets.go
func getBucket(tx *bolt.Tx, keys ...[]byte) *bolt.Bucket {
	bkt := tx.Bucket(keys[0])

	for _, key := range keys[1:] {
		if bkt == nil {
			break
		}
		bkt = bkt.Bucket(key)
	}

	return bkt
}

// taken from containerd/containerd/metadata/buckets.go
func createBucketIfNotExists(tx *bolt.Tx, keys ...[]byte) (*bolt.Bucket, error) {
	bkt, err := tx.CreateBucketIfNotExists(keys[0])
	if err != nil {
		return nil, err
	}

	for _, key := range keys[1:] {
		bkt, err = bkt.CreateBucketIfNotExists(key)
		if err != nil {
			return nil, err
		}
	}

	return bkt, nil
}
