package store

import (
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	bolt "go.etcd.io/bbolt"
)

// BoltStore is a persistent HostStore backed by a single bbolt bucket.
// It is safe for concurrent use by multiple goroutines.
type BoltStore struct {
	db       *bolt.DB
	bucket   []byte
	maxBytes int64
	mu       sync.Mutex
	used     int64
}

type BoltOptions struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// MaxBytes caps the summed key and value sizes. <= 0 means unbounded.
	MaxBytes int64
}

// OpenBolt initializes or opens a BoltStore at the given path.
func OpenBolt(path string, opts BoltOptions) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "open bolt store %s", path)
	}
	bucket := []byte("kvcache")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	var used int64
	if err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			used += int64(len(k) + len(v))
			return nil
		})
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "prepare bolt bucket")
	}
	return &BoltStore{db: db, bucket: bucket, maxBytes: opts.MaxBytes, used: used}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Get(key string) (string, bool, error) {
	var out string
	var exists bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		exists = true
		out = string(v)
		return nil
	}); err != nil {
		return "", false, errors.Wrap(err, errors.CodeDatabase, "bolt get")
	}
	return out, exists, nil
}

// Set replaces key. The previous value's bytes are released before the quota check.
func (s *BoltStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	need := int64(len(key) + len(value))
	var delta int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var prev int64
		if old := b.Get([]byte(key)); old != nil {
			prev = int64(len(key) + len(old))
		}
		if s.maxBytes > 0 && s.used-prev+need > s.maxBytes {
			return quotaExceeded(key, need, s.maxBytes)
		}
		delta = need - prev
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		if IsQuotaExceeded(err) {
			return err
		}
		return errors.Wrap(err, errors.CodeDatabase, "bolt set")
	}
	s.used += delta
	return nil
}

func (s *BoltStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var freed int64
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if old := b.Get([]byte(key)); old != nil {
			freed = int64(len(key) + len(old))
		}
		return b.Delete([]byte(key))
	}); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "bolt remove")
	}
	s.used -= freed
	return nil
}

// Keys returns keys in bbolt's byte order.
func (s *BoltStore) Keys() ([]string, error) {
	var out []string
	if err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	}); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "bolt keys")
	}
	return out, nil
}

func (s *BoltStore) Len() (int, error) {
	var n int
	if err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	}); err != nil {
		return 0, errors.Wrap(err, errors.CodeDatabase, "bolt len")
	}
	return n, nil
}

// Used returns the number of bytes currently counted against the quota.
func (s *BoltStore) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}
