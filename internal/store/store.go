// Package store defines the host key-value store the cache is layered on and
// provides memory, bbolt, etcd and unix-socket backends for it.
package store

import (
	stderrors "errors"

	"github.com/jmgilman/go/errors"
)

const (
	// CodeQuotaExceeded reports that a write would take the store over capacity.
	CodeQuotaExceeded errors.ErrorCode = "QUOTA_EXCEEDED"
	// CodeUnsupported reports that the store cannot be used at all.
	CodeUnsupported errors.ErrorCode = "UNSUPPORTED"
)

// HostStore is a size-limited, synchronous string key-value store.
type HostStore interface {
	// Get returns the value stored at key; ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	// Set stores value at key. It fails with CodeQuotaExceeded when the store is full.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
	// Keys returns a snapshot of all keys in a stable order.
	Keys() ([]string, error)
	// Len returns the number of stored keys.
	Len() (int, error)
}

// IsQuotaExceeded reports whether any error in err's chain carries CodeQuotaExceeded.
func IsQuotaExceeded(err error) bool {
	for ; err != nil; err = stderrors.Unwrap(err) {
		if pe, ok := err.(errors.PlatformError); ok && pe.Code() == CodeQuotaExceeded {
			return true
		}
	}
	return false
}

func quotaExceeded(key string, need, limit int64) error {
	return errors.WithContextMap(
		errors.Newf(CodeQuotaExceeded, "store: quota exceeded writing %q", key),
		map[string]interface{}{"need": need, "limit": limit},
	)
}
