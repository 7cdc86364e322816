// Package storage holds the key/value backends that persist save-directory
// contents. The engine never depends on a particular on-disk layout; it only
// needs byte blobs addressed by string keys.
package storage

import "errors"

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by any operation on a closed store.
	ErrClosed = errors.New("store closed")
)

// Store is a flat key/value blob store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	// Keys lists every key starting with prefix, in lexical order.
	Keys(prefix string) ([]string, error)
	Close() error
}
