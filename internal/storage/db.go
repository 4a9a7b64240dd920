// Package storage provides ordered key-value database abstractions used
// by the token store's column families.
package storage

import "errors"

// ErrNotFound is returned by Get when the key has no entry. Implementations
// must return this exact sentinel (wrapped or bare) so callers can use
// errors.Is regardless of backend.
var ErrNotFound = errors.New("storage: key not found")

// ScanDirection selects the iteration order of a range scan.
type ScanDirection int

const (
	// Forward iterates keys in ascending lexicographic order.
	Forward ScanDirection = iota
	// Reverse iterates keys in descending lexicographic order.
	Reverse
)

// Range describes a bounded key range for RangeScan. A nil Lo/Hi bound is
// open on that side. LoExclusive/HiExclusive control whether the
// respective bound is excluded from the scan.
type Range struct {
	Lo, Hi                   []byte
	LoExclusive, HiExclusive bool
}

// DB is the interface for ordered key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	MultiGet(keys [][]byte) ([][]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)

	// ForEach iterates over all keys with the given prefix in ascending
	// order. The callback receives a copy of the key; the value slice is
	// not a copy and must not be retained or modified after fn returns.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error

	// RangeScan iterates keys within r in the requested direction,
	// independent of any shared prefix. Return a non-nil error from fn to
	// stop iteration early.
	RangeScan(r Range, dir ScanDirection, fn func(key, value []byte) error) error

	// NewBatch returns an atomic write batch.
	NewBatch() Batch

	// Flush durably persists any buffered writes for this handle.
	Flush() error

	Close() error
}

// Batch accumulates Put/Delete operations for a single atomic Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by a DB that can produce a native atomic Batch.
// DBs that cannot (e.g. a plain map) fall back to a non-atomic replay.
type Batcher interface {
	NewBatch() Batch
}
