package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB implements DB using an embedded Badger instance.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger creates a new Badger database at the given path.
func NewBadger(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger's built-in logging; the indexer logs via zerolog.

	db, err := badger.Open(opts)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Cannot acquire directory lock") ||
			strings.Contains(errMsg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("database at %s is locked by another process (is another indexer instance running?): %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	return &BadgerDB{db: db}, nil
}

// Get retrieves a value by key. Returns an error if the key does not exist.
func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

// MultiGet retrieves several keys in a single read transaction. Missing
// keys yield a nil entry at the same index rather than aborting the batch.
func (b *BadgerDB) MultiGet(keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := b.db.View(func(txn *badger.Txn) error {
		for i, key := range keys {
			item, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[i] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger multi_get: %w", err)
	}
	return out, nil
}

// Put stores a key-value pair.
func (b *BadgerDB) Put(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (b *BadgerDB) Delete(key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (b *BadgerDB) Has(key []byte) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger has: %w", err)
	}
	return exists, nil
}

// ForEach iterates over all keys with the given prefix, in ascending order.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RangeScan iterates keys within r. Forward scans may leave Lo/Hi open;
// Reverse scans require Hi since Badger's reverse iterator must be seeded
// with a concrete starting key.
func (b *BadgerDB) RangeScan(r Range, dir ScanDirection, fn func(key, value []byte) error) error {
	if dir == Reverse && r.Hi == nil {
		return fmt.Errorf("storage: reverse range scan requires an Hi bound")
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = dir == Reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := r.Lo
		if dir == Reverse {
			seek = r.Hi
		}

		for it.Seek(seek); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			if dir == Forward {
				if r.Hi != nil {
					cmp := bytes.Compare(key, r.Hi)
					if cmp > 0 || (cmp == 0 && r.HiExclusive) {
						break
					}
				}
				if r.Lo != nil && r.LoExclusive && bytes.Equal(key, r.Lo) {
					continue
				}
			} else {
				if r.Lo != nil {
					cmp := bytes.Compare(key, r.Lo)
					if cmp < 0 || (cmp == 0 && r.LoExclusive) {
						break
					}
				}
				if r.Hi != nil && r.HiExclusive && bytes.Equal(key, r.Hi) {
					continue
				}
			}

			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// NewBatch returns an atomic write batch backed by Badger's native
// WriteBatch.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{wb: b.db.NewWriteBatch()}
}

type badgerBatch struct {
	wb *badger.WriteBatch
}

func (bb *badgerBatch) Put(key, value []byte) error {
	return bb.wb.Set(key, value)
}

func (bb *badgerBatch) Delete(key []byte) error {
	return bb.wb.Delete(key)
}

func (bb *badgerBatch) Commit() error {
	return bb.wb.Flush()
}

// Flush forces pending memtable writes to stable storage.
func (b *BadgerDB) Flush() error {
	return b.db.Sync()
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}
