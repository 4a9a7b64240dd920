package storage

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map. It backs unit tests and
// the in-process fallback path; production deployments use BadgerDB.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// MultiGet retrieves several keys under a single read lock.
func (m *MemoryDB) MultiGet(keys [][]byte) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(keys))
	for i, key := range keys {
		if v, ok := m.data[string(key)]; ok {
			out[i] = v
		}
	}
	return out, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix, in ascending order.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	for _, k := range m.sortedKeys() {
		if strings.HasPrefix(k, string(prefix)) {
			if err := fn([]byte(k), m.data[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

// RangeScan iterates keys within r in the requested direction.
func (m *MemoryDB) RangeScan(r Range, dir ScanDirection, fn func(key, value []byte) error) error {
	keys := m.sortedKeys()
	if dir == Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	for _, k := range keys {
		key := []byte(k)
		if r.Lo != nil {
			cmp := bytes.Compare(key, r.Lo)
			if cmp < 0 || (cmp == 0 && r.LoExclusive) {
				if dir == Forward {
					continue
				}
				break
			}
		}
		if r.Hi != nil {
			cmp := bytes.Compare(key, r.Hi)
			if cmp > 0 || (cmp == 0 && r.HiExclusive) {
				if dir == Forward {
					break
				}
				continue
			}
		}
		if err := fn(key, m.data[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDB) sortedKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewBatch returns a batch that applies its operations atomically with
// respect to other MemoryDB callers (held under a single lock on Commit).
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

type memoryOp struct {
	key   []byte
	value []byte
	del   bool // true means delete; value is then unused
}

type memoryBatch struct {
	db  *MemoryDB
	ops []memoryOp
}

func (b *memoryBatch) Put(key, value []byte) error {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	b.ops = append(b.ops, memoryOp{key: k, value: v})
	return nil
}

func (b *memoryBatch) Delete(key []byte) error {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, memoryOp{key: k, del: true})
	return nil
}

func (b *memoryBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.del {
			delete(b.db.data, string(op.key))
		} else {
			b.db.data[string(op.key)] = op.value
		}
	}
	return nil
}

// Flush is a no-op; MemoryDB has no durable backing store.
func (m *MemoryDB) Flush() error {
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}
