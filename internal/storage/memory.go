package storage

import (
	"bytes"
	"errors"

	"github.com/google/btree"
)

type memItem struct {
	key   []byte
	value []byte
}

func memLess(a, b memItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MemoryDB implements DB using an in-memory B-tree so that iteration is
// ordered, matching the on-disk backends.
type MemoryDB struct {
	tree *btree.BTreeG[memItem]
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		tree: btree.NewG(32, memLess),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	item, ok := m.tree.Get(memItem{key: key})
	if !ok {
		return nil, errors.New("key not found")
	}
	return item.value, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	m.tree.ReplaceOrInsert(memItem{key: k, value: v})
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.tree.Delete(memItem{key: key})
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	return m.tree.Has(memItem{key: key}), nil
}

// ForEach iterates over all keys with the given prefix in ascending order.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	var iterErr error
	m.tree.AscendGreaterOrEqual(memItem{key: prefix}, func(item memItem) bool {
		if !bytes.HasPrefix(item.key, prefix) {
			return false
		}
		if err := fn(item.key, item.value); err != nil {
			iterErr = err
			return false
		}
		return true
	})
	return iterErr
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

// NewBatch returns a batch that buffers writes and applies them on Commit.
func (m *MemoryDB) NewBatch() Batch {
	return &memBatch{db: m}
}

type memBatch struct {
	db  *MemoryDB
	ops []memItem // value nil means delete
}

func (b *memBatch) Put(key, value []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	b.ops = append(b.ops, memItem{key: k, value: v})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	b.ops = append(b.ops, memItem{key: k})
	return nil
}

func (b *memBatch) Commit() error {
	for _, op := range b.ops {
		if op.value == nil {
			b.db.tree.Delete(memItem{key: op.key})
		} else {
			b.db.tree.ReplaceOrInsert(op)
		}
	}
	b.ops = nil
	return nil
}
