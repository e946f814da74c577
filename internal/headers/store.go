// Package headers persists the headers of stabilized blocks. Once a
// block's transactions are ingested into the UTXO set its body is
// discarded, but the 80-byte header stays retrievable by height or hash.
package headers

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/DemoYeti/bitcoin-canister/internal/storage"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// Key prefixes for the header store.
var (
	prefixHeight = []byte("hh/") // hh/<height(4)> -> header(80)
	prefixHash   = []byte("hb/") // hb/<hash(32)>  -> height(4)
)

// Store persists stable block headers to a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a header store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// InsertBlock stores a block's header at the given height.
func (s *Store) InsertBlock(block *btcutil.Block, height types.Height) error {
	var buf bytes.Buffer
	if err := block.MsgBlock().Header.Serialize(&buf); err != nil {
		return fmt.Errorf("header serialize: %w", err)
	}
	if err := s.db.Put(heightKey(height), buf.Bytes()); err != nil {
		return fmt.Errorf("header put: %w", err)
	}

	var heightBuf [4]byte
	binary.BigEndian.PutUint32(heightBuf[:], height)
	if err := s.db.Put(hashKey(*block.Hash()), heightBuf[:]); err != nil {
		return fmt.Errorf("header hash index put: %w", err)
	}
	return nil
}

// GetByHeight retrieves a stable header by its height.
func (s *Store) GetByHeight(height types.Height) (*wire.BlockHeader, bool, error) {
	raw, err := s.db.Get(heightKey(height))
	if err != nil {
		return nil, false, nil
	}
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, false, fmt.Errorf("header deserialize: %w", err)
	}
	return &header, true, nil
}

// GetByHash retrieves a stable header and its height by block hash.
func (s *Store) GetByHash(hash chainhash.Hash) (*wire.BlockHeader, types.Height, bool, error) {
	raw, err := s.db.Get(hashKey(hash))
	if err != nil {
		return nil, 0, false, nil
	}
	if len(raw) != 4 {
		return nil, 0, false, fmt.Errorf("corrupt header hash index: got %d bytes", len(raw))
	}
	height := binary.BigEndian.Uint32(raw)
	header, ok, err := s.GetByHeight(height)
	if err != nil || !ok {
		return nil, 0, false, err
	}
	return header, height, true, nil
}

// Snapshot captures all stored headers in ascending key order.
func (s *Store) Snapshot() ([]KV, error) {
	var kvs []KV
	for _, prefix := range [][]byte{prefixHeight, prefixHash} {
		err := s.db.ForEach(prefix, func(key, value []byte) error {
			kvs = append(kvs, KV{
				K: append([]byte(nil), key...),
				V: append([]byte(nil), value...),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return kvs, nil
}

// FromSnapshot rebuilds a header store into the given (empty) namespace.
func FromSnapshot(db storage.DB, kvs []KV) (*Store, error) {
	for _, kv := range kvs {
		if err := db.Put(kv.K, kv.V); err != nil {
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

// KV is one key-value pair of the serialized store.
type KV struct {
	K []byte `codec:"k"`
	V []byte `codec:"v"`
}

func heightKey(height types.Height) []byte {
	key := make([]byte, len(prefixHeight)+4)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint32(key[len(prefixHeight):], height)
	return key
}

func hashKey(hash chainhash.Hash) []byte {
	key := make([]byte, len(prefixHash)+chainhash.HashSize)
	copy(key, prefixHash)
	copy(key[len(prefixHash):], hash[:])
	return key
}
