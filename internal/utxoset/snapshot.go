package utxoset

import (
	"fmt"

	"github.com/DemoYeti/bitcoin-canister/internal/storage"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// KV is one key-value pair of a serialized map.
type KV struct {
	K []byte `codec:"k"`
	V []byte `codec:"v"`
}

// Snapshot is the serializable form of a UtxoSet. Entries are listed in
// ascending key order, so identical sets produce identical snapshots.
type Snapshot struct {
	NextHeight   uint32  `codec:"next_height"`
	Small        []KV    `codec:"small_utxos"`
	Medium       []KV    `codec:"medium_utxos"`
	Large        []KV    `codec:"large_utxos"`
	AddressUtxos []KV    `codec:"address_utxos"`
	Ingesting    *KVPair `codec:"ingesting_block,omitempty"`
}

// KVPair carries the two durable records of a suspended ingestion.
type KVPair struct {
	Block []byte `codec:"block"`
	Pos   []byte `codec:"pos"`
}

func (s *UtxoSet) collect(prefix []byte) ([]KV, error) {
	var kvs []KV
	err := s.db.ForEach(prefix, func(key, value []byte) error {
		kvs = append(kvs, KV{
			K: append([]byte(nil), key[len(prefix):]...),
			V: append([]byte(nil), value...),
		})
		return nil
	})
	return kvs, err
}

// Snapshot captures the whole set, including any suspended ingestion.
func (s *UtxoSet) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{NextHeight: s.nextHeight}

	var err error
	if snap.Small, err = s.collect(prefixSmall); err != nil {
		return nil, fmt.Errorf("snapshot small shard: %w", err)
	}
	if snap.Medium, err = s.collect(prefixMedium); err != nil {
		return nil, fmt.Errorf("snapshot medium shard: %w", err)
	}
	if snap.Large, err = s.collect(prefixLarge); err != nil {
		return nil, fmt.Errorf("snapshot large shard: %w", err)
	}
	if snap.AddressUtxos, err = s.collect(prefixAddr); err != nil {
		return nil, fmt.Errorf("snapshot address index: %w", err)
	}

	if s.ingesting != nil {
		block, err := s.db.Get(keyIngestingBlock)
		if err != nil {
			return nil, fmt.Errorf("snapshot suspended ingestion: %w", err)
		}
		pos, err := s.db.Get(keyIngestPos)
		if err != nil {
			return nil, fmt.Errorf("snapshot suspended ingestion: %w", err)
		}
		snap.Ingesting = &KVPair{
			Block: append([]byte(nil), block...),
			Pos:   append([]byte(nil), pos...),
		}
	}
	return snap, nil
}

// FromSnapshot rebuilds a UtxoSet into the given (empty) storage
// namespace from a snapshot.
func FromSnapshot(db storage.DB, network types.Network, snap *Snapshot) (*UtxoSet, error) {
	write := func(prefix []byte, kvs []KV) error {
		for _, kv := range kvs {
			if err := db.Put(shardKey(prefix, kv.K), kv.V); err != nil {
				return err
			}
		}
		return nil
	}

	if err := write(prefixSmall, snap.Small); err != nil {
		return nil, fmt.Errorf("restore small shard: %w", err)
	}
	if err := write(prefixMedium, snap.Medium); err != nil {
		return nil, fmt.Errorf("restore medium shard: %w", err)
	}
	if err := write(prefixLarge, snap.Large); err != nil {
		return nil, fmt.Errorf("restore large shard: %w", err)
	}
	if err := write(prefixAddr, snap.AddressUtxos); err != nil {
		return nil, fmt.Errorf("restore address index: %w", err)
	}

	s := &UtxoSet{
		db:           db,
		network:      network,
		nextHeight:   snap.NextHeight,
		ingestBudget: defaultIngestBudget,
	}
	s.persistNextHeight()

	if snap.Ingesting != nil {
		if err := db.Put(keyIngestingBlock, snap.Ingesting.Block); err != nil {
			return nil, fmt.Errorf("restore suspended ingestion: %w", err)
		}
		if err := db.Put(keyIngestPos, snap.Ingesting.Pos); err != nil {
			return nil, fmt.Errorf("restore suspended ingestion: %w", err)
		}
		if err := s.restorePartial(); err != nil {
			return nil, err
		}
	}
	return s, nil
}
