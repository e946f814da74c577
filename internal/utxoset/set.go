// Package utxoset maintains the UTXO set of all stable blocks, sharded by
// output script size, together with the per-address inverse index.
package utxoset

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/DemoYeti/bitcoin-canister/internal/cbor"
	"github.com/DemoYeti/bitcoin-canister/internal/storage"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// defaultIngestBudget is the per-round instruction budget for time-sliced
// block ingestion, in performance counter units.
const defaultIngestBudget = 100_000_000

// UtxoSet is the persistent map from outpoint to output for all stable
// blocks, split into small/medium/large shards by script size class.
//
// Invariant: for every output in any shard with a derivable address A at
// height h, exactly one (A, h, outpoint) entry exists in the inverse
// index, and vice versa. The ingestor orders its writes so this holds
// between every pair of atomic steps.
type UtxoSet struct {
	db           storage.DB
	network      types.Network
	nextHeight   types.Height
	ingesting    *PartialIngestionState
	ingestBudget uint64
}

// New opens a UTXO set over the given storage namespace, restoring the
// next ingestion height and any suspended ingestion left by a prior run.
func New(db storage.DB, network types.Network) (*UtxoSet, error) {
	s := &UtxoSet{
		db:           db,
		network:      network,
		ingestBudget: defaultIngestBudget,
	}

	if raw, err := db.Get(keyNextHeight); err == nil {
		if len(raw) != 4 {
			return nil, fmt.Errorf("corrupt next height: got %d bytes", len(raw))
		}
		s.nextHeight = binary.BigEndian.Uint32(raw)
	}

	if err := s.restorePartial(); err != nil {
		return nil, err
	}
	return s, nil
}

// Network returns the network this UTXO set tracks.
func (s *UtxoSet) Network() types.Network {
	return s.network
}

// NextHeight returns the height of the next block to ingest. All outputs
// of blocks below this height are fully present and all their spent
// inputs fully removed.
func (s *UtxoSet) NextHeight() types.Height {
	return s.nextHeight
}

// SetIngestBudget overrides the per-round instruction budget.
func (s *UtxoSet) SetIngestBudget(budget uint64) {
	s.ingestBudget = budget
}

// GetUtxo looks up an outpoint, probing the shards from small to large.
func (s *UtxoSet) GetUtxo(op wire.OutPoint) (*wire.TxOut, types.Height, bool) {
	opKey := types.OutpointKey(op)
	for _, prefix := range shardPrefixes {
		raw, err := s.db.Get(shardKey(prefix, opKey))
		if err != nil {
			continue
		}
		height, out, err := decodeUtxoValue(raw)
		if err != nil {
			panic(fmt.Sprintf("corrupt utxo value for outpoint %s: %v", op, err))
		}
		return out, height, true
	}
	return nil, 0, false
}

// ContainsOutpoint reports whether an outpoint is unspent in any shard.
func (s *UtxoSet) ContainsOutpoint(op wire.OutPoint) bool {
	_, _, ok := s.GetUtxo(op)
	return ok
}

// ForEachAddressUtxo visits the address's stable UTXOs in ascending
// (height, outpoint) order.
func (s *UtxoSet) ForEachAddressUtxo(addr types.Address, fn func(op wire.OutPoint, out *wire.TxOut, height types.Height) error) error {
	return s.db.ForEach(addressPrefix(addr), func(key, _ []byte) error {
		height, op, err := parseAddressUtxoKey(addr, key)
		if err != nil {
			return err
		}
		out, outHeight, ok := s.GetUtxo(op)
		if !ok || outHeight != height {
			panic(fmt.Sprintf("address index entry for %s references missing outpoint %s", addr, op))
		}
		return fn(op, out, height)
	})
}

// insertOutput adds one transaction output: pick the shard by script
// length, store the output, and index it by address when one is
// derivable. Provably unspendable outputs are not stored.
func (s *UtxoSet) insertOutput(op wire.OutPoint, out *wire.TxOut, height types.Height) {
	if isProvablyUnspendable(out.PkScript) {
		return
	}

	opKey := types.OutpointKey(op)
	if err := s.db.Put(shardKey(shardPrefix(len(out.PkScript)), opKey), encodeUtxoValue(height, out)); err != nil {
		panic(fmt.Sprintf("inserting outpoint %s: %v", op, err))
	}
	if addr, ok := types.AddressFromScript(out.PkScript, s.network); ok {
		if err := s.db.Put(addressUtxoKey(addr, height, opKey), []byte{}); err != nil {
			panic(fmt.Sprintf("indexing outpoint %s: %v", op, err))
		}
	}
}

// removeInput consumes one transaction input: locate the referenced
// outpoint, drop its inverse index entry, then drop the output itself.
// A missing outpoint is a consensus violation of an already-validated
// chain, so it aborts rather than skips.
func (s *UtxoSet) removeInput(op wire.OutPoint) {
	opKey := types.OutpointKey(op)
	for _, prefix := range shardPrefixes {
		key := shardKey(prefix, opKey)
		raw, err := s.db.Get(key)
		if err != nil {
			continue
		}
		height, out, err := decodeUtxoValue(raw)
		if err != nil {
			panic(fmt.Sprintf("corrupt utxo value for outpoint %s: %v", op, err))
		}
		if addr, ok := types.AddressFromScript(out.PkScript, s.network); ok {
			if err := s.db.Delete(addressUtxoKey(addr, height, opKey)); err != nil {
				panic(fmt.Sprintf("unindexing outpoint %s: %v", op, err))
			}
		}
		if err := s.db.Delete(key); err != nil {
			panic(fmt.Sprintf("removing outpoint %s: %v", op, err))
		}
		return
	}
	panic(fmt.Sprintf("input outpoint %s not found in any shard", op))
}

// isProvablyUnspendable reports whether an output can never be spent
// (OP_RETURN data carriers and their padded variants).
func isProvablyUnspendable(script []byte) bool {
	return len(script) > 0 && script[0] == 0x6a // OP_RETURN
}

// isNullOutpoint reports whether an input references the null outpoint,
// i.e. is a coinbase input.
func isNullOutpoint(op wire.OutPoint) bool {
	return op.Index == wire.MaxPrevOutIndex && op.Hash == chainhash.Hash{}
}

func (s *UtxoSet) persistNextHeight() {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], s.nextHeight)
	if err := s.db.Put(keyNextHeight, buf[:]); err != nil {
		panic(fmt.Sprintf("persisting next height: %v", err))
	}
}

// restorePartial reloads a suspended ingestion from storage. A partial
// record older than the next height is a leftover from a completed
// ingestion whose cleanup was interrupted; it is discarded.
func (s *UtxoSet) restorePartial() error {
	raw, err := s.db.Get(keyIngestingBlock)
	if err != nil {
		return nil
	}

	var rec partialBlockRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode suspended ingestion block: %w", err)
	}
	if rec.Height < s.nextHeight {
		_ = s.db.Delete(keyIngestingBlock)
		_ = s.db.Delete(keyIngestPos)
		return nil
	}

	block, err := btcutil.NewBlockFromBytes(rec.Block)
	if err != nil {
		return fmt.Errorf("decode suspended ingestion block: %w", err)
	}

	p := &PartialIngestionState{Block: block, Height: rec.Height}
	if posRaw, err := s.db.Get(keyIngestPos); err == nil {
		var pos ingestPosRecord
		if err := cbor.Unmarshal(posRaw, &pos); err != nil {
			return fmt.Errorf("decode suspended ingestion position: %w", err)
		}
		p.TxIndex = pos.TxIndex
		p.IoIndex = pos.IoIndex
		p.Phase = Phase(pos.Phase)
		p.Stats = pos.Stats
	}
	s.ingesting = p
	return nil
}
