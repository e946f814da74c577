package state

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/DemoYeti/bitcoin-canister/internal/blocktree"
	"github.com/DemoYeti/bitcoin-canister/internal/cbor"
	"github.com/DemoYeti/bitcoin-canister/internal/headers"
	"github.com/DemoYeti/bitcoin-canister/internal/storage"
	"github.com/DemoYeti/bitcoin-canister/internal/unstable"
	"github.com/DemoYeti/bitcoin-canister/internal/utxoset"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// snapshotVersion guards against decoding snapshots from a different
// layout generation.
const snapshotVersion = 1

// treeSnapshot mirrors the unstable block tree. Blocks are wrapped as
// opaque Bitcoin consensus encodings; child order is preserved because
// it is the fork tie-breaker.
type treeSnapshot struct {
	Block    []byte         `codec:"block"`
	Children []treeSnapshot `codec:"children"`
}

// snapshot is the full serialized state.
type snapshot struct {
	Version                    uint32                      `codec:"version"`
	Network                    string                      `codec:"network"`
	StabilityThreshold         uint32                      `codec:"stability_threshold"`
	AnchorHeight               uint32                      `codec:"anchor_height"`
	Tree                       treeSnapshot                `codec:"unstable_blocks"`
	Utxos                      utxoset.Snapshot            `codec:"utxos"`
	Headers                    []headers.KV                `codec:"stable_block_headers"`
	Syncing                    SyncingState                `codec:"syncing_state"`
	LastIngestionStats         utxoset.BlockIngestionStats `codec:"block_ingestion_stats"`
	APIAccess                  bool                        `codec:"api_access"`
	DisableAPIIfNotFullySynced bool                        `codec:"disable_api_if_not_fully_synced"`
}

func snapshotTree(t *blocktree.Tree) (treeSnapshot, error) {
	raw, err := t.Root.Bytes()
	if err != nil {
		return treeSnapshot{}, fmt.Errorf("serialize block %s: %w", t.Root.Hash(), err)
	}
	snap := treeSnapshot{Block: raw}
	for _, child := range t.Children {
		childSnap, err := snapshotTree(child)
		if err != nil {
			return treeSnapshot{}, err
		}
		snap.Children = append(snap.Children, childSnap)
	}
	return snap, nil
}

func restoreTree(snap treeSnapshot) (*blocktree.Tree, error) {
	block, err := btcutil.NewBlockFromBytes(snap.Block)
	if err != nil {
		return nil, fmt.Errorf("deserialize block: %w", err)
	}
	t := blocktree.New(block)
	for _, childSnap := range snap.Children {
		child, err := restoreTree(childSnap)
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, child)
	}
	return t, nil
}

func (s *State) buildSnapshot() (*snapshot, error) {
	tree, err := snapshotTree(s.Unstable.Tree())
	if err != nil {
		return nil, err
	}
	utxos, err := s.Utxos.Snapshot()
	if err != nil {
		return nil, err
	}
	headerKVs, err := s.Headers.Snapshot()
	if err != nil {
		return nil, err
	}

	return &snapshot{
		Version:                    snapshotVersion,
		Network:                    s.Network().String(),
		StabilityThreshold:         s.Unstable.StabilityThreshold(),
		AnchorHeight:               s.Unstable.AnchorHeight(),
		Tree:                       tree,
		Utxos:                      *utxos,
		Headers:                    headerKVs,
		Syncing:                    s.Syncing,
		LastIngestionStats:         s.LastIngestionStats,
		APIAccess:                  s.APIAccess,
		DisableAPIIfNotFullySynced: s.DisableAPIIfNotFullySynced,
	}, nil
}

// Serialize writes the whole state as a self-describing CBOR blob.
// Identical states produce identical bytes.
func (s *State) Serialize(w io.Writer) error {
	snap, err := s.buildSnapshot()
	if err != nil {
		return fmt.Errorf("build state snapshot: %w", err)
	}
	if err := cbor.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}
	return nil
}

// Deserialize reconstructs a State from a snapshot, rebuilding the
// engine's namespaces inside the given storage. Any previous engine data
// in the storage is replaced.
func Deserialize(r io.Reader, db storage.DB) (*State, error) {
	var snap snapshot
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode state snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported state snapshot version %d", snap.Version)
	}
	network, err := types.ParseNetwork(snap.Network)
	if err != nil {
		return nil, err
	}

	utxoDB := storage.NewPrefixDB(db, utxoNamespace)
	if err := utxoDB.DeleteAll(); err != nil {
		return nil, fmt.Errorf("clear utxo namespace: %w", err)
	}
	headerDB := storage.NewPrefixDB(db, headerNamespace)
	if err := headerDB.DeleteAll(); err != nil {
		return nil, fmt.Errorf("clear header namespace: %w", err)
	}

	utxos, err := utxoset.FromSnapshot(utxoDB, network, &snap.Utxos)
	if err != nil {
		return nil, err
	}
	tree, err := restoreTree(snap.Tree)
	if err != nil {
		return nil, err
	}
	headerStore, err := headers.FromSnapshot(headerDB, snap.Headers)
	if err != nil {
		return nil, err
	}

	return &State{
		Utxos:                      utxos,
		Unstable:                   unstable.Restore(tree, snap.StabilityThreshold, snap.AnchorHeight, network),
		Headers:                    headerStore,
		Syncing:                    snap.Syncing,
		LastIngestionStats:         snap.LastIngestionStats,
		APIAccess:                  snap.APIAccess,
		DisableAPIIfNotFullySynced: snap.DisableAPIIfNotFullySynced,
	}, nil
}

// Equal reports structural equality of two states by comparing their
// canonical snapshots.
func (s *State) Equal(other *State) (bool, error) {
	a, err := s.buildSnapshot()
	if err != nil {
		return false, err
	}
	b, err := other.buildSnapshot()
	if err != nil {
		return false, err
	}
	rawA, err := cbor.Marshal(a)
	if err != nil {
		return false, err
	}
	rawB, err := cbor.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(rawA, rawB), nil
}
