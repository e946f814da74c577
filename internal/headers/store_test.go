package headers

import (
	"testing"

	"github.com/DemoYeti/bitcoin-canister/internal/storage"
	"github.com/DemoYeti/bitcoin-canister/internal/testutil"
)

func TestInsertAndGet(t *testing.T) {
	store := NewStore(storage.NewMemory())
	blocks := testutil.BuildChain(3, 1)

	for i, block := range blocks {
		if err := store.InsertBlock(block, uint32(i)); err != nil {
			t.Fatalf("InsertBlock() error: %v", err)
		}
	}

	for i, block := range blocks {
		header, ok, err := store.GetByHeight(uint32(i))
		if err != nil {
			t.Fatalf("GetByHeight(%d) error: %v", i, err)
		}
		if !ok {
			t.Fatalf("GetByHeight(%d) not found", i)
		}
		if header.BlockHash() != *block.Hash() {
			t.Errorf("height %d header hash mismatch", i)
		}

		byHash, height, ok, err := store.GetByHash(*block.Hash())
		if err != nil || !ok {
			t.Fatalf("GetByHash(%s) = %v, %v", block.Hash(), ok, err)
		}
		if height != uint32(i) {
			t.Errorf("GetByHash height = %d, want %d", height, i)
		}
		if byHash.BlockHash() != *block.Hash() {
			t.Error("GetByHash returned wrong header")
		}
	}
}

func TestGetMissing(t *testing.T) {
	store := NewStore(storage.NewMemory())

	if _, ok, err := store.GetByHeight(42); ok || err != nil {
		t.Errorf("GetByHeight(42) = %v, %v, want not found", ok, err)
	}

	unknown := testutil.Genesis().Build()
	if _, _, ok, err := store.GetByHash(*unknown.Hash()); ok || err != nil {
		t.Errorf("GetByHash(unknown) = %v, %v, want not found", ok, err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemory())
	blocks := testutil.BuildChain(4, 1)
	for i, block := range blocks {
		if err := store.InsertBlock(block, uint32(i)); err != nil {
			t.Fatalf("InsertBlock() error: %v", err)
		}
	}

	kvs, err := store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}

	restored, err := FromSnapshot(storage.NewMemory(), kvs)
	if err != nil {
		t.Fatalf("FromSnapshot() error: %v", err)
	}
	for i, block := range blocks {
		header, ok, err := restored.GetByHeight(uint32(i))
		if err != nil || !ok {
			t.Fatalf("restored GetByHeight(%d) = %v, %v", i, ok, err)
		}
		if header.BlockHash() != *block.Hash() {
			t.Errorf("restored header %d mismatch", i)
		}
	}
}
