package addressutxos

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/DemoYeti/bitcoin-canister/internal/storage"
	"github.com/DemoYeti/bitcoin-canister/internal/testutil"
	"github.com/DemoYeti/bitcoin-canister/internal/unstable"
	"github.com/DemoYeti/bitcoin-canister/internal/utxoset"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// fixture holds a UTXO set with one stable block paying addrX, and the
// unstable tree anchored at the next block.
type fixture struct {
	utxos     *utxoset.UtxoSet
	unstable  *unstable.UnstableBlocks
	addrX     types.Address
	pkHashX   [20]byte
	stableOut wire.OutPoint
	stableBlk *btcutil.Block
}

func newFixture(t *testing.T, anchor func(stable *btcutil.Block) *btcutil.Block) *fixture {
	t.Helper()

	utxos, err := utxoset.New(storage.NewMemory(), types.Regtest)
	if err != nil {
		t.Fatalf("utxoset.New() error: %v", err)
	}

	pkHashX := testutil.Hash160(8800)
	tx1 := testutil.Coinbase(100, pkHashX)
	block1 := testutil.Genesis().WithTransaction(tx1).Build()

	res := utxos.IngestBlock(block1)
	for !res.Done {
		res, _ = utxos.IngestBlockContinue()
	}

	anchorBlock := anchor(block1)
	return &fixture{
		utxos:     utxos,
		unstable:  unstable.New(2, anchorBlock, utxos.NextHeight(), types.Regtest),
		addrX:     testutil.AddressForHash160(pkHashX, types.Regtest),
		pkHashX:   pkHashX,
		stableOut: wire.OutPoint{Hash: tx1.TxHash(), Index: 0},
		stableBlk: block1,
	}
}

func TestStableOnly(t *testing.T) {
	f := newFixture(t, func(stable *btcutil.Block) *btcutil.Block {
		return testutil.WithPrevBlock(stable).Build()
	})

	utxos, err := New(f.addrX, f.utxos, f.unstable).GetUtxos()
	if err != nil {
		t.Fatalf("GetUtxos() error: %v", err)
	}
	if len(utxos) != 1 {
		t.Fatalf("got %d utxos, want 1", len(utxos))
	}
	if utxos[0].Outpoint != f.stableOut {
		t.Error("wrong outpoint")
	}
	if utxos[0].Height != 0 || utxos[0].Output.Value != 100 {
		t.Errorf("utxo = height %d value %d, want height 0 value 100", utxos[0].Height, utxos[0].Output.Value)
	}
}

func TestUnstableSpendHidesStableUtxo(t *testing.T) {
	var spendOut wire.OutPoint
	f := newFixture(t, func(stable *btcutil.Block) *btcutil.Block {
		// The anchor block spends the stable output.
		spend := testutil.NewTransaction().
			WithInput(wire.OutPoint{Hash: stable.Transactions()[0].MsgTx().TxHash(), Index: 0}).
			WithOutputTo(90, testutil.Hash160(8801)).
			Build()
		spendOut = wire.OutPoint{Hash: spend.TxHash(), Index: 0}
		return testutil.WithPrevBlock(stable).WithTransaction(spend).Build()
	})

	utxos, err := New(f.addrX, f.utxos, f.unstable).GetUtxos()
	if err != nil {
		t.Fatalf("GetUtxos() error: %v", err)
	}
	if len(utxos) != 0 {
		t.Fatalf("spent output still visible: %d utxos", len(utxos))
	}

	// The stable shard still holds the outpoint; only the view hides it.
	if !f.utxos.ContainsOutpoint(f.stableOut) {
		t.Error("overlay spend must not touch the stable set")
	}
	_ = spendOut
}

func TestUnstableAdditionAndOrder(t *testing.T) {
	f := newFixture(t, func(stable *btcutil.Block) *btcutil.Block {
		return testutil.WithPrevBlock(stable).Build()
	})

	// Two more unstable blocks paying addrX at heights 2 and 3.
	tip := f.unstable.GetMainChain().Tip()
	block2 := testutil.WithPrevBlock(tip).
		WithTransaction(testutil.Coinbase(250, f.pkHashX)).Build()
	if err := f.unstable.Push(block2); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	block3 := testutil.WithPrevBlock(block2).
		WithTransaction(testutil.Coinbase(300, f.pkHashX)).Build()
	if err := f.unstable.Push(block3); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	utxos, err := New(f.addrX, f.utxos, f.unstable).GetUtxos()
	if err != nil {
		t.Fatalf("GetUtxos() error: %v", err)
	}
	if len(utxos) != 3 {
		t.Fatalf("got %d utxos, want 3", len(utxos))
	}
	wantHeights := []types.Height{0, 2, 3}
	wantValues := []int64{100, 250, 300}
	for i := range utxos {
		if utxos[i].Height != wantHeights[i] {
			t.Errorf("utxos[%d].Height = %d, want %d", i, utxos[i].Height, wantHeights[i])
		}
		if utxos[i].Output.Value != wantValues[i] {
			t.Errorf("utxos[%d].Value = %d, want %d", i, utxos[i].Output.Value, wantValues[i])
		}
	}

	balance, err := New(f.addrX, f.utxos, f.unstable).Balance()
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if balance != 650 {
		t.Errorf("Balance() = %d, want 650", balance)
	}
}

func TestUnstableSpendOfUnstableAddition(t *testing.T) {
	f := newFixture(t, func(stable *btcutil.Block) *btcutil.Block {
		return testutil.WithPrevBlock(stable).Build()
	})

	// block2 pays addrX, block3 spends that same output again.
	tip := f.unstable.GetMainChain().Tip()
	pay := testutil.Coinbase(250, f.pkHashX)
	block2 := testutil.WithPrevBlock(tip).WithTransaction(pay).Build()
	if err := f.unstable.Push(block2); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	spend := testutil.NewTransaction().
		WithInput(wire.OutPoint{Hash: pay.TxHash(), Index: 0}).
		WithOutputTo(200, testutil.Hash160(8802)).
		Build()
	block3 := testutil.WithPrevBlock(block2).WithTransaction(spend).Build()
	if err := f.unstable.Push(block3); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	utxos, err := New(f.addrX, f.utxos, f.unstable).GetUtxos()
	if err != nil {
		t.Fatalf("GetUtxos() error: %v", err)
	}
	// Only the stable output remains; the unstable addition was spent.
	if len(utxos) != 1 || utxos[0].Outpoint != f.stableOut {
		t.Fatalf("got %d utxos, want only the stable one", len(utxos))
	}
}

func TestViewIgnoresForksOffMainChain(t *testing.T) {
	f := newFixture(t, func(stable *btcutil.Block) *btcutil.Block {
		return testutil.WithPrevBlock(stable).Build()
	})

	// A two-block branch and a one-block sibling paying addrX: only the
	// main (deeper) branch contributes to the view.
	anchor := f.unstable.GetMainChain().First()
	main1 := testutil.WithPrevBlock(anchor).
		WithTransaction(testutil.Coinbase(111, f.pkHashX)).Build()
	main2 := testutil.WithPrevBlock(main1).Build()
	fork := testutil.WithPrevBlock(anchor).
		WithTransaction(testutil.Coinbase(999, f.pkHashX)).Build()

	for _, block := range []*btcutil.Block{main1, main2, fork} {
		if err := f.unstable.Push(block); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}

	utxos, err := New(f.addrX, f.utxos, f.unstable).GetUtxos()
	if err != nil {
		t.Fatalf("GetUtxos() error: %v", err)
	}
	if len(utxos) != 2 {
		t.Fatalf("got %d utxos, want 2", len(utxos))
	}
	for _, u := range utxos {
		if u.Output.Value == 999 {
			t.Error("fork branch output leaked into the view")
		}
	}
}
