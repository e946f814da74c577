package blocktree

import (
	"errors"
	"testing"

	"github.com/DemoYeti/bitcoin-canister/internal/testutil"
)

func TestTreeSingleBlock(t *testing.T) {
	tree := New(testutil.Genesis().Build())

	if got := Depth(tree); got != 0 {
		t.Errorf("Depth() = %d, want 0", got)
	}

	chains := Blockchains(tree)
	if len(chains) != 1 {
		t.Fatalf("Blockchains() returned %d chains, want 1", len(chains))
	}
	if chains[0].Len() != 1 || chains[0].First() != tree.Root {
		t.Error("single-block chain should contain only the root")
	}
}

func TestTreeMultipleForks(t *testing.T) {
	genesis := testutil.Genesis().Build()
	tree := New(genesis)

	// Each block extending genesis is a separate fork.
	for i := 1; i < 5; i++ {
		block := testutil.WithPrevBlock(genesis).Build()
		if err := Extend(tree, block); err != nil {
			t.Fatalf("Extend() error: %v", err)
		}
		if got := len(Blockchains(tree)); got != i {
			t.Errorf("after %d forks, Blockchains() = %d chains", i, got)
		}
	}

	if got := Depth(tree); got != 1 {
		t.Errorf("Depth() = %d, want 1", got)
	}
}

func TestExtendIdempotent(t *testing.T) {
	genesis := testutil.Genesis().Build()
	tree := New(genesis)
	block := testutil.WithPrevBlock(genesis).Build()

	if err := Extend(tree, block); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}
	if err := Extend(tree, block); err != nil {
		t.Fatalf("second Extend() error: %v", err)
	}

	if got := len(tree.Children); got != 1 {
		t.Errorf("re-inserting a block added a duplicate node: %d children", got)
	}
}

func TestExtendDoesNotExtendTree(t *testing.T) {
	tree := New(testutil.Genesis().Build())
	orphan := testutil.WithPrevBlock(testutil.Genesis().Build()).Build()

	err := Extend(tree, orphan)
	if err == nil {
		t.Fatal("expected error for orphan block")
	}

	var notExtend *BlockDoesNotExtendTreeError
	if !errors.As(err, &notExtend) {
		t.Fatalf("error type = %T, want *BlockDoesNotExtendTreeError", err)
	}
	if notExtend.Block != orphan {
		t.Error("error should carry the rejected block")
	}
}

func TestGetChainWithTipNoForks(t *testing.T) {
	blocks := testutil.BuildChain(10, 1)
	tree := New(blocks[0])
	for _, block := range blocks[1:] {
		if err := Extend(tree, block); err != nil {
			t.Fatalf("Extend() error: %v", err)
		}
	}

	for i, block := range blocks {
		chain := GetChainWithTip(tree, *block.Hash())
		if chain == nil {
			t.Fatalf("GetChainWithTip(%s) = nil", block.Hash())
		}

		got := chain.Blocks()
		if got[0] != blocks[0] {
			t.Error("chain should start at the root")
		}
		if chain.Tip() != block {
			t.Error("chain should end at the requested tip")
		}
		if len(got) != i+1 {
			t.Errorf("chain length = %d, want %d", len(got), i+1)
		}

		// All blocks correctly chained to one another.
		for j := 1; j < len(got); j++ {
			if got[j].MsgBlock().Header.PrevBlock != *got[j-1].Hash() {
				t.Errorf("block %d does not link to its predecessor", j)
			}
		}
	}
}

func TestGetChainWithTipMultipleForks(t *testing.T) {
	genesis := testutil.Genesis().Build()
	tree := New(genesis)

	// Two forks of different lengths off the same root.
	forkA := testutil.BuildChainFrom(genesis, 3)
	forkB := testutil.BuildChainFrom(genesis, 5)
	for _, block := range forkA {
		if err := Extend(tree, block); err != nil {
			t.Fatalf("Extend() error: %v", err)
		}
	}
	for _, block := range forkB {
		if err := Extend(tree, block); err != nil {
			t.Fatalf("Extend() error: %v", err)
		}
	}

	if got := Depth(tree); got != 5 {
		t.Errorf("Depth() = %d, want 5", got)
	}
	if got := len(Blockchains(tree)); got != 2 {
		t.Errorf("Blockchains() = %d chains, want 2", got)
	}

	chain := GetChainWithTip(tree, *forkA[2].Hash())
	if chain == nil {
		t.Fatal("GetChainWithTip() = nil for fork A tip")
	}
	if chain.Len() != 4 {
		t.Errorf("fork A chain length = %d, want 4", chain.Len())
	}
	if chain.First() != genesis || chain.Tip() != forkA[2] {
		t.Error("fork A chain endpoints wrong")
	}

	unknown := testutil.Genesis().Build()
	if got := GetChainWithTip(tree, *unknown.Hash()); got != nil {
		t.Error("GetChainWithTip() should return nil for an unknown tip")
	}
}

func TestBlockchainsLeafOrder(t *testing.T) {
	genesis := testutil.Genesis().Build()
	tree := New(genesis)

	first := testutil.WithPrevBlock(genesis).Build()
	second := testutil.WithPrevBlock(genesis).Build()
	if err := Extend(tree, first); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}
	if err := Extend(tree, second); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}

	chains := Blockchains(tree)
	if len(chains) != 2 {
		t.Fatalf("Blockchains() = %d chains, want 2", len(chains))
	}
	if chains[0].Tip() != first || chains[1].Tip() != second {
		t.Error("chains must enumerate in insertion order of the forks")
	}
}
