package unstable

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/DemoYeti/bitcoin-canister/internal/testutil"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

func newUnstable(t *testing.T, threshold uint32, anchor *btcutil.Block) *UnstableBlocks {
	t.Helper()
	return New(threshold, anchor, 0, types.Regtest)
}

func mainChainHashes(u *UnstableBlocks) []string {
	var hashes []string
	for _, block := range u.GetMainChain().Blocks() {
		hashes = append(hashes, block.Hash().String())
	}
	return hashes
}

func TestSingleChainStabilization(t *testing.T) {
	genesis := testutil.Genesis().Build()
	u := newUnstable(t, 1, genesis)

	if got := u.Peek(); got != nil {
		t.Error("Peek() with a bare root should be nil")
	}

	blockA := testutil.WithPrevBlock(genesis).Build()
	if err := u.Push(blockA); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	if got := u.Peek(); got != genesis {
		t.Error("Peek() should return the genesis block")
	}

	popped := u.Pop(0)
	if popped != genesis {
		t.Fatal("Pop() should return the genesis block")
	}
	if u.Tree().Root != blockA {
		t.Error("winning child should become the new root")
	}
	if u.AnchorHeight() != 1 {
		t.Errorf("AnchorHeight() = %d, want 1", u.AnchorHeight())
	}
	if got := u.Pop(1); got != nil {
		t.Error("Pop() with no stabilizable root should be nil")
	}
}

func TestForkWithClearWinner(t *testing.T) {
	genesis := testutil.Genesis().Build()
	u := newUnstable(t, 2, genesis)

	blockA := testutil.WithPrevBlock(genesis).Build()
	blockB := testutil.WithPrevBlock(blockA).Build()
	blockC := testutil.WithPrevBlock(genesis).Build()
	for _, block := range []*btcutil.Block{blockA, blockB, blockC} {
		if err := u.Push(block); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}

	// Depth 1 vs 0 differ by only 1 < 2: not stabilizable.
	if got := u.Peek(); got != nil {
		t.Error("Peek() should be nil while the fork is too close")
	}

	// Extend the A branch: depth 2 vs 0 differ by 2.
	blockB2 := testutil.WithPrevBlock(blockB).Build()
	if err := u.Push(blockB2); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if got := u.Peek(); got != genesis {
		t.Fatal("Peek() should return genesis once the A branch leads by 2")
	}

	popped := u.Pop(0)
	if popped != genesis {
		t.Fatal("Pop() should return genesis")
	}
	if u.Tree().Root != blockA {
		t.Error("the deep branch should win")
	}
	// The losing fork is discarded with its descendants.
	for _, block := range u.GetBlocks() {
		if *block.Hash() == *blockC.Hash() {
			t.Error("losing sibling should be discarded on pop")
		}
	}
}

func TestForkTieInsertionOrderWins(t *testing.T) {
	genesis := testutil.Genesis().Build()
	u := newUnstable(t, 2, genesis)

	blockA := testutil.WithPrevBlock(genesis).Build()
	blockB := testutil.WithPrevBlock(genesis).Build()
	if err := u.Push(blockA); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if err := u.Push(blockB); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	// Equal depth: the first-inserted child wins.
	want := []string{genesis.Hash().String(), blockA.Hash().String()}
	got := mainChainHashes(u)
	if len(got) != len(want) {
		t.Fatalf("main chain length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("main chain[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// Extending B makes its branch strictly deeper.
	blockB2 := testutil.WithPrevBlock(blockB).Build()
	if err := u.Push(blockB2); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	want = []string{genesis.Hash().String(), blockB.Hash().String(), blockB2.Hash().String()}
	got = mainChainHashes(u)
	if len(got) != len(want) {
		t.Fatalf("main chain length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("main chain[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPushDuplicateIsNoop(t *testing.T) {
	genesis := testutil.Genesis().Build()
	u := newUnstable(t, 1, genesis)

	block := testutil.WithPrevBlock(genesis).Build()
	if err := u.Push(block); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if err := u.Push(block); err != nil {
		t.Fatalf("duplicate Push() error: %v", err)
	}
	if got := len(u.GetBlocks()); got != 2 {
		t.Errorf("GetBlocks() = %d blocks, want 2", got)
	}
}

func TestPushOrphanFails(t *testing.T) {
	u := newUnstable(t, 1, testutil.Genesis().Build())
	orphan := testutil.WithPrevBlock(testutil.Genesis().Build()).Build()

	if err := u.Push(orphan); err == nil {
		t.Error("Push() should fail for a block that extends nothing")
	}
}

func TestPeekImpliesStabilizationRule(t *testing.T) {
	genesis := testutil.Genesis().Build()

	// threshold 3: a chain of 3 descendants means child depth 2, which
	// beats the missing sibling (-1) by exactly 3.
	u := newUnstable(t, 3, genesis)
	chain := testutil.BuildChainFrom(genesis, 3)
	for i, block := range chain {
		if err := u.Push(block); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
		if i < len(chain)-1 && u.Peek() != nil {
			t.Errorf("Peek() fired after only %d descendants", i+1)
		}
	}
	if u.Peek() != genesis {
		t.Error("Peek() should fire once the chain is deep enough")
	}
}

func TestPopExpectedHeightMismatchPanics(t *testing.T) {
	genesis := testutil.Genesis().Build()
	u := newUnstable(t, 1, genesis)
	if err := u.Push(testutil.WithPrevBlock(genesis).Build()); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Pop() with wrong expected height should panic")
		}
	}()
	u.Pop(7)
}

func TestDepthBoundedAfterPops(t *testing.T) {
	genesis := testutil.Genesis().Build()
	threshold := uint32(2)
	u := newUnstable(t, threshold, genesis)

	// A long linear chain: pops drain it until the remaining depth is
	// below the threshold.
	for _, block := range testutil.BuildChainFrom(genesis, 10) {
		if err := u.Push(block); err != nil {
			t.Fatalf("Push() error: %v", err)
		}
	}

	height := types.Height(0)
	for u.Peek() != nil {
		if u.Pop(height) == nil {
			t.Fatal("Peek() promised a block but Pop() returned nil")
		}
		height++
	}

	if depth := u.Tree().Root; depth == nil {
		t.Fatal("tree must never be empty")
	}
	if got := len(u.GetBlocks()); uint32(got) > threshold+1 {
		t.Errorf("after draining, %d unstable blocks remain, want <= %d", got, threshold+1)
	}
}
