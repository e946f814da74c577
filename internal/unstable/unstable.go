// Package unstable tracks blocks that are not yet considered final and
// decides when the oldest of them becomes stable.
package unstable

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/DemoYeti/bitcoin-canister/internal/blocktree"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// UnstableBlocks wraps a block tree with a stability threshold. The tree
// root is the oldest unstable block; its height always matches the UTXO
// set's next ingestion height.
type UnstableBlocks struct {
	tree               *blocktree.Tree
	stabilityThreshold uint32
	anchorHeight       types.Height
	network            types.Network
}

// New creates an UnstableBlocks anchored at the given block and height.
func New(stabilityThreshold uint32, anchor *btcutil.Block, anchorHeight types.Height, network types.Network) *UnstableBlocks {
	return &UnstableBlocks{
		tree:               blocktree.New(anchor),
		stabilityThreshold: stabilityThreshold,
		anchorHeight:       anchorHeight,
		network:            network,
	}
}

// Restore rebuilds an UnstableBlocks from a deserialized tree.
func Restore(tree *blocktree.Tree, stabilityThreshold uint32, anchorHeight types.Height, network types.Network) *UnstableBlocks {
	return &UnstableBlocks{
		tree:               tree,
		stabilityThreshold: stabilityThreshold,
		anchorHeight:       anchorHeight,
		network:            network,
	}
}

// StabilityThreshold returns the number of confirmations needed before
// the root can stabilize.
func (u *UnstableBlocks) StabilityThreshold() uint32 {
	return u.stabilityThreshold
}

// Network returns the network the blocks belong to.
func (u *UnstableBlocks) Network() types.Network {
	return u.network
}

// AnchorHeight returns the height of the tree root.
func (u *UnstableBlocks) AnchorHeight() types.Height {
	return u.anchorHeight
}

// Tree exposes the underlying tree for serialization.
func (u *UnstableBlocks) Tree() *blocktree.Tree {
	return u.tree
}

// Push inserts a block into the tree. It fails only if the block does not
// extend any known block; re-inserting a known block is a no-op.
func (u *UnstableBlocks) Push(block *btcutil.Block) error {
	return blocktree.Extend(u.tree, block)
}

// Peek returns the root block if it satisfies the stabilization rule,
// nil otherwise.
func (u *UnstableBlocks) Peek() *btcutil.Block {
	if _, ok := u.stabilizableChild(); !ok {
		return nil
	}
	return u.tree.Root
}

// Pop removes and returns the root block if it is stabilizable. The
// winning child subtree becomes the new root; all losing siblings and
// their descendants are discarded. expectedHeight guards against the
// caller's height bookkeeping drifting from the tree's.
func (u *UnstableBlocks) Pop(expectedHeight types.Height) *btcutil.Block {
	winner, ok := u.stabilizableChild()
	if !ok {
		return nil
	}
	if u.anchorHeight != expectedHeight {
		panic(fmt.Sprintf("popping block at height %d, caller expected %d", u.anchorHeight, expectedHeight))
	}
	root := u.tree.Root
	u.tree = u.tree.Children[winner]
	u.anchorHeight++
	return root
}

// stabilizableChild returns the index of the child that would become the
// new root if the current root were popped, and whether the root meets
// the stabilization rule: the winning child's subtree depth must exceed
// the runner-up's by at least the stability threshold, where a missing
// runner-up counts as depth -1. Ties pick the earliest-inserted child.
func (u *UnstableBlocks) stabilizableChild() (int, bool) {
	if len(u.tree.Children) == 0 {
		return 0, false
	}

	winner := 0
	winnerDepth := int64(blocktree.Depth(u.tree.Children[0]))
	secondDepth := int64(-1)
	for i := 1; i < len(u.tree.Children); i++ {
		d := int64(blocktree.Depth(u.tree.Children[i]))
		if d > winnerDepth {
			secondDepth = winnerDepth
			winner = i
			winnerDepth = d
		} else if d > secondDepth {
			secondDepth = d
		}
	}

	return winner, winnerDepth-secondDepth >= int64(u.stabilityThreshold)
}

// GetMainChain returns the chain from the root along the deepest path,
// breaking depth ties in favor of the earliest-inserted child.
func (u *UnstableBlocks) GetMainChain() *blocktree.Chain {
	var blocks []*btcutil.Block
	t := u.tree
	for {
		blocks = append(blocks, t.Root)
		if len(t.Children) == 0 {
			break
		}
		best := 0
		bestDepth := blocktree.Depth(t.Children[0])
		for i := 1; i < len(t.Children); i++ {
			if d := blocktree.Depth(t.Children[i]); d > bestDepth {
				best = i
				bestDepth = d
			}
		}
		t = t.Children[best]
	}
	chain, err := blocktree.NewChain(blocks)
	if err != nil {
		panic(err) // The walk always yields at least the root.
	}
	return chain
}

// GetBlocks returns every block in the tree in depth-first pre-order.
func (u *UnstableBlocks) GetBlocks() []*btcutil.Block {
	var blocks []*btcutil.Block
	var walk func(t *blocktree.Tree)
	walk = func(t *blocktree.Tree) {
		blocks = append(blocks, t.Root)
		for _, child := range t.Children {
			walk(child)
		}
	}
	walk(u.tree)
	return blocks
}
