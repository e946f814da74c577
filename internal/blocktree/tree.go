// Package blocktree maintains a tree of connected, not-yet-stable blocks.
package blocktree

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Tree is a non-empty rooted tree of blocks. Every child's previous block
// hash equals its parent's hash, no two nodes share a hash, and sibling
// order is insertion order — the only tie-breaker between equal-depth
// branches, so it must survive serialization.
type Tree struct {
	Root     *btcutil.Block
	Children []*Tree
}

// New creates a tree with the given block as its root.
func New(root *btcutil.Block) *Tree {
	return &Tree{Root: root}
}

// BlockDoesNotExtendTreeError is returned when a block is not a successor
// of any block in the tree. It carries the rejected block so the caller
// can surface or discard it.
type BlockDoesNotExtendTreeError struct {
	Block *btcutil.Block
}

func (e *BlockDoesNotExtendTreeError) Error() string {
	return fmt.Sprintf("block %s does not extend the tree", e.Block.Hash())
}

// Extend adds a block to the tree.
//
// Blocks can extend the tree in the following cases:
//   - The block is already present in the tree (no-op).
//   - The block is a successor of a block already in the tree.
func Extend(t *Tree, block *btcutil.Block) error {
	if Contains(t, block) {
		// The block is already present in the tree. Nothing to do.
		return nil
	}

	parent := find(t, block.MsgBlock().Header.PrevBlock)
	if parent == nil {
		return &BlockDoesNotExtendTreeError{Block: block}
	}
	parent.Children = append(parent.Children, New(block))
	return nil
}

// Contains reports whether a block with the same hash exists in the tree.
func Contains(t *Tree, block *btcutil.Block) bool {
	return find(t, *block.Hash()) != nil
}

// Depth returns the length in edges of the longest root-to-leaf path.
func Depth(t *Tree) uint32 {
	var max uint32
	for _, child := range t.Children {
		if d := Depth(child) + 1; d > max {
			max = d
		}
	}
	return max
}

// GetChainWithTip returns the chain of blocks starting from the root and
// ending with the block whose hash is tip, or nil if the tip is not in
// the tree.
func GetChainWithTip(t *Tree, tip chainhash.Hash) *Chain {
	// Compute the chain in reverse order, as that's cheaper, then flip it.
	reversed := chainWithTipReverse(t, tip)
	if reversed == nil {
		return nil
	}
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	return &Chain{blocks: reversed}
}

// chainWithTipReverse does a depth-first search for the node whose hash is
// tip and returns the path from it back to the root.
func chainWithTipReverse(t *Tree, tip chainhash.Hash) []*btcutil.Block {
	if *t.Root.Hash() == tip {
		return []*btcutil.Block{t.Root}
	}
	for _, child := range t.Children {
		if chain := chainWithTipReverse(child, tip); chain != nil {
			return append(chain, t.Root)
		}
	}
	return nil
}

// Blockchains enumerates every root-to-leaf chain in the tree, in
// depth-first pre-order of leaves.
func Blockchains(t *Tree) []*Chain {
	if len(t.Children) == 0 {
		return []*Chain{{blocks: []*btcutil.Block{t.Root}}}
	}

	var chains []*Chain
	for _, child := range t.Children {
		for _, sub := range Blockchains(child) {
			blocks := make([]*btcutil.Block, 0, len(sub.blocks)+1)
			blocks = append(blocks, t.Root)
			blocks = append(blocks, sub.blocks...)
			chains = append(chains, &Chain{blocks: blocks})
		}
	}
	return chains
}

// find returns the subtree whose root hash matches, searching depth-first
// in insertion order.
func find(t *Tree, hash chainhash.Hash) *Tree {
	if *t.Root.Hash() == hash {
		return t
	}
	for _, child := range t.Children {
		if sub := find(child, hash); sub != nil {
			return sub
		}
	}
	return nil
}

// Chain is a non-empty sequence of blocks linked by prev-hash, lowest
// height first.
type Chain struct {
	blocks []*btcutil.Block
}

// NewChain creates a chain from a non-empty block sequence.
func NewChain(blocks []*btcutil.Block) (*Chain, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("cannot create a chain from an empty block list")
	}
	return &Chain{blocks: blocks}, nil
}

// First returns the block at the lowest height.
func (c *Chain) First() *btcutil.Block {
	return c.blocks[0]
}

// Tip returns the block at the highest height.
func (c *Chain) Tip() *btcutil.Block {
	return c.blocks[len(c.blocks)-1]
}

// Len returns the number of blocks in the chain.
func (c *Chain) Len() int {
	return len(c.blocks)
}

// Blocks returns the chain's blocks, lowest height first.
func (c *Chain) Blocks() []*btcutil.Block {
	return c.blocks
}
