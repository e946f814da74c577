// Package testutil provides deterministic block and transaction builders
// for tests. Coinbase transactions embed a process-wide counter so every
// transaction built without an explicit input, and every block built
// without explicit transactions, has a unique hash without any randomness.
package testutil

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

var uniq atomic.Uint64

func nextUniq() uint64 {
	return uniq.Add(1)
}

// Hash160 returns a synthetic 20-byte public key hash derived from n.
func Hash160(n uint64) [20]byte {
	var h [20]byte
	binary.BigEndian.PutUint64(h[:8], n)
	h[19] = 0x01
	return h
}

// P2PKHScript builds a standard pay-to-pubkey-hash script for the given
// 20-byte hash. The script is exactly 25 bytes, the small-shard boundary.
func P2PKHScript(pkHash [20]byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14) // OP_DUP OP_HASH160 PUSH20
	script = append(script, pkHash[:]...)
	script = append(script, 0x88, 0xac) // OP_EQUALVERIFY OP_CHECKSIG
	return script
}

// AddressForHash160 returns the P2PKH address for a hash on the network.
func AddressForHash160(pkHash [20]byte, network types.Network) types.Address {
	addr, err := btcutil.NewAddressPubKeyHash(pkHash[:], network.Params())
	if err != nil {
		panic(err)
	}
	return types.Address(addr.EncodeAddress())
}

// TransactionBuilder assembles a transaction. Without an explicit input it
// builds a coinbase transaction with a unique scriptSig.
type TransactionBuilder struct {
	tx *wire.MsgTx
}

// NewTransaction creates a new transaction builder.
func NewTransaction() *TransactionBuilder {
	return &TransactionBuilder{tx: wire.NewMsgTx(wire.TxVersion)}
}

// WithInput adds an input spending the given outpoint.
func (b *TransactionBuilder) WithInput(prev wire.OutPoint) *TransactionBuilder {
	b.tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	return b
}

// WithOutput adds an output of the given value locked by script.
func (b *TransactionBuilder) WithOutput(value int64, script []byte) *TransactionBuilder {
	b.tx.AddTxOut(wire.NewTxOut(value, script))
	return b
}

// WithOutputTo adds a P2PKH output paying the given synthetic hash.
func (b *TransactionBuilder) WithOutputTo(value int64, pkHash [20]byte) *TransactionBuilder {
	return b.WithOutput(value, P2PKHScript(pkHash))
}

// Build finalizes the transaction. A transaction with no inputs becomes a
// coinbase transaction; one with no outputs gets a default 50 BTC output.
func (b *TransactionBuilder) Build() *wire.MsgTx {
	if len(b.tx.TxIn) == 0 {
		sig := make([]byte, 8)
		binary.LittleEndian.PutUint64(sig, nextUniq())
		prev := wire.OutPoint{Index: wire.MaxPrevOutIndex}
		b.tx.AddTxIn(wire.NewTxIn(&prev, sig, nil))
	}
	if len(b.tx.TxOut) == 0 {
		b.tx.AddTxOut(wire.NewTxOut(50_0000_0000, P2PKHScript(Hash160(nextUniq()))))
	}
	return b.tx
}

// Coinbase builds a coinbase transaction with one P2PKH output to pkHash.
func Coinbase(value int64, pkHash [20]byte) *wire.MsgTx {
	return NewTransaction().WithOutputTo(value, pkHash).Build()
}

// BlockBuilder assembles a block.
type BlockBuilder struct {
	prev *wire.BlockHeader
	txs  []*wire.MsgTx
}

// Genesis creates a builder for a block with no parent.
func Genesis() *BlockBuilder {
	return &BlockBuilder{}
}

// WithPrevHeader creates a builder for a block extending prev.
func WithPrevHeader(prev wire.BlockHeader) *BlockBuilder {
	p := prev
	return &BlockBuilder{prev: &p}
}

// WithPrevBlock creates a builder for a block extending prev.
func WithPrevBlock(prev *btcutil.Block) *BlockBuilder {
	return WithPrevHeader(prev.MsgBlock().Header)
}

// WithTransaction appends a transaction to the block.
func (b *BlockBuilder) WithTransaction(tx *wire.MsgTx) *BlockBuilder {
	b.txs = append(b.txs, tx)
	return b
}

// Build finalizes the block. A block with no transactions gets a default
// coinbase so its hash is unique.
func (b *BlockBuilder) Build() *btcutil.Block {
	txs := b.txs
	if len(txs) == 0 {
		txs = []*wire.MsgTx{NewTransaction().Build()}
	}

	header := wire.BlockHeader{
		Version: 1,
		// The merkle root is not validated by the engine; deriving it from
		// the first transaction keeps block hashes unique.
		MerkleRoot: txs[0].TxHash(),
		Timestamp:  time.Unix(1231006505, 0),
		Bits:       0x207fffff,
	}
	if b.prev != nil {
		header.PrevBlock = b.prev.BlockHash()
	}

	msg := wire.NewMsgBlock(&header)
	for _, tx := range txs {
		if err := msg.AddTransaction(tx); err != nil {
			panic(err)
		}
	}
	return btcutil.NewBlock(msg)
}

// BuildChainFrom builds a linear chain of length blocks extending parent.
func BuildChainFrom(parent *btcutil.Block, length int) []*btcutil.Block {
	blocks := make([]*btcutil.Block, 0, length)
	prev := parent
	for i := 0; i < length; i++ {
		block := WithPrevBlock(prev).Build()
		blocks = append(blocks, block)
		prev = block
	}
	return blocks
}

// BuildChain builds a linear chain of numBlocks blocks starting with a
// fresh genesis. Every block carries txsPerBlock coinbase transactions,
// each paying a distinct P2PKH address.
func BuildChain(numBlocks, txsPerBlock int) []*btcutil.Block {
	blocks := make([]*btcutil.Block, 0, numBlocks)
	for i := 0; i < numBlocks; i++ {
		var builder *BlockBuilder
		if i == 0 {
			builder = Genesis()
		} else {
			builder = WithPrevBlock(blocks[i-1])
		}
		for t := 0; t < txsPerBlock; t++ {
			builder.WithTransaction(Coinbase(50_0000_0000, Hash160(nextUniq())))
		}
		blocks = append(blocks, builder.Build())
	}
	return blocks
}
