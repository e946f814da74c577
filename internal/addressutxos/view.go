// Package addressutxos answers per-address UTXO queries by composing the
// stable UTXO set with an overlay built from the unstable main chain.
package addressutxos

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/wire"

	"github.com/DemoYeti/bitcoin-canister/internal/unstable"
	"github.com/DemoYeti/bitcoin-canister/internal/utxoset"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// Utxo is one unspent output of an address.
type Utxo struct {
	Outpoint wire.OutPoint
	Output   *wire.TxOut
	Height   types.Height
}

// View is a lazy per-address composition of stable and unstable state.
// The effective set is stable ∪ unstable-additions − unstable-spends,
// evaluated against a single coherent snapshot, so a query never sees an
// outpoint as both stable and unstable.
type View struct {
	address  types.Address
	utxos    *utxoset.UtxoSet
	unstable *unstable.UnstableBlocks
}

// New creates a view of the given address over the current state.
func New(address types.Address, utxos *utxoset.UtxoSet, u *unstable.UnstableBlocks) *View {
	return &View{address: address, utxos: utxos, unstable: u}
}

// GetUtxos returns the address's unspent outputs in ascending
// (height, outpoint) order.
func (v *View) GetUtxos() ([]Utxo, error) {
	// Stable entries, keyed by outpoint so unstable additions that were
	// already partially ingested do not show up twice.
	set := make(map[wire.OutPoint]Utxo)
	err := v.utxos.ForEachAddressUtxo(v.address, func(op wire.OutPoint, out *wire.TxOut, height types.Height) error {
		set[op] = Utxo{Outpoint: op, Output: out, Height: height}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Overlay: walk the main chain from the oldest unstable block to the
	// tip. Outputs to the address are additions; inputs spend whatever
	// the set currently holds for it.
	anchorHeight := v.unstable.AnchorHeight()
	for i, block := range v.unstable.GetMainChain().Blocks() {
		height := anchorHeight + types.Height(i)
		for _, tx := range block.Transactions() {
			for _, in := range tx.MsgTx().TxIn {
				delete(set, in.PreviousOutPoint)
			}
			for idx, out := range tx.MsgTx().TxOut {
				addr, ok := types.AddressFromScript(out.PkScript, v.utxos.Network())
				if !ok || addr != v.address {
					continue
				}
				op := wire.OutPoint{Hash: *tx.Hash(), Index: uint32(idx)}
				set[op] = Utxo{Outpoint: op, Output: out, Height: height}
			}
		}
	}

	utxos := make([]Utxo, 0, len(set))
	for _, u := range set {
		utxos = append(utxos, u)
	}
	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Height != utxos[j].Height {
			return utxos[i].Height < utxos[j].Height
		}
		ki := types.OutpointKey(utxos[i].Outpoint)
		kj := types.OutpointKey(utxos[j].Outpoint)
		return bytes.Compare(ki, kj) < 0
	})
	return utxos, nil
}

// Balance returns the sum of the address's unspent output values.
func (v *View) Balance() (uint64, error) {
	utxos, err := v.GetUtxos()
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, u := range utxos {
		total += uint64(u.Output.Value)
	}
	return total, nil
}
