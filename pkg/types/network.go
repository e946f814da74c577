// Package types defines core primitive types for the Bitcoin tracking engine.
package types

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Height is a block height. The genesis block is at height 0.
type Height = uint32

// Network identifies which Bitcoin network the engine tracks.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
	Signet  Network = "signet"
)

// ParseNetwork parses a network name.
func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case Mainnet, Testnet, Regtest, Signet:
		return Network(s), nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// String returns the network name.
func (n Network) String() string {
	return string(n)
}

// Params returns the chain parameters for the network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case Testnet:
		return &chaincfg.TestNet3Params
	case Regtest:
		return &chaincfg.RegressionNetParams
	case Signet:
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// GenesisBlock returns the genesis block of the network.
func (n Network) GenesisBlock() *btcutil.Block {
	return btcutil.NewBlock(n.Params().GenesisBlock)
}
