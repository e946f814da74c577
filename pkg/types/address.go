package types

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// AddressMaxLen is the maximum length of an encoded address. The engine
// treats addresses as opaque ordered keys; anything longer is rejected.
const AddressMaxLen = 90

// Address is a Bitcoin address in its canonical encoded form. The engine
// never interprets it beyond using its bytes as an ordered key.
type Address string

// String returns the encoded address.
func (a Address) String() string {
	return string(a)
}

// ParseAddress decodes an address string and checks it belongs to the
// given network.
func ParseAddress(s string, network Network) (Address, error) {
	if s == "" {
		return "", fmt.Errorf("empty address")
	}
	if len(s) > AddressMaxLen {
		return "", fmt.Errorf("address longer than %d bytes", AddressMaxLen)
	}
	addr, err := btcutil.DecodeAddress(s, network.Params())
	if err != nil {
		return "", fmt.Errorf("decode address: %w", err)
	}
	if !addr.IsForNet(network.Params()) {
		return "", fmt.Errorf("address %s is not valid for %s", s, network)
	}
	return Address(addr.EncodeAddress()), nil
}

// AddressFromScript derives the address of an output script, if one exists.
// Scripts that are non-standard, pay to multiple parties, or carry data
// (OP_RETURN) have no address; such outputs are tracked by outpoint only.
func AddressFromScript(script []byte, network Network) (Address, bool) {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(script, network.Params())
	if err != nil {
		return "", false
	}
	if class == txscript.NonStandardTy || class == txscript.NullDataTy {
		return "", false
	}
	if len(addrs) != 1 {
		return "", false
	}
	encoded := addrs[0].EncodeAddress()
	if len(encoded) > AddressMaxLen {
		return "", false
	}
	return Address(encoded), true
}
