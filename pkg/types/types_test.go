package types

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func TestParseNetwork(t *testing.T) {
	tests := []struct {
		in      string
		want    Network
		wantErr bool
	}{
		{"mainnet", Mainnet, false},
		{"testnet", Testnet, false},
		{"regtest", Regtest, false},
		{"signet", Signet, false},
		{"", "", true},
		{"Mainnet", "", true},
		{"simnet", "", true},
	}

	for _, tt := range tests {
		got, err := ParseNetwork(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseNetwork(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseNetwork(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseNetwork(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGenesisBlock(t *testing.T) {
	for _, network := range []Network{Mainnet, Testnet, Regtest, Signet} {
		genesis := network.GenesisBlock()
		if *genesis.Hash() != *network.Params().GenesisHash {
			t.Errorf("%s genesis hash = %s, want %s", network, genesis.Hash(), network.Params().GenesisHash)
		}
	}
}

func TestOutpointKeyRoundTrip(t *testing.T) {
	var hash chainhash.Hash
	for i := range hash {
		hash[i] = byte(i)
	}
	op := wire.OutPoint{Hash: hash, Index: 0xdeadbeef}

	key := OutpointKey(op)
	if len(key) != OutpointSize {
		t.Fatalf("key length = %d, want %d", len(key), OutpointSize)
	}

	got, err := OutpointFromKey(key)
	if err != nil {
		t.Fatalf("OutpointFromKey() error: %v", err)
	}
	if got != op {
		t.Errorf("round trip = %v, want %v", got, op)
	}

	if _, err := OutpointFromKey(key[:35]); err == nil {
		t.Error("expected error for short key")
	}
}

func TestOutpointKeyOrdering(t *testing.T) {
	var hash chainhash.Hash
	hash[0] = 1

	// Same txid: keys order by little-endian vout bytes, i.e. as raw
	// fixed-width bytes, not numerically.
	k0 := OutpointKey(wire.OutPoint{Hash: hash, Index: 0})
	k1 := OutpointKey(wire.OutPoint{Hash: hash, Index: 1})
	if bytes.Compare(k0, k1) >= 0 {
		t.Error("vout 0 should order before vout 1")
	}

	var hash2 chainhash.Hash
	hash2[0] = 2
	k2 := OutpointKey(wire.OutPoint{Hash: hash2, Index: 0})
	if bytes.Compare(k1, k2) >= 0 {
		t.Error("lower txid should order before higher txid")
	}
}

// p2pkhScript builds a standard P2PKH script around a 20-byte hash.
func p2pkhScript(pkHash [20]byte) []byte {
	script := []byte{0x76, 0xa9, 0x14}
	script = append(script, pkHash[:]...)
	return append(script, 0x88, 0xac)
}

func TestAddressFromScript(t *testing.T) {
	var pkHash [20]byte
	pkHash[0] = 0x42

	addr, ok := AddressFromScript(p2pkhScript(pkHash), Regtest)
	if !ok {
		t.Fatal("expected address for P2PKH script")
	}
	if addr == "" {
		t.Fatal("empty address")
	}

	// The derived address must round-trip through the parser.
	parsed, err := ParseAddress(addr.String(), Regtest)
	if err != nil {
		t.Fatalf("ParseAddress(%s) error: %v", addr, err)
	}
	if parsed != addr {
		t.Errorf("parsed = %s, want %s", parsed, addr)
	}
}

func TestAddressFromScriptUnderivable(t *testing.T) {
	tests := []struct {
		name   string
		script []byte
	}{
		{"empty", nil},
		{"op_return", []byte{0x6a, 0x04, 0x01, 0x02, 0x03, 0x04}},
		{"nonstandard", []byte{0x51, 0x52, 0x53}},
	}

	for _, tt := range tests {
		if _, ok := AddressFromScript(tt.script, Regtest); ok {
			t.Errorf("%s: expected no address", tt.name)
		}
	}
}

func TestParseAddressRejectsWrongNetwork(t *testing.T) {
	var pkHash [20]byte
	pkHash[0] = 0x42
	addr, ok := AddressFromScript(p2pkhScript(pkHash), Mainnet)
	if !ok {
		t.Fatal("expected mainnet address")
	}

	if _, err := ParseAddress(addr.String(), Regtest); err == nil {
		t.Error("expected error parsing mainnet address as regtest")
	}
}
