package utxoset

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// The maximum size in bytes of an output script for it to be considered
// "small", respectively "medium". Anything larger goes to the unbounded
// large shard.
const (
	txOutScriptMaxSizeSmall  = 25
	txOutScriptMaxSizeMedium = 201
)

// Key prefixes for the UTXO set's storage namespace.
var (
	prefixSmall  = []byte("u1/") // u1/<outpoint(36)> -> height(4) + value(8) + script
	prefixMedium = []byte("u2/") // u2/<outpoint(36)> -> same layout
	prefixLarge  = []byte("u3/") // u3/<outpoint(36)> -> same layout, unbounded script
	prefixAddr   = []byte("a/")  // a/<len(1)><address><height(4)><outpoint(36)> -> empty

	keyNextHeight     = []byte("m/next_height")
	keyIngestingBlock = []byte("m/ingesting_block")
	keyIngestPos      = []byte("m/ingest_pos")
)

// shardPrefixes in probe order: small, then medium, then large.
var shardPrefixes = [][]byte{prefixSmall, prefixMedium, prefixLarge}

// shardPrefix classifies an output by script size. Shard membership is a
// pure function of the output.
func shardPrefix(scriptLen int) []byte {
	switch {
	case scriptLen <= txOutScriptMaxSizeSmall:
		return prefixSmall
	case scriptLen <= txOutScriptMaxSizeMedium:
		return prefixMedium
	default:
		return prefixLarge
	}
}

func shardKey(prefix, outpointKey []byte) []byte {
	key := make([]byte, len(prefix)+len(outpointKey))
	copy(key, prefix)
	copy(key[len(prefix):], outpointKey)
	return key
}

// encodeUtxoValue lays out a stored output as height(4 BE) + value(8 LE) +
// script. The height travels with the output so UTXOs can be relocated
// and the inverse index reconstructed.
func encodeUtxoValue(height types.Height, out *wire.TxOut) []byte {
	v := make([]byte, 12+len(out.PkScript))
	binary.BigEndian.PutUint32(v[:4], height)
	binary.LittleEndian.PutUint64(v[4:12], uint64(out.Value))
	copy(v[12:], out.PkScript)
	return v
}

func decodeUtxoValue(v []byte) (types.Height, *wire.TxOut, error) {
	if len(v) < 12 {
		return 0, nil, fmt.Errorf("utxo value must be at least 12 bytes, got %d", len(v))
	}
	height := binary.BigEndian.Uint32(v[:4])
	out := &wire.TxOut{
		Value:    int64(binary.LittleEndian.Uint64(v[4:12])),
		PkScript: append([]byte(nil), v[12:]...),
	}
	return height, out, nil
}

// addressUtxoKey builds an inverse index key. The single length byte keeps
// one address from being a prefix of another; within an address, entries
// order ascending by (height, outpoint).
func addressUtxoKey(addr types.Address, height types.Height, outpointKey []byte) []byte {
	key := make([]byte, 0, len(prefixAddr)+1+len(addr)+4+len(outpointKey))
	key = append(key, prefixAddr...)
	key = append(key, byte(len(addr)))
	key = append(key, addr...)
	key = binary.BigEndian.AppendUint32(key, height)
	key = append(key, outpointKey...)
	return key
}

// addressPrefix is the scan prefix covering all of an address's entries.
func addressPrefix(addr types.Address) []byte {
	prefix := make([]byte, 0, len(prefixAddr)+1+len(addr))
	prefix = append(prefix, prefixAddr...)
	prefix = append(prefix, byte(len(addr)))
	prefix = append(prefix, addr...)
	return prefix
}

// parseAddressUtxoKey extracts the height and outpoint from an inverse
// index key scanned with addressPrefix(addr).
func parseAddressUtxoKey(addr types.Address, key []byte) (types.Height, wire.OutPoint, error) {
	off := len(prefixAddr) + 1 + len(addr)
	if len(key) != off+4+types.OutpointSize {
		return 0, wire.OutPoint{}, fmt.Errorf("malformed address index key of %d bytes", len(key))
	}
	height := binary.BigEndian.Uint32(key[off : off+4])
	op, err := types.OutpointFromKey(key[off+4:])
	if err != nil {
		return 0, wire.OutPoint{}, err
	}
	return height, op, nil
}
