package types

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// OutpointSize is the serialized size of an outpoint key:
// 32-byte txid followed by the 4-byte little-endian output index.
const OutpointSize = 36

// OutpointKey serializes an outpoint as a fixed-width map key.
// Keys order lexicographically as raw bytes.
func OutpointKey(op wire.OutPoint) []byte {
	key := make([]byte, OutpointSize)
	copy(key, op.Hash[:])
	binary.LittleEndian.PutUint32(key[chainhash.HashSize:], op.Index)
	return key
}

// OutpointFromKey decodes an outpoint key produced by OutpointKey.
func OutpointFromKey(key []byte) (wire.OutPoint, error) {
	if len(key) != OutpointSize {
		return wire.OutPoint{}, fmt.Errorf("outpoint key must be %d bytes, got %d", OutpointSize, len(key))
	}
	var op wire.OutPoint
	copy(op.Hash[:], key[:chainhash.HashSize])
	op.Index = binary.LittleEndian.Uint32(key[chainhash.HashSize:])
	return op, nil
}
