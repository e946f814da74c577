// Package cbor wraps the CBOR codec used for all engine snapshots.
// The handle is canonical so that identical states encode to identical
// bytes, which the snapshot round-trip guarantees rely on.
package cbor

import (
	"io"

	"github.com/ugorji/go/codec"
)

func newHandle() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	return h
}

// Marshal encodes v as canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, newHandle()).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, newHandle()).Decode(v)
}

// NewEncoder returns a streaming canonical CBOR encoder.
func NewEncoder(w io.Writer) *codec.Encoder {
	return codec.NewEncoder(w, newHandle())
}

// NewDecoder returns a streaming CBOR decoder.
func NewDecoder(r io.Reader) *codec.Decoder {
	return codec.NewDecoder(r, newHandle())
}
