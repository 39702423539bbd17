// Package archiver defines the external codec contract instruments RPC
// payloads are carried through (spec.md §4.8, component C8, external
// contract only): encoding a call's argument vector into bytes and
// decoding a reply's bytes back into a structured value. The RPC layer
// never interprets payload contents itself — it only routes them.
package archiver

import (
	"idevicekit/internal/plist"
)

// Value is the value space the archiver round-trips: 64-bit signed
// integers, floats, byte-strings, text-strings, booleans, arrays,
// string-keyed dictionaries, and an opaque nil (spec.md §4.8).
type Value = any

// Codec encodes a call's argument vector and decodes a reply payload.
// decode(encode(xs)) equals xs when xs holds values in plist's canonical
// forms (int64, float64, string, bool, plist.Data, []any, plist.Dict, nil);
// other accepted Go types such as int, []byte or map[string]any decode to
// their canonical form.
type Codec interface {
	Encode(args []Value) ([]byte, error)
	Decode(data []byte) (Value, error)
}

// PlistCodec is the default Codec: it archives the argument vector and
// replies as a property list array/value, reusing internal/plist since the
// instruments wire value space is a strict subset of a plist's (spec.md
// §4.8's value space is exactly what internal/plist already models).
type PlistCodec struct{}

func (PlistCodec) Encode(args []Value) ([]byte, error) {
	arr := make([]any, len(args))
	copy(arr, args)
	return plist.Marshal(arr)
}

func (PlistCodec) Decode(data []byte) (Value, error) {
	return plist.Unmarshal(data)
}
