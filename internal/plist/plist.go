// Package plist implements the binary property-list ("bplist00") codec used
// by the mux daemon's plist framing (§4.2) and every lockdown/instruments
// payload. No example repo in the retrieval pack vendors a plist library
// (see DESIGN.md); this is a from-scratch implementation of the subset
// Apple's format actually needs for this wire protocol: dictionaries with
// string keys, arrays, UTF-8/ASCII strings, 64-bit integers, floats,
// booleans, opaque byte data, and null.
package plist

import "fmt"

// Data wraps an opaque byte blob so it round-trips as a plist <data>
// element instead of a UTF-8 string. PairRecord fields such as
// HostCertificate and DevicePublicKey are carried this way.
type Data []byte

// Dict is the root container most plist messages use; defined as a named
// type so call sites read naturally (plist.Dict{"Request": "QueryType"}).
type Dict map[string]any

// Marshal encodes a value (Dict, []any, string, []byte/Data, int64 or any
// integer type, float64, bool, or nil) into binary plist bytes.
func Marshal(v any) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			unsupported, ok := r.(*ErrUnsupportedType)
			if !ok {
				panic(r)
			}
			out, err = nil, unsupported
		}
	}()
	e := &encoder{}
	root := e.intern(normalize(v))
	return e.finish(root)
}

// Unmarshal decodes binary plist bytes produced by Marshal (or by a real
// Apple plist writer, for the value space this package supports).
func Unmarshal(data []byte) (any, error) {
	d, err := newDecoder(data)
	if err != nil {
		return nil, err
	}
	return d.decodeObject(d.topObject)
}

// normalize coerces Go's common integer/float types into the canonical
// int64/float64 representation this package stores internally.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return Data(x)
	case map[string]any:
		return Dict(x)
	default:
		return v
	}
}

// ErrUnsupportedType is returned by Marshal for values outside the plist
// value space described in spec.md §4.8.
type ErrUnsupportedType struct {
	Value any
}

func (e *ErrUnsupportedType) Error() string {
	return fmt.Sprintf("plist: unsupported value of type %T", e.Value)
}
