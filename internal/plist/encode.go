package plist

import (
	"bytes"
	"encoding/binary"
	"math"
)

// encoder builds the flat object table a bplist00 file is made of. Objects
// are not deduplicated (unlike Apple's writer, which uniques strings and
// numbers); correctness of the round trip does not depend on it, and the
// payload sizes this protocol pushes around (lockdown requests, instruments
// config dictionaries) are small enough that it doesn't matter.
type encoder struct {
	objects [][]byte // encoded object bytes, index = object reference
}

// intern encodes v and appends it to the object table, returning its
// reference index. Container objects recurse before appending themselves so
// that child references are resolved first.
func (e *encoder) intern(v any) int {
	switch x := v.(type) {
	case nil:
		return e.push([]byte{0x00})
	case bool:
		if x {
			return e.push([]byte{0x09})
		}
		return e.push([]byte{0x08})
	case int64:
		return e.push(encodeInt(x))
	case float64:
		buf := make([]byte, 9)
		buf[0] = 0x23
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(x))
		return e.push(buf)
	case Data:
		return e.push(encodeLengthMarker(0x40, len(x), x))
	case string:
		return e.encodeString(x)
	case []any:
		refs := make([]int, len(x))
		for i, item := range x {
			refs[i] = e.intern(normalize(item))
		}
		return e.push(encodeRefList(0xA0, refs))
	case Dict:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		keyRefs := make([]int, len(keys))
		for i, k := range keys {
			keyRefs[i] = e.encodeString(k)
		}
		valRefs := make([]int, len(keys))
		for i, k := range keys {
			valRefs[i] = e.intern(normalize(x[k]))
		}
		refs := append(append([]int{}, keyRefs...), valRefs...)
		return e.push(encodeRefListN(0xD0, len(keys), refs))
	default:
		panic(&ErrUnsupportedType{Value: v})
	}
}

func (e *encoder) encodeString(s string) int {
	if isASCII(s) {
		return e.push(encodeLengthMarker(0x50, len(s), []byte(s)))
	}
	u16 := utf16BE(s)
	return e.push(encodeLengthMarker(0x60, len(u16)/2, u16))
}

func (e *encoder) push(b []byte) int {
	e.objects = append(e.objects, b)
	return len(e.objects) - 1
}

// finish lays out the object table, offset table and trailer, returning the
// complete bplist00 byte stream. root is the index returned by the outermost
// intern call.
func (e *encoder) finish(root int) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("bplist00")

	offsets := make([]uint64, len(e.objects))
	for i, obj := range e.objects {
		offsets[i] = uint64(buf.Len())
		buf.Write(obj)
	}

	offsetTableOffset := uint64(buf.Len())
	offsetIntSize := byteWidth(uint64(buf.Len()))
	for _, off := range offsets {
		buf.Write(encodeUint(off, offsetIntSize))
	}

	// Child object references are always written at a fixed 4-byte width
	// (see encodeRefListN) so the trailer must advertise the same width;
	// narrowing it to byteWidth(len(objects)) would desync decode.
	const objRefSize = 4

	var trailer [32]byte
	trailer[6] = offsetIntSize
	trailer[7] = objRefSize
	binary.BigEndian.PutUint64(trailer[8:16], uint64(len(e.objects)))
	binary.BigEndian.PutUint64(trailer[16:24], uint64(root))
	binary.BigEndian.PutUint64(trailer[24:32], offsetTableOffset)
	buf.Write(trailer[:])

	return buf.Bytes(), nil
}

func encodeInt(v int64) []byte {
	u := uint64(v)
	switch {
	case v >= -0x80 && v <= 0x7F:
		return []byte{0x10, byte(u)}
	case v >= -0x8000 && v <= 0x7FFF:
		buf := make([]byte, 3)
		buf[0] = 0x11
		binary.BigEndian.PutUint16(buf[1:], uint16(v))
		return buf
	case v >= -0x80000000 && v <= 0x7FFFFFFF:
		buf := make([]byte, 5)
		buf[0] = 0x12
		binary.BigEndian.PutUint32(buf[1:], uint32(v))
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = 0x13
		binary.BigEndian.PutUint64(buf[1:], u)
		return buf
	}
}

func encodeLengthMarker(marker byte, length int, payload []byte) []byte {
	if length < 0x0F {
		return append([]byte{marker | byte(length)}, payload...)
	}
	head := append([]byte{marker | 0x0F}, encodeInt(int64(length))...)
	return append(head, payload...)
}

// encodeRefList writes refs at a fixed 4-byte width; the width is never
// narrowed to the object count.
func encodeRefList(marker byte, refs []int) []byte {
	return encodeRefListN(marker, len(refs), refs)
}

func encodeRefListN(marker byte, count int, refs []int) []byte {
	var out []byte
	if count < 0x0F {
		out = []byte{marker | byte(count)}
	} else {
		out = append([]byte{marker | 0x0F}, encodeInt(int64(count))...)
	}
	for _, r := range refs {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(r))
		out = append(out, b...)
	}
	return out
}

func encodeUint(v uint64, width byte) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf[8-width:]
}

func byteWidth(max uint64) byte {
	switch {
	case max < 1<<8:
		return 1
	case max < 1<<16:
		return 2
	case max < 1<<32:
		return 4
	default:
		return 8
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}

func utf16BE(s string) []byte {
	runes := []rune(s)
	out := make([]byte, 0, len(runes)*2)
	for _, r := range runes {
		if r > 0xFFFF {
			r1, r2 := utf16Encode(r)
			out = binary.BigEndian.AppendUint16(out, r1)
			out = binary.BigEndian.AppendUint16(out, r2)
			continue
		}
		out = binary.BigEndian.AppendUint16(out, uint16(r))
	}
	return out
}

func utf16Encode(r rune) (uint16, uint16) {
	r -= 0x10000
	return uint16(0xD800 + (r >> 10)), uint16(0xDC00 + (r & 0x3FF))
}
