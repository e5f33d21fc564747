// ABOUTME: Order-preserving encoding for composite DOM node keys
// ABOUTME: Supports bytes/int64/uint64 fields with lexicographic ordering

// Package key encodes the logical node identifiers DOM storage keys on.
// A key is an opaque, lexicographically ordered byte sequence; callers
// encode a node identity as (document_id, gid) bytes. This package
// supplies that encoding along with the general composite-key machinery
// it is built from.
package key

import (
	"encoding/binary"
	"fmt"
)

// Field types for composite keys.
const (
	TypeBytes  = 1
	TypeInt64  = 2
	TypeUint64 = 3
)

// Value is a single field of a composite key.
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
}

// Bytes wraps a byte-string field.
func Bytes(data []byte) Value { return Value{Type: TypeBytes, Str: data} }

// Int64 wraps a signed 64-bit field.
func Int64(i int64) Value { return Value{Type: TypeInt64, I64: i} }

// Uint64 wraps an unsigned 64-bit field.
func Uint64(u uint64) Value { return Value{Type: TypeUint64, U64: u} }

// Encode encodes an ordered sequence of fields into a single byte key.
// Numeric fields are fixed-width and big-endian (sign bit flipped for
// int64, so two's-complement ordering matches byte ordering); byte-string
// fields are escaped and null-terminated so concatenation stays
// order-preserving and unambiguous.
func Encode(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, byte(v.Type))
		switch v.Type {
		case TypeInt64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(v.I64)+(1<<63))
			out = append(out, buf[:]...)
		case TypeUint64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], v.U64)
			out = append(out, buf[:]...)
		case TypeBytes:
			out = append(out, escape(v.Str)...)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("key: unknown field type %d", v.Type))
		}
	}
	return out
}

func escape(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b <= 1 {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}
	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		if b <= 1 {
			out = append(out, 0x01, b+1)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func unescape(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x01 && i+1 < len(s) {
			out = append(out, s[i+1]-1)
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// Decode reverses Encode.
func Decode(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0
	for pos < len(data) {
		typ := data[pos]
		pos++
		switch typ {
		case TypeInt64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("key: incomplete int64 field at %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			vals = append(vals, Int64(int64(u-(1<<63))))
			pos += 8
		case TypeUint64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("key: incomplete uint64 field at %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			vals = append(vals, Uint64(u))
			pos += 8
		case TypeBytes:
			end := pos
			for end < len(data) && data[end] != 0 {
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("key: unterminated bytes field at %d", pos)
			}
			vals = append(vals, Bytes(unescape(data[pos:end])))
			pos = end + 1
		default:
			return nil, fmt.Errorf("key: unknown field type %d at %d", typ, pos-1)
		}
	}
	return vals, nil
}

// EncodeNode builds the standard key for a logical node identifier:
// the (document_id, gid) pair.
func EncodeNode(documentID string, gid int64) []byte {
	return Encode([]Value{Bytes([]byte(documentID)), Int64(gid)})
}

// DecodeNode reverses EncodeNode.
func DecodeNode(k []byte) (documentID string, gid int64, err error) {
	vals, err := Decode(k)
	if err != nil {
		return "", 0, err
	}
	if len(vals) != 2 || vals[0].Type != TypeBytes || vals[1].Type != TypeInt64 {
		return "", 0, fmt.Errorf("key: not a node key")
	}
	return string(vals[0].Str), vals[1].I64, nil
}
