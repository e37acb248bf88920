// Package leb128 implements the variable-length integer encoding used
// throughout the WebAssembly binary format. This repository treats the
// binary format itself as a non-goal beyond what the decoder needs to walk
// section and function-body boundaries, so only the unsigned and signed
// 32/64-bit forms are implemented; internal/decoder itself reads only
// unsigned 32-bit values.
package leb128

import (
	"errors"
	"io"
)

var ErrOverflow = errors.New("leb128: varint overflows 64 bits")

// DecodeUint32 reads an unsigned LEB128-encoded uint32 from r, returning
// the decoded value and the number of bytes consumed.
func DecodeUint32(r io.ByteReader) (uint32, uint64, error) {
	v, n, err := decodeUint(r, 32)
	return uint32(v), n, err
}

// DecodeUint64 reads an unsigned LEB128-encoded uint64 from r.
func DecodeUint64(r io.ByteReader) (uint64, uint64, error) {
	return decodeUint(r, 64)
}

func decodeUint(r io.ByteReader, bitSize int) (uint64, uint64, error) {
	var result uint64
	var shift uint
	var read uint64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, read, err
		}
		read++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= uint(bitSize)+7 {
			return 0, read, ErrOverflow
		}
	}
	return result, read, nil
}

// DecodeInt32 reads a signed LEB128-encoded int32 from r.
func DecodeInt32(r io.ByteReader) (int32, uint64, error) {
	v, n, err := decodeInt(r, 32)
	return int32(v), n, err
}

// DecodeInt64 reads a signed LEB128-encoded int64 from r.
func DecodeInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeInt(r, 64)
}

func decodeInt(r io.ByteReader, bitSize int) (int64, uint64, error) {
	var result int64
	var shift uint
	var read uint64
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, read, err
		}
		read++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= uint(bitSize)+7 {
			return 0, read, ErrOverflow
		}
	}
	if shift < uint(bitSize) && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, read, nil
}

// EncodeUint32 returns the unsigned LEB128 encoding of v. Used by tests to
// synthesize module bytes, not by any production decode path.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 returns the unsigned LEB128 encoding of v.
func EncodeUint64(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}
