// leb128.go: Variable-length integer codec for the MLPD event payload
//
// Every numeric event field outside the fixed headers uses LEB128: the low
// seven bits of each byte carry payload, the high bit is the continuation
// flag. The signed form uses the standard "more" termination rule.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import "github.com/agilira/go-errors"

// ErrCodeLEBTruncated is reported when a decoder runs out of input before the
// final byte of a value.
const ErrCodeLEBTruncated errors.ErrorCode = "MLPD_LEB_TRUNCATED"

// ErrCodeLEBOverflow is reported when a value's continuation bytes would
// shift past 64 bits.
const ErrCodeLEBOverflow errors.ErrorCode = "MLPD_LEB_OVERFLOW"

// AppendUleb128 appends the unsigned LEB128 encoding of v to buf and returns
// the extended slice. At most 10 bytes are written.
func AppendUleb128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}

// AppendSleb128 appends the signed LEB128 encoding of v to buf and returns
// the extended slice. At most 10 bytes are written.
func AppendSleb128(buf []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		// The sign bit of the byte is its second-highest bit (0x40).
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// Uleb128 decodes an unsigned value from the front of buf, returning the
// value and the number of bytes consumed. Inputs that end mid-value or shift
// past 64 bits are rejected.
func Uleb128(buf []byte) (uint64, int, error) {
	var res uint64
	var shift uint
	for i, b := range buf {
		if shift >= 64 {
			return 0, 0, errors.New(ErrCodeLEBOverflow, "uleb128 value exceeds 64 bits")
		}
		res |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return res, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New(ErrCodeLEBTruncated, "uleb128 value truncated")
}

// Sleb128 decodes a signed value from the front of buf, returning the value
// and the number of bytes consumed.
func Sleb128(buf []byte) (int64, int, error) {
	var res int64
	var shift uint
	for i, b := range buf {
		if shift >= 64 {
			return 0, 0, errors.New(ErrCodeLEBOverflow, "sleb128 value exceeds 64 bits")
		}
		res |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				res |= -1 << shift
			}
			return res, i + 1, nil
		}
	}
	return 0, 0, errors.New(ErrCodeLEBTruncated, "sleb128 value truncated")
}
