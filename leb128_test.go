// leb128_test.go: Codec round-trip and bounds checks
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/agilira/go-errors"
)

func TestUleb128RoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 0x7f, 0x80, 0x3fff, 0x4000,
		math.MaxUint32, math.MaxUint64,
	}
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		values = append(values, r.Uint64()>>uint(r.Intn(64)))
	}

	for _, v := range values {
		buf := AppendUleb128(nil, v)
		if len(buf) > 10 {
			t.Fatalf("encoding of %d uses %d bytes", v, len(buf))
		}
		got, n, err := Uleb128(buf)
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Fatalf("round trip %d: got %d (%d bytes, want %d)", v, got, n, len(buf))
		}
	}
}

func TestSleb128RoundTrip(t *testing.T) {
	values := []int64{
		0, 1, -1, 63, 64, -64, -65, 0x3f, 0x40,
		math.MaxInt64, math.MinInt64,
	}
	r := rand.New(rand.NewSource(43))
	for i := 0; i < 1000; i++ {
		values = append(values, int64(r.Uint64())>>uint(r.Intn(64)))
	}

	for _, v := range values {
		buf := AppendSleb128(nil, v)
		if len(buf) > 10 {
			t.Fatalf("encoding of %d uses %d bytes", v, len(buf))
		}
		got, n, err := Sleb128(buf)
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Fatalf("round trip %d: got %d (%d bytes, want %d)", v, got, n, len(buf))
		}
	}
}

func TestUleb128Truncated(t *testing.T) {
	buf := AppendUleb128(nil, math.MaxUint64)
	for i := 0; i < len(buf); i++ {
		if _, _, err := Uleb128(buf[:i]); !errors.HasCode(err, ErrCodeLEBTruncated) {
			t.Fatalf("prefix of %d bytes: expected truncation error, got %v", i, err)
		}
	}
}

func TestLeb128Overflow(t *testing.T) {
	// Ten continuation bytes shift the eleventh byte past 64 bits.
	over := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	if _, _, err := Uleb128(over); !errors.HasCode(err, ErrCodeLEBOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if _, _, err := Sleb128(over); !errors.HasCode(err, ErrCodeLEBOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
}

func BenchmarkAppendUleb128(b *testing.B) {
	buf := make([]byte, 0, 16)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf = AppendUleb128(buf[:0], uint64(i)*2654435761)
	}
}
