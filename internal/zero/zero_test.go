// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zero_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/btcsuite/btcjoin/internal/zero"
	"github.com/stretchr/testify/require"
)

func makeOneBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 1
	}
	return b
}

func TestBytes(t *testing.T) {
	t.Parallel()

	sizes := []int{0, 31, 32, 33, 127, 128, 129, 255, 256, 257, 383,
		384, 385, 511, 512, 513}

	for _, n := range sizes {
		b := makeOneBytes(n)
		zero.Bytes(b)
		require.Equal(t, make([]byte, n), b, "n=%d", n)
	}
}

func TestBytea32(t *testing.T) {
	t.Parallel()

	var b [32]byte
	copy(b[:], makeOneBytes(32))
	zero.Bytea32(&b)
	require.Equal(t, [32]byte{}, b)
}

func TestBigInt(t *testing.T) {
	t.Parallel()

	tests := []string{
		strings.Repeat("FFFFFFFF", 16),
		strings.Repeat("FFFFFFFF", 17),
		strings.Repeat("FFFFFFFF", 64),
		strings.Repeat("FFFFFFFF", 65),
		"01",
	}

	for _, s := range tests {
		x, ok := new(big.Int).SetString(s, 16)
		require.True(t, ok)

		words := x.Bits()
		zero.BigInt(x)

		require.Zero(t, x.Sign())
		for i, w := range words {
			require.Zero(t, w, "word %d of %s", i, s)
		}
	}

	// A nil value is ignored.
	zero.BigInt(nil)
}
