// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero contains functions to clear secret material such as RSA
// private exponents, blinding factors and private key bytes from memory.
package zero

import (
	"math/big"
)

// Bytes sets all bytes in the passed slice to zero.
func Bytes(b []byte) {
	z := [32]byte{}
	n := uint(copy(b, z[:]))
	for n < uint(len(b)) {
		copy(b[n:], b[:n])
		n <<= 1
	}
}

// Bytea32 clears the 32-byte array by filling it with the zero value.
func Bytea32(b *[32]byte) {
	*b = [32]byte{}
}

// BigInt sets all words in the passed big int to zero and then sets the
// value to 0. Unlike x.SetInt64(0) this clears the backing array, which
// matters for blinding factors and private exponents.
func BigInt(x *big.Int) {
	if x == nil {
		return
	}
	b := x.Bits()
	z := [16]big.Word{}
	n := uint(copy(b, z[:]))
	for n < uint(len(b)) {
		copy(b[n:], b[:n])
		n <<= 1
	}
	x.SetInt64(0)
}
