// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blindsig

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testSignerOnce sync.Once
	testSigner     *Signer
)

// newTestSigner returns a shared 1024 bit signer. Key generation dominates
// the runtime of this package's tests otherwise.
func newTestSigner(t *testing.T) *Signer {
	t.Helper()

	testSignerOnce.Do(func() {
		s, err := GenerateSigner(rand.Reader, 1024)
		require.NoError(t, err)
		testSigner = s
	})

	return testSigner
}

// TestBlindSignUnblindVerify checks that a signature obtained through the
// blinded path verifies against the plaintext and is identical to a direct
// signature over it.
func TestBlindSignUnblindVerify(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	pub := signer.PublicKey()

	testCases := []struct {
		name string
		msg  []byte
	}{
		{
			name: "p2wpkh script",
			msg: []byte{
				0x00, 0x14, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
				0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e,
				0x0f, 0x10, 0x11, 0x12, 0x13, 0x14,
			},
		},
		{
			name: "empty message",
			msg:  []byte{},
		},
		{
			name: "long message",
			msg:  make([]byte, 4096),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			factor, blinded, err := pub.Blind(tc.msg)
			require.NoError(t, err)
			require.Len(t, blinded, pub.Size())

			blindSig, err := signer.SignBlinded(blinded)
			require.NoError(t, err)

			sig, err := pub.Unblind(blindSig, factor)
			require.NoError(t, err)
			require.True(t, pub.Verify(sig, tc.msg))

			direct, err := signer.Sign(tc.msg)
			require.NoError(t, err)
			require.Equal(t, direct, sig)

			// The signer never saw anything equal to the final
			// signature.
			require.NotEqual(t, blindSig, sig)
			require.NotEqual(t, blinded, sig)
		})
	}
}

// TestBlindingIsRandomized ensures two blindings of the same message share
// nothing the signer could link.
func TestBlindingIsRandomized(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	msg := []byte("output script")

	f1, b1, err := signer.Blind(msg)
	require.NoError(t, err)
	f2, b2, err := signer.Blind(msg)
	require.NoError(t, err)
	require.NotEqual(t, b1, b2)

	s1, err := signer.SignBlinded(b1)
	require.NoError(t, err)
	s2, err := signer.SignBlinded(b2)
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)

	u1, err := signer.Unblind(s1, f1)
	require.NoError(t, err)
	u2, err := signer.Unblind(s2, f2)
	require.NoError(t, err)
	require.Equal(t, u1, u2)
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	pub := signer.PublicKey()
	msg := []byte("message")

	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	require.True(t, pub.Verify(sig, msg))

	require.False(t, pub.Verify(sig, []byte("other message")))

	tampered := append([]byte(nil), sig...)
	tampered[len(tampered)-1] ^= 0x01
	require.False(t, pub.Verify(tampered, msg))

	require.False(t, pub.Verify(sig[1:], msg))
	require.False(t, pub.Verify(nil, msg))

	// A signature under a different key does not verify.
	other, err := GenerateSigner(rand.Reader, 1024)
	require.NoError(t, err)
	require.False(t, other.Verify(sig, msg))
}

func TestSignBlindedOutOfRange(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	pub := signer.PublicKey()

	tooLarge := pub.N.FillBytes(make([]byte, pub.Size()))
	_, err := signer.SignBlinded(tooLarge)
	require.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = signer.SignBlinded(make([]byte, pub.Size()+1))
	require.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = signer.SignBlinded(nil)
	require.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestUnblindWipedFactor(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)

	factor, blinded, err := signer.Blind([]byte("msg"))
	require.NoError(t, err)
	sig, err := signer.SignBlinded(blinded)
	require.NoError(t, err)

	factor.Zero()
	_, err = signer.Unblind(sig, factor)
	require.ErrorIs(t, err, ErrInvalidFactor)

	_, err = signer.Unblind(sig, nil)
	require.ErrorIs(t, err, ErrInvalidFactor)
}

// TestStandardPSSSignature checks that unblinded signatures are plain
// RSASSA-PSS signatures over SHA-384 with an empty salt.
func TestStandardPSSSignature(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)
	pub := signer.PublicKey()
	msg := []byte("output script")

	factor, blinded, err := pub.Blind(msg)
	require.NoError(t, err)
	blindSig, err := signer.SignBlinded(blinded)
	require.NoError(t, err)
	sig, err := pub.Unblind(blindSig, factor)
	require.NoError(t, err)

	digest := sha512.Sum384(msg)
	err = rsa.VerifyPSS(
		&rsa.PublicKey{N: pub.N, E: pub.E}, crypto.SHA384, digest[:],
		sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto},
	)
	require.NoError(t, err)
}

// TestUnblindMismatchedFactor ensures a blind signature only unblinds with
// the factor of its own blinding.
func TestUnblindMismatchedFactor(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t)

	_, b1, err := signer.Blind([]byte("first"))
	require.NoError(t, err)
	f2, _, err := signer.Blind([]byte("second"))
	require.NoError(t, err)

	s1, err := signer.SignBlinded(b1)
	require.NoError(t, err)

	_, err = signer.Unblind(s1, f2)
	require.Error(t, err)
}

func TestPublicKeySerialization(t *testing.T) {
	t.Parallel()

	pub := newTestSigner(t).PublicKey()

	parsed, err := ParsePublicKey(pub.Serialize())
	require.NoError(t, err)
	require.True(t, pub.IsEqual(parsed))

	testCases := []struct {
		name string
		raw  []byte
	}{
		{
			name: "too short",
			raw:  []byte{0, 0, 0, 3},
		},
		{
			name: "even exponent",
			raw:  append([]byte{0, 0, 0, 4}, pub.N.Bytes()...),
		},
		{
			name: "small modulus",
			raw:  []byte{0, 1, 0, 1, 0xff, 0xff, 0xff, 0xfd},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParsePublicKey(tc.raw)
			require.Error(t, err)
		})
	}
}

func TestZeroedSigner(t *testing.T) {
	t.Parallel()

	signer, err := GenerateSigner(rand.Reader, 1024)
	require.NoError(t, err)

	msg := []byte("msg")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)

	signer.Zero()

	_, err = signer.Sign(msg)
	require.ErrorIs(t, err, ErrKeyWiped)
	require.True(t, signer.Verify(sig, msg))
}
