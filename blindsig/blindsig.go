// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blindsig implements RSA blind signatures as specified by RFC 9474
// (RSABSSA-SHA384-PSSZERO-Deterministic).
//
// A requester encodes a message with EMSA-PSS, multiplies it with r^e for a
// random r and hands the blinded value to the signer. The signer raises it
// to d, and the requester strips r again. The result is an ordinary
// RSASSA-PSS signature over the message that the signer cannot link to the
// blinded value it signed. The deterministic variant needs no salt or
// message randomizer, so a signature is fully described by the message.
package blindsig

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/btcsuite/btcjoin/internal/zero"
	"github.com/cloudflare/circl/blindsign/blindrsa"
)

// DefaultKeyBits is the modulus size of freshly generated round keys.
const DefaultKeyBits = 2048

// variant is the RFC 9474 suite used on both sides of a round.
const variant = blindrsa.SHA384PSSZeroDeterministic

var (
	// ErrValueOutOfRange is returned when a blinded message or signature
	// is not an element of Z_N for the key in use.
	ErrValueOutOfRange = errors.New("value out of range for modulus")

	// ErrInvalidFactor is returned when unblinding with a blinding factor
	// that was wiped or never initialized.
	ErrInvalidFactor = errors.New("invalid blinding factor")

	// ErrKeyWiped is returned when signing with a signer whose private
	// key was already wiped.
	ErrKeyWiped = errors.New("signing key wiped")
)

// Scheme is the set of blind signature operations used by both sides of a
// round. The coordinator holds a full Scheme for every round, while a
// client only ever needs the public half.
type Scheme interface {
	// Blind returns the blinding factor and blinded form of msg.
	Blind(msg []byte) (*BlindingFactor, []byte, error)

	// SignBlinded signs a blinded message without learning it.
	SignBlinded(blinded []byte) ([]byte, error)

	// Unblind turns a signature over a blinded message into a signature
	// over the original message.
	Unblind(sig []byte, factor *BlindingFactor) ([]byte, error)

	// Verify reports whether sig is a valid signature over msg.
	Verify(sig, msg []byte) bool

	// PublicKey returns the verification key of the scheme.
	PublicKey() *PublicKey
}

// BlindingFactor is the requester state of one blinding: the inverse of r
// and the encoded message. It must be kept until the signature is
// unblinded and wiped afterwards.
type BlindingFactor struct {
	state *blindrsa.State
}

// Zero drops the factor. It can no longer unblind afterwards.
func (f *BlindingFactor) Zero() {
	if f == nil {
		return
	}
	f.state = nil
}

// PublicKey is an RSA verification key. It is everything a requester needs
// to blind, unblind and verify.
type PublicKey struct {
	N *big.Int
	E int
}

// A compile time check to ensure the public key can drive the requester side
// of a scheme.
var _ interface {
	Blind([]byte) (*BlindingFactor, []byte, error)
	Unblind([]byte, *BlindingFactor) ([]byte, error)
	Verify([]byte, []byte) bool
} = (*PublicKey)(nil)

// Size returns the modulus length in bytes. Blinded messages and signatures
// are always encoded with exactly this length.
func (k *PublicKey) Size() int {
	return (k.N.BitLen() + 7) / 8
}

// IsEqual reports whether both keys are the same.
func (k *PublicKey) IsEqual(other *PublicKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.E == other.E && k.N.Cmp(other.N) == 0
}

// Serialize encodes the key as a 4 byte big endian exponent followed by the
// big endian modulus.
func (k *PublicKey) Serialize() []byte {
	b := make([]byte, 4+k.Size())
	binary.BigEndian.PutUint32(b[:4], uint32(k.E))
	k.N.FillBytes(b[4:])
	return b
}

// ParsePublicKey decodes a key produced by Serialize.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("public key too short: %d bytes", len(b))
	}

	e := binary.BigEndian.Uint32(b[:4])
	if e < 3 || e%2 == 0 || e > 1<<31-1 {
		return nil, fmt.Errorf("invalid public exponent %d", e)
	}

	n := new(big.Int).SetBytes(b[4:])
	if n.BitLen() < 512 || n.Bit(0) == 0 {
		return nil, fmt.Errorf("invalid modulus of %d bits", n.BitLen())
	}

	return &PublicKey{N: n, E: int(e)}, nil
}

// client returns the requester side of the suite for the key.
func (k *PublicKey) client() (blindrsa.Client, error) {
	return blindrsa.NewClient(variant, &rsa.PublicKey{N: k.N, E: k.E})
}

// Blind blinds msg with a factor drawn from crypto/rand.
func (k *PublicKey) Blind(msg []byte) (*BlindingFactor, []byte, error) {
	return k.BlindWithRand(rand.Reader, msg)
}

// BlindWithRand blinds msg with a factor drawn from the given source. The
// deterministic suite signs msg as is, without a prepared prefix.
func (k *PublicKey) BlindWithRand(random io.Reader, msg []byte) (
	*BlindingFactor, []byte, error) {

	c, err := k.client()
	if err != nil {
		return nil, nil, err
	}

	blinded, state, err := c.Blind(random, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to blind message: %w", err)
	}

	return &BlindingFactor{state: &state}, blinded, nil
}

// Unblind strips the blinding factor from a signature over a blinded
// message and checks the result against the encoded message.
func (k *PublicKey) Unblind(sig []byte, factor *BlindingFactor) ([]byte,
	error) {

	if factor == nil || factor.state == nil {
		return nil, ErrInvalidFactor
	}
	if _, err := k.element(sig); err != nil {
		return nil, err
	}

	c, err := k.client()
	if err != nil {
		return nil, err
	}

	unblinded, err := c.Finalize(*factor.state, sig)
	if err != nil {
		return nil, fmt.Errorf("unable to unblind signature: %w", err)
	}

	return unblinded, nil
}

// Verify reports whether sig is a valid signature over msg.
func (k *PublicKey) Verify(sig, msg []byte) bool {
	if len(sig) != k.Size() {
		return false
	}
	if _, err := k.element(sig); err != nil {
		return false
	}

	c, err := k.client()
	if err != nil {
		return false
	}

	return c.Verify(msg, sig) == nil
}

// element decodes b as an element of Z_N encoded with exactly Size bytes.
func (k *PublicKey) element(b []byte) (*big.Int, error) {
	if len(b) != k.Size() {
		return nil, ErrValueOutOfRange
	}

	x := new(big.Int).SetBytes(b)
	if x.Cmp(k.N) >= 0 {
		return nil, ErrValueOutOfRange
	}
	return x, nil
}

// Signer holds an RSA private key and implements the full Scheme.
type Signer struct {
	pub    *PublicKey
	priv   *rsa.PrivateKey
	signer blindrsa.Signer
}

// A compile time check to ensure Signer implements the Scheme interface.
var _ Scheme = (*Signer)(nil)

// GenerateSigner creates a signer with a fresh key of the given size.
func GenerateSigner(random io.Reader, bits int) (*Signer, error) {
	priv, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, fmt.Errorf("unable to generate blinding key: %w", err)
	}

	return NewSigner(priv), nil
}

// NewSigner wraps an existing private key.
func NewSigner(priv *rsa.PrivateKey) *Signer {
	priv.Precompute()

	return &Signer{
		pub: &PublicKey{
			N: new(big.Int).Set(priv.N),
			E: priv.E,
		},
		priv:   priv,
		signer: blindrsa.NewSigner(priv),
	}
}

// PublicKey returns the verification key of the signer.
func (s *Signer) PublicKey() *PublicKey {
	return s.pub
}

// Blind blinds msg under the signer's own public key.
func (s *Signer) Blind(msg []byte) (*BlindingFactor, []byte, error) {
	return s.pub.Blind(msg)
}

// Unblind strips factor from sig.
func (s *Signer) Unblind(sig []byte, factor *BlindingFactor) ([]byte,
	error) {

	return s.pub.Unblind(sig, factor)
}

// Verify reports whether sig is a valid signature over msg.
func (s *Signer) Verify(sig, msg []byte) bool {
	return s.pub.Verify(sig, msg)
}

// SignBlinded computes blinded^d mod N.
func (s *Signer) SignBlinded(blinded []byte) ([]byte, error) {
	if s.priv == nil {
		return nil, ErrKeyWiped
	}
	if _, err := s.pub.element(blinded); err != nil {
		return nil, err
	}

	sig, err := s.signer.BlindSign(blinded)
	if err != nil {
		return nil, fmt.Errorf("unable to sign blinded message: %w",
			err)
	}

	return sig, nil
}

// Sign signs msg through a blinding of its own. The suite is
// deterministic, so the result equals the unblinded signature of any other
// blinding of msg.
func (s *Signer) Sign(msg []byte) ([]byte, error) {
	factor, blinded, err := s.pub.Blind(msg)
	if err != nil {
		return nil, err
	}
	defer factor.Zero()

	blindSig, err := s.SignBlinded(blinded)
	if err != nil {
		return nil, err
	}

	return s.pub.Unblind(blindSig, factor)
}

// Zero wipes the private exponent and primes. The signer can still verify
// afterwards but no longer sign; rounds call this once they are retired.
func (s *Signer) Zero() {
	if s.priv == nil {
		return
	}

	zero.BigInt(s.priv.D)
	for _, p := range s.priv.Primes {
		zero.BigInt(p)
	}
	zero.BigInt(s.priv.Precomputed.Dp)
	zero.BigInt(s.priv.Precomputed.Dq)
	zero.BigInt(s.priv.Precomputed.Qinv)
	s.priv = nil
	s.signer = blindrsa.Signer{}
}
