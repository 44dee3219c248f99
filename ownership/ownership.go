// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ownership creates and checks the proofs an input registrant
// attaches to every input: a Bitcoin signed message over the hex encoded
// blinded output, made with the key behind the input's P2WPKH program.
// Binding the proof to the blinded output keeps it from being replayed in a
// registration the key holder did not make.
package ownership

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// messageMagic is the prefix of every Bitcoin signed message.
const messageMagic = "Bitcoin Signed Message:\n"

// ProofSize is the length of a compact recoverable signature.
const ProofSize = 65

var (
	// ErrNotP2WPKH is returned when signing for a script that is not a
	// version 0 pay-to-witness-pubkey-hash script.
	ErrNotP2WPKH = errors.New("script is not p2wpkh")

	// ErrKeyMismatch is returned when the signing key does not control
	// the script.
	ErrKeyMismatch = errors.New("key does not match script")
)

// Message returns the message a proof signs for the given blinded output.
func Message(blindedOutput []byte) []byte {
	return []byte(hex.EncodeToString(blindedOutput))
}

// MessageHash returns the double SHA-256 signed-message digest of msg.
func MessageHash(msg []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messageMagic)
	_ = wire.WriteVarBytes(&buf, 0, msg)

	return chainhash.DoubleHashB(buf.Bytes())
}

// Sign creates an ownership proof over msg for the P2WPKH script pkScript.
func Sign(priv *btcec.PrivateKey, pkScript, msg []byte) ([]byte, error) {
	if !txscript.IsPayToWitnessPubKeyHash(pkScript) {
		return nil, ErrNotP2WPKH
	}

	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	if !bytes.Equal(pubKeyHash, pkScript[2:]) {
		return nil, ErrKeyMismatch
	}

	return ecdsa.SignCompact(priv, MessageHash(msg), true)
}

// P2WPKHVerifier verifies ownership proofs for version 0 witness pubkey hash
// outputs by recovering the signing key and comparing its hash with the
// witness program.
type P2WPKHVerifier struct{}

// VerifyOwnership reports whether proof is a valid signed message over msg by
// the key controlling pkScript. The outpoint is not part of the signed
// message.
func (P2WPKHVerifier) VerifyOwnership(_ wire.OutPoint, pkScript, msg,
	proof []byte) bool {

	if len(proof) != ProofSize {
		return false
	}
	if !txscript.IsPayToWitnessPubKeyHash(pkScript) {
		return false
	}

	pub, compressed, err := ecdsa.RecoverCompact(proof, MessageHash(msg))
	if err != nil || !compressed {
		return false
	}

	pubKeyHash := btcutil.Hash160(pub.SerializeCompressed())
	return bytes.Equal(pubKeyHash, pkScript[2:])
}
