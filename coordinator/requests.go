// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
)

// InputProof is an input a participant registers with the proof that the
// participant controls it.
type InputProof struct {
	OutPoint wire.OutPoint
	Proof    []byte
}

// RegisterInputRequest registers an Alice.
type RegisterInputRequest struct {
	// RoundHash names the round the output was blinded for. The zero
	// hash lets the coordinator pick the round.
	RoundHash chainhash.Hash

	Inputs        []InputProof
	BlindedOutput []byte
	ChangeScript  []byte
}

// RegisterInputResponse is returned to a registered Alice.
type RegisterInputResponse struct {
	UniqueID       uuid.UUID
	RoundID        uint64
	BlindSignature []byte
}

// ConfirmConnectionRequest confirms an Alice is still online. A carried
// over Alice includes its output blinded under the current round key.
type ConfirmConnectionRequest struct {
	UniqueID uuid.UUID

	// RoundHash names the round key BlindedOutput was blinded under.
	RoundHash     chainhash.Hash
	BlindedOutput []byte
}

// ConfirmConnectionResponse tells an Alice where its round stands.
type ConfirmConnectionResponse struct {
	RoundID uint64
	Phase   Phase

	// NeedsBlindedOutput is set while the Alice has no blind signature
	// under the current round key.
	NeedsBlindedOutput bool

	// BlindSignature is the Alice's blind signature under the current
	// round key, if it has one.
	BlindSignature []byte
}

// RegisterOutputRequest registers a covert output. It deliberately carries
// nothing that identifies the Alice who owns the output.
type RegisterOutputRequest struct {
	RoundHash    chainhash.Hash
	OutputScript []byte
	Signature    []byte
}

// SubmitSignaturesRequest carries an Alice's witnesses keyed by input index
// of the unsigned coinjoin.
type SubmitSignaturesRequest struct {
	UniqueID  uuid.UUID
	RoundID   uint64
	Witnesses map[int]wire.TxWitness
}

// RoundStatus is the public view of an open round.
type RoundStatus struct {
	RoundID                  uint64
	Phase                    Phase
	Denomination             btcutil.Amount
	CoordinatorFeePercent    float64
	RequiredPeerCount        uint32
	RegisteredPeerCount      uint32
	RegistrationTimeout      time.Duration
	FeePerInput              btcutil.Amount
	FeePerOutput             btcutil.Amount
	MaximumInputCountPerPeer uint32
	RoundHash                chainhash.Hash
	BlindingKey              []byte
	PhaseDeadline            time.Time
}

// RoundResult reports how a round ended, or its phase while it runs.
type RoundResult struct {
	RoundID uint64
	Phase   Phase
	TxID    *chainhash.Hash
	Reason  string
}
