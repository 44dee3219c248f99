// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/chain"
)

// ChainOracle answers questions about the UTXO set and publishes
// transactions.
type ChainOracle interface {
	// UnspentOutput returns op if it is unspent, nil if it is spent or
	// unknown. Transport failures wrap chain.ErrUnavailable.
	UnspentOutput(ctx context.Context,
		op wire.OutPoint) (*chain.UnspentOutput, error)

	// BroadcastTransaction publishes tx. Refusals wrap
	// chain.ErrRejectedByNetwork, transport failures
	// chain.ErrUnavailable.
	BroadcastTransaction(ctx context.Context,
		tx *wire.MsgTx) (*chainhash.Hash, error)
}

// A compile time check to ensure the RPC oracle satisfies ChainOracle.
var _ ChainOracle = (*chain.RPCOracle)(nil)

// OwnershipVerifier checks the proof an Alice attaches to an input.
type OwnershipVerifier interface {
	VerifyOwnership(op wire.OutPoint, pkScript, msg, proof []byte) bool
}

// SignerFactory creates the blind signing key of a new round.
type SignerFactory func(bits int) (blindsig.Scheme, error)
