// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ccjclient

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coordinator"
)

// ErrWrongPassphrase is returned by a KeyRing when the passphrase does not
// unlock the keys.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// Coin is a wallet output that can be mixed.
type Coin struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
}

// CoinSource gives the agent access to the wallet's outputs. Locked coins
// must not be spent by anything but the agent.
type CoinSource interface {
	// Coin returns the unspent wallet output op.
	Coin(op wire.OutPoint) (*Coin, error)

	// LockCoins locks all of ops or none of them.
	LockCoins(ops ...wire.OutPoint) error

	// UnlockCoins releases ops.
	UnlockCoins(ops ...wire.OutPoint) error

	// MarkSpent records that ops were spent by the coinjoin txid.
	MarkSpent(txid chainhash.Hash, ops ...wire.OutPoint) error
}

// KeyRing holds the encrypted private keys of wallet scripts.
type KeyRing interface {
	// PrivKeys returns the keys controlling pkScripts, in order. A bad
	// passphrase yields ErrWrongPassphrase.
	PrivKeys(passphrase []byte, pkScripts ...[]byte) (
		[]*btcec.PrivateKey, error)
}

// AddressSource hands out fresh wallet scripts.
type AddressSource interface {
	// NewScript returns an unused p2wpkh script. Change scripts receive
	// the leftover of a mix, the others receive the mixed output.
	NewScript(passphrase []byte, change bool) ([]byte, error)
}

// AliceClient is the coordinator as seen by a registered participant. It is
// implemented by coordinator.Manager and coordrpc.Client.
type AliceClient interface {
	Status(ctx context.Context) ([]coordinator.RoundStatus, error)

	RoundResult(ctx context.Context,
		roundID uint64) (*coordinator.RoundResult, error)

	RegisterInput(ctx context.Context,
		req *coordinator.RegisterInputRequest) (
		*coordinator.RegisterInputResponse, error)

	ConfirmConnection(ctx context.Context,
		req *coordinator.ConfirmConnectionRequest) (
		*coordinator.ConfirmConnectionResponse, error)

	GetUnsignedCoinJoin(ctx context.Context, roundID uint64) ([]byte, error)

	SubmitSignatures(ctx context.Context,
		req *coordinator.SubmitSignaturesRequest) error
}

// BobClient registers covert outputs. It must not share a network identity
// with the AliceClient.
type BobClient interface {
	RegisterOutput(ctx context.Context,
		req *coordinator.RegisterOutputRequest) error
}

// Compile time checks that the in-process coordinator can serve both roles.
var (
	_ AliceClient = (*coordinator.Manager)(nil)
	_ BobClient   = (*coordinator.Manager)(nil)
)
