// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/stretchr/testify/mock"
)

// mockChain mocks the ChainOracle interface.
type mockChain struct {
	mock.Mock
}

// Compile time assert the implementation.
var _ ChainOracle = (*mockChain)(nil)

func (m *mockChain) UnspentOutput(_ context.Context,
	op wire.OutPoint) (*chain.UnspentOutput, error) {

	args := m.Called(op)

	utxo := args.Get(0)
	if utxo == nil {
		return nil, args.Error(1)
	}

	return utxo.(*chain.UnspentOutput), args.Error(1)
}

func (m *mockChain) BroadcastTransaction(_ context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	args := m.Called(tx)

	txid := args.Get(0)
	if txid == nil {
		return nil, args.Error(1)
	}

	return txid.(*chainhash.Hash), args.Error(1)
}
