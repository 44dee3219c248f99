// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testOutPoint = wire.OutPoint{
	Hash:  chainhash.Hash{0x01, 0x02},
	Index: 3,
}

// TestUnspentOutput checks the translation of gettxout answers.
func TestUnspentOutput(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		res       *btcjson.GetTxOutResult
		rpcErr    error
		expected  *UnspentOutput
		expectErr error
	}{
		{
			name: "confirmed output",
			res: &btcjson.GetTxOutResult{
				Confirmations: 6,
				Value:         0.1,
				ScriptPubKey: btcjson.ScriptPubKeyResult{
					Hex: "0014" +
						"0102030405060708090a" +
						"0b0c0d0e0f1011121314",
				},
			},
			expected: &UnspentOutput{
				OutPoint:      testOutPoint,
				Value:         btcutil.Amount(10_000_000),
				Confirmations: 6,
				PkScript: []byte{
					0x00, 0x14, 0x01, 0x02, 0x03, 0x04,
					0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
					0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
					0x11, 0x12, 0x13, 0x14,
				},
			},
		},
		{
			name: "mempool output",
			res: &btcjson.GetTxOutResult{
				Confirmations: 0,
				Value:         0.00001,
				ScriptPubKey: btcjson.ScriptPubKeyResult{
					Hex: "51",
				},
			},
			expected: &UnspentOutput{
				OutPoint: testOutPoint,
				Value:    btcutil.Amount(1000),
				PkScript: []byte{0x51},
			},
		},
		{
			name: "spent output",
		},
		{
			name:      "node down",
			rpcErr:    errors.New("connection refused"),
			expectErr: ErrUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := &mockRPCClient{}
			var res interface{}
			if tc.res != nil {
				res = tc.res
			}
			client.On("GetTxOut", &testOutPoint.Hash,
				testOutPoint.Index, true).Return(res, tc.rpcErr)

			o := newRPCOracle(client)
			utxo, err := o.UnspentOutput(
				context.Background(), testOutPoint,
			)
			client.AssertExpectations(t)

			if tc.expectErr != nil {
				require.ErrorIs(t, err, tc.expectErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, utxo)
		})
	}
}

// TestBroadcastTransaction checks the mapping of broadcast outcomes.
func TestBroadcastTransaction(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&testOutPoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	txid := tx.TxHash()

	testCases := []struct {
		name      string
		rpcErr    error
		expectErr error
	}{
		{
			name: "accepted",
		},
		{
			name: "already in mempool",
			rpcErr: &btcjson.RPCError{
				Code:    btcjson.ErrRPCMisc,
				Message: "txn-already-in-mempool",
			},
		},
		{
			name: "rejected",
			rpcErr: &btcjson.RPCError{
				Code:    btcjson.ErrRPCDeserialization,
				Message: "bad-txns-inputs-missingorspent",
			},
			expectErr: ErrRejectedByNetwork,
		},
		{
			name:      "node unreachable",
			rpcErr:    errors.New("EOF"),
			expectErr: ErrUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := &mockRPCClient{}
			var ret interface{}
			if tc.rpcErr == nil {
				ret = &txid
			}
			client.On("SendRawTransaction", tx, false).Return(
				ret, tc.rpcErr,
			)

			o := newRPCOracle(client)
			hash, err := o.BroadcastTransaction(
				context.Background(), tx,
			)
			client.AssertExpectations(t)

			if tc.expectErr != nil {
				require.ErrorIs(t, err, tc.expectErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, txid, *hash)
		})
	}
}

func TestOracleCanceledContext(t *testing.T) {
	t.Parallel()

	client := &mockRPCClient{}
	o := newRPCOracle(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.UnspentOutput(ctx, testOutPoint)
	require.ErrorIs(t, err, context.Canceled)

	_, err = o.BroadcastTransaction(ctx, wire.NewMsgTx(2))
	require.ErrorIs(t, err, context.Canceled)

	client.AssertNotCalled(t, "GetTxOut", mock.Anything, mock.Anything,
		mock.Anything)

	client.On("Shutdown").Return()
	o.Stop()
	client.AssertExpectations(t)
}
